package mdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendtech/mdb-bridge/internal/errors"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		command string
		args    []string
	}{
		{
			name:    "设备付款请求",
			raw:     "c,STATUS,VEND,5.00",
			command: "c",
			args:    []string{"STATUS", "VEND", "5.00"},
		},
		{
			name:    "设备空闲",
			raw:     "c,STATUS,IDLE",
			command: "c",
			args:    []string{"STATUS", "IDLE"},
		},
		{
			name:    "出货确认",
			raw:     "c,VEND,SUCCESS",
			command: "c",
			args:    []string{"VEND", "SUCCESS"},
		},
		{
			name:    "带回车换行",
			raw:     "c,ERR,VEND 3\r\n",
			command: "c",
			args:    []string{"ERR", "VEND 3"},
		},
		{
			name:    "未识别命令原样透传",
			raw:     "x,FOO,BAR",
			command: "x",
			args:    []string{"FOO", "BAR"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Decode(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.command, frame.Command)
			assert.Equal(t, tt.args, frame.Args)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	// 缺少分隔符的行必须返回解析错误，由调用方记录并丢弃
	for _, raw := range []string{"", "GARBAGE", "c\n"} {
		frame, err := Decode(raw)
		require.Error(t, err, "raw=%q", raw)
		assert.Nil(t, frame)
		assert.True(t, errors.Is(err, errors.ErrLineMalformed))
	}
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "C,0", Encode(CmdController, TokDisable))
	assert.Equal(t, "C,VEND,5.00", Encode(CmdController, TokVend, "5.00"))
	assert.Equal(t, "C,SETCONF,mdb-currency-code=0x1978",
		Encode(CmdController, TokSetConf, "mdb-currency-code=0x1978"))
	assert.Equal(t, "C", Encode(CmdController))
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Decode(Encode(CmdController, TokStart, "99.99"))
	require.NoError(t, err)
	assert.Equal(t, CmdController, frame.Command)
	assert.Equal(t, []string{TokStart, "99.99"}, frame.Args)
}
