package mdb

import (
	"strings"

	"github.com/vendtech/mdb-bridge/internal/errors"
)

// Delimiter 行内字段分隔符
const Delimiter = ","

// 行首命令字
const (
	CmdController = "C" // 上位机 → MDB接口板
	CmdDevice     = "c" // MDB接口板 → 上位机
	CmdRaw        = "r" // 原始总线数据，忽略
)

// 指令/状态字段
const (
	TokDisable = "0"
	TokEnable  = "1"
	TokSetConf = "SETCONF"
	TokStart   = "START"
	TokVend    = "VEND"
	TokStatus  = "STATUS"
	TokIdle    = "IDLE"
	TokErr     = "ERR"
	TokSet     = "SET"
	TokSuccess = "SUCCESS"
)

// Frame 一条解码后的协议行
type Frame struct {
	Command string   // 行首命令字
	Args    []string // 其余字段
}

// Decode 拆分一条换行结尾的ASCII协议行。
// 只做结构性拆分，未识别的命令字原样传给状态机处理。
func Decode(raw string) (*Frame, error) {
	line := strings.TrimRight(raw, "\r\n")
	if !strings.Contains(line, Delimiter) {
		return nil, errors.Newf(errors.ErrLineMalformed, "missing delimiter: %q", line)
	}

	parts := strings.Split(line, Delimiter)
	return &Frame{
		Command: parts[0],
		Args:    parts[1:],
	}, nil
}

// Encode 拼装一条协议行（不含换行，换行由传输层追加）
func Encode(cmd string, args ...string) string {
	if len(args) == 0 {
		return cmd
	}
	return cmd + Delimiter + strings.Join(args, Delimiter)
}
