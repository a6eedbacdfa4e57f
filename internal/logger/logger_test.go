package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendtech/mdb-bridge/internal/config"
	"go.uber.org/zap/zapcore"
)

func TestSetLevel(t *testing.T) {
	require.NoError(t, Init(&config.LogConfig{
		Level:  "info",
		Format: "console",
		Output: "stdout",
	}))

	core := GetLogger().Core()
	assert.False(t, core.Enabled(zapcore.DebugLevel))
	assert.True(t, core.Enabled(zapcore.InfoLevel))

	// 配置热加载时动态调低级别
	SetLevel("debug")
	assert.True(t, core.Enabled(zapcore.DebugLevel))

	SetLevel("error")
	assert.False(t, core.Enabled(zapcore.InfoLevel))
	assert.True(t, core.Enabled(zapcore.ErrorLevel))

	// 未知级别回落到info
	SetLevel("bogus")
	assert.True(t, core.Enabled(zapcore.InfoLevel))
}
