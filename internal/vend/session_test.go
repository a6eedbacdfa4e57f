package vend

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSessionBegin(t *testing.T) {
	s := NewSession()

	// 空会话受理新请求
	assert.Equal(t, BeginStarted, s.Begin(amt("5.00")))
	s.Commit("pay-1")

	snap := s.Snapshot()
	assert.True(t, snap.Open)
	assert.Equal(t, "pay-1", snap.PaymentID)
	assert.True(t, snap.VendAmount.Equal(amt("5.00")))
}

func TestSessionBeginDuplicate(t *testing.T) {
	s := NewSession()
	s.Begin(amt("5.00"))
	s.Commit("pay-1")

	// 同金额重复上报沿用在途支付
	assert.Equal(t, BeginDuplicate, s.Begin(amt("5.00")))
	assert.Equal(t, "pay-1", s.Snapshot().PaymentID)
}

func TestSessionBeginDuplicateClearsCancel(t *testing.T) {
	s := NewSession()
	s.Begin(amt("5.00"))
	s.Commit("pay-1")

	assert.True(t, s.RequestCancel())
	assert.True(t, s.Snapshot().CancelRequested)

	// 设备再次确认同一请求，取消被撤销
	assert.Equal(t, BeginDuplicate, s.Begin(amt("5.00")))
	assert.False(t, s.Snapshot().CancelRequested)
}

func TestSessionBeginAmountMismatch(t *testing.T) {
	s := NewSession()
	s.Begin(amt("5.00"))
	s.Commit("pay-1")

	// 金额不同的再次上报被拒绝，原支付继续服务
	assert.Equal(t, BeginAmountMismatch, s.Begin(amt("7.50")))

	snap := s.Snapshot()
	assert.Equal(t, "pay-1", snap.PaymentID)
	assert.True(t, snap.VendAmount.Equal(amt("5.00")))
}

func TestSessionBeginWhileReserved(t *testing.T) {
	s := NewSession()

	// 支付创建在途（已占位未提交）时重复上报也不会二次占位
	assert.Equal(t, BeginStarted, s.Begin(amt("5.00")))
	assert.Equal(t, BeginDuplicate, s.Begin(amt("5.00")))
	assert.Equal(t, BeginAmountMismatch, s.Begin(amt("9.00")))
}

func TestSessionAbort(t *testing.T) {
	s := NewSession()
	s.Begin(amt("5.00"))

	// 创建失败释放槽位，可以重新受理
	s.Abort()
	assert.False(t, s.Snapshot().Open)
	assert.Equal(t, BeginStarted, s.Begin(amt("5.00")))
}

func TestSessionClearExactlyOnce(t *testing.T) {
	s := NewSession()
	s.Begin(amt("5.00"))
	s.Commit("pay-1")
	s.SetTransactionCode("TX1")

	assert.True(t, s.Clear())
	// 第二次清除必须失败，防止双重清除
	assert.False(t, s.Clear())

	snap := s.Snapshot()
	assert.False(t, snap.Open)
	assert.Empty(t, snap.PaymentID)
	assert.Empty(t, snap.TransactionCode)
	assert.False(t, snap.CancelRequested)
	assert.True(t, snap.VendAmount.IsZero())
}

func TestSessionCancelRequiresOpenPayment(t *testing.T) {
	s := NewSession()

	// 无在途支付时取消不生效
	assert.False(t, s.RequestCancel())
	assert.False(t, s.Snapshot().CancelRequested)

	s.Begin(amt("5.00"))
	s.Commit("pay-1")
	assert.True(t, s.RequestCancel())

	// 清除后取消标记一并复位
	s.Clear()
	assert.False(t, s.Snapshot().CancelRequested)
}

func TestSessionDeviceState(t *testing.T) {
	s := NewSession()
	assert.Equal(t, StateDisabled, s.Snapshot().DeviceState)

	s.SetDeviceState(StateVending)
	assert.Equal(t, StateVending, s.Snapshot().DeviceState)
}
