package vend

import (
	"sync"

	"github.com/shopspring/decimal"
)

// DeviceState 设备上报的工作模式
type DeviceState string

const (
	StateDisabled     DeviceState = "DISABLED"
	StateEnabled      DeviceState = "ENABLED"
	StateIdle         DeviceState = "IDLE"
	StateVending      DeviceState = "VENDING"
	StateVendApproved DeviceState = "VEND_APPROVED"
)

// BeginResult 售卖请求的受理结果
type BeginResult int

const (
	// BeginStarted 槽位已占用，调用方应创建支付并Commit
	BeginStarted BeginResult = iota
	// BeginDuplicate 同金额重复上报，沿用已有支付
	BeginDuplicate
	// BeginAmountMismatch 有支付在途但金额不同，拒绝新金额
	BeginAmountMismatch
)

// Session 单笔在途支付的会话状态。
// 被读取协程和轮询/退款活动并发访问，所有读-改-写序列在同一把锁内完成。
type Session struct {
	mu sync.Mutex

	deviceState     DeviceState
	vendAmount      decimal.Decimal
	paymentID       string
	transactionCode string
	cancelRequested bool

	// reserved 支付创建在途：槽位已占用但paymentID尚未提交。
	// 占位与检查在同一临界区内完成，重复VEND行不会二次扣款。
	reserved bool
}

// Snapshot 会话状态的一致性快照
type Snapshot struct {
	DeviceState     DeviceState
	VendAmount      decimal.Decimal
	PaymentID       string
	TransactionCode string
	CancelRequested bool
	Open            bool
}

// NewSession 创建空会话
func NewSession() *Session {
	return &Session{
		deviceState: StateDisabled,
	}
}

// Begin 受理一次售卖请求。
// 无在途支付时占用槽位并记录金额；同金额重复上报视为设备对同一请求的
// 再次确认，清除取消标记；金额不同则拒绝，继续服务原支付。
func (s *Session) Begin(amount decimal.Decimal) BeginResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reserved || s.paymentID != "" {
		if amount.Equal(s.vendAmount) {
			// 设备重新确认同一请求，撤销此前的取消
			s.cancelRequested = false
			return BeginDuplicate
		}
		return BeginAmountMismatch
	}

	s.reserved = true
	s.vendAmount = amount
	return BeginStarted
}

// Commit 支付创建成功，提交支付ID
func (s *Session) Commit(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reserved {
		return
	}
	s.paymentID = paymentID
}

// Abort 支付创建失败，释放槽位
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.paymentID != "" {
		return
	}
	s.reserved = false
	s.vendAmount = decimal.Decimal{}
	s.cancelRequested = false
}

// RequestCancel 请求取消。仅在有支付在途时生效，返回是否置位。
// 取消是协作式的：不中断在途的网关调用，只影响结清时的分支。
func (s *Session) RequestCancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reserved && s.paymentID == "" {
		return false
	}
	s.cancelRequested = true
	return true
}

// SetDeviceState 更新设备上报的工作模式
func (s *Session) SetDeviceState(state DeviceState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceState = state
}

// SetTransactionCode 记录网关结清后分配的交易码（仅用于退款定位）
func (s *Session) SetTransactionCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactionCode = code
}

// Snapshot 取会话状态的一致性快照
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		DeviceState:     s.deviceState,
		VendAmount:      s.vendAmount,
		PaymentID:       s.paymentID,
		TransactionCode: s.transactionCode,
		CancelRequested: s.cancelRequested,
		Open:            s.reserved || s.paymentID != "",
	}
}

// Clear 清除支付状态，每个售卖周期恰好成功一次。
// 第二次及以后的调用返回false，防止双重清除。
func (s *Session) Clear() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.reserved && s.paymentID == "" {
		return false
	}

	s.reserved = false
	s.vendAmount = decimal.Decimal{}
	s.paymentID = ""
	s.transactionCode = ""
	s.cancelRequested = false
	return true
}
