package gateway

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PaymentStatus 网关侧支付状态
type PaymentStatus string

const (
	StatusPending    PaymentStatus = "PENDING"
	StatusSuccessful PaymentStatus = "SUCCESSFUL"
	StatusFailed     PaymentStatus = "FAILED"
	StatusCancelled  PaymentStatus = "CANCELLED"
)

// Payment 查询支付的结果
type Payment struct {
	Status          PaymentStatus   `json:"status"`
	TransactionCode string          `json:"transaction_code"`
	Amount          decimal.Decimal `json:"amount"`
}

// MerchantProfile 商户信息
type MerchantProfile struct {
	MerchantCode    string `json:"merchant_code"`
	DefaultCurrency string `json:"default_currency"`
}

// Error 网关HTTP错误，携带响应状态码
type Error struct {
	StatusCode int
	Body       string
}

// Error 实现error接口
func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("gateway: HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("gateway: HTTP %d", e.StatusCode)
}

// IsStatus 判断错误是否为指定HTTP状态码的网关错误
func IsStatus(err error, statusCode int) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.StatusCode == statusCode
}

// IsConflict 判断是否为409冲突（退款场景下表示已退款）
func IsConflict(err error) bool {
	return IsStatus(err, 409)
}

// totalAmount 金额字段，整数最小货币单位传输
type totalAmount struct {
	Currency  string `json:"currency"`
	Value     int64  `json:"value"`
	MinorUnit int    `json:"minor_unit"`
}

// affiliate 渠道归属，foreign_transaction_id承载幂等键
type affiliate struct {
	AppID                string `json:"app_id"`
	Key                  string `json:"key"`
	ForeignTransactionID string `json:"foreign_transaction_id"`
}

// checkoutRequest 读卡器发起支付的请求体
type checkoutRequest struct {
	Affiliate   affiliate   `json:"affiliate"`
	TotalAmount totalAmount `json:"total_amount"`
	Description string      `json:"description"`
}

// merchantProfileResponse /me 响应体
type merchantProfileResponse struct {
	MerchantProfile MerchantProfile `json:"merchant_profile"`
}

// pairReaderRequest 读卡器配对请求体
type pairReaderRequest struct {
	PairingCode string `json:"pairing_code"`
}

// pairReaderResponse 读卡器配对响应体
type pairReaderResponse struct {
	ID string `json:"id"`
}
