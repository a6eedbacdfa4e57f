package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"
	"github.com/vendtech/mdb-bridge/internal/config"
	"go.uber.org/zap"
)

// minorUnitExponent 金额传输的最小货币单位指数（分）
const minorUnitExponent = 2

// Client 支付网关客户端。
// 只做请求/响应映射，不含重试策略；重试由调用方的轮询/退款活动负责。
type Client struct {
	cfg  *config.GatewayConfig
	http *http.Client
	log  *zap.Logger
}

// NewClient 创建支付网关客户端
func NewClient(cfg *config.GatewayConfig, log *zap.Logger) *Client {
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
}

// MinorUnits 四舍五入（half-up）到2位小数后转为整数最小货币单位
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(minorUnitExponent).Shift(minorUnitExponent).IntPart()
}

// CreatePayment 在读卡器上发起一笔支付。
// idempotencyKey作为foreign_transaction_id传给网关，重试不会重复扣款；
// 后续查询按该键进行，因此返回值即该键。
func (c *Client) CreatePayment(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (string, error) {
	req := &checkoutRequest{
		Affiliate: affiliate{
			AppID:                c.cfg.AffiliateAppID,
			Key:                  c.cfg.AffiliateKey,
			ForeignTransactionID: idempotencyKey,
		},
		TotalAmount: totalAmount{
			Currency:  c.cfg.Currency,
			Value:     MinorUnits(amount),
			MinorUnit: minorUnitExponent,
		},
		Description: c.cfg.Description,
	}

	path := fmt.Sprintf("/v0.1/merchants/%s/readers/%s/checkout", c.cfg.MerchantCode, c.cfg.ReaderID)
	if err := c.doJSON(ctx, http.MethodPost, path, req, nil); err != nil {
		return "", err
	}

	c.log.Info("支付已创建",
		zap.String("payment_id", idempotencyKey),
		zap.String("amount", amount.StringFixed(2)))

	return idempotencyKey, nil
}

// QueryPayment 按支付ID（foreign_transaction_id）查询支付状态
func (c *Client) QueryPayment(ctx context.Context, paymentID string) (*Payment, error) {
	path := "/v0.1/me/transactions?foreign_transaction_id=" + url.QueryEscape(paymentID)

	var payment Payment
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payment); err != nil {
		return nil, err
	}

	return &payment, nil
}

// RefundPayment 按交易码退款。HTTP 409表示已退款，由调用方视为成功。
func (c *Client) RefundPayment(ctx context.Context, transactionCode string) error {
	path := "/v0.1/me/refund/" + url.PathEscape(transactionCode)
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// MerchantProfile 获取商户信息（商户号与默认货币）
func (c *Client) MerchantProfile(ctx context.Context) (*MerchantProfile, error) {
	var resp merchantProfileResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v0.1/me", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.MerchantProfile, nil
}

// PairReader 用配对码绑定读卡器，返回读卡器ID
func (c *Client) PairReader(ctx context.Context, pairingCode string) (string, error) {
	path := fmt.Sprintf("/v0.1/merchants/%s/readers", c.cfg.MerchantCode)

	var resp pairReaderResponse
	if err := c.doJSON(ctx, http.MethodPost, path, &pairReaderRequest{PairingCode: pairingCode}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &Error{StatusCode: http.StatusOK, Body: "响应中缺少读卡器ID"}
	}

	return resp.ID, nil
}

// doJSON 发送带Bearer认证的JSON请求，非2xx响应返回*Error
func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return err
		}
	}

	return nil
}
