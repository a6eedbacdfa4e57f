package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vendtech/mdb-bridge/internal/gateway"
	"github.com/vendtech/mdb-bridge/internal/models"
	"github.com/vendtech/mdb-bridge/internal/repository"
	"github.com/vendtech/mdb-bridge/internal/vend"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// stubGateway 挂起状态的支付网关
type stubGateway struct{}

func (stubGateway) CreatePayment(_ context.Context, _ decimal.Decimal, idempotencyKey string) (string, error) {
	return idempotencyKey, nil
}

func (stubGateway) QueryPayment(_ context.Context, _ string) (*gateway.Payment, error) {
	return &gateway.Payment{Status: gateway.StatusPending}, nil
}

func (stubGateway) RefundPayment(_ context.Context, _ string) error {
	return nil
}

// stubWriter 记录下发协议行
type stubWriter struct {
	lines []string
	err   error
}

func (w *stubWriter) WriteCommand(cmd string, args ...string) error {
	if w.err != nil {
		return w.err
	}
	line := cmd
	for _, arg := range args {
		line += "," + arg
	}
	w.lines = append(w.lines, line)
	return nil
}

func testRouter(t *testing.T, writer *stubWriter) (*Router, *vend.Controller) {
	t.Helper()

	ctrl := vend.NewController(vend.NewSession(), stubGateway{}, writer, vend.Options{
		DefaultAmount:       decimal.RequireFromString("99.99"),
		CurrencyCode:        "0x1978",
		PollInterval:        time.Hour,
		RefundRetryInterval: time.Hour,
	}, zap.NewNop())
	t.Cleanup(ctrl.Close)

	return NewRouter(ctrl, nil, gin.TestMode, zap.NewNop()), ctrl
}

func testSerialLogs(t *testing.T) *repository.SerialLogRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.SerialLog{}))

	return repository.NewSerialLogRepository(db, zap.NewNop())
}

func doRequest(r *Router, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.Engine().ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router, _ := testRouter(t, &stubWriter{})

	w := doRequest(router, "GET", "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStartVend(t *testing.T) {
	writer := &stubWriter{}
	router, _ := testRouter(t, writer)

	w := doRequest(router, "POST", "/api/v1/vend/start")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"C,START,99.99"}, writer.lines)
}

func TestStartVendWriteFailure(t *testing.T) {
	writer := &stubWriter{err: assert.AnError}
	router, _ := testRouter(t, writer)

	w := doRequest(router, "POST", "/api/v1/vend/start")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
}

func TestSerialLogDiagnostics(t *testing.T) {
	serialLogs := testSerialLogs(t)
	serialLogs.Record("rx", "c,STATUS,VEND,5.00")
	serialLogs.Record("tx", "C,VEND,5.00")

	ctrl := vend.NewController(vend.NewSession(), stubGateway{}, &stubWriter{}, vend.Options{
		DefaultAmount: decimal.RequireFromString("99.99"),
	}, zap.NewNop())
	t.Cleanup(ctrl.Close)
	router := NewRouter(ctrl, serialLogs, gin.TestMode, zap.NewNop())

	w := doRequest(router, "GET", "/api/v1/diagnostics/serial-log")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Count   int                 `json:"count"`
		Entries []*models.SerialLog `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "tx", resp.Entries[0].Direction)
	assert.Equal(t, "C,VEND,5.00", resp.Entries[0].Line)

	// limit校验
	w = doRequest(router, "GET", "/api/v1/diagnostics/serial-log?limit=1")
	resp.Entries = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Entries, 1)

	w = doRequest(router, "GET", "/api/v1/diagnostics/serial-log?limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSerialLogDiagnosticsDisabled(t *testing.T) {
	// 未启用流量日志时不注册诊断路由
	router, _ := testRouter(t, &stubWriter{})

	w := doRequest(router, "GET", "/api/v1/diagnostics/serial-log")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVendStatus(t *testing.T) {
	router, ctrl := testRouter(t, &stubWriter{})

	// 无在途会话
	w := doRequest(router, "GET", "/api/v1/vend/status")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["payment_open"])
	assert.NotContains(t, resp, "payment_id")

	// 设备发起付款请求后快照包含支付信息
	ctrl.HandleLine("c,STATUS,VEND,5.00")

	w = doRequest(router, "GET", "/api/v1/vend/status")
	resp = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["payment_open"])
	assert.Equal(t, "5.00", resp["vend_amount"])
	assert.NotEmpty(t, resp["payment_id"])
	assert.Equal(t, string(vend.StateVending), resp["device_state"])
}
