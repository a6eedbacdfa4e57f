package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/vendtech/mdb-bridge/internal/repository"
	"github.com/vendtech/mdb-bridge/internal/vend"
	"go.uber.org/zap"
)

// Router 触发接口路由器
type Router struct {
	engine     *gin.Engine
	controller *vend.Controller
	serialLogs *repository.SerialLogRepository
	log        *zap.Logger
}

// NewRouter 创建路由器。serialLogs为nil时不注册诊断路由。
func NewRouter(controller *vend.Controller, serialLogs *repository.SerialLogRepository, mode string, log *zap.Logger) *Router {
	gin.SetMode(mode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{
		engine:     engine,
		controller: controller,
		serialLogs: serialLogs,
		log:        log,
	}

	r.setupRoutes()
	return r
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		vendGroup := v1.Group("/vend")
		{
			vendGroup.POST("/start", r.startVend)  // 触发售卖会话
			vendGroup.GET("/status", r.vendStatus) // 会话状态快照
		}

		if r.serialLogs != nil {
			v1.GET("/diagnostics/serial-log", r.serialLog) // 最近的串口流量
		}
	}
}

// Engine 返回gin引擎（供http.Server使用）
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// startVend 触发一次售卖会话（固定默认金额，无其他参数）
func (r *Router) startVend(c *gin.Context) {
	if err := r.controller.StartSession(); err != nil {
		r.log.Error("触发售卖会话失败", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
	})
}

// serialLog 返回最近的串口流量记录（总线诊断用）
func (r *Router) serialLog(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "limit必须为1-500之间的整数",
		})
		return
	}

	entries, err := r.serialLogs.Latest(limit)
	if err != nil {
		r.log.Error("查询串口流量日志失败", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":   len(entries),
		"entries": entries,
	})
}

// vendStatus 返回会话状态快照
func (r *Router) vendStatus(c *gin.Context) {
	snap := r.controller.Session().Snapshot()

	resp := gin.H{
		"device_state":     snap.DeviceState,
		"payment_open":     snap.Open,
		"cancel_requested": snap.CancelRequested,
	}
	if snap.Open {
		resp["payment_id"] = snap.PaymentID
		resp["vend_amount"] = snap.VendAmount.StringFixed(2)
	}

	c.JSON(http.StatusOK, resp)
}
