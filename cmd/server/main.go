package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vendtech/mdb-bridge/internal/api"
	"github.com/vendtech/mdb-bridge/internal/config"
	"github.com/vendtech/mdb-bridge/internal/database"
	"github.com/vendtech/mdb-bridge/internal/gateway"
	"github.com/vendtech/mdb-bridge/internal/logger"
	"github.com/vendtech/mdb-bridge/internal/mdb"
	"github.com/vendtech/mdb-bridge/internal/repository"
	"github.com/vendtech/mdb-bridge/internal/vend"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务实例
type Server struct {
	cfg *config.Config
	log *zap.Logger

	gw         *gateway.Client
	port       *mdb.Port
	controller *vend.Controller
	serialLogs *repository.SerialLogRepository
	httpServer *http.Server

	ctx        context.Context
	cancel     context.CancelFunc
	shutdownCh chan struct{}
}

func main() {
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		pairingCode = flag.String("pair", "", "读卡器配对码（配对后退出）")
		showVersion = flag.Bool("version", false, "显示版本信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	// 必需配置缺失时在任何会话开始之前立即退出
	if err := cfg.Validate(); err != nil {
		logger.Fatal("配置校验失败", zap.Error(err))
	}

	gw := gateway.NewClient(&cfg.Gateway, logger.GetLogger())

	// 配对模式：绑定读卡器后退出
	if *pairingCode != "" {
		pairReader(gw, *pairingCode)
		return
	}

	server := NewServer(cfg, gw)

	if err := server.Start(); err != nil {
		logger.Fatal("服务启动失败", zap.Error(err))
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("服务已安全关闭")
}

// pairReader 用配对码绑定读卡器
func pairReader(gw *gateway.Client, pairingCode string) {
	readerID, err := gw.PairReader(context.Background(), pairingCode)
	if err != nil {
		logger.Fatal("读卡器配对失败", zap.Error(err))
	}

	fmt.Printf("读卡器配对成功: %s\n", readerID)
	fmt.Println("请将 reader_id 写入配置文件 gateway.reader_id")
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config, gw *gateway.Client) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:        cfg,
		log:        logger.GetLogger(),
		gw:         gw,
		ctx:        ctx,
		cancel:     cancel,
		shutdownCh: make(chan struct{}),
	}
}

// Start 启动服务
func (s *Server) Start() error {
	s.log.Info("正在启动MDB支付桥接服务...",
		zap.String("version", Version),
		zap.String("device", s.cfg.Serial.Device),
	)

	// 商户信息补全：配置缺失时从网关发现
	if err := s.discoverMerchant(); err != nil {
		return err
	}

	defaultAmount, err := decimal.NewFromString(s.cfg.Vend.DefaultAmount)
	if err != nil {
		return fmt.Errorf("vend.default_amount 无效: %w", err)
	}

	session := vend.NewSession()
	s.port = mdb.NewPort(&s.cfg.Serial, s.log)

	s.controller = vend.NewController(session, s.gw, s.port, vend.Options{
		DefaultAmount:       defaultAmount,
		CurrencyCode:        s.cfg.Vend.CurrencyCode,
		AlwaysIdle:          s.cfg.Vend.AlwaysIdle,
		PollInterval:        s.cfg.Vend.PollInterval,
		RefundRetryInterval: s.cfg.Vend.RefundRetryInterval,
	}, s.log)

	s.port.SetHandler(s.controller.HandleLine)
	s.port.SetConnectHook(s.controller.OnConnected)

	// 串口流量诊断日志（可选）
	if s.cfg.Database.Enabled {
		if err := database.Init(&s.cfg.Database, s.log); err != nil {
			return err
		}
		s.serialLogs = repository.NewSerialLogRepository(database.Get(), s.log)
		s.port.SetRecorder(s.serialLogs)
		go s.cleanupSerialLogs()
	}

	if err := s.port.Connect(); err != nil {
		return err
	}

	// HTTP触发接口
	router := api.NewRouter(s.controller, s.serialLogs, s.cfg.Server.Mode, s.log)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		Handler:      router.Engine(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("HTTP服务异常退出", zap.Error(err))
		}
	}()

	// 监听配置变化，热加载非关键设置
	config.Watch(func(newCfg *config.Config) {
		s.log.Info("配置已更新，正在重新加载...")
		s.reloadConfig(newCfg)
	})

	s.log.Info("服务启动成功",
		zap.String("http", s.httpServer.Addr),
		zap.String("serial", s.cfg.Serial.Device),
	)

	return nil
}

// discoverMerchant 商户号/货币缺失时从网关获取
func (s *Server) discoverMerchant() error {
	if s.cfg.Gateway.MerchantCode != "" && s.cfg.Gateway.Currency != "" {
		return nil
	}

	profile, err := s.gw.MerchantProfile(context.Background())
	if err != nil {
		return fmt.Errorf("获取商户信息失败: %w", err)
	}

	if s.cfg.Gateway.MerchantCode == "" {
		s.cfg.Gateway.MerchantCode = profile.MerchantCode
	}
	if s.cfg.Gateway.Currency == "" {
		s.cfg.Gateway.Currency = profile.DefaultCurrency
	}

	s.log.Info("商户信息已补全",
		zap.String("merchant_code", s.cfg.Gateway.MerchantCode),
		zap.String("currency", s.cfg.Gateway.Currency),
	)

	return nil
}

// reloadConfig 应用热加载的非关键设置。
// 串口设备与网关凭证的变更需要重启进程才能生效。
func (s *Server) reloadConfig(newCfg *config.Config) {
	logger.SetLevel(newCfg.Log.Level)

	defaultAmount, err := decimal.NewFromString(newCfg.Vend.DefaultAmount)
	if err != nil {
		s.log.Warn("vend.default_amount 无效，保留当前运行参数", zap.Error(err))
		return
	}

	s.controller.UpdateOptions(vend.Options{
		DefaultAmount:       defaultAmount,
		CurrencyCode:        newCfg.Vend.CurrencyCode,
		AlwaysIdle:          newCfg.Vend.AlwaysIdle,
		PollInterval:        newCfg.Vend.PollInterval,
		RefundRetryInterval: newCfg.Vend.RefundRetryInterval,
	})

	s.cfg = newCfg
	s.log.Info("配置重新加载完成", zap.String("log_level", newCfg.Log.Level))
}

// cleanupSerialLogs 定期清理超过保留时长的串口流量日志
func (s *Server) cleanupSerialLogs() {
	retention := s.cfg.Database.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}

		deleted, err := s.serialLogs.Cleanup(time.Now().Add(-retention))
		if err != nil {
			s.log.Warn("清理串口流量日志失败", zap.Error(err))
			continue
		}
		if deleted > 0 {
			s.log.Info("串口流量日志已清理", zap.Int64("deleted", deleted))
		}
	}
}

// WaitForShutdown 等待退出信号
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	sig := <-sigCh
	s.log.Info("收到退出信号", zap.String("signal", sig.String()))

	close(s.shutdownCh)
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown() error {
	s.log.Info("正在优雅关闭服务...")

	// 停止后台清理等内部活动
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止HTTP触发接口
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("关闭HTTP服务失败", zap.Error(err))
		}
	}

	// 先禁用接口板再关闭串口
	if s.port != nil {
		if err := s.port.WriteCommand(mdb.CmdController, mdb.TokDisable); err != nil {
			s.log.Warn("下发禁用命令失败", zap.Error(err))
		}
		if err := s.port.Close(); err != nil {
			s.log.Error("关闭串口失败", zap.Error(err))
		}
	}

	// 停止轮询/退款活动
	if s.controller != nil {
		s.controller.Close()
	}

	if s.cfg.Database.Enabled {
		if err := database.Close(); err != nil {
			s.log.Error("关闭数据库失败", zap.Error(err))
		}
	}

	logger.Cleanup()
	return nil
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("MDB支付桥接服务\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
