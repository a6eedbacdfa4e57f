package config

import (
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"github.com/vendtech/mdb-bridge/internal/errors"
)

// Config 全局配置结构体
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Serial   SerialConfig   `mapstructure:"serial"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Vend     VendConfig     `mapstructure:"vend"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig HTTP触发接口配置
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SerialConfig MDB接口板串口配置
type SerialConfig struct {
	Device            string        `mapstructure:"device"`
	BaudRate          int           `mapstructure:"baud_rate"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
}

// GatewayConfig 支付网关配置
type GatewayConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	MerchantCode   string        `mapstructure:"merchant_code"`
	ReaderID       string        `mapstructure:"reader_id"`
	Currency       string        `mapstructure:"currency"`
	AffiliateAppID string        `mapstructure:"affiliate_app_id"`
	AffiliateKey   string        `mapstructure:"affiliate_key"`
	Description    string        `mapstructure:"description"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// VendConfig 售卖会话配置
type VendConfig struct {
	DefaultAmount       string        `mapstructure:"default_amount"`        // C,START 默认金额
	CurrencyCode        string        `mapstructure:"currency_code"`         // mdb-currency-code
	AlwaysIdle          bool          `mapstructure:"always_idle"`           // mdb-always-idle
	PollInterval        time.Duration `mapstructure:"poll_interval"`         // 支付轮询周期
	RefundRetryInterval time.Duration `mapstructure:"refund_retry_interval"` // 退款重试周期
}

// DatabaseConfig 串口流量日志数据库配置
type DatabaseConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	DSN         string        `mapstructure:"dsn"`
	AutoMigrate bool          `mapstructure:"auto_migrate"`
	LogLevel    string        `mapstructure:"log_level"`
	Retention   time.Duration `mapstructure:"retention"` // 流量日志保留时长
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string        `mapstructure:"level"`
	Format string        `mapstructure:"format"`
	Output string        `mapstructure:"output"`
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig 日志文件配置
type LogFileConfig struct {
	Path       string `mapstructure:"path"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

var (
	cfg  *Config
	once sync.Once
	mu   sync.RWMutex
	v    *viper.Viper
)

// Init 初始化配置
func Init(configPath string) error {
	var err error
	once.Do(func() {
		v = viper.New()

		if configPath != "" {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			v.SetConfigType("yaml")
			v.AddConfigPath("./config")
			v.AddConfigPath(".")
		}

		v.SetEnvPrefix("MDB_BRIDGE")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()

		setDefaults(v)

		if err = v.ReadInConfig(); err != nil {
			// 配置文件不存在时使用默认值+环境变量
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return
			}
			err = nil
		}

		cfg = &Config{}
		err = v.Unmarshal(cfg)
	})

	return err
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.read_timeout", "0s")
	v.SetDefault("serial.reconnect_interval", "3s")

	v.SetDefault("gateway.base_url", "https://api.sumup.com")
	v.SetDefault("gateway.currency", "EUR")
	v.SetDefault("gateway.description", "Snack")
	v.SetDefault("gateway.timeout", "10s")

	v.SetDefault("vend.default_amount", "99.99")
	v.SetDefault("vend.currency_code", "0x1978")
	v.SetDefault("vend.always_idle", true)
	v.SetDefault("vend.poll_interval", "1s")
	v.SetDefault("vend.refund_retry_interval", "1s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "./data/mdb-bridge.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.retention", "168h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file.path", "./logs")
	v.SetDefault("log.file.filename", "mdb-bridge.log")
	v.SetDefault("log.file.max_size", 100)
	v.SetDefault("log.file.max_age", 30)
	v.SetDefault("log.file.max_backups", 7)
	v.SetDefault("log.file.compress", true)
}

// Validate 校验启动必需项，缺失时进程必须立即退出
func (c *Config) Validate() error {
	if c.Gateway.APIKey == "" {
		return errors.New(errors.ErrConfigMissing, "gateway.api_key")
	}
	if c.Serial.Device == "" {
		return errors.New(errors.ErrConfigMissing, "serial.device")
	}
	return nil
}

// Get 获取配置实例
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// Watch 监听配置文件变化
func Watch(callback func(*Config)) {
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		mu.Lock()
		defer mu.Unlock()

		newCfg := &Config{}
		if err := v.Unmarshal(newCfg); err != nil {
			return
		}

		cfg = newCfg
		if callback != nil {
			callback(cfg)
		}
	})
}
