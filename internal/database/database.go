package database

import (
	"github.com/vendtech/mdb-bridge/internal/config"
	"github.com/vendtech/mdb-bridge/internal/errors"
	"github.com/vendtech/mdb-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB 全局数据库实例
var DB *gorm.DB

// Init 初始化sqlite数据库连接
func Init(cfg *config.DatabaseConfig, log *zap.Logger) error {
	logLevel := gormlogger.Warn
	switch cfg.LogLevel {
	case "silent":
		logLevel = gormlogger.Silent
	case "error":
		logLevel = gormlogger.Error
	case "info":
		logLevel = gormlogger.Info
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrDatabaseConnect, cfg.DSN)
	}

	if cfg.AutoMigrate {
		if err := AutoMigrate(); err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}

	log.Info("数据库连接成功", zap.String("dsn", cfg.DSN))
	return nil
}

// AutoMigrate 自动迁移表结构
func AutoMigrate() error {
	return DB.AutoMigrate(
		&models.SerialLog{},
	)
}

// Get 获取数据库实例
func Get() *gorm.DB {
	return DB
}

// Close 关闭数据库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
