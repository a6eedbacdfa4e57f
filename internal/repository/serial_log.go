package repository

import (
	"time"

	"github.com/vendtech/mdb-bridge/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SerialLogRepository 串口流量日志仓库
type SerialLogRepository struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSerialLogRepository 创建串口流量日志仓库
func NewSerialLogRepository(db *gorm.DB, log *zap.Logger) *SerialLogRepository {
	return &SerialLogRepository{
		db:  db,
		log: log,
	}
}

// Create 创建日志记录
func (r *SerialLogRepository) Create(entry *models.SerialLog) error {
	return r.db.Create(entry).Error
}

// Record 实现mdb.TrafficRecorder。
// 在读取协程里调用，写入失败只记录，不影响协议处理。
func (r *SerialLogRepository) Record(direction string, line string) {
	entry := &models.SerialLog{
		Direction: direction,
		Line:      line,
	}
	if err := r.db.Create(entry).Error; err != nil {
		r.log.Warn("写入串口流量日志失败", zap.Error(err))
	}
}

// Latest 获取最新的N条记录
func (r *SerialLogRepository) Latest(limit int) ([]*models.SerialLog, error) {
	var entries []*models.SerialLog
	err := r.db.Order("id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// Cleanup 清理指定时间之前的记录，返回删除条数
func (r *SerialLogRepository) Cleanup(before time.Time) (int64, error) {
	result := r.db.Where("created_at < ?", before).Delete(&models.SerialLog{})
	return result.RowsAffected, result.Error
}
