package models

import (
	"time"
)

// SerialLog 串口流量日志（总线诊断用，不保存支付会话历史）
type SerialLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	Direction string `gorm:"type:varchar(4);index;not null" json:"direction"` // rx / tx
	Line      string `gorm:"type:varchar(256);not null" json:"line"`          // 原始协议行
}

// TableName 指定表名
func (SerialLog) TableName() string {
	return "serial_logs"
}
