package mdb

import (
	"bufio"
	"sync"
	"time"

	"github.com/tarm/serial"
	"github.com/vendtech/mdb-bridge/internal/config"
	"github.com/vendtech/mdb-bridge/internal/errors"
	"go.uber.org/zap"
)

// LineHandler 处理一条接收到的协议行
type LineHandler func(line string)

// TrafficRecorder 串口流量记录器（诊断用）
type TrafficRecorder interface {
	Record(direction string, line string)
}

// 流量方向
const (
	DirectionRX = "rx"
	DirectionTX = "tx"
)

// Port MDB接口板串口传输层。
// 单读取协程保证行的处理顺序与到达顺序一致。
type Port struct {
	cfg *config.SerialConfig
	log *zap.Logger

	mu        sync.Mutex
	port      *serial.Port
	connected bool

	handler   LineHandler
	onConnect func()
	recorder  TrafficRecorder

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPort 创建串口传输层
func NewPort(cfg *config.SerialConfig, log *zap.Logger) *Port {
	return &Port{
		cfg:      cfg,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// SetHandler 设置行处理器，必须在Connect之前调用
func (p *Port) SetHandler(h LineHandler) {
	p.handler = h
}

// SetConnectHook 设置连接建立回调（用于下发启动序列）
func (p *Port) SetConnectHook(f func()) {
	p.onConnect = f
}

// SetRecorder 设置流量记录器
func (p *Port) SetRecorder(r TrafficRecorder) {
	p.recorder = r
}

// Connect 打开串口并启动读取协程
func (p *Port) Connect() error {
	if err := p.open(); err != nil {
		return err
	}

	p.wg.Add(1)
	go p.readLoop()

	if p.onConnect != nil {
		p.onConnect()
	}

	return nil
}

// open 打开串口设备
func (p *Port) open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	port, err := serial.OpenPort(&serial.Config{
		Name:        p.cfg.Device,
		Baud:        p.cfg.BaudRate,
		ReadTimeout: p.cfg.ReadTimeout,
	})
	if err != nil {
		p.log.Error("打开串口失败",
			zap.String("device", p.cfg.Device),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortOpen, p.cfg.Device)
	}

	p.port = port
	p.connected = true

	p.log.Info("串口连接成功",
		zap.String("device", p.cfg.Device),
		zap.Int("baud_rate", p.cfg.BaudRate))

	return nil
}

// IsConnected 检查连接状态
func (p *Port) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// readLoop 读取循环，断线后按固定间隔重连
func (p *Port) readLoop() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		port := p.port
		p.mu.Unlock()

		scanner := bufio.NewScanner(port)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}

			if p.recorder != nil {
				p.recorder.Record(DirectionRX, line)
			}
			p.log.Debug("serial_line",
				zap.String("direction", DirectionRX),
				zap.String("line", line))

			if p.handler != nil {
				p.handler(line)
			}
		}

		select {
		case <-p.stopChan:
			return
		default:
		}

		if err := scanner.Err(); err != nil {
			p.log.Error("串口读取失败", zap.Error(err))
		} else {
			p.log.Warn("串口连接已断开")
		}

		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()

		if !p.reconnect() {
			return
		}
	}
}

// reconnect 重连循环，成功后重新下发启动序列
func (p *Port) reconnect() bool {
	interval := p.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}

	for {
		select {
		case <-p.stopChan:
			return false
		case <-time.After(interval):
		}

		if err := p.open(); err != nil {
			continue
		}

		if p.onConnect != nil {
			p.onConnect()
		}
		return true
	}
}

// WriteCommand 编码并发送一条协议行
func (p *Port) WriteCommand(cmd string, args ...string) error {
	return p.WriteLine(Encode(cmd, args...))
}

// WriteLine 发送一条协议行，自动追加换行
func (p *Port) WriteLine(line string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.port == nil || !p.connected {
		return errors.New(errors.ErrSerialPortWrite, "串口未连接")
	}

	if _, err := p.port.Write([]byte(line + "\n")); err != nil {
		p.log.Error("串口写入失败",
			zap.String("line", line),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortWrite, line)
	}

	if p.recorder != nil {
		p.recorder.Record(DirectionTX, line)
	}
	p.log.Debug("serial_line",
		zap.String("direction", DirectionTX),
		zap.String("line", line))

	return nil
}

// Close 关闭串口并停止读取协程
func (p *Port) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})

	p.mu.Lock()
	var err error
	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	p.connected = false
	p.mu.Unlock()

	p.wg.Wait()

	p.log.Info("串口已关闭")
	return err
}
