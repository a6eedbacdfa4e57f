package vend

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vendtech/mdb-bridge/internal/gateway"
	"github.com/vendtech/mdb-bridge/internal/mdb"
	"go.uber.org/zap"
)

// Gateway 控制器需要的支付网关操作
type Gateway interface {
	CreatePayment(ctx context.Context, amount decimal.Decimal, idempotencyKey string) (string, error)
	QueryPayment(ctx context.Context, paymentID string) (*gateway.Payment, error)
	RefundPayment(ctx context.Context, transactionCode string) error
}

// CommandWriter 向设备下发协议行
type CommandWriter interface {
	WriteCommand(cmd string, args ...string) error
}

// Options 控制器参数
type Options struct {
	DefaultAmount       decimal.Decimal // C,START 默认金额
	CurrencyCode        string          // mdb-currency-code
	AlwaysIdle          bool            // mdb-always-idle
	PollInterval        time.Duration   // 支付轮询周期
	RefundRetryInterval time.Duration   // 退款重试周期
}

// Controller 售卖会话控制器。
// 解释设备上报的协议行，驱动会话状态，编排支付轮询与退款活动。
// 售卖的物理决定权在设备侧，控制器只下发"按金额X放行"或保持沉默。
type Controller struct {
	session *Session
	gw      Gateway
	writer  CommandWriter
	log     *zap.Logger

	optsMu sync.RWMutex
	opts   Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 在途轮询活动注册表，按支付ID，保证每笔支付至多一个轮询协程
	taskMu sync.Mutex
	tasks  map[string]struct{}
}

// NewController 创建售卖会话控制器
func NewController(session *Session, gw Gateway, writer CommandWriter, opts Options, log *zap.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		session: session,
		gw:      gw,
		writer:  writer,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		tasks:   make(map[string]struct{}),
	}
	c.UpdateOptions(opts)
	return c
}

// UpdateOptions 应用新的运行参数（配置热加载），在途活动下一个周期生效
func (c *Controller) UpdateOptions(opts Options) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RefundRetryInterval <= 0 {
		opts.RefundRetryInterval = time.Second
	}

	c.optsMu.Lock()
	c.opts = opts
	c.optsMu.Unlock()
}

// options 取当前运行参数快照
func (c *Controller) options() Options {
	c.optsMu.RLock()
	defer c.optsMu.RUnlock()
	return c.opts
}

// Session 返回会话状态（供状态查询接口使用）
func (c *Controller) Session() *Session {
	return c.session
}

// OnConnected 串口建立后下发固定启动序列
func (c *Controller) OnConnected() {
	c.log.Info("下发启动序列")
	opts := c.options()

	c.write(mdb.CmdController, mdb.TokDisable)
	c.write(mdb.CmdController, mdb.TokSetConf, "mdb-currency-code="+opts.CurrencyCode)
	if opts.AlwaysIdle {
		c.write(mdb.CmdController, mdb.TokSetConf, "mdb-always-idle=1")
	}
	c.write(mdb.CmdController, mdb.TokEnable)
}

// StartSession 触发一次售卖会话（C,START，固定默认金额）
func (c *Controller) StartSession() error {
	amount := c.options().DefaultAmount
	c.log.Info("触发售卖会话", zap.String("amount", amount.StringFixed(2)))
	return c.writer.WriteCommand(mdb.CmdController, mdb.TokStart, amount.StringFixed(2))
}

// HandleLine 处理一条设备协议行。
// 单读取协程调用，设备侧状态转换严格按行到达顺序处理。
func (c *Controller) HandleLine(raw string) {
	frame, err := mdb.Decode(raw)
	if err != nil {
		// 格式错误的行记录后丢弃，绝不致命
		c.log.Warn("丢弃格式错误的行", zap.String("raw", raw), zap.Error(err))
		return
	}

	switch frame.Command {
	case mdb.CmdDevice:
		c.handleDevice(frame.Args)
	case mdb.CmdRaw:
		// 原始总线数据，忽略
	default:
		c.log.Debug("忽略未知命令字", zap.String("command", frame.Command))
	}
}

// handleDevice 处理接口板上报
func (c *Controller) handleDevice(args []string) {
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case mdb.TokStatus:
		c.handleStatus(args[1:])
	case mdb.TokVend:
		if len(args) > 1 && args[1] == mdb.TokSuccess {
			c.handleVendSuccess()
		}
	case mdb.TokErr:
		// 设备错误：记录并复位接口，不清除会话状态
		c.log.Error("设备上报错误，复位接口", zap.Strings("args", args))
		c.write(mdb.CmdController, mdb.TokDisable)
	case mdb.TokSet:
		// SETCONF确认，忽略
	default:
		c.log.Debug("忽略未知上报", zap.Strings("args", args))
	}
}

// handleStatus 处理设备状态上报
func (c *Controller) handleStatus(args []string) {
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case mdb.TokVend:
		c.session.SetDeviceState(StateVending)
		if len(args) < 2 {
			c.log.Warn("VEND状态缺少金额字段")
			return
		}
		c.handleVendRequest(args[1])
	case mdb.TokIdle:
		c.session.SetDeviceState(StateIdle)
		if c.session.RequestCancel() {
			c.log.Info("设备转入IDLE，已请求取消在途支付")
		}
	case string(StateEnabled):
		c.session.SetDeviceState(StateEnabled)
	case string(StateDisabled):
		c.session.SetDeviceState(StateDisabled)
	case string(StateVendApproved):
		c.session.SetDeviceState(StateVendApproved)
	default:
		c.log.Warn("意外的设备状态，忽略", zap.String("state", args[0]))
	}
}

// handleVendRequest 处理设备的付款请求
func (c *Controller) handleVendRequest(rawAmount string) {
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		c.log.Warn("金额格式错误，忽略VEND请求",
			zap.String("amount", rawAmount), zap.Error(err))
		return
	}

	switch c.session.Begin(amount) {
	case BeginStarted:
		c.log.Info("受理付款请求", zap.String("amount", amount.StringFixed(2)))
		c.createPayment(amount)
	case BeginDuplicate:
		// 设备轮询自身状态导致的重复上报，沿用在途支付
		c.log.Info("支付已在途，不再重复扣款",
			zap.String("amount", amount.StringFixed(2)))
	case BeginAmountMismatch:
		// 金额不同的再次上报：拒绝新金额，继续服务原支付
		c.log.Warn("在途支付金额不符，拒绝新金额",
			zap.String("requested", amount.StringFixed(2)))
	}
}

// createPayment 创建支付并启动轮询活动
func (c *Controller) createPayment(amount decimal.Decimal) {
	idempotencyKey := uuid.NewString()

	paymentID, err := c.gw.CreatePayment(c.ctx, amount, idempotencyKey)
	if err != nil {
		c.session.Abort()
		c.log.Error("创建支付失败", zap.Error(err))
		return
	}

	c.session.Commit(paymentID)
	c.spawnPoll(paymentID)
}

// handleVendSuccess 设备确认出货，售卖周期终结
func (c *Controller) handleVendSuccess() {
	if c.session.Clear() {
		c.log.Info("设备确认出货，会话已结清")
	} else {
		c.log.Warn("收到VEND,SUCCESS但无在途会话")
	}
}

// spawnPoll 启动支付轮询活动，每笔支付至多一个
func (c *Controller) spawnPoll(paymentID string) {
	c.taskMu.Lock()
	if _, running := c.tasks[paymentID]; running {
		c.taskMu.Unlock()
		return
	}
	c.tasks[paymentID] = struct{}{}
	c.taskMu.Unlock()

	c.wg.Add(1)
	go c.pollPayment(paymentID)
}

// pollPayment 支付轮询活动。
// 跟踪一笔支付直至终态；查询失败无限重试，支付状态未知时放弃等价于丢单。
func (c *Controller) pollPayment(paymentID string) {
	defer c.wg.Done()
	defer func() {
		c.taskMu.Lock()
		delete(c.tasks, paymentID)
		c.taskMu.Unlock()
	}()

	log := c.log.With(zap.String("payment_id", paymentID))

	for {
		if done := c.pollOnce(paymentID, log); done {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.options().PollInterval):
		}
	}
}

// pollOnce 查询一次支付状态，返回是否已终态
func (c *Controller) pollOnce(paymentID string, log *zap.Logger) bool {
	payment, err := c.gw.QueryPayment(c.ctx, paymentID)
	if err != nil {
		if c.ctx.Err() != nil {
			return true
		}
		log.Warn("查询支付失败，继续轮询", zap.Error(err))
		return false
	}

	log.Debug("支付状态", zap.String("status", string(payment.Status)))

	switch payment.Status {
	case gateway.StatusPending:
		return false

	case gateway.StatusFailed, gateway.StatusCancelled:
		c.session.Clear()
		log.Info("支付未成功，会话已清除", zap.String("status", string(payment.Status)))
		return true

	case gateway.StatusSuccessful:
		c.resolveSuccessful(paymentID, payment, log)
		return true

	default:
		log.Warn("未知的支付状态，继续轮询", zap.String("status", string(payment.Status)))
		return false
	}
}

// resolveSuccessful 支付成功后的放行/退款裁决。
// 此刻重新读取设备状态和取消标记，而不是沿用请求时的值：
// 钱只在此处被确定性地占有一次，裁决必须反映设备最新的意图。
func (c *Controller) resolveSuccessful(paymentID string, payment *gateway.Payment, log *zap.Logger) {
	c.session.SetTransactionCode(payment.TransactionCode)

	snap := c.session.Snapshot()
	if snap.DeviceState == StateVending && !snap.CancelRequested {
		log.Info("设备处于VEND状态，放行出货",
			zap.String("amount", payment.Amount.StringFixed(2)))
		c.write(mdb.CmdController, mdb.TokVend, payment.Amount.StringFixed(2))
		// 会话在设备上报VEND,SUCCESS时由状态机清除
		return
	}

	log.Info("设备已离开VEND状态或已请求取消，转退款",
		zap.String("transaction_code", payment.TransactionCode))

	c.wg.Add(1)
	go c.refundPayment(payment.TransactionCode)
	c.session.Clear()
}

// refundPayment 退款重试活动。
// 无限重试直到网关接受或确认已退款；卡住的退款不允许无声消失。
func (c *Controller) refundPayment(transactionCode string) {
	defer c.wg.Done()

	log := c.log.With(zap.String("transaction_code", transactionCode))
	log.Info("开始退款")

	for {
		err := c.gw.RefundPayment(c.ctx, transactionCode)
		if err == nil {
			log.Info("退款成功")
			return
		}
		if gateway.IsConflict(err) {
			log.Info("退款返回409，应已退款")
			return
		}
		if c.ctx.Err() != nil {
			return
		}

		log.Warn("退款失败，重试", zap.Error(err))

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.options().RefundRetryInterval):
		}
	}
}

// write 下发协议行，写入失败只记录
func (c *Controller) write(cmd string, args ...string) {
	if err := c.writer.WriteCommand(cmd, args...); err != nil {
		c.log.Error("下发命令失败",
			zap.String("command", mdb.Encode(cmd, args...)),
			zap.Error(err))
	}
}

// Close 停止所有后台活动并等待退出
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
}
