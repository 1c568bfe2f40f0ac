package bot

import (
	"amm-volume-bot/internal/balance"
	"amm-volume-bot/internal/config"
	"amm-volume-bot/internal/ledger"
	"amm-volume-bot/internal/models"
	"amm-volume-bot/internal/offers"
	"amm-volume-bot/internal/oracle"
	"amm-volume-bot/internal/pricing"
	"amm-volume-bot/internal/statemanager"
	"amm-volume-bot/internal/wallet"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventSink 接收会话事件, StateManager 实现了该接口
type EventSink interface {
	DispatchEvent(event statemanager.NormalizedEvent)
}

type discardSink struct{}

func (discardSink) DispatchEvent(statemanager.NormalizedEvent) {}

// VolumeBot 是成交量机器人的核心结构。
// 状态机: Stopped -> Running -> Stopped, 运行期间只有一个循环 goroutine。
type VolumeBot struct {
	config  *models.Config
	ledger  ledger.Ledger
	oracle  *oracle.Oracle
	gate    *balance.Gate
	offers  *offers.Manager
	pricer  *pricing.Pricer
	sides   pricing.SidePolicy
	pool    *wallet.Pool
	events  EventSink
	logger  *zap.Logger
	delay   time.Duration
	timeout time.Duration

	lifecycle sync.Mutex // 串行化 Start 与 Stop

	mutex        sync.RWMutex
	isRunning    bool
	stopChannel  chan struct{}
	loopDone     chan struct{}
	cancelRun    context.CancelFunc
	timer        *time.Timer // 唯一的下一轮调度句柄
	cycle        uint64
	params       models.TradeParams
	startedAt    time.Time
	lastPrice    float64
	activeOffers map[string]int
}

// NewVolumeBot 创建机器人实例。events 为空时丢弃会话事件
func NewVolumeBot(cfg *models.Config, l ledger.Ledger, pool *wallet.Pool, events EventSink, logger *zap.Logger) (*VolumeBot, error) {
	if pool == nil || pool.Size() == 0 {
		return nil, errors.New("钱包池为空")
	}
	pricer, err := pricing.NewPricer(pricing.SizingPolicy(cfg.Strategy.Sizing), cfg.Pair)
	if err != nil {
		return nil, err
	}
	sides := pricing.SidePolicy(cfg.Strategy.Sides)
	if !sides.Valid() {
		return nil, fmt.Errorf("未知的方向策略: %q", cfg.Strategy.Sides)
	}
	if events == nil {
		events = discardSink{}
	}

	execution := map[models.Side]models.ExecutionFlag{
		models.Buy:  models.ExecutionFlag(cfg.Strategy.BuyExecution),
		models.Sell: models.ExecutionFlag(cfg.Strategy.SellExecution),
	}

	return &VolumeBot{
		config:       cfg,
		ledger:       l,
		oracle:       oracle.New(l, logger),
		gate:         balance.NewGate(l, cfg.DefaultBalanceMin, logger),
		offers:       offers.NewManager(l, cfg.Pair, execution, logger),
		pricer:       pricer,
		sides:        sides,
		pool:         pool,
		events:       events,
		logger:       logger,
		delay:        time.Duration(cfg.DelaySec) * time.Second,
		timeout:      time.Duration(cfg.RequestTimeoutSec) * time.Second,
		activeOffers: make(map[string]int),
	}, nil
}

// Start 连接账本并启动交易循环。已在运行时记录日志并直接返回
func (b *VolumeBot) Start(params models.TradeParams) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.IsRunning() {
		b.logger.Warn("机器人已在运行, 忽略重复启动")
		return nil
	}
	if err := config.ValidateTrade(params); err != nil {
		return fmt.Errorf("交易参数错误: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	err := b.ledger.Connect(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("连接账本失败: %w", err)
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	stop := make(chan struct{})
	done := make(chan struct{})

	b.mutex.Lock()
	b.isRunning = true
	b.stopChannel = stop
	b.loopDone = done
	b.cancelRun = cancelRun
	b.cycle = 0
	b.params = params
	b.startedAt = time.Now()
	b.activeOffers = make(map[string]int)
	b.mutex.Unlock()

	b.events.DispatchEvent(statemanager.NewEvent(statemanager.RunStateChangedEvent, statemanager.RunStateData{Running: true}))
	b.logger.Info("成交量机器人已启动",
		zap.String("pair", b.config.Pair.String()),
		zap.Int("wallets", b.pool.Size()),
		zap.Float64("notional", params.Notional),
		zap.Float64("spreadPct", params.SpreadPct),
		zap.Float64("floor", b.gate.Floor(params.StopLoss)))

	go b.loop(runCtx, stop, done)
	return nil
}

// Stop 停止循环: 取消下一轮调度, 等待正在处理的钱包完成, 然后断开账本并重置周期计数。
// 未运行时调用是安全的空操作。
func (b *VolumeBot) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	b.mutex.Lock()
	if !b.isRunning {
		b.mutex.Unlock()
		return
	}
	b.isRunning = false
	close(b.stopChannel)
	if b.timer != nil {
		b.timer.Stop()
	}
	done := b.loopDone
	cancelRun := b.cancelRun
	b.mutex.Unlock()

	<-done
	cancelRun()

	if err := b.ledger.Disconnect(); err != nil {
		b.logger.Warn("断开账本连接失败", zap.Error(err))
	}

	b.mutex.Lock()
	b.timer = nil
	b.cycle = 0
	b.mutex.Unlock()

	b.events.DispatchEvent(statemanager.NewEvent(statemanager.RunStateChangedEvent, statemanager.RunStateData{Running: false}))
	b.logger.Info("成交量机器人已停止")
}

// IsRunning 返回循环是否在运行
func (b *VolumeBot) IsRunning() bool {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return b.isRunning
}

// Snapshot 返回供展示层读取的状态
func (b *VolumeBot) Snapshot() models.Snapshot {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	active := 0
	for _, n := range b.activeOffers {
		active += n
	}
	snap := models.Snapshot{
		Running:      b.isRunning,
		Cycle:        b.cycle,
		ActiveOffers: active,
		LastPrice:    b.lastPrice,
		Pair:         b.config.Pair.String(),
	}
	if b.isRunning {
		snap.Uptime = time.Since(b.startedAt)
	}
	return snap
}

// loop 依次执行每一轮, 轮与轮之间由定时器隔开。停止只在钱包和轮次的边界被观察到
func (b *VolumeBot) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		if !b.runCycle(ctx, stop) {
			return
		}

		b.mutex.Lock()
		select {
		case <-stop:
			b.mutex.Unlock()
			return
		default:
		}
		timer := time.NewTimer(b.delay)
		b.timer = timer
		b.mutex.Unlock()

		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// runCycle 执行一轮遍历, 在钱包边界收到停止信号时返回 false
func (b *VolumeBot) runCycle(ctx context.Context, stop <-chan struct{}) bool {
	b.mutex.RLock()
	cycle := b.cycle
	params := b.params
	b.mutex.RUnlock()

	// 连接在上一轮中断时, 在本轮开始前重连; 失败则跳过本轮, 等下一轮再试
	if !b.ledger.IsConnected() {
		connCtx, cancel := context.WithTimeout(ctx, b.timeout)
		err := b.ledger.Connect(connCtx)
		cancel()
		if err != nil {
			b.logger.Warn("重新连接账本失败, 跳过本轮", zap.Uint64("cycle", cycle), zap.Error(err))
			return true
		}
		b.logger.Info("已重新连接账本", zap.Uint64("cycle", cycle))
	}

	visits := b.pool.Traversal(cycle)
	direction := "forward"
	if cycle%2 == 1 {
		direction = "reverse"
	}
	b.logger.Info("开始新一轮", zap.Uint64("cycle", cycle), zap.String("direction", direction))
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.CycleStartedEvent, statemanager.CycleData{Cycle: cycle}))

	for _, visit := range visits {
		select {
		case <-stop:
			b.logger.Info("收到停止信号, 中止本轮", zap.Uint64("cycle", cycle))
			return false
		default:
		}
		b.visitWallet(ctx, visit, params)
	}

	b.events.DispatchEvent(statemanager.NewEvent(statemanager.CycleCompletedEvent, statemanager.CycleData{Cycle: cycle}))
	b.mutex.Lock()
	b.cycle++
	b.mutex.Unlock()
	return true
}

// visitWallet 处理一个钱包。任何失败都只影响这个钱包, 记录后返回
func (b *VolumeBot) visitWallet(ctx context.Context, visit wallet.Visit, params models.TradeParams) {
	w := visit.Wallet
	log := b.logger.With(zap.String("account", w.Address), zap.Int("position", visit.Position))

	allowed, bal, err := b.gate.Check(ctx, w.Address, params.StopLoss)
	if err != nil {
		log.Warn("查询余额失败, 跳过该钱包", zap.Error(err))
		b.skip(w.Address, 0, err.Error())
		return
	}
	if !allowed {
		log.Info("余额低于下限, 跳过该钱包",
			zap.Float64("balance", bal),
			zap.Float64("floor", b.gate.Floor(params.StopLoss)))
		b.skip(w.Address, bal, models.ErrInsufficientBalance.Error())
		return
	}
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.WalletVisitedEvent, statemanager.WalletVisitData{Address: w.Address, Balance: bal}))

	price, err := b.oracle.GetPrice(ctx, b.config.Pair)
	if err != nil {
		log.Warn("获取参考价格失败, 跳过该钱包", zap.Error(err))
		b.skip(w.Address, bal, err.Error())
		return
	}
	b.mutex.Lock()
	b.lastPrice = price
	b.mutex.Unlock()
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.PriceObservedEvent, statemanager.PriceData{Price: price}))

	for _, side := range b.sides.Sides(visit.Position) {
		b.placeSide(ctx, log, w, side, price, params)
	}

	if b.config.Strategy.CancelEnabled() {
		summary, err := b.offers.CancelAllOffers(ctx, w)
		if err != nil {
			log.Warn("撤销挂单失败", zap.Error(err))
		} else if summary.Total() > 0 {
			b.events.DispatchEvent(statemanager.NewEvent(statemanager.OffersCancelledEvent, statemanager.CancelData{
				Address:   w.Address,
				Cancelled: summary.Cancelled,
				Noop:      summary.Noop,
				Failed:    summary.Failed,
			}))
		}
	}

	open, err := b.offers.ListOpenOffers(ctx, w.Address)
	if err != nil {
		log.Warn("刷新挂单列表失败", zap.Error(err))
		return
	}
	b.mutex.Lock()
	b.activeOffers[w.Address] = len(open)
	b.mutex.Unlock()
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.OpenOffersObservedEvent, statemanager.OpenOffersData{Address: w.Address, Count: len(open)}))
}

func (b *VolumeBot) placeSide(ctx context.Context, log *zap.Logger, w models.WalletCredential, side models.Side, price float64, params models.TradeParams) {
	intent, err := b.pricer.PriceOffer(side, price, params.SpreadPct, params.Notional)
	if err != nil {
		log.Warn("计算挂单失败", zap.String("side", string(side)), zap.Error(err))
		return
	}
	data := statemanager.OfferData{
		Address:    w.Address,
		Side:       side,
		LimitPrice: intent.LimitPrice,
		Quantity:   intent.Quantity,
	}
	if intent.IsZero() {
		log.Info("数量为0, 不提交挂单", zap.String("side", string(side)), zap.Float64("limitPrice", intent.LimitPrice))
		b.events.DispatchEvent(statemanager.NewEvent(statemanager.OfferSuppressedEvent, data))
		return
	}

	receipt, err := b.offers.PlaceOffer(ctx, w, intent)
	data.Code = receipt.Code
	data.Hash = receipt.Hash
	if err != nil {
		data.Reason = err.Error()
		log.Warn("挂单未被接受", zap.String("side", string(side)), zap.String("code", receipt.Code), zap.Error(err))
		b.events.DispatchEvent(statemanager.NewEvent(statemanager.OfferRejectedEvent, data))
		return
	}
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.OfferPlacedEvent, data))
}

func (b *VolumeBot) skip(address string, bal float64, reason string) {
	b.events.DispatchEvent(statemanager.NewEvent(statemanager.WalletSkippedEvent, statemanager.WalletSkipData{
		Address: address,
		Balance: bal,
		Reason:  reason,
	}))
}
