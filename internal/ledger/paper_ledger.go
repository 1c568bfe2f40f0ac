package ledger

import (
	"amm-volume-bot/internal/models"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// paperOffer 模拟账本上的一个挂单
type paperOffer struct {
	account  string
	sequence uint32
	side     models.Side
	base     decimal.Decimal
	quote    decimal.Decimal
}

// PaperLedger 实现了 Ledger 接口，在内存中模拟 AMM 池和订单簿, 用于模拟运行和测试。
// IOC 挂单按池价格判断能否成交并以恒定乘积公式与池子兑换; 被动挂单只挂在簿上。
type PaperLedger struct {
	mu        sync.Mutex
	pair      models.Pair
	connected bool

	BaseReserve  decimal.Decimal // 池中基础资产 (整单位)
	QuoteReserve decimal.Decimal // 池中计价资产 (整单位)
	FeeDrops     int64           // 每笔交易的手续费
	balances     map[string]decimal.Decimal
	sequences    map[string]uint32
	offers       map[string][]*paperOffer
	startBalance decimal.Decimal
	TxCount      int
}

// NewPaperLedger 创建一个新的 PaperLedger 实例
func NewPaperLedger(pair models.Pair, cfg models.PaperConfig) *PaperLedger {
	return &PaperLedger{
		pair:         pair,
		BaseReserve:  decimal.NewFromFloat(cfg.BaseReserve),
		QuoteReserve: decimal.NewFromFloat(cfg.QuoteReserve),
		FeeDrops:     cfg.FeeDrops,
		balances:     make(map[string]decimal.Decimal),
		sequences:    make(map[string]uint32),
		offers:       make(map[string][]*paperOffer),
		startBalance: decimal.NewFromFloat(cfg.Balance),
	}
}

func (p *PaperLedger) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

func (p *PaperLedger) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

func (p *PaperLedger) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// checkConnected 必须在持有锁的情况下调用
func (p *PaperLedger) checkConnected(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrTransport, err)
	}
	if !p.connected {
		return fmt.Errorf("%w: %w", models.ErrTransport, models.ErrNotConnected)
	}
	return nil
}

// SetBalance 设置账户的原生余额
func (p *PaperLedger) SetBalance(address string, balance float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[address] = decimal.NewFromFloat(balance)
}

// balanceOf 必须在持有锁的情况下调用, 首次出现的账户获得初始余额
func (p *PaperLedger) balanceOf(address string) decimal.Decimal {
	b, ok := p.balances[address]
	if !ok {
		b = p.startBalance
		p.balances[address] = b
	}
	return b
}

// nextSequence 必须在持有锁的情况下调用
func (p *PaperLedger) nextSequence(address string) uint32 {
	p.sequences[address]++
	return p.sequences[address]
}

// chargeFee 必须在持有锁的情况下调用
func (p *PaperLedger) chargeFee(address string) {
	fee := decimal.NewFromInt(p.FeeDrops).Div(dropsPerUnit)
	p.balances[address] = p.balanceOf(address).Sub(fee)
	p.TxCount++
}

func (p *PaperLedger) NativeBalance(ctx context.Context, address string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkConnected(ctx); err != nil {
		return 0, err
	}
	return p.balanceOf(address).InexactFloat64(), nil
}

func (p *PaperLedger) PoolReserves(ctx context.Context, pair models.Pair) (*models.PoolReserves, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkConnected(ctx); err != nil {
		return nil, err
	}
	if !pair.Base.Equal(p.pair.Base) || !pair.Quote.Equal(p.pair.Quote) {
		return nil, fmt.Errorf("%w: %s", models.ErrPoolNotFound, pair)
	}
	return &models.PoolReserves{
		Base:         p.pair.Base,
		Quote:        p.pair.Quote,
		BaseReserve:  rawUnits(p.pair.Base, p.BaseReserve),
		QuoteReserve: rawUnits(p.pair.Quote, p.QuoteReserve),
		RetrievedAt:  time.Now(),
	}, nil
}

func (p *PaperLedger) OpenOffers(ctx context.Context, address string, pair models.Pair) ([]models.OpenOffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkConnected(ctx); err != nil {
		return nil, err
	}
	offers := make([]models.OpenOffer, 0, len(p.offers[address]))
	for _, o := range p.offers[address] {
		offers = append(offers, models.OpenOffer{
			Sequence:  o.sequence,
			Account:   o.account,
			Side:      o.side,
			Remaining: o.base,
		})
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].Sequence < offers[j].Sequence })
	return offers, nil
}

// SubmitOffer 模拟 OfferCreate
func (p *PaperLedger) SubmitOffer(ctx context.Context, wallet models.WalletCredential, intent models.OfferIntent, flag models.ExecutionFlag) (models.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkConnected(ctx); err != nil {
		return models.Receipt{}, err
	}

	seq := p.nextSequence(wallet.Address)
	p.chargeFee(wallet.Address)
	receipt := models.Receipt{Hash: paperHash(wallet.Address, seq)}

	gets, _ := offerLegs(intent)
	if gets.Asset.IsNative() && gets.Value.GreaterThan(p.balanceOf(wallet.Address)) {
		receipt.Code = ResultUnfunded
		return receipt, nil
	}

	if flag == models.ImmediateOrCancel {
		if !p.crossesPool(intent) || !p.swapWithPool(wallet.Address, intent) {
			receipt.Code = ResultKilled
			return receipt, nil
		}
		receipt.Code = ResultSuccess
		return receipt, nil
	}

	p.offers[wallet.Address] = append(p.offers[wallet.Address], &paperOffer{
		account:  wallet.Address,
		sequence: seq,
		side:     intent.Side,
		base:     intent.Base.Value,
		quote:    intent.Quote.Value,
	})
	receipt.Code = ResultSuccess
	return receipt, nil
}

// crossesPool 判断 IOC 挂单的限价是否优于池价格
func (p *PaperLedger) crossesPool(intent models.OfferIntent) bool {
	if p.BaseReserve.IsZero() {
		return false
	}
	poolPrice := p.QuoteReserve.Div(p.BaseReserve)
	limit := decimal.NewFromFloat(intent.LimitPrice)
	if intent.Side == models.Buy {
		return limit.GreaterThanOrEqual(poolPrice)
	}
	return limit.LessThanOrEqual(poolPrice)
}

// swapWithPool 按恒定乘积公式与池子兑换基础资产数量, 池子储备不足时不成交并返回 false
func (p *PaperLedger) swapWithPool(address string, intent models.OfferIntent) bool {
	k := p.BaseReserve.Mul(p.QuoteReserve)
	if intent.Side == models.Buy {
		newBase := p.BaseReserve.Sub(intent.Base.Value)
		if !newBase.IsPositive() {
			return false
		}
		newQuote := k.Div(newBase)
		paid := newQuote.Sub(p.QuoteReserve)
		p.BaseReserve, p.QuoteReserve = newBase, newQuote
		p.settle(address, intent.Base.Asset, intent.Base.Value)
		p.settle(address, intent.Quote.Asset, paid.Neg())
		return true
	}
	newBase := p.BaseReserve.Add(intent.Base.Value)
	newQuote := k.Div(newBase)
	received := p.QuoteReserve.Sub(newQuote)
	p.BaseReserve, p.QuoteReserve = newBase, newQuote
	p.settle(address, intent.Base.Asset, intent.Base.Value.Neg())
	p.settle(address, intent.Quote.Asset, received)
	return true
}

// settle 只跟踪原生资产余额, 发行资产视为信任额度充足
func (p *PaperLedger) settle(address string, asset models.Asset, delta decimal.Decimal) {
	if asset.IsNative() {
		p.balances[address] = p.balanceOf(address).Add(delta)
	}
}

// SubmitCancel 模拟 OfferCancel, 不存在的序号返回 tecNO_ENTRY
func (p *PaperLedger) SubmitCancel(ctx context.Context, wallet models.WalletCredential, sequence uint32) (models.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkConnected(ctx); err != nil {
		return models.Receipt{}, err
	}

	seq := p.nextSequence(wallet.Address)
	p.chargeFee(wallet.Address)
	receipt := models.Receipt{Code: ResultNoEntry, Hash: paperHash(wallet.Address, seq)}

	remaining := p.offers[wallet.Address][:0]
	for _, o := range p.offers[wallet.Address] {
		if o.sequence == sequence {
			receipt.Code = ResultSuccess
			continue
		}
		remaining = append(remaining, o)
	}
	p.offers[wallet.Address] = remaining
	return receipt, nil
}

// WalletFromSeed 以确定性方式从种子派生一个模拟地址
func (p *PaperLedger) WalletFromSeed(ctx context.Context, seed string) (models.WalletCredential, error) {
	sum := sha256.Sum256([]byte(seed))
	addr := make([]byte, 0, 34)
	addr = append(addr, 'r')
	for _, b := range sum[:25] {
		addr = append(addr, base58Alphabet[int(b)%len(base58Alphabet)])
	}
	return models.WalletCredential{Seed: seed, Address: string(addr)}, nil
}

// rawUnits 将整单位转换为账本原始单位
func rawUnits(asset models.Asset, v decimal.Decimal) decimal.Decimal {
	if asset.IsNative() {
		return v.Mul(dropsPerUnit)
	}
	return v
}

func paperHash(address string, seq uint32) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%d", address, seq)))
	return fmt.Sprintf("%X", sum[:])
}
