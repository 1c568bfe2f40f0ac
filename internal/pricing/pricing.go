package pricing

import (
	"amm-volume-bot/internal/models"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// SizingPolicy 决定名义金额以哪种资产计价, 一次运行只能使用一种
type SizingPolicy string

const (
	// QuoteNotional 名义金额以计价资产表示: quantity = floor(notional / limitPrice), 单位为基础资产
	QuoteNotional SizingPolicy = "quote-notional"
	// BaseNotional 名义金额以基础资产表示: quantity = floor(notional * limitPrice), 单位为计价资产
	BaseNotional SizingPolicy = "base-notional"
)

// Valid 检查策略是否可识别
func (p SizingPolicy) Valid() bool {
	return p == QuoteNotional || p == BaseNotional
}

// LimitPrice 计算限价: 买单低于参考价, 卖单高于参考价
func LimitPrice(side models.Side, referencePrice, spreadPct float64) float64 {
	ref := decimal.NewFromFloat(referencePrice)
	spread := decimal.NewFromFloat(spreadPct).Div(decimal.NewFromInt(100))
	one := decimal.NewFromInt(1)
	if side == models.Buy {
		return ref.Mul(one.Sub(spread)).InexactFloat64()
	}
	return ref.Mul(one.Add(spread)).InexactFloat64()
}

// Pricer 根据参考价格、价差和名义金额生成挂单意图
type Pricer struct {
	Sizing SizingPolicy
	Pair   models.Pair
}

// NewPricer 创建定价器, 未识别的策略返回错误
func NewPricer(sizing SizingPolicy, pair models.Pair) (*Pricer, error) {
	if !sizing.Valid() {
		return nil, fmt.Errorf("未知的数量策略: %q", sizing)
	}
	return &Pricer{Sizing: sizing, Pair: pair}, nil
}

// PriceOffer 计算一侧挂单的限价和数量。数量向下取整, 结果为0时返回的意图 IsZero() 为真, 调用方不得提交
func (p *Pricer) PriceOffer(side models.Side, referencePrice, spreadPct, notional float64) (models.OfferIntent, error) {
	if referencePrice <= 0 {
		return models.OfferIntent{}, fmt.Errorf("参考价格必须为正数: %v", referencePrice)
	}
	if spreadPct < 0 {
		return models.OfferIntent{}, fmt.Errorf("价差不能为负: %v", spreadPct)
	}
	if notional < 0 {
		return models.OfferIntent{}, fmt.Errorf("名义金额不能为负: %v", notional)
	}

	limit := LimitPrice(side, referencePrice, spreadPct)
	if limit <= 0 {
		return models.OfferIntent{}, fmt.Errorf("价差 %.4f%% 导致限价非正", spreadPct)
	}

	limitDec := decimal.NewFromFloat(limit)
	notionalDec := decimal.NewFromFloat(notional)
	intent := models.OfferIntent{Side: side, LimitPrice: limit}

	var qty decimal.Decimal
	if p.Sizing == BaseNotional {
		qty = notionalDec.Mul(limitDec).Floor()
	} else {
		qty = notionalDec.Div(limitDec).Floor()
	}
	if qty.GreaterThan(maxQuantity) {
		return models.OfferIntent{}, fmt.Errorf("挂单数量 %s 超出范围", qty.String())
	}
	intent.Quantity = qty.IntPart()

	switch p.Sizing {
	case BaseNotional:
		intent.Base = models.Amount{Asset: p.Pair.Base, Value: notionalDec}
		intent.Quote = models.Amount{Asset: p.Pair.Quote, Value: qty}
	default:
		intent.Base = models.Amount{Asset: p.Pair.Base, Value: qty}
		intent.Quote = models.Amount{Asset: p.Pair.Quote, Value: qty.Mul(limitDec)}
	}
	return intent, nil
}

// maxQuantity 整数数量的上限
var maxQuantity = decimal.NewFromInt(math.MaxInt64)

// SidePolicy 决定每次访问钱包时提交哪些方向的挂单
type SidePolicy string

const (
	// PositionParity 按本轮遍历中的位置交替: 偶数位置买, 奇数位置卖
	PositionParity SidePolicy = "position-parity"
	// BothSides 每个钱包先卖后买
	BothSides SidePolicy = "both"
)

// Valid 检查策略是否可识别
func (p SidePolicy) Valid() bool {
	return p == PositionParity || p == BothSides
}

// Sides 返回遍历位置 position 上的钱包依次提交的方向
func (p SidePolicy) Sides(position int) []models.Side {
	if p == BothSides {
		return []models.Side{models.Sell, models.Buy}
	}
	if position%2 == 0 {
		return []models.Side{models.Buy}
	}
	return []models.Side{models.Sell}
}
