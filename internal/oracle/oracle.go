package oracle

import (
	"amm-volume-bot/internal/models"
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReserveSource 是预言机需要的账本能力
type ReserveSource interface {
	PoolReserves(ctx context.Context, pair models.Pair) (*models.PoolReserves, error)
}

// nativeUnitScale 原生资产每个 drop 对应的整单位数量
var nativeUnitScale = decimal.New(1, -6)

// Oracle 根据 AMM 池储备计算参考价格。不做缓存, 每次调用都重新查询
type Oracle struct {
	source ReserveSource
	logger *zap.Logger
}

// New 创建价格预言机
func New(source ReserveSource, logger *zap.Logger) *Oracle {
	return &Oracle{source: source, logger: logger}
}

// GetPriceForAssets 查询 assetA/assetB 池的价格 (每个 assetA 对应的 assetB 数量)。
// 原生资产的发行方必须为空。
func (o *Oracle) GetPriceForAssets(ctx context.Context, assetA, assetB, issuerA, issuerB string) (float64, error) {
	pair := models.Pair{
		Base:  models.Asset{Currency: assetA, Issuer: issuerA},
		Quote: models.Asset{Currency: assetB, Issuer: issuerB},
	}
	return o.GetPrice(ctx, pair)
}

// GetPrice 返回交易对的参考价格:
//
//	price = quoteReserve * unitScale(quote) / (baseReserve * unitScale(base))
//
// 其中原生资产的 unitScale 为 10^-6 (drops 转整单位), 发行资产为 1。
// 池不存在时返回 ErrOracleUnavailable, 传输错误原样返回 (不重试)。
func (o *Oracle) GetPrice(ctx context.Context, pair models.Pair) (float64, error) {
	if err := pair.Validate(); err != nil {
		return 0, fmt.Errorf("非法的交易对: %w", err)
	}

	reserves, err := o.source.PoolReserves(ctx, pair)
	if err != nil {
		if errors.Is(err, models.ErrPoolNotFound) {
			return 0, fmt.Errorf("%w: %v", models.ErrOracleUnavailable, err)
		}
		return 0, err
	}

	price, err := PriceFromReserves(reserves)
	if err != nil {
		return 0, err
	}
	o.logger.Debug("AMM 价格",
		zap.String("pair", pair.String()),
		zap.String("baseReserve", reserves.BaseReserve.String()),
		zap.String("quoteReserve", reserves.QuoteReserve.String()),
		zap.Float64("price", price))
	return price, nil
}

// PriceFromReserves 根据储备快照计算价格
func PriceFromReserves(r *models.PoolReserves) (float64, error) {
	base := r.BaseReserve.Mul(unitScale(r.Base))
	quote := r.QuoteReserve.Mul(unitScale(r.Quote))
	if !base.IsPositive() || quote.IsNegative() {
		return 0, fmt.Errorf("%w: 池储备异常 (base=%s, quote=%s)", models.ErrOracleUnavailable, r.BaseReserve, r.QuoteReserve)
	}
	return quote.Div(base).InexactFloat64(), nil
}

func unitScale(a models.Asset) decimal.Decimal {
	if a.IsNative() {
		return nativeUnitScale
	}
	return decimal.NewFromInt(1)
}
