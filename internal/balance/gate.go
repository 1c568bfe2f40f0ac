package balance

import (
	"context"

	"go.uber.org/zap"
)

// DefaultFloor 调用方没有提供止损值时使用的最低原生余额 (整单位)
const DefaultFloor = 3.0

// BalanceSource 是余额检查需要的账本能力
type BalanceSource interface {
	NativeBalance(ctx context.Context, address string) (float64, error)
}

// Gate 比较账户原生余额与下限, 没有副作用
type Gate struct {
	source       BalanceSource
	defaultFloor float64
	logger       *zap.Logger
}

// NewGate 创建余额检查器, defaultFloor <= 0 时使用 DefaultFloor
func NewGate(source BalanceSource, defaultFloor float64, logger *zap.Logger) *Gate {
	if defaultFloor <= 0 {
		defaultFloor = DefaultFloor
	}
	return &Gate{source: source, defaultFloor: defaultFloor, logger: logger}
}

// Floor 返回实际使用的下限: stopLoss 为空时使用默认值
func (g *Gate) Floor(stopLoss *float64) float64 {
	if stopLoss == nil {
		return g.defaultFloor
	}
	return *stopLoss
}

// Check 返回余额是否不低于下限, 以及读取到的余额。查询失败时返回错误, 调用方应跳过该钱包
func (g *Gate) Check(ctx context.Context, address string, stopLoss *float64) (bool, float64, error) {
	balance, err := g.source.NativeBalance(ctx, address)
	if err != nil {
		return false, 0, err
	}
	floor := g.Floor(stopLoss)
	allowed := balance >= floor
	g.logger.Debug("余额检查",
		zap.String("account", address),
		zap.Float64("balance", balance),
		zap.Float64("floor", floor),
		zap.Bool("allowed", allowed))
	return allowed, balance, nil
}
