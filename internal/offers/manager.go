package offers

import (
	"amm-volume-bot/internal/ledger"
	"amm-volume-bot/internal/models"
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrEmptyOffer 数量为0的挂单意图被拒绝提交
var ErrEmptyOffer = errors.New("offer quantity is zero")

// Book 是挂单生命周期管理需要的账本能力
type Book interface {
	OpenOffers(ctx context.Context, address string, pair models.Pair) ([]models.OpenOffer, error)
	SubmitOffer(ctx context.Context, wallet models.WalletCredential, intent models.OfferIntent, flag models.ExecutionFlag) (models.Receipt, error)
	SubmitCancel(ctx context.Context, wallet models.WalletCredential, sequence uint32) (models.Receipt, error)
}

// CancelSummary 汇总一次批量撤单的结果
type CancelSummary struct {
	Cancelled int
	Noop      int
	Failed    int
}

// Total 返回尝试撤销的挂单数
func (s CancelSummary) Total() int {
	return s.Cancelled + s.Noop + s.Failed
}

// Manager 负责单个交易对上的下单、查询和撤单
type Manager struct {
	book      Book
	pair      models.Pair
	execution map[models.Side]models.ExecutionFlag
	logger    *zap.Logger
}

// DefaultExecution 买单被动挂单, 卖单立即成交或取消
func DefaultExecution() map[models.Side]models.ExecutionFlag {
	return map[models.Side]models.ExecutionFlag{
		models.Buy:  models.Passive,
		models.Sell: models.ImmediateOrCancel,
	}
}

// NewManager 创建挂单管理器, execution 中缺失的方向使用 DefaultExecution
func NewManager(book Book, pair models.Pair, execution map[models.Side]models.ExecutionFlag, logger *zap.Logger) *Manager {
	flags := DefaultExecution()
	for side, flag := range execution {
		if flag.Valid() {
			flags[side] = flag
		}
	}
	return &Manager{book: book, pair: pair, execution: flags, logger: logger}
}

// Execution 返回某个方向使用的执行方式
func (m *Manager) Execution(side models.Side) models.ExecutionFlag {
	return m.execution[side]
}

// PlaceOffer 提交一个挂单。账本未接受时返回回执以及包装了 ErrSubmissionRejected 的错误
func (m *Manager) PlaceOffer(ctx context.Context, wallet models.WalletCredential, intent models.OfferIntent) (models.Receipt, error) {
	if intent.IsZero() {
		return models.Receipt{}, ErrEmptyOffer
	}
	flag := m.execution[intent.Side]
	receipt, err := m.book.SubmitOffer(ctx, wallet, intent, flag)
	if err != nil {
		return receipt, fmt.Errorf("提交挂单失败: %w", err)
	}
	if !receipt.Accepted() {
		return receipt, fmt.Errorf("%w: %s", models.ErrSubmissionRejected, receipt.Code)
	}
	m.logger.Info("挂单已提交",
		zap.String("account", wallet.Address),
		zap.String("side", string(intent.Side)),
		zap.String("execution", string(flag)),
		zap.Float64("limitPrice", intent.LimitPrice),
		zap.Int64("quantity", intent.Quantity),
		zap.String("hash", receipt.Hash))
	return receipt, nil
}

// ListOpenOffers 返回账户在该交易对上的未成交挂单, 空列表不是错误
func (m *Manager) ListOpenOffers(ctx context.Context, address string) ([]models.OpenOffer, error) {
	offers, err := m.book.OpenOffers(ctx, address, m.pair)
	if err != nil {
		return nil, fmt.Errorf("查询挂单失败: %w", err)
	}
	return offers, nil
}

// CancelOffer 撤销一个挂单。挂单已不存在时返回包装了 ErrCancellationNoop 的错误, 调用方应视为已完成
func (m *Manager) CancelOffer(ctx context.Context, wallet models.WalletCredential, sequence uint32) (models.Receipt, error) {
	receipt, err := m.book.SubmitCancel(ctx, wallet, sequence)
	if err != nil {
		return receipt, fmt.Errorf("撤单失败 (seq=%d): %w", sequence, err)
	}
	if receipt.Accepted() {
		return receipt, nil
	}
	if isNoopCode(receipt.Code) {
		return receipt, fmt.Errorf("%w: seq=%d, %s", models.ErrCancellationNoop, sequence, receipt.Code)
	}
	return receipt, fmt.Errorf("%w: seq=%d, %s", models.ErrSubmissionRejected, sequence, receipt.Code)
}

// CancelAllOffers 依次撤销账户的全部挂单。撤单严格串行, 单个失败不影响后续撤单。
// 只有查询挂单失败时才返回错误。
func (m *Manager) CancelAllOffers(ctx context.Context, wallet models.WalletCredential) (CancelSummary, error) {
	var summary CancelSummary
	open, err := m.ListOpenOffers(ctx, wallet.Address)
	if err != nil {
		return summary, err
	}

	for _, offer := range open {
		_, err := m.CancelOffer(ctx, wallet, offer.Sequence)
		switch {
		case err == nil:
			summary.Cancelled++
		case errors.Is(err, models.ErrCancellationNoop):
			summary.Noop++
			m.logger.Debug("挂单已不存在, 跳过", zap.String("account", wallet.Address), zap.Uint32("sequence", offer.Sequence))
		default:
			summary.Failed++
			m.logger.Warn("撤单失败, 继续处理剩余挂单",
				zap.String("account", wallet.Address),
				zap.Uint32("sequence", offer.Sequence),
				zap.Error(err))
		}
	}
	return summary, nil
}

func isNoopCode(code string) bool {
	switch code {
	case ledger.ResultNoEntry, ledger.ResultNoTarget, ledger.ResultBadSeq:
		return true
	}
	return false
}
