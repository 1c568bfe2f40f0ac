package ledger

import (
	"amm-volume-bot/internal/models"
	"context"
)

// Ledger 定义了交易循环所需的账本客户端能力。
// 这使得机器人可以在真实账本和模拟账本之间轻松切换。
// 所有网络操作都接受 context, 并由实现方提供有上限的超时。
type Ledger interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	NativeBalance(ctx context.Context, address string) (float64, error)
	PoolReserves(ctx context.Context, pair models.Pair) (*models.PoolReserves, error)
	OpenOffers(ctx context.Context, address string, pair models.Pair) ([]models.OpenOffer, error)
	SubmitOffer(ctx context.Context, wallet models.WalletCredential, intent models.OfferIntent, flag models.ExecutionFlag) (models.Receipt, error)
	SubmitCancel(ctx context.Context, wallet models.WalletCredential, sequence uint32) (models.Receipt, error)
}

// WalletResolver 从种子派生账户地址
type WalletResolver interface {
	WalletFromSeed(ctx context.Context, seed string) (models.WalletCredential, error)
}

// 交易标志位
const (
	tfPassive           uint32 = 0x00010000
	tfImmediateOrCancel uint32 = 0x00020000
	lsfSell             uint32 = 0x00020000
)

// 结果码
const (
	ResultSuccess  = "tesSUCCESS"
	ResultNoEntry  = "tecNO_ENTRY"
	ResultNoTarget = "tecNO_TARGET"
	ResultBadSeq   = "temBAD_SEQUENCE"
	ResultUnfunded = "tecUNFUNDED_OFFER"
	ResultKilled   = "tecKILLED"
	ResultQueued   = "terQUEUED"

	errActNotFound = "actNotFound"
)

// offerFlags 将执行方式转换为 OfferCreate 的标志位
func offerFlags(flag models.ExecutionFlag) uint32 {
	switch flag {
	case models.Passive:
		return tfPassive
	case models.ImmediateOrCancel:
		return tfImmediateOrCancel
	}
	return 0
}
