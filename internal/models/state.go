package models

import "time"

// BotState 定义了需要持久化的会话统计数据
type BotState struct {
	RunID           string                  `json:"run_id"`           // 本次会话的唯一标识
	Pair            string                  `json:"pair"`             // 交易对, e.g., "srfx/XRP"
	Version         int                     `json:"version"`          // 状态模型的版本号，用于未来迁移
	StartedAt       time.Time               `json:"started_at"`       // 会话开始时间
	Running         bool                    `json:"running"`          // 循环是否在运行
	CurrentCycle    uint64                  `json:"current_cycle"`    // 正在执行或最后执行的周期序号
	CyclesCompleted uint64                  `json:"cycles_completed"` // 已完成的周期数
	OffersPlaced    int                     `json:"offers_placed"`    // 被账本接受的挂单数
	OffersRejected  int                     `json:"offers_rejected"`  // 被账本拒绝或提交失败的挂单数
	OffersSkipped   int                     `json:"offers_skipped"`   // 数量为0而未提交的挂单数
	OffersCancelled int                     `json:"offers_cancelled"` // 撤销的挂单数
	WalletsSkipped  int                     `json:"wallets_skipped"`  // 因余额或价格问题跳过的钱包次数
	ActiveOffers    int                     `json:"active_offers"`    // 最近一次观察到的挂单总数
	LastPrice       float64                 `json:"last_price"`       // 最近一次观察到的参考价格
	Wallets         map[string]*WalletStats `json:"wallets"`          // 按地址统计
	LastUpdateTime  time.Time               `json:"last_update_time"` // 状态最后更新的时间戳
}

// WalletStats 单个钱包在本次会话中的统计
type WalletStats struct {
	Address        string    `json:"address"`
	Visits         int       `json:"visits"`
	Placed         int       `json:"placed"`
	Rejected       int       `json:"rejected"`
	Cancelled      int       `json:"cancelled"`
	Skipped        int       `json:"skipped"`
	OpenOffers     int       `json:"open_offers"`
	LastBalance    float64   `json:"last_balance"`
	LastResultCode string    `json:"last_result_code,omitempty"`
	LastSeen       time.Time `json:"last_seen"`
}

// NewBotState 创建一个空的会话状态
func NewBotState(runID, pair string) *BotState {
	return &BotState{
		RunID:     runID,
		Pair:      pair,
		Version:   1,
		StartedAt: time.Now(),
		Wallets:   make(map[string]*WalletStats),
	}
}

// Wallet 返回指定地址的统计, 不存在时创建
func (s *BotState) Wallet(address string) *WalletStats {
	if s.Wallets == nil {
		s.Wallets = make(map[string]*WalletStats)
	}
	ws, ok := s.Wallets[address]
	if !ok {
		ws = &WalletStats{Address: address}
		s.Wallets[address] = ws
	}
	return ws
}
