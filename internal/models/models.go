package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NativeCurrency 账本原生资产的货币代码
const NativeCurrency = "XRP"

// DropsPerUnit 每个原生资产单位对应的最小单位 (drops) 数量
const DropsPerUnit = 1_000_000

// Config 结构体定义了机器人的所有配置参数 (运行期间不可变)
type Config struct {
	Server            string         `json:"server"`              // rippled WebSocket 地址
	PaperMode         bool           `json:"paper_mode"`          // 是否使用模拟账本 (不连接网络)
	RequestTimeoutSec int            `json:"request_timeout_sec"` // 单次账本请求超时时间(秒)
	DBPath            string         `json:"db_path"`             // 会话状态数据库路径, 为空则不持久化
	Pair              Pair           `json:"pair"`                // 交易对 (基础资产/计价资产)
	DelaySec          int            `json:"delay_sec"`           // 每轮循环之间的固定间隔(秒)
	DefaultBalanceMin float64        `json:"default_balance_min"` // 默认余额下限 (原生资产单位)
	StatusIntervalSec int            `json:"status_interval_sec"` // 状态打印间隔(秒)
	Strategy          StrategyConfig `json:"strategy"`            // 下单策略
	Trade             TradeParams    `json:"trade"`               // 默认交易参数, 可被命令行覆盖
	Paper             PaperConfig    `json:"paper"`               // 模拟账本参数
	LogConfig         LogConfig      `json:"log"`                 // 日志配置
	Wallets           []string       `json:"-"`                   // 钱包池, 只从环境变量读取
}

// StrategyConfig 定义了下单数量、方向和执行方式的选择
type StrategyConfig struct {
	Sizing           string `json:"sizing"`             // "quote-notional" 或 "base-notional"
	Sides            string `json:"sides"`              // "position-parity" 或 "both"
	BuyExecution     string `json:"buy_execution"`      // "passive" 或 "immediate-or-cancel"
	SellExecution    string `json:"sell_execution"`     // "passive" 或 "immediate-or-cancel"
	CancelAfterPlace *bool  `json:"cancel_after_place"` // 下单后是否撤销该钱包的全部挂单
}

// CancelEnabled 返回是否在下单后撤销旧挂单, 未配置时默认开启
func (s StrategyConfig) CancelEnabled() bool {
	return s.CancelAfterPlace == nil || *s.CancelAfterPlace
}

// PaperConfig 定义了模拟账本的初始状态
type PaperConfig struct {
	BaseReserve  float64 `json:"base_reserve"`  // AMM 池基础资产储备 (整单位)
	QuoteReserve float64 `json:"quote_reserve"` // AMM 池计价资产储备 (整单位)
	Balance      float64 `json:"balance"`       // 每个钱包的初始原生余额
	FeeDrops     int64   `json:"fee_drops"`     // 每笔交易扣除的手续费 (drops)
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// TradeParams 是每次启动时由调用方提供的交易参数, 运行期间保持不变
type TradeParams struct {
	TradingPair string   `json:"trading_pair"`          // 展示用交易对名称, e.g. "srfx/XRP"
	Notional    float64  `json:"notional"`              // 名义金额
	SpreadPct   float64  `json:"spread_pct"`            // 价差百分比, 1 表示 1%
	StopLoss    *float64 `json:"stop_loss,omitempty"`   // 余额下限, 为空时使用默认值
	TakeProfit  float64  `json:"take_profit,omitempty"` // 仅用于展示
}

var (
	currencyCodeRe = regexp.MustCompile(`^[A-Za-z0-9?!@#$%^&*<>(){}\[\]|]{3}$`)
	currencyHexRe  = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)
	addressRe      = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
)

// Asset 代表账本上的一种资产: 原生资产 (无发行方) 或发行资产 (货币代码 + 发行方地址)
type Asset struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
}

// NativeAsset 返回原生资产
func NativeAsset() Asset {
	return Asset{Currency: NativeCurrency}
}

// IsNative 判断是否为原生资产
func (a Asset) IsNative() bool {
	return a.Currency == NativeCurrency && a.Issuer == ""
}

// Validate 检查资产标识是否合法
func (a Asset) Validate() error {
	if a.Currency == "" {
		return fmt.Errorf("资产货币代码不能为空")
	}
	if a.Currency == NativeCurrency {
		if a.Issuer != "" {
			return fmt.Errorf("原生资产 %s 不能带有发行方", NativeCurrency)
		}
		return nil
	}
	if !currencyCodeRe.MatchString(a.Currency) && !currencyHexRe.MatchString(a.Currency) {
		return fmt.Errorf("非法的货币代码: %q", a.Currency)
	}
	if a.Issuer == "" {
		return fmt.Errorf("发行资产 %s 必须指定发行方", a.Currency)
	}
	if !IsValidAddress(a.Issuer) {
		return fmt.Errorf("非法的发行方地址: %q", a.Issuer)
	}
	return nil
}

// Equal 比较两个资产是否相同 (货币代码不区分大小写)
func (a Asset) Equal(b Asset) bool {
	return strings.EqualFold(a.Currency, b.Currency) && a.Issuer == b.Issuer
}

// String 返回资产的可读形式
func (a Asset) String() string {
	if a.IsNative() {
		return NativeCurrency
	}
	return fmt.Sprintf("%s.%s", DisplayCurrency(a.Currency), a.Issuer)
}

// DisplayCurrency 将40位十六进制货币代码解码为可读文本, 解码失败时原样返回
func DisplayCurrency(code string) string {
	if !currencyHexRe.MatchString(code) {
		return code
	}
	var b strings.Builder
	for i := 0; i+1 < len(code); i += 2 {
		var c byte
		if _, err := fmt.Sscanf(code[i:i+2], "%02x", &c); err != nil {
			return code
		}
		if c == 0 {
			break
		}
		b.WriteByte(c)
	}
	if b.Len() == 0 {
		return code
	}
	return b.String()
}

// IsValidAddress 粗略检查账户地址格式 (base58, 以 r 开头)
func IsValidAddress(addr string) bool {
	return addressRe.MatchString(addr)
}

// Pair 交易对。价格始终表示为: 每 1 个基础资产对应的计价资产数量
type Pair struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

// Validate 检查交易对
func (p Pair) Validate() error {
	if err := p.Base.Validate(); err != nil {
		return fmt.Errorf("基础资产: %w", err)
	}
	if err := p.Quote.Validate(); err != nil {
		return fmt.Errorf("计价资产: %w", err)
	}
	if p.Base.Equal(p.Quote) {
		return fmt.Errorf("基础资产与计价资产不能相同")
	}
	return nil
}

// String 返回 "BASE/QUOTE" 形式
func (p Pair) String() string {
	return fmt.Sprintf("%s/%s", DisplayCurrency(p.Base.Currency), DisplayCurrency(p.Quote.Currency))
}

// Amount 某种资产的数量, Value 以整单位表示 (原生资产不是 drops)
type Amount struct {
	Asset Asset
	Value decimal.Decimal
}

// String 返回数量的可读形式
func (a Amount) String() string {
	return fmt.Sprintf("%s %s", a.Value.String(), DisplayCurrency(a.Asset.Currency))
}

// Side 定义了交易方向的类型。BUY 表示买入基础资产并支付计价资产
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite 返回相反方向
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// ExecutionFlag 决定挂单是被动挂单还是立即成交或取消
type ExecutionFlag string

const (
	Passive           ExecutionFlag = "passive"
	ImmediateOrCancel ExecutionFlag = "immediate-or-cancel"
)

// Valid 检查执行方式是否可识别
func (f ExecutionFlag) Valid() bool {
	return f == Passive || f == ImmediateOrCancel
}

// PoolReserves 是某一时刻 AMM 池的储备快照, 每轮重新获取, 不做缓存。
// 储备值使用账本原始单位: 原生资产为 drops, 发行资产不缩放。
type PoolReserves struct {
	Base         Asset
	Quote        Asset
	BaseReserve  decimal.Decimal
	QuoteReserve decimal.Decimal
	RetrievedAt  time.Time
}

// OfferIntent 一次挂单的意图
type OfferIntent struct {
	Side       Side
	LimitPrice float64
	Quantity   int64  // 按取整规则得到的整数数量 (取整的一侧由 sizing 策略决定)
	Base       Amount // 基础资产一侧的数量
	Quote      Amount // 计价资产一侧的数量
}

// IsZero 数量为0的挂单不能提交
func (o OfferIntent) IsZero() bool {
	return o.Quantity <= 0
}

// OpenOffer 账本报告的一个未成交挂单
type OpenOffer struct {
	Sequence  uint32
	Account   string
	Side      Side
	Remaining decimal.Decimal // 剩余的基础资产数量
}

// Receipt 账本返回的交易结果
type Receipt struct {
	Code string // e.g. "tesSUCCESS", "tecUNFUNDED_OFFER"
	Hash string
}

// Accepted 交易是否被账本接受
func (r Receipt) Accepted() bool {
	return r.Code == "tesSUCCESS"
}

// WalletCredential 钱包凭证: 私密种子和派生出的账户地址
type WalletCredential struct {
	Seed    string
	Address string
}

// String 只输出地址, 永远不输出种子
func (w WalletCredential) String() string {
	if w.Address == "" {
		return "<unresolved>"
	}
	return w.Address
}

// Snapshot 是提供给展示层的只读状态
type Snapshot struct {
	Running      bool
	Cycle        uint64
	ActiveOffers int
	Uptime       time.Duration
	LastPrice    float64
	Pair         string
}
