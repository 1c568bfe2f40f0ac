package config

import (
	"amm-volume-bot/internal/models"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

const (
	// EnvWallets 钱包池环境变量, 逗号分隔的 "seed" 或 "address:seed"
	EnvWallets = "BOT_WALLETS"
	// EnvServer 可选, 覆盖配置文件中的 rippled 地址
	EnvServer = "BOT_SERVER"

	DefaultServer          = "wss://xrplcluster.com"
	DefaultDelaySec        = 6
	DefaultBalanceMin      = 3.0
	DefaultRequestTimeout  = 10
	DefaultStatusInterval  = 30
	DefaultPaperFeeDrops   = 12
	DefaultPaperBalance    = 100.0
	SizingQuoteNotional    = "quote-notional"
	SizingBaseNotional     = "base-notional"
	SidesPositionParity    = "position-parity"
	SidesBoth              = "both"
	defaultBuyExecution    = string(models.Passive)
	defaultSellExecution   = string(models.ImmediateOrCancel)
	defaultPaperBaseUnits  = 1_000_000.0
	defaultPaperQuoteUnits = 500_000.0
)

// LoadConfig 从指定路径加载JSON配置文件, 叠加环境变量, 填充默认值并校验
func LoadConfig(path string) (*models.Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	cfg := &models.Config{}
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv 从环境变量读取钱包池等敏感配置
func ApplyEnv(cfg *models.Config) {
	cfg.Wallets = ParseWallets(os.Getenv(EnvWallets))
	if server := strings.TrimSpace(os.Getenv(EnvServer)); server != "" {
		cfg.Server = server
	}
}

// ParseWallets 去掉所有空白后按逗号切分, 忽略空项
func ParseWallets(raw string) []string {
	cleaned := strings.Join(strings.Fields(raw), "")
	if cleaned == "" {
		return nil
	}
	var wallets []string
	for _, w := range strings.Split(cleaned, ",") {
		if w != "" {
			wallets = append(wallets, w)
		}
	}
	return wallets
}

// ApplyDefaults 为未设置的字段填充默认值
func ApplyDefaults(cfg *models.Config) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.DelaySec == 0 {
		cfg.DelaySec = DefaultDelaySec
	}
	if cfg.DefaultBalanceMin == 0 {
		cfg.DefaultBalanceMin = DefaultBalanceMin
	}
	if cfg.RequestTimeoutSec == 0 {
		cfg.RequestTimeoutSec = DefaultRequestTimeout
	}
	if cfg.StatusIntervalSec == 0 {
		cfg.StatusIntervalSec = DefaultStatusInterval
	}
	if cfg.Strategy.Sizing == "" {
		cfg.Strategy.Sizing = SizingQuoteNotional
	}
	if cfg.Strategy.Sides == "" {
		cfg.Strategy.Sides = SidesPositionParity
	}
	if cfg.Strategy.BuyExecution == "" {
		cfg.Strategy.BuyExecution = defaultBuyExecution
	}
	if cfg.Strategy.SellExecution == "" {
		cfg.Strategy.SellExecution = defaultSellExecution
	}
	if cfg.Trade.TradingPair == "" {
		cfg.Trade.TradingPair = cfg.Pair.String()
	}
	if cfg.Paper.FeeDrops == 0 {
		cfg.Paper.FeeDrops = DefaultPaperFeeDrops
	}
	if cfg.Paper.Balance == 0 {
		cfg.Paper.Balance = DefaultPaperBalance
	}
	if cfg.Paper.BaseReserve == 0 && cfg.Paper.QuoteReserve == 0 {
		cfg.Paper.BaseReserve = defaultPaperBaseUnits
		cfg.Paper.QuoteReserve = defaultPaperQuoteUnits
	}
}

// Validate 校验配置。只接受已识别的选项
func Validate(cfg *models.Config) error {
	if err := cfg.Pair.Validate(); err != nil {
		return fmt.Errorf("交易对配置错误: %w", err)
	}
	if len(cfg.Wallets) == 0 {
		return fmt.Errorf("钱包池为空，请设置环境变量 %s", EnvWallets)
	}
	for i, w := range cfg.Wallets {
		if _, _, err := SplitWalletEntry(w); err != nil {
			return fmt.Errorf("第 %d 个钱包配置错误: %w", i+1, err)
		}
	}
	if cfg.DelaySec <= 0 {
		return fmt.Errorf("delay_sec 必须大于0, 当前为 %d", cfg.DelaySec)
	}
	if cfg.RequestTimeoutSec <= 0 {
		return fmt.Errorf("request_timeout_sec 必须大于0, 当前为 %d", cfg.RequestTimeoutSec)
	}
	if cfg.DefaultBalanceMin < 0 {
		return fmt.Errorf("default_balance_min 不能为负数")
	}
	switch cfg.Strategy.Sizing {
	case SizingQuoteNotional, SizingBaseNotional:
	default:
		return fmt.Errorf("未知的 sizing 策略: %q", cfg.Strategy.Sizing)
	}
	switch cfg.Strategy.Sides {
	case SidesPositionParity, SidesBoth:
	default:
		return fmt.Errorf("未知的 sides 策略: %q", cfg.Strategy.Sides)
	}
	if !models.ExecutionFlag(cfg.Strategy.BuyExecution).Valid() {
		return fmt.Errorf("未知的买单执行方式: %q", cfg.Strategy.BuyExecution)
	}
	if !models.ExecutionFlag(cfg.Strategy.SellExecution).Valid() {
		return fmt.Errorf("未知的卖单执行方式: %q", cfg.Strategy.SellExecution)
	}
	if err := ValidateTrade(cfg.Trade); err != nil {
		return err
	}
	if cfg.PaperMode && (cfg.Paper.BaseReserve <= 0 || cfg.Paper.QuoteReserve <= 0) {
		return fmt.Errorf("模拟账本的池储备必须大于0")
	}
	return nil
}

// ValidateTrade 校验交易参数
func ValidateTrade(p models.TradeParams) error {
	if p.SpreadPct < 0 || p.SpreadPct >= 100 {
		return fmt.Errorf("spread_pct 必须在 [0, 100) 之间, 当前为 %v", p.SpreadPct)
	}
	if p.Notional < 0 {
		return fmt.Errorf("notional 不能为负数")
	}
	if p.StopLoss != nil && *p.StopLoss < 0 {
		return fmt.Errorf("stop_loss 不能为负数")
	}
	return nil
}

// SplitWalletEntry 解析 "seed" 或 "address:seed"。地址为空表示需要由账本派生
func SplitWalletEntry(entry string) (address, seed string, err error) {
	parts := strings.Split(entry, ":")
	switch len(parts) {
	case 1:
		seed = parts[0]
	case 2:
		address, seed = parts[0], parts[1]
		if !models.IsValidAddress(address) {
			return "", "", fmt.Errorf("非法的钱包地址")
		}
	default:
		return "", "", fmt.Errorf("格式应为 seed 或 address:seed")
	}
	if !strings.HasPrefix(seed, "s") || len(seed) < 16 {
		return "", "", fmt.Errorf("非法的钱包种子")
	}
	return address, seed, nil
}
