package main

import (
	"amm-volume-bot/internal/bot"
	"amm-volume-bot/internal/config"
	"amm-volume-bot/internal/ledger"
	"amm-volume-bot/internal/logger"
	"amm-volume-bot/internal/models"
	"amm-volume-bot/internal/persistence"
	"amm-volume-bot/internal/reporter"
	"amm-volume-bot/internal/statemanager"
	"amm-volume-bot/internal/wallet"
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// ledgerClient 同时提供账本访问和钱包地址派生
type ledgerClient interface {
	ledger.Ledger
	ledger.WalletResolver
}

func main() {
	// --- 命令行参数定义 ---
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "", "running mode: live or paper (default from config)")
	spread := flag.Float64("spread", 0, "spread percentage, overrides trade.spread_pct")
	notional := flag.Float64("notional", 0, "notional amount per offer, overrides trade.notional")
	stopLoss := flag.Float64("stoploss", 0, "minimum native balance per wallet, overrides trade.stop_loss")
	flag.Parse()

	// --- 默认日志, 以便在加载配置前记录日志 ---
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("无法加载配置文件: %v", err)
	}

	// --- 命令行覆盖交易参数 ---
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "spread":
			cfg.Trade.SpreadPct = *spread
		case "notional":
			cfg.Trade.Notional = *notional
		case "stoploss":
			v := *stopLoss
			cfg.Trade.StopLoss = &v
		case "mode":
			cfg.PaperMode = *mode == "paper"
		}
	})
	if *mode != "" && *mode != "live" && *mode != "paper" {
		logger.S().Fatalf("未知的运行模式: %s。请选择 'live' 或 'paper'。", *mode)
	}
	if err := config.ValidateTrade(cfg.Trade); err != nil {
		logger.S().Fatalf("交易参数错误: %v", err)
	}

	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	run(cfg)
}

func run(cfg *models.Config) {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second

	var client ledgerClient
	if cfg.PaperMode {
		logger.S().Info("--- 启动模拟账本模式 ---")
		client = ledger.NewPaperLedger(cfg.Pair, cfg.Paper)
	} else {
		logger.S().Infof("--- 启动实盘模式, 节点: %s ---", cfg.Server)
		client = ledger.NewLiveLedger(cfg.Server, timeout, logger.L())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	if err := client.Connect(ctx); err != nil {
		cancel()
		logger.S().Fatalf("连接账本失败: %v", err)
	}
	creds, err := wallet.Resolve(ctx, client, cfg.Wallets)
	cancel()
	if err != nil {
		logger.S().Fatalf("解析钱包失败: %v", err)
	}
	for i, c := range creds {
		logger.S().Infof("钱包 #%d: %s", i+1, c)
	}

	// --- 会话持久化 ---
	repo, err := persistence.NewBadgerRepository(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("打开状态数据库失败: %v", err)
	}
	defer repo.Close()

	previous, err := repo.LoadState()
	if err != nil {
		logger.S().Warnf("无法加载上一次会话: %v", err)
	} else if previous != nil {
		logger.S().Infof("上一次会话:\n%s", reporter.RenderSession(previous))
	}

	state := models.NewBotState(statemanager.NewRunID(), cfg.Pair.String())
	sm := statemanager.NewStateManager(state, repo, logger.L())
	sm.Start()

	volumeBot, err := bot.NewVolumeBot(cfg, client, wallet.NewPool(creds), sm, logger.L())
	if err != nil {
		logger.S().Fatalf("创建机器人失败: %v", err)
	}
	if err := volumeBot.Start(cfg.Trade); err != nil {
		logger.S().Fatalf("机器人启动失败: %v", err)
	}
	logger.S().Infof("会话 %s 已开始", state.RunID)

	// --- 定期打印状态, 等待中断信号 ---
	statusTicker := time.NewTicker(time.Duration(cfg.StatusIntervalSec) * time.Second)
	defer statusTicker.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for running := true; running; {
		select {
		case <-statusTicker.C:
			logger.S().Infof("\n%s", reporter.RenderStatus(volumeBot.Snapshot()))
		case sig := <-quit:
			logger.S().Infof("收到信号 %s, 正在停止...", sig)
			running = false
		}
	}

	volumeBot.Stop()
	sm.Stop()
	if err := sm.Flush(); err != nil {
		logger.S().Errorf("保存会话状态失败: %v", err)
	}
	logger.S().Infof("本次会话:\n%s", reporter.RenderSession(sm.GetStateSnapshot()))
	logger.S().Info("机器人已成功停止。")
}
