package reporter

import (
	"amm-volume-bot/internal/models"
	"fmt"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// Metrics 存储根据会话状态计算出的统计指标
type Metrics struct {
	RunID           string
	Pair            string
	StartedAt       time.Time
	Duration        time.Duration
	CyclesCompleted uint64
	OffersPlaced    int
	OffersRejected  int
	OffersSkipped   int
	OffersCancelled int
	WalletsSkipped  int
	AcceptRate      float64 // 被接受的挂单占提交总数的百分比
	LastPrice       float64
}

// CalculateMetrics 从会话状态计算指标, 会话时长截止到最后一次更新
func CalculateMetrics(state *models.BotState) Metrics {
	m := Metrics{
		RunID:           state.RunID,
		Pair:            state.Pair,
		StartedAt:       state.StartedAt,
		CyclesCompleted: state.CyclesCompleted,
		OffersPlaced:    state.OffersPlaced,
		OffersRejected:  state.OffersRejected,
		OffersSkipped:   state.OffersSkipped,
		OffersCancelled: state.OffersCancelled,
		WalletsSkipped:  state.WalletsSkipped,
		LastPrice:       state.LastPrice,
	}
	if !state.LastUpdateTime.IsZero() && state.LastUpdateTime.After(state.StartedAt) {
		m.Duration = state.LastUpdateTime.Sub(state.StartedAt)
	}
	if submitted := state.OffersPlaced + state.OffersRejected; submitted > 0 {
		m.AcceptRate = float64(state.OffersPlaced) / float64(submitted) * 100
	}
	return m
}

// FormatUptime 以 "Xh Ym Zs" 的形式输出时长
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

// RenderStatus 渲染运行状态表
func RenderStatus(s models.Snapshot) string {
	status := "STOPPED"
	if s.Running {
		status = "RUNNING"
	}

	t := table.NewWriter()
	t.SetTitle("Bot Status")
	t.SetStyle(table.StyleLight)
	t.AppendRows([]table.Row{
		{"Status", status},
		{"Pair", s.Pair},
		{"Cycle", s.Cycle},
		{"Active offers", s.ActiveOffers},
		{"Last price", formatPrice(s.LastPrice)},
		{"Uptime", FormatUptime(s.Uptime)},
	})
	return t.Render()
}

// RenderSession 渲染会话汇总表和按钱包统计的明细表
func RenderSession(state *models.BotState) string {
	if state == nil {
		return "no session recorded"
	}
	m := CalculateMetrics(state)

	summary := table.NewWriter()
	summary.SetTitle(fmt.Sprintf("Session %s", m.RunID))
	summary.SetStyle(table.StyleLight)
	summary.AppendRows([]table.Row{
		{"Pair", m.Pair},
		{"Started", m.StartedAt.Format("2006-01-02 15:04:05")},
		{"Duration", FormatUptime(m.Duration)},
		{"Cycles completed", m.CyclesCompleted},
		{"Offers placed", m.OffersPlaced},
		{"Offers rejected", m.OffersRejected},
		{"Offers suppressed", m.OffersSkipped},
		{"Offers cancelled", m.OffersCancelled},
		{"Wallet skips", m.WalletsSkipped},
		{"Accept rate", fmt.Sprintf("%.2f%%", m.AcceptRate)},
		{"Last price", formatPrice(m.LastPrice)},
	})
	out := summary.Render()

	if len(state.Wallets) == 0 {
		return out
	}

	addrs := make([]string, 0, len(state.Wallets))
	for addr := range state.Wallets {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	wallets := table.NewWriter()
	wallets.SetStyle(table.StyleLight)
	wallets.AppendHeader(table.Row{"Wallet", "Visits", "Placed", "Rejected", "Cancelled", "Skipped", "Open", "Balance", "Last result"})
	wallets.SetColumnConfigs([]table.ColumnConfig{
		{Number: 8, Align: text.AlignRight},
	})
	for _, addr := range addrs {
		ws := state.Wallets[addr]
		wallets.AppendRow(table.Row{
			addr, ws.Visits, ws.Placed, ws.Rejected, ws.Cancelled, ws.Skipped, ws.OpenOffers,
			fmt.Sprintf("%.6f", ws.LastBalance), ws.LastResultCode,
		})
	}
	return out + "\n" + wallets.Render()
}

func formatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.8f", p)
}
