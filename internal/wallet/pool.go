package wallet

import (
	"amm-volume-bot/internal/config"
	"amm-volume-bot/internal/ledger"
	"amm-volume-bot/internal/models"
	"context"
	"fmt"
)

// Visit 是一轮遍历中对某个钱包的访问, Position 为本轮遍历中的位置 (不是池中的固定下标)
type Visit struct {
	Position int
	Wallet   models.WalletCredential
}

// Pool 是固定顺序的钱包池, 运行期间不变
type Pool struct {
	wallets []models.WalletCredential
}

// NewPool 创建钱包池
func NewPool(wallets []models.WalletCredential) *Pool {
	cp := make([]models.WalletCredential, len(wallets))
	copy(cp, wallets)
	return &Pool{wallets: cp}
}

// Size 返回钱包数量
func (p *Pool) Size() int {
	return len(p.wallets)
}

// Addresses 返回按池顺序排列的地址
func (p *Pool) Addresses() []string {
	addrs := make([]string, len(p.wallets))
	for i, w := range p.wallets {
		addrs[i] = w.Address
	}
	return addrs
}

// Traversal 返回第 cycle 轮的访问顺序: 偶数轮正序, 奇数轮倒序。
// 连续两轮中每个钱包在两个方向上各被访问一次。
func (p *Pool) Traversal(cycle uint64) []Visit {
	n := len(p.wallets)
	visits := make([]Visit, n)
	for pos := 0; pos < n; pos++ {
		idx := pos
		if cycle%2 == 1 {
			idx = n - 1 - pos
		}
		visits[pos] = Visit{Position: pos, Wallet: p.wallets[idx]}
	}
	return visits
}

// Resolve 将配置中的钱包条目 ("seed" 或 "address:seed") 转换为凭证,
// 只有种子的条目通过 resolver 派生地址。错误信息中不包含种子。
func Resolve(ctx context.Context, resolver ledger.WalletResolver, entries []string) ([]models.WalletCredential, error) {
	creds := make([]models.WalletCredential, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for i, entry := range entries {
		address, seed, err := config.SplitWalletEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("钱包 #%d: %w", i+1, err)
		}
		cred := models.WalletCredential{Seed: seed, Address: address}
		if address == "" {
			cred, err = resolver.WalletFromSeed(ctx, seed)
			if err != nil {
				return nil, fmt.Errorf("钱包 #%d 派生地址失败: %w", i+1, err)
			}
		}
		if seen[cred.Address] {
			return nil, fmt.Errorf("钱包 #%d (%s) 重复", i+1, cred.Address)
		}
		seen[cred.Address] = true
		creds = append(creds, cred)
	}
	return creds, nil
}
