package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/pkg/errs"
)

// BalanceSkill reports per-chain per-token balances for the caller's
// wallet.
func BalanceSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "balance",
		Description: "Show wallet token balances, optionally filtered to one chain.",
		Schema: Schema{
			"chain_id": {Type: TypeInteger, Description: "Only show balances on this chain id."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			if sc.WalletAddress == "" {
				return nil, errs.Config("wallet", "no wallet configured; create one with /wallet create")
			}

			chainIDs := sc.ChainIDs
			if filter, ok := params["chain_id"].(int64); ok {
				chainIDs = []int64{filter}
			}

			var b strings.Builder
			b.WriteString("💰 Balances for ")
			b.WriteString(shortAddress(sc.WalletAddress))
			data := map[string]interface{}{}

			for _, id := range chainIDs {
				client := deps.Chains.Get(id)
				if client == nil {
					return nil, errs.Config("chain_id", fmt.Sprintf("chain %d is not configured", id))
				}
				balances, err := client.TokenBalances(ctx, sc.WalletAddress)
				if err != nil {
					return nil, fmt.Errorf("failed to fetch balances on chain %d: %w", id, err)
				}
				b.WriteString(fmt.Sprintf("\n\nChain %d:", id))
				if len(balances) == 0 {
					b.WriteString("\n  (no token balances)")
					continue
				}
				chainData := map[string]string{}
				for _, bal := range balances {
					b.WriteString(fmt.Sprintf("\n  %s: %s", bal.Symbol, bal.Amount.String()))
					chainData[bal.Symbol] = bal.Amount.String()
				}
				data[fmt.Sprintf("%d", id)] = chainData
			}

			return &Result{Success: true, Message: b.String(), Data: data}, nil
		},
	}
}

// PortfolioSkill is balance plus USD valuation; tokens whose price
// cannot be resolved are listed without a value.
func PortfolioSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "portfolio",
		Description: "Show wallet holdings valued in USD with a portfolio total.",
		Schema:      Schema{},
		Handler: func(ctx context.Context, _ map[string]interface{}, sc *Context) (*Result, error) {
			if sc.WalletAddress == "" {
				return nil, errs.Config("wallet", "no wallet configured; create one with /wallet create")
			}

			var b strings.Builder
			b.WriteString("📊 Portfolio for ")
			b.WriteString(shortAddress(sc.WalletAddress))
			total := decimal.Zero
			priced := true

			for _, id := range sc.ChainIDs {
				client := deps.Chains.Get(id)
				if client == nil {
					continue
				}
				balances, err := client.TokenBalances(ctx, sc.WalletAddress)
				if err != nil {
					return nil, fmt.Errorf("failed to fetch balances on chain %d: %w", id, err)
				}
				if len(balances) == 0 {
					continue
				}
				b.WriteString(fmt.Sprintf("\n\nChain %d:", id))
				for _, bal := range balances {
					line := valueLine(ctx, deps, bal)
					if line.valueUSD == nil {
						priced = false
						b.WriteString(fmt.Sprintf("\n  %s: %s (price unavailable)", bal.Symbol, bal.Amount))
						continue
					}
					total = total.Add(*line.valueUSD)
					b.WriteString(fmt.Sprintf("\n  %s: %s ($%s)", bal.Symbol, bal.Amount, line.valueUSD.Round(2)))
				}
			}

			b.WriteString(fmt.Sprintf("\n\nTotal: $%s", total.Round(2)))
			if !priced {
				b.WriteString(" (some tokens unpriced)")
			}
			return &Result{
				Success: true,
				Message: b.String(),
				Data:    map[string]interface{}{"total_usd": total.Round(2).String()},
			}, nil
		},
	}
}

type pricedBalance struct {
	valueUSD *decimal.Decimal
}

func valueLine(ctx context.Context, deps *Deps, bal chain.TokenBalance) pricedBalance {
	px, err := deps.Oracle.GetTokenPrice(ctx, bal.Symbol)
	if err != nil {
		return pricedBalance{}
	}
	v := bal.Amount.Mul(px)
	return pricedBalance{valueUSD: &v}
}

func shortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:8] + "…" + addr[len(addr)-4:]
}
