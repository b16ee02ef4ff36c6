package skills

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// SwapSkill quotes a token swap and, when signing is available, executes
// it through the transaction pipeline. Without a wallet or pipeline it
// degrades to quote-only mode and still succeeds.
func SwapSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "swap",
		Description: "Swap one token for another at the best aggregated rate.",
		Schema: Schema{
			"from_token": {Type: TypeString, Description: "Token symbol to sell.", Required: true},
			"to_token":   {Type: TypeString, Description: "Token symbol to buy.", Required: true},
			"amount":     {Type: TypeNumber, Description: "Amount of from_token to sell.", Required: true, Min: floatPtr(0)},
			"chain_id":   {Type: TypeInteger, Description: "Chain to swap on; defaults to the user's default chain."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			from := strings.ToUpper(params["from_token"].(string))
			to := strings.ToUpper(params["to_token"].(string))
			amount := decimal.NewFromFloat(params["amount"].(float64))
			chainID := pickChain(params, sc)

			quote, err := deps.DEX.QuoteSwap(ctx, chainID, from, to, amount)
			if err != nil {
				return nil, fmt.Errorf("failed to quote swap: %w", err)
			}

			summary := fmt.Sprintf("Swap %s %s → %s %s (impact %s%%)",
				amount, from, quote.AmountOut.Round(6), to, quote.PriceImpact.Round(2))

			if sc.WalletAddress == "" || deps.Pipe == nil {
				return &Result{
					Success: true,
					Message: summary + "\n\nQuote only: no wallet is configured for signing.",
					Data:    map[string]interface{}{"amount_out": quote.AmountOut.String()},
				}, nil
			}

			amountUSD := usdValue(ctx, deps, from, amount)
			res, err := deps.Pipe.Execute(ctx, &pipeline.Request{
				UserID:      sc.UserID,
				ChainID:     chainID,
				From:        sc.WalletAddress,
				To:          quote.Router,
				ValueWei:    parseWei(quote.ValueWei),
				Data:        quote.CallData,
				GasLimit:    quote.GasEstimate,
				AmountUSD:   amountUSD,
				SkillName:   "swap",
				Description: summary,
				Buy:         true,
				Prefs:       sc.Prefs,
				Confirm:     confirmFunc(sc),
			})
			if err != nil {
				return nil, err
			}
			return pipelineResult(summary, res), nil
		},
	}
}

// BridgeSkill quotes and executes a cross-chain transfer.
func BridgeSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "bridge",
		Description: "Bridge a token from one chain to another.",
		Schema: Schema{
			"token":         {Type: TypeString, Description: "Token symbol to bridge.", Required: true},
			"amount":        {Type: TypeNumber, Description: "Amount to bridge.", Required: true, Min: floatPtr(0)},
			"from_chain_id": {Type: TypeInteger, Description: "Source chain id.", Required: true},
			"to_chain_id":   {Type: TypeInteger, Description: "Destination chain id.", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			token := strings.ToUpper(params["token"].(string))
			amount := decimal.NewFromFloat(params["amount"].(float64))
			fromChain := params["from_chain_id"].(int64)
			toChain := params["to_chain_id"].(int64)

			quote, err := deps.Bridge.QuoteBridge(ctx, fromChain, toChain, token, amount)
			if err != nil {
				return nil, fmt.Errorf("failed to quote bridge: %w", err)
			}

			summary := fmt.Sprintf("Bridge %s %s from chain %d to chain %d (fee $%s, ETA %dm)",
				amount, token, fromChain, toChain, quote.FeeUSD.Round(2), quote.ETASeconds/60)

			if sc.WalletAddress == "" || deps.Pipe == nil {
				return &Result{
					Success: true,
					Message: summary + "\n\nQuote only: no wallet is configured for signing.",
					Data:    map[string]interface{}{"amount_out": quote.AmountOut.String()},
				}, nil
			}

			res, err := deps.Pipe.Execute(ctx, &pipeline.Request{
				UserID:      sc.UserID,
				ChainID:     fromChain,
				From:        sc.WalletAddress,
				To:          quote.Router,
				Data:        quote.CallData,
				AmountUSD:   usdValue(ctx, deps, token, amount),
				SkillName:   "bridge",
				Description: summary,
				Prefs:       sc.Prefs,
				Confirm:     confirmFunc(sc),
			})
			if err != nil {
				return nil, err
			}
			return pipelineResult(summary, res), nil
		},
	}
}

// LendSkill lists lending markets for a token, best supply rate first.
// Depositing goes through the pipeline once a pool is chosen.
func LendSkill(deps *Deps) *Skill {
	return &Skill{
		Name:        "lend",
		Description: "Show lending markets for a token, or deposit into the best one.",
		Schema: Schema{
			"token":    {Type: TypeString, Description: "Token symbol to lend.", Required: true},
			"amount":   {Type: TypeNumber, Description: "Amount to deposit; omit to only list rates.", Min: floatPtr(0)},
			"chain_id": {Type: TypeInteger, Description: "Chain to lend on; defaults to the user's default chain."},
		},
		Handler: func(ctx context.Context, params map[string]interface{}, sc *Context) (*Result, error) {
			token := strings.ToUpper(params["token"].(string))
			chainID := pickChain(params, sc)

			quotes, err := deps.Lending.QuoteLending(ctx, chainID, token)
			if err != nil {
				return nil, fmt.Errorf("failed to quote lending markets: %w", err)
			}
			if len(quotes) == 0 {
				return &Result{Success: true, Message: fmt.Sprintf("No lending markets found for %s.", token)}, nil
			}

			var b strings.Builder
			b.WriteString(fmt.Sprintf("🏦 Lending markets for %s:", token))
			for _, q := range quotes {
				b.WriteString(fmt.Sprintf("\n  %s: %s%% supply APY ($%s TVL)",
					q.Protocol, q.SupplyAPY.Round(2), q.TVLUSD.Round(0)))
			}

			amountRaw, deposit := params["amount"].(float64)
			if !deposit || amountRaw <= 0 {
				return &Result{Success: true, Message: b.String()}, nil
			}
			amount := decimal.NewFromFloat(amountRaw)
			best := quotes[0]

			if sc.WalletAddress == "" || deps.Pipe == nil {
				b.WriteString("\n\nQuote only: no wallet is configured for signing.")
				return &Result{Success: true, Message: b.String()}, nil
			}

			summary := fmt.Sprintf("Deposit %s %s into %s at %s%% APY",
				amount, token, best.Protocol, best.SupplyAPY.Round(2))
			res, err := deps.Pipe.Execute(ctx, &pipeline.Request{
				UserID:      sc.UserID,
				ChainID:     chainID,
				From:        sc.WalletAddress,
				To:          best.PoolAddress,
				AmountUSD:   usdValue(ctx, deps, token, amount),
				SkillName:   "lend",
				Description: summary,
				Prefs:       sc.Prefs,
				Confirm:     confirmFunc(sc),
			})
			if err != nil {
				return nil, err
			}
			return pipelineResult(summary, res), nil
		},
	}
}

func pickChain(params map[string]interface{}, sc *Context) int64 {
	if id, ok := params["chain_id"].(int64); ok && id != 0 {
		return id
	}
	if sc.Prefs.DefaultChainID != 0 {
		return sc.Prefs.DefaultChainID
	}
	if len(sc.ChainIDs) > 0 {
		return sc.ChainIDs[0]
	}
	return 1
}

func usdValue(ctx context.Context, deps *Deps, token string, amount decimal.Decimal) decimal.Decimal {
	px, err := deps.Oracle.GetTokenPrice(ctx, token)
	if err != nil {
		return decimal.Zero
	}
	return amount.Mul(px)
}

func parseWei(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}

func confirmFunc(sc *Context) pipeline.ConfirmFunc {
	if sc.RequestConfirmation == nil {
		return nil
	}
	return func(ctx context.Context, prompt string) (bool, error) {
		return sc.RequestConfirmation(ctx, prompt)
	}
}

func pipelineResult(summary string, res *pipeline.Result) *Result {
	data := map[string]interface{}{
		"tx_id":  res.TxID,
		"status": string(res.Status),
	}
	if res.Hash != "" {
		data["tx_hash"] = res.Hash
	}
	msg := summary + "\n\n" + res.Message
	if len(res.Warnings) > 0 {
		msg += "\n⚠️ " + strings.Join(res.Warnings, "\n⚠️ ")
	}
	return &Result{Success: res.Status != models.TxFailed, Message: msg, Data: data}
}
