package agents

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/internal/adapters/dexapi"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// settlementToken is what live agent trades buy from and sell into.
const settlementToken = "USDC"

// WalletSource resolves a user's default signing address.
type WalletSource interface {
	Default(userID string) (common.Address, bool)
}

// PreferencesSource resolves the user's preference snapshot.
type PreferencesSource interface {
	Get(ctx context.Context, userID string) (*models.Preferences, error)
}

// PipelineSubmitter turns agent decisions into real swaps through the
// transaction pipeline. Used only for live-mode instances.
type PipelineSubmitter struct {
	dex     dexapi.DEXAggregator
	pipe    *pipeline.Pipeline
	wallets WalletSource
	prefs   PreferencesSource
	chainID int64
}

// NewPipelineSubmitter wires the live execution path. chainID picks
// which chain agent trades settle on.
func NewPipelineSubmitter(dex dexapi.DEXAggregator, pipe *pipeline.Pipeline, wallets WalletSource, prefs PreferencesSource, chainID int64) *PipelineSubmitter {
	return &PipelineSubmitter{dex: dex, pipe: pipe, wallets: wallets, prefs: prefs, chainID: chainID}
}

// SubmitTrade implements TradeSubmitter.
func (s *PipelineSubmitter) SubmitTrade(ctx context.Context, inst *models.AgentInstance, decision *models.Decision, executionPrice decimal.Decimal) (string, string, error) {
	wallet, ok := s.wallets.Default(inst.UserID)
	if !ok {
		return "", "", fmt.Errorf("no wallet configured for user %s", inst.UserID)
	}

	// Buys spend settlement token; sells dispose of the position.
	from, to := settlementToken, decision.Token
	amount := decision.AmountUSD
	if decision.Action == models.ActionSell {
		from, to = decision.Token, settlementToken
		if executionPrice.IsPositive() {
			amount = decision.AmountUSD.Div(executionPrice)
		}
	}

	quote, err := s.dex.QuoteSwap(ctx, s.chainID, from, to, amount)
	if err != nil {
		return "", "", fmt.Errorf("failed to quote agent trade: %w", err)
	}

	prefs, err := s.prefs.Get(ctx, inst.UserID)
	if err != nil {
		prefs = models.DefaultPreferences(inst.UserID)
	}

	valueWei, ok := new(big.Int).SetString(quote.ValueWei, 10)
	if !ok {
		valueWei = big.NewInt(0)
	}

	result, err := s.pipe.Execute(ctx, &pipeline.Request{
		UserID:      inst.UserID,
		ChainID:     s.chainID,
		From:        wallet.Hex(),
		To:          quote.Router,
		ValueWei:    valueWei,
		Data:        quote.CallData,
		GasLimit:    quote.GasEstimate,
		AmountUSD:   decision.AmountUSD,
		SkillName:   "agent",
		Description: fmt.Sprintf("Agent %s: %s %s ($%s)", inst.AgentName, decision.Action, decision.Token, decision.AmountUSD),
		Buy:         decision.Action == models.ActionBuy,
		Strategy:    pipeline.GasStandard,
		Prefs:       *prefs,
		// autonomous trades never pause for channel confirmation
	})
	if err != nil {
		return "", "", err
	}

	status := "executed"
	if result.Status == models.TxFailed {
		status = "failed"
	}
	return result.TxID, status, nil
}

// ChainPortfolio builds evaluation-context snapshots from live chain
// balances. Stablecoins count as cash, everything else as positions.
type ChainPortfolio struct {
	chains  *chain.Registry
	oracle  price.Oracle
	wallets WalletSource
}

// NewChainPortfolio wires the snapshot source.
func NewChainPortfolio(chains *chain.Registry, oracle price.Oracle, wallets WalletSource) *ChainPortfolio {
	return &ChainPortfolio{chains: chains, oracle: oracle, wallets: wallets}
}

// Snapshot implements PortfolioSource.
func (p *ChainPortfolio) Snapshot(ctx context.Context, userID string) (map[string]decimal.Decimal, decimal.Decimal, error) {
	wallet, ok := p.wallets.Default(userID)
	if !ok {
		return map[string]decimal.Decimal{}, decimal.Zero, nil
	}

	holdings := make(map[string]decimal.Decimal)
	cash := decimal.Zero
	for _, chainID := range p.chains.ChainIDs() {
		client := p.chains.Get(chainID)
		balances, err := client.TokenBalances(ctx, wallet.Hex())
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("failed to read balances on chain %d: %w", chainID, err)
		}
		for _, bal := range balances {
			if price.IsStablecoin(bal.Symbol) {
				cash = cash.Add(bal.Amount)
				continue
			}
			holdings[bal.Symbol] = holdings[bal.Symbol].Add(bal.Amount)
		}
	}
	return holdings, cash, nil
}
