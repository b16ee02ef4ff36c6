package pipeline

import (
	"math/big"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
)

// GasStrategy selects how aggressively the pipeline bids for inclusion.
type GasStrategy string

const (
	GasSlow     GasStrategy = "slow"
	GasStandard GasStrategy = "standard"
	GasFast     GasStrategy = "fast"
)

// base-fee multipliers, expressed in hundredths to stay in integer math
var gasMultipliers = map[GasStrategy]int64{
	GasSlow:     110,
	GasStandard: 125,
	GasFast:     200,
}

// priority tips in wei (1, 1.5, 3 gwei)
var gasTips = map[GasStrategy]*big.Int{
	GasSlow:     big.NewInt(1_000_000_000),
	GasStandard: big.NewInt(1_500_000_000),
	GasFast:     big.NewInt(3_000_000_000),
}

// GasPlan is the fee decision attached to a transaction.
type GasPlan struct {
	Legacy   bool
	FeeCap   *big.Int // 1559 max fee per gas
	TipCap   *big.Int // 1559 priority fee
	GasPrice *big.Int // legacy chains
}

// PlanGas derives fees from a quote and a strategy. Unknown strategies
// fall back to standard.
func PlanGas(quote *chain.FeeQuote, strategy GasStrategy) *GasPlan {
	mult, ok := gasMultipliers[strategy]
	if !ok {
		strategy = GasStandard
		mult = gasMultipliers[GasStandard]
	}

	if quote.Supports1559 && quote.BaseFee != nil {
		tip := gasTips[strategy]
		feeCap := new(big.Int).Mul(quote.BaseFee, big.NewInt(mult))
		feeCap.Div(feeCap, big.NewInt(100))
		feeCap.Add(feeCap, tip)
		return &GasPlan{FeeCap: feeCap, TipCap: new(big.Int).Set(tip)}
	}

	price := new(big.Int).Mul(quote.GasPrice, big.NewInt(mult))
	price.Div(price, big.NewInt(100))
	return &GasPlan{Legacy: true, GasPrice: price}
}
