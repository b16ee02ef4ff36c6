// Package agents runs declarative trading agents: a watchlist, a pure
// evaluation function and risk caps, instantiated per user subscription.
package agents

import (
	"fmt"
	"time"

	"github.com/cinar/indicator"
	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/pkg/models"
)

// builtins is the marketplace catalogue of shipped agent definitions.
var builtins = []*models.AgentDefinition{
	momentumScout(),
	steadyStacker(),
}

// Catalog lists every shipped agent definition.
func Catalog() []*models.AgentDefinition {
	out := make([]*models.AgentDefinition, len(builtins))
	copy(out, builtins)
	return out
}

// Lookup resolves a definition by name.
func Lookup(name string) (*models.AgentDefinition, error) {
	for _, def := range builtins {
		if def.Name == name {
			return def, nil
		}
	}
	return nil, fmt.Errorf("unknown agent %q", name)
}

// momentumScout trades SMA crossovers filtered by RSI.
func momentumScout() *models.AgentDefinition {
	return &models.AgentDefinition{
		Name:        "momentum-scout",
		Version:     "1.0.0",
		Description: "Buys tokens whose short-term average crosses above the long-term average while RSI is not overbought; exits on the reverse cross or RSI exhaustion.",
		Author:      "chainclaw",
		Category:    "momentum",
		Skills:      []string{"swap"},
		RiskParams: models.RiskParams{
			MaxPositionUSD:   decimal.NewFromInt(250),
			MaxDailyTrades:   6,
			MaxDailyExposure: decimal.NewFromInt(1000),
		},
		Strategy: models.Strategy{
			Watchlist:          []string{"ETH", "WBTC"},
			EvaluationInterval: 5 * time.Minute,
			Evaluate:           evaluateMomentum,
		},
	}
}

func evaluateMomentum(ctx *models.EvalContext) []models.Decision {
	var decisions []models.Decision
	for token, history := range ctx.PriceHistory {
		if len(history) < 21 {
			continue
		}

		shortSMA := last(indicator.Sma(5, history))
		longSMA := last(indicator.Sma(20, history))
		_, rsiSeries := indicator.Rsi(history)
		rsi := last(rsiSeries)

		holding := ctx.Portfolio[token]
		switch {
		case shortSMA > longSMA && rsi < 70 && holding.IsZero():
			decisions = append(decisions, models.Decision{
				Action:    models.ActionBuy,
				Token:     token,
				AmountUSD: decimal.NewFromInt(100),
				Reasoning: fmt.Sprintf("SMA5 %.2f above SMA20 %.2f with RSI %.1f", shortSMA, longSMA, rsi),
			})
		case (shortSMA < longSMA || rsi > 80) && holding.IsPositive():
			price := ctx.Prices[token]
			decisions = append(decisions, models.Decision{
				Action:    models.ActionSell,
				Token:     token,
				AmountUSD: holding.Mul(price),
				Reasoning: fmt.Sprintf("exit: SMA5 %.2f vs SMA20 %.2f, RSI %.1f", shortSMA, longSMA, rsi),
			})
		}
	}
	return decisions
}

// steadyStacker accumulates on dips below the 20-step average.
func steadyStacker() *models.AgentDefinition {
	return &models.AgentDefinition{
		Name:        "steady-stacker",
		Version:     "1.0.0",
		Description: "Dollar-cost averages into the watchlist, sizing up when price sits below its 20-step average.",
		Author:      "chainclaw",
		Category:    "accumulation",
		Skills:      []string{"swap"},
		RiskParams: models.RiskParams{
			MaxPositionUSD:   decimal.NewFromInt(100),
			MaxDailyTrades:   4,
			MaxDailyExposure: decimal.NewFromInt(400),
		},
		Strategy: models.Strategy{
			Watchlist:          []string{"ETH"},
			EvaluationInterval: time.Hour,
			Evaluate:           evaluateStacker,
		},
	}
}

func evaluateStacker(ctx *models.EvalContext) []models.Decision {
	var decisions []models.Decision
	for token, history := range ctx.PriceHistory {
		if len(history) < 20 {
			continue
		}
		price, ok := ctx.Prices[token]
		if !ok {
			continue
		}

		sma := last(indicator.Sma(20, history))
		amount := decimal.NewFromInt(25)
		reasoning := "scheduled accumulation"
		if price.LessThan(decimal.NewFromFloat(sma)) {
			amount = decimal.NewFromInt(50)
			reasoning = fmt.Sprintf("price %s below SMA20 %.2f, sizing up", price, sma)
		}
		decisions = append(decisions, models.Decision{
			Action:    models.ActionBuy,
			Token:     token,
			AmountUSD: amount,
			Reasoning: reasoning,
		})
	}
	return decisions
}

func last(series []float64) float64 {
	if len(series) == 0 {
		return 0
	}
	return series[len(series)-1]
}
