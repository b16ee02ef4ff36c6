// Package backtest replays an agent strategy against historical daily
// prices. The evaluation context has the same shape as the live one, so
// a strategy cannot tell a backtest from production.
package backtest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// Config describes one backtest run.
type Config struct {
	AgentName          string          `json:"agent_name"`
	StartDate          time.Time       `json:"start_date"`
	EndDate            time.Time       `json:"end_date"`
	StartingCapitalUSD decimal.Decimal `json:"starting_capital_usd"`
	FeePercent         decimal.Decimal `json:"fee_percent"`
	SlippagePercent    decimal.Decimal `json:"slippage_percent"`
	BenchmarkToken     string          `json:"benchmark_token,omitempty"`
}

// Trade is one simulated fill.
type Trade struct {
	Day       time.Time             `json:"day"`
	Token     string                `json:"token"`
	Action    models.DecisionAction `json:"action"`
	AmountUSD decimal.Decimal       `json:"amount_usd"`
	Price     decimal.Decimal       `json:"price"`
	Units     decimal.Decimal       `json:"units"`
	FeeUSD    decimal.Decimal       `json:"fee_usd"`
	PnLUSD    decimal.Decimal       `json:"pnl_usd,omitempty"`
	Reasoning string                `json:"reasoning,omitempty"`
}

// EquityPoint is the portfolio value at the end of one step.
type EquityPoint struct {
	Day      time.Time       `json:"day"`
	ValueUSD decimal.Decimal `json:"value_usd"`
}

// Metrics summarise a completed run.
type Metrics struct {
	TotalReturnPercent     decimal.Decimal `json:"total_return_percent"`
	MaxDrawdownPercent     decimal.Decimal `json:"max_drawdown_percent"`
	SharpeRatio            decimal.Decimal `json:"sharpe_ratio"`
	WinRatePercent         decimal.Decimal `json:"win_rate_percent"`
	TotalTrades            int             `json:"total_trades"`
	ProfitableTrades       int             `json:"profitable_trades"`
	AvgTradeReturnPercent  decimal.Decimal `json:"avg_trade_return_percent"`
	BenchmarkReturnPercent decimal.Decimal `json:"benchmark_return_percent"`
	AlphaPercent           decimal.Decimal `json:"alpha_percent"`
}

// Result is what a run returns.
type Result struct {
	Config      Config        `json:"config"`
	Metrics     Metrics       `json:"metrics"`
	Trades      []Trade       `json:"trades"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	DurationMs  int64         `json:"duration_ms"`
}

// Engine runs backtests against the historical price cache.
type Engine struct {
	prices *price.Repository
	log    *zap.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(prices *price.Repository) *Engine {
	return &Engine{prices: prices, log: logger.Named("backtest")}
}

type holding struct {
	units   decimal.Decimal
	costUSD decimal.Decimal
}

// Run replays the strategy over [StartDate, EndDate] at daily steps.
func (e *Engine) Run(ctx context.Context, def *models.AgentDefinition, cfg Config) (*Result, error) {
	if def.Strategy.Evaluate == nil {
		return nil, fmt.Errorf("agent %s has no evaluation function", def.Name)
	}
	if !cfg.EndDate.After(cfg.StartDate) {
		return nil, fmt.Errorf("end date must be after start date")
	}
	if !cfg.StartingCapitalUSD.IsPositive() {
		return nil, fmt.Errorf("starting capital must be positive")
	}
	cfg.AgentName = def.Name

	started := time.Now().UTC()

	series, days, err := e.loadSeries(ctx, def, cfg)
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("no historical prices for %v in the requested range", def.Strategy.Watchlist)
	}

	cash := cfg.StartingCapitalUSD
	holdings := map[string]*holding{}
	var trades []Trade
	var curve []EquityPoint

	feeRate := cfg.FeePercent.Div(decimal.NewFromInt(100))
	slipRate := cfg.SlippagePercent.Div(decimal.NewFromInt(100))

	for _, day := range days {
		evalCtx := e.contextAt(def, series, day, holdings, cash)

		for _, d := range def.Strategy.Evaluate(evalCtx) {
			if d.Action == models.ActionHold {
				continue
			}
			px, ok := evalCtx.Prices[d.Token]
			if !ok || !px.IsPositive() {
				continue
			}
			switch d.Action {
			case models.ActionBuy:
				spend := d.AmountUSD
				if spend.GreaterThan(cash) {
					spend = cash
				}
				if !spend.IsPositive() {
					continue
				}
				fee := spend.Mul(feeRate)
				fillPrice := px.Mul(decimal.NewFromInt(1).Add(slipRate))
				units := spend.Sub(fee).Div(fillPrice)

				cash = cash.Sub(spend)
				h := holdings[d.Token]
				if h == nil {
					h = &holding{}
					holdings[d.Token] = h
				}
				h.units = h.units.Add(units)
				h.costUSD = h.costUSD.Add(spend)

				trades = append(trades, Trade{
					Day: day, Token: d.Token, Action: models.ActionBuy,
					AmountUSD: spend, Price: fillPrice, Units: units,
					FeeUSD: fee, Reasoning: d.Reasoning,
				})

			case models.ActionSell:
				h := holdings[d.Token]
				if h == nil || !h.units.IsPositive() {
					continue
				}
				fillPrice := px.Mul(decimal.NewFromInt(1).Sub(slipRate))
				units := h.units
				if d.AmountUSD.IsPositive() {
					want := d.AmountUSD.Div(fillPrice)
					if want.LessThan(units) {
						units = want
					}
				}
				gross := units.Mul(fillPrice)
				fee := gross.Mul(feeRate)
				proceeds := gross.Sub(fee)

				avgCost := h.costUSD.Div(h.units)
				costBasis := avgCost.Mul(units)
				pnl := proceeds.Sub(costBasis)

				cash = cash.Add(proceeds)
				h.units = h.units.Sub(units)
				h.costUSD = h.costUSD.Sub(costBasis)

				trades = append(trades, Trade{
					Day: day, Token: d.Token, Action: models.ActionSell,
					AmountUSD: proceeds, Price: fillPrice, Units: units,
					FeeUSD: fee, PnLUSD: pnl, Reasoning: d.Reasoning,
				})
			}
		}

		curve = append(curve, EquityPoint{Day: day, ValueUSD: e.markToMarket(series, day, holdings, cash)})
	}

	completed := time.Now().UTC()
	res := &Result{
		Config:      cfg,
		Metrics:     e.computeMetrics(cfg, series, days, trades, curve),
		Trades:      trades,
		EquityCurve: curve,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
	}
	e.log.Info("Backtest complete",
		zap.String("agent", def.Name),
		zap.Int("trades", len(trades)),
		zap.String("total_return_percent", res.Metrics.TotalReturnPercent.String()))
	return res, nil
}

// loadSeries pulls the daily close series for every watchlist token (and
// the benchmark) and collects the union of trading days, oldest first.
func (e *Engine) loadSeries(ctx context.Context, def *models.AgentDefinition, cfg Config) (map[string][]models.HistoricalPrice, []time.Time, error) {
	tokens := append([]string{}, def.Strategy.Watchlist...)
	if cfg.BenchmarkToken != "" {
		tokens = append(tokens, cfg.BenchmarkToken)
	}

	series := make(map[string][]models.HistoricalPrice, len(tokens))
	daySet := map[time.Time]struct{}{}
	for _, token := range tokens {
		if _, ok := series[token]; ok {
			continue
		}
		s, err := e.prices.Series(ctx, token, cfg.StartDate, cfg.EndDate)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load series for %s: %w", token, err)
		}
		series[token] = s
		for _, p := range s {
			daySet[p.Day.UTC()] = struct{}{}
		}
	}

	days := make([]time.Time, 0, len(daySet))
	for d := range daySet {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return series, days, nil
}

// contextAt builds the evaluation context for one step using only data
// at or before the step's day.
func (e *Engine) contextAt(def *models.AgentDefinition, series map[string][]models.HistoricalPrice, day time.Time, holdings map[string]*holding, cash decimal.Decimal) *models.EvalContext {
	evalCtx := &models.EvalContext{
		Now:          day,
		Prices:       make(map[string]decimal.Decimal),
		PriceHistory: make(map[string][]float64),
		Portfolio:    make(map[string]decimal.Decimal),
		CashUSD:      cash,
	}
	for _, token := range def.Strategy.Watchlist {
		var history []float64
		for _, p := range series[token] {
			if p.Day.After(day) {
				break
			}
			f, _ := p.PriceUSD.Float64()
			history = append(history, f)
			evalCtx.Prices[token] = p.PriceUSD
		}
		evalCtx.PriceHistory[token] = history
	}
	for token, h := range holdings {
		if h.units.IsPositive() {
			evalCtx.Portfolio[token] = h.units
		}
	}
	return evalCtx
}

func (e *Engine) markToMarket(series map[string][]models.HistoricalPrice, day time.Time, holdings map[string]*holding, cash decimal.Decimal) decimal.Decimal {
	total := cash
	for token, h := range holdings {
		if !h.units.IsPositive() {
			continue
		}
		px := priceAt(series[token], day)
		if px.IsPositive() {
			total = total.Add(h.units.Mul(px))
		} else {
			total = total.Add(h.costUSD)
		}
	}
	return total
}

func priceAt(s []models.HistoricalPrice, day time.Time) decimal.Decimal {
	last := decimal.Zero
	for _, p := range s {
		if p.Day.After(day) {
			break
		}
		last = p.PriceUSD
	}
	return last
}

func (e *Engine) computeMetrics(cfg Config, series map[string][]models.HistoricalPrice, days []time.Time, trades []Trade, curve []EquityPoint) Metrics {
	var m Metrics
	m.TotalTrades = len(trades)
	if len(curve) == 0 {
		return m
	}

	hundred := decimal.NewFromInt(100)
	final := curve[len(curve)-1].ValueUSD
	m.TotalReturnPercent = final.Sub(cfg.StartingCapitalUSD).
		Div(cfg.StartingCapitalUSD).Mul(hundred).Round(4)

	// max drawdown over the equity curve
	peak := curve[0].ValueUSD
	maxDD := decimal.Zero
	for _, p := range curve {
		if p.ValueUSD.GreaterThan(peak) {
			peak = p.ValueUSD
		}
		if peak.IsPositive() {
			dd := peak.Sub(p.ValueUSD).Div(peak).Mul(hundred)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}
	m.MaxDrawdownPercent = maxDD.Round(4)

	m.SharpeRatio = sharpe(curve)

	sells := 0
	sumReturn := decimal.Zero
	for _, tr := range trades {
		if tr.Action != models.ActionSell {
			continue
		}
		sells++
		if tr.PnLUSD.IsPositive() {
			m.ProfitableTrades++
		}
		costBasis := tr.AmountUSD.Sub(tr.PnLUSD)
		if costBasis.IsPositive() {
			sumReturn = sumReturn.Add(tr.PnLUSD.Div(costBasis).Mul(hundred))
		}
	}
	if sells > 0 {
		m.WinRatePercent = decimal.NewFromInt(int64(m.ProfitableTrades)).
			Div(decimal.NewFromInt(int64(sells))).Mul(hundred).Round(2)
		m.AvgTradeReturnPercent = sumReturn.Div(decimal.NewFromInt(int64(sells))).Round(4)
	}

	if cfg.BenchmarkToken != "" {
		bench := series[cfg.BenchmarkToken]
		first := priceAt(bench, days[0])
		last := priceAt(bench, days[len(days)-1])
		if first.IsPositive() && last.IsPositive() {
			m.BenchmarkReturnPercent = last.Sub(first).Div(first).Mul(hundred).Round(4)
			m.AlphaPercent = m.TotalReturnPercent.Sub(m.BenchmarkReturnPercent).Round(4)
		}
	}
	return m
}

// sharpe is the annualised Sharpe ratio of daily equity returns with a
// zero risk-free rate.
func sharpe(curve []EquityPoint) decimal.Decimal {
	if len(curve) < 3 {
		return decimal.Zero
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev, _ := curve[i-1].ValueUSD.Float64()
		cur, _ := curve[i].ValueUSD.Float64()
		if prev == 0 {
			continue
		}
		returns = append(returns, cur/prev-1)
	}
	if len(returns) < 2 {
		return decimal.Zero
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(mean / stddev * math.Sqrt(365)).Round(4)
}
