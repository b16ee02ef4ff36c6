// Command backtest replays a built-in agent strategy over historical
// daily prices and prints the resulting metrics. Prices come either
// from the ChainClaw database populated by the price recorder, or from
// a CSV file (token,date,price_usd) loaded into a throwaway in-memory
// database.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/backtest"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

func main() {
	agentName := flag.String("agent", "", "built-in agent name to replay (required)")
	dataDir := flag.String("data", "", "ChainClaw data directory holding the price history")
	csvPath := flag.String("csv", "", "CSV price file (token,date,price_usd) instead of -data")
	days := flag.Int("days", 90, "lookback window in days, ending today")
	startStr := flag.String("start", "", "start date (2006-01-02), overrides -days")
	endStr := flag.String("end", "", "end date (2006-01-02), defaults to today")
	capital := flag.String("capital", "10000", "starting capital in USD")
	fee := flag.String("fee", "0.3", "per-trade fee percent")
	slippage := flag.String("slippage", "0.5", "per-trade slippage percent")
	benchmark := flag.String("benchmark", "ETH", "buy-and-hold benchmark token, empty to disable")
	asJSON := flag.Bool("json", false, "print the full result as JSON")
	listAgents := flag.Bool("list", false, "list built-in agents and exit")
	flag.Parse()

	if *listAgents {
		for _, def := range agents.Catalog() {
			fmt.Printf("%-24s %s\n", def.Name, def.Description)
		}
		return
	}

	if err := run(*agentName, *dataDir, *csvPath, *days, *startStr, *endStr, *capital, *fee, *slippage, *benchmark, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(agentName, dataDir, csvPath string, days int, startStr, endStr, capital, fee, slippage, benchmark string, asJSON bool) error {
	if agentName == "" {
		return fmt.Errorf("-agent is required (use -list to see built-ins)")
	}
	if (dataDir == "") == (csvPath == "") {
		return fmt.Errorf("exactly one of -data or -csv is required")
	}

	def, err := agents.Lookup(agentName)
	if err != nil {
		return err
	}

	ctx := context.Background()
	defer logger.Sync()

	var db *database.DB
	if csvPath != "" {
		db, err = database.OpenInMemory()
	} else {
		db, err = database.Open(dataDir)
	}
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	prices := price.NewRepository(db)
	if csvPath != "" {
		n, err := loadCSV(ctx, prices, csvPath)
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d price points from %s\n", n, csvPath)
	}

	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return fmt.Errorf("invalid -end: %w", err)
		}
	}
	start := end.AddDate(0, 0, -days)
	if startStr != "" {
		if start, err = time.Parse("2006-01-02", startStr); err != nil {
			return fmt.Errorf("invalid -start: %w", err)
		}
	}

	cfg := backtest.Config{
		StartDate:      start,
		EndDate:        end,
		BenchmarkToken: benchmark,
	}
	if cfg.StartingCapitalUSD, err = decimal.NewFromString(capital); err != nil {
		return fmt.Errorf("invalid -capital: %w", err)
	}
	if cfg.FeePercent, err = decimal.NewFromString(fee); err != nil {
		return fmt.Errorf("invalid -fee: %w", err)
	}
	if cfg.SlippagePercent, err = decimal.NewFromString(slippage); err != nil {
		return fmt.Errorf("invalid -slippage: %w", err)
	}

	res, err := backtest.NewEngine(prices).Run(ctx, def, cfg)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printSummary(res)
	return nil
}

// loadCSV seeds the price repository from token,date,price_usd rows.
// A header line is skipped if present.
func loadCSV(ctx context.Context, prices *price.Repository, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		parts := strings.Split(text, ",")
		if len(parts) != 3 {
			return count, fmt.Errorf("line %d: expected token,date,price_usd", line)
		}
		token := strings.ToUpper(strings.TrimSpace(parts[0]))
		if line == 1 && strings.EqualFold(token, "token") {
			continue
		}
		day, err := time.Parse("2006-01-02", strings.TrimSpace(parts[1]))
		if err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		px, err := decimal.NewFromString(strings.TrimSpace(parts[2]))
		if err != nil {
			return count, fmt.Errorf("line %d: %w", line, err)
		}
		if err := prices.Upsert(ctx, token, day, px); err != nil {
			return count, err
		}
		count++
	}
	return count, scanner.Err()
}

func printSummary(res *backtest.Result) {
	m := res.Metrics
	fmt.Printf("\nBacktest: %s  %s → %s\n",
		res.Config.AgentName,
		res.Config.StartDate.Format("2006-01-02"),
		res.Config.EndDate.Format("2006-01-02"))
	fmt.Printf("  Starting capital:  $%s\n", res.Config.StartingCapitalUSD.StringFixed(2))
	if n := len(res.EquityCurve); n > 0 {
		fmt.Printf("  Final equity:      $%s\n", res.EquityCurve[n-1].ValueUSD.StringFixed(2))
	}
	fmt.Printf("  Total return:      %s%%\n", m.TotalReturnPercent.StringFixed(2))
	fmt.Printf("  Max drawdown:      %s%%\n", m.MaxDrawdownPercent.StringFixed(2))
	fmt.Printf("  Sharpe ratio:      %s\n", m.SharpeRatio.StringFixed(2))
	fmt.Printf("  Trades:            %d (%d profitable, win rate %s%%)\n",
		m.TotalTrades, m.ProfitableTrades, m.WinRatePercent.StringFixed(1))
	if res.Config.BenchmarkToken != "" {
		fmt.Printf("  Benchmark (%s):   %s%%  (alpha %s%%)\n",
			res.Config.BenchmarkToken,
			m.BenchmarkReturnPercent.StringFixed(2),
			m.AlphaPercent.StringFixed(2))
	}
	fmt.Printf("  Duration:          %dms\n", res.DurationMs)
}
