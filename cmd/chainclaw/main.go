// ChainClaw is a self-hosted DeFi operations assistant: chat channels
// in front, a risk-gated transaction pipeline behind, background
// schedulers and autonomous agents in between.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/internal/adapters/config"
	"github.com/chainclaw/chainclaw/internal/adapters/database"
	"github.com/chainclaw/chainclaw/internal/adapters/dexapi"
	"github.com/chainclaw/chainclaw/internal/adapters/llm"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/adapters/security"
	"github.com/chainclaw/chainclaw/internal/adapters/telegram"
	"github.com/chainclaw/chainclaw/internal/adapters/web"
	"github.com/chainclaw/chainclaw/internal/agents"
	"github.com/chainclaw/chainclaw/internal/alerts"
	"github.com/chainclaw/chainclaw/internal/backtest"
	"github.com/chainclaw/chainclaw/internal/cron"
	"github.com/chainclaw/chainclaw/internal/datapipeline"
	"github.com/chainclaw/chainclaw/internal/dca"
	"github.com/chainclaw/chainclaw/internal/guardrails"
	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/internal/intent"
	"github.com/chainclaw/chainclaw/internal/maintenance"
	"github.com/chainclaw/chainclaw/internal/memory"
	"github.com/chainclaw/chainclaw/internal/notify"
	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/internal/router"
	"github.com/chainclaw/chainclaw/internal/runtime"
	"github.com/chainclaw/chainclaw/internal/skills"
	"github.com/chainclaw/chainclaw/internal/txlog"
	"github.com/chainclaw/chainclaw/internal/wallet"
	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
	"github.com/chainclaw/chainclaw/pkg/worker"
)

const simulatorBaseURL = "https://api.tenderly.co/api/v1/simulate-bundle"

// nativeSymbols maps supported chain ids to their gas coin.
var nativeSymbols = map[int64]string{
	1:     "ETH",
	10:    "ETH",
	56:    "BNB",
	137:   "POL",
	8453:  "ETH",
	42161: "ETH",
}

// mainnetTokens is the balance-aggregation registry for chain 1.
var mainnetTokens = []chain.TrackedToken{
	{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
	{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
	{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx); err != nil && !errs.IsAbort(err) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errs.Classify(err) == errs.ClassConfig {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	logger.Info("🚀 ChainClaw starting",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Int64("default_chain", cfg.Chains.Default),
	)

	lock := maintenance.NewProcessLock(cfg.Data.Dir, cfg.Data.LockMaxAge)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer lock.Release()

	db, err := database.Open(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return err
	}

	// Leaves first: repositories, then adapters, then the engines that
	// compose them.
	conversations := memory.NewConversationRepository(db)
	prefs := memory.NewPreferencesRepository(db)
	vectors := memory.NewVectorRepository(db, memory.NewHashEmbedder())
	txs := txlog.NewRepository(db)
	dcaRepo := dca.NewRepository(db)
	alertRepo := alerts.NewRepository(db)
	cronRepo := cron.NewRepository(db)
	agentRepo := agents.NewRepository(db)
	priceRepo := price.NewRepository(db)
	riskCache := risk.NewCacheRepository(db)
	deliveries := notify.NewQueueRepository(db)

	wallets, err := wallet.NewManager(cfg.Wallet.Directory, cfg.Wallet.Password)
	if err != nil {
		return err
	}

	chains := dialChains(ctx, cfg)
	oracle := price.NewCoinGeckoOracle()
	dex := dexapi.NewZeroExClient(cfg.Simulator.AggregatorKey)
	bridge := dexapi.NewLiFiClient()
	llama := dexapi.NewDefiLlamaClient()

	riskEngine := risk.NewEngine(db,
		security.NewGoPlusClient(cfg.Simulator.SafetyAPIKey),
		security.NewEtherscanClient(""),
		0)

	var sim pipeline.Simulator
	if cfg.Simulator.SimulatorKey != "" {
		sim = pipeline.NewHTTPSimulator(simulatorBaseURL, cfg.Simulator.SimulatorKey)
	}

	bus := hooks.NewBus()
	guards := guardrails.NewChecker(guardrails.DefaultLimits(), txs)
	pipe := pipeline.New(chains, riskEngine, sim, guards, wallets, txs, bus)

	// Advance any transaction records stranded by the previous run.
	if err := txs.Reconcile(ctx, receiptLookup(chains)); err != nil {
		logger.Warn("boot reconciliation incomplete", zap.Error(err))
	}

	tests := backtest.NewEngine(priceRepo)
	submitter := agents.NewPipelineSubmitter(dex, pipe, wallets, prefs, cfg.Chains.Default)
	portfolio := agents.NewChainPortfolio(chains, oracle, wallets)
	runner := agents.NewRunner(agentRepo, priceRepo, oracle, portfolio, submitter, bus)
	market := agents.NewMarketplace(db, runner)
	tracker := agents.NewTracker(agentRepo, oracle)

	dispatcher := notify.NewDispatcher(deliveries)
	notifier := func(userID, text string) { dispatcher.Notify(ctx, userID, text) }

	reg := skills.NewRegistry()
	cronSched := cron.NewScheduler(cronRepo, cronExecutor(reg, wallets, prefs, cfg, notifier), bus)
	if err := skills.RegisterAll(reg, &skills.Deps{
		Chains:    chains,
		Oracle:    oracle,
		Pipe:      pipe,
		DEX:       dex,
		Bridge:    bridge,
		Lending:   llama,
		Yields:    llama,
		DCA:       dcaRepo,
		Alerts:    alertRepo,
		Cron:      cronRepo,
		CronPoke:  cronSched.Poke,
		Risk:      riskEngine,
		Txs:       txs,
		Tests:     tests,
		Agents:    runner,
		AgentRepo: agentRepo,
		Market:    market,
		Tracker:   tracker,
	}); err != nil {
		return err
	}

	provider, err := llm.New(&cfg.LLM)
	if err != nil {
		return err
	}
	rt := runtime.New(conversations, intent.NewParser(provider, reg), reg)
	rtr := router.New(rt, reg, wallets, prefs, conversations, cfg.Chains.ChainIDs())

	// Channel adapters register their outbound paths with the
	// dispatcher so background work can reach users.
	var webServer *web.Server
	if cfg.Channels.WebEnabled {
		webServer = web.NewServer(rtr)
		dispatcher.RegisterSender("web", webServer.Send)
		go func() {
			if err := webServer.Start(ctx, fmt.Sprintf(":%d", cfg.Channels.WebPort)); err != nil {
				logger.Error("web channel exited", zap.Error(err))
			}
		}()
	}
	if cfg.Channels.TelegramToken != "" {
		bot, err := telegram.NewBot(cfg.Channels.TelegramToken, rtr, telegramAllowlist(cfg))
		if err != nil {
			return err
		}
		dispatcher.RegisterSender("telegram", bot.SendTo)
		go func() {
			if err := bot.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram channel exited", zap.Error(err))
			}
		}()
	}

	// Background engines.
	cronSched.Start(ctx)

	workers := []*worker.PeriodicWorker{
		worker.NewPeriodicWorker(dca.NewScheduler(dcaRepo, dca.NewPipelineExecutor(dex, oracle, pipe, txs, prefs)), dca.TickInterval),
		worker.NewPeriodicWorker(alerts.NewEngine(alertRepo, oracle, notifier, bus), alerts.TickInterval),
		worker.NewPeriodicWorker(datapipeline.NewLabeller(db, priceRepo), datapipeline.TickInterval).SkipInitialRun(),
		worker.NewPeriodicWorker(price.NewRecorder(oracle, priceRepo, agentWatchlist()), time.Hour),
		worker.NewPeriodicWorker(dispatcher, 30*time.Second).SkipInitialRun(),
		worker.NewPeriodicWorker(
			maintenance.NewRetention(db, conversations, vectors, txs, riskCache, agentRepo, priceRepo, deliveries),
			cfg.Data.RetentionInterval,
		).SkipInitialRun(),
	}
	for _, w := range workers {
		w.Start(ctx)
	}

	logger.Info("✅ ChainClaw ready",
		zap.Int("skills", len(reg.List())),
		zap.Int64s("chains", chains.ChainIDs()),
	)

	<-ctx.Done()
	shutdown(runner, workers, cronSched)
	return nil
}

// shutdown drains everything with per-step budgets so one hanging
// component cannot wedge the exit.
func shutdown(runner *agents.Runner, workers []*worker.PeriodicWorker, cronSched *cron.Scheduler) {
	logger.Info("🛑 Shutting down...")

	step := func(name string, budget time.Duration, fn func()) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn()
		}()
		select {
		case <-done:
		case <-time.After(budget):
			logger.Warn("⚠️ shutdown step exceeded budget", zap.String("step", name))
		}
	}

	step("agents", 10*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		runner.StopAll(stopCtx)
	})
	step("cron", 10*time.Second, cronSched.Stop)
	for _, w := range workers {
		w.Stop(5 * time.Second)
	}

	logger.Info("✅ Shutdown complete")
}

// dialChains connects every configured RPC endpoint, skipping the ones
// that fail so one bad endpoint cannot block boot.
func dialChains(ctx context.Context, cfg *config.Config) *chain.Registry {
	clients := make([]chain.Client, 0)
	for _, chainID := range cfg.Chains.ChainIDs() {
		symbol, ok := nativeSymbols[chainID]
		if !ok {
			symbol = "ETH"
		}
		var tokens []chain.TrackedToken
		if chainID == 1 {
			tokens = mainnetTokens
		}

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := chain.Dial(dialCtx, chainID, symbol, cfg.Chains.RPCURLFor(chainID), tokens)
		cancel()
		if err != nil {
			logger.Warn("⚠️ chain unavailable, skipping",
				zap.Int64("chain_id", chainID),
				zap.Error(err))
			continue
		}
		clients = append(clients, client)
	}
	return chain.NewRegistry(clients...)
}

// receiptLookup adapts the chain registry to the reconciliation hook.
func receiptLookup(chains *chain.Registry) txlog.ReceiptLookup {
	return func(ctx context.Context, chainID int64, hash string) (bool, bool, int64, int64, bool, error) {
		client := chains.Get(chainID)
		if client == nil {
			return false, false, 0, 0, false, fmt.Errorf("no client for chain %d", chainID)
		}
		rcpt, found, err := client.ReceiptFor(ctx, hash)
		if err != nil || !found {
			return false, false, 0, 0, found, err
		}
		return rcpt.Mined, rcpt.Success, rcpt.GasUsed, rcpt.BlockNumber, true, nil
	}
}

// cronExecutor runs stored jobs against the skill registry. Results go
// out through the notifier since scheduled runs have no live channel.
func cronExecutor(reg *skills.Registry, wallets *wallet.Manager, prefs *memory.PreferencesRepository, cfg *config.Config, notifier func(userID, text string)) cron.Executor {
	return func(ctx context.Context, job *models.CronJob) error {
		skill := reg.Get(job.SkillName)
		if skill == nil {
			return fmt.Errorf("unknown skill %q", job.SkillName)
		}
		params, err := job.ParamsMap()
		if err != nil {
			return err
		}

		sc := &skills.Context{
			UserID:    job.UserID,
			ChainIDs:  cfg.Chains.ChainIDs(),
			Prefs:     *models.DefaultPreferences(job.UserID),
			SendReply: func(text string) { notifier(job.UserID, text) },
		}
		if p, err := prefs.Get(ctx, job.UserID); err == nil {
			sc.Prefs = *p
		}
		if addr, ok := wallets.Default(job.UserID); ok {
			sc.WalletAddress = addr.Hex()
		}

		res, err := skill.Execute(ctx, params, sc)
		if err != nil {
			return err
		}
		notifier(job.UserID, res.Message)
		if !res.Success {
			return fmt.Errorf("skill %s reported failure: %s", job.SkillName, res.Message)
		}
		return nil
	}
}

// agentWatchlist unions every built-in strategy's tokens for the price
// recorder, settlement token included.
func agentWatchlist() []string {
	seen := map[string]bool{"USDC": true}
	out := []string{"USDC"}
	for _, def := range agents.Catalog() {
		for _, token := range def.Strategy.Watchlist {
			if !seen[token] {
				seen[token] = true
				out = append(out, token)
			}
		}
	}
	return out
}

// telegramAllowlist applies the security mode to the Telegram channel.
func telegramAllowlist(cfg *config.Config) []string {
	if cfg.Security.Mode != "allowlist" {
		return nil
	}
	return cfg.Security.Allowlist
}
