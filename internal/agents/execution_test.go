package agents

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/internal/adapters/dexapi"
	"github.com/chainclaw/chainclaw/internal/adapters/price"
	"github.com/chainclaw/chainclaw/internal/adapters/security"
	"github.com/chainclaw/chainclaw/internal/guardrails"
	"github.com/chainclaw/chainclaw/internal/pipeline"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/internal/txlog"
	"github.com/chainclaw/chainclaw/pkg/models"
)

type staticWallets struct {
	addr common.Address
	ok   bool
}

func (w staticWallets) Default(string) (common.Address, bool) { return w.addr, w.ok }

type staticPrefs struct{}

func (staticPrefs) Get(_ context.Context, userID string) (*models.Preferences, error) {
	return models.DefaultPreferences(userID), nil
}

type recordingDEX struct {
	dexapi.MockDEX
	lastFrom   string
	lastTo     string
	lastAmount decimal.Decimal
}

func (d *recordingDEX) QuoteSwap(ctx context.Context, chainID int64, fromToken, toToken string, amount decimal.Decimal) (*dexapi.SwapQuote, error) {
	d.lastFrom, d.lastTo, d.lastAmount = fromToken, toToken, amount
	return d.MockDEX.QuoteSwap(ctx, chainID, fromToken, toToken, amount)
}

type ksSigner struct {
	ks       *keystore.KeyStore
	password string
}

func (s ksSigner) SignTx(addr common.Address, tx *ethTypes.Transaction, chainID *big.Int) (*ethTypes.Transaction, error) {
	return s.ks.SignTxWithPassphrase(accounts.Account{Address: addr}, s.password, tx, chainID)
}

func newSubmitterEnv(t *testing.T) (*PipelineSubmitter, *recordingDEX, *chain.Mock) {
	t.Helper()

	db := newTestDB(t)
	ks := keystore.NewKeyStore(t.TempDir(), keystore.LightScryptN, keystore.LightScryptP)
	account, err := ks.NewAccount("test-password")
	if err != nil {
		t.Fatalf("NewAccount: %v", err)
	}

	mock := chain.NewMock(1)
	chains := chain.NewRegistry(mock)
	txs := txlog.NewRepository(db)
	engine := risk.NewEngine(db, &security.MockSafety{}, nil, 0)
	limits := guardrails.Limits{}
	pipe := pipeline.New(chains, engine, nil, guardrails.NewChecker(limits, txs), ksSigner{ks, "test-password"}, txs, nil)

	dex := &recordingDEX{}
	submitter := NewPipelineSubmitter(dex, pipe, staticWallets{account.Address, true}, staticPrefs{}, 1)
	return submitter, dex, mock
}

func TestSubmitTradeBuy(t *testing.T) {
	submitter, dex, mock := newSubmitterEnv(t)
	inst := &models.AgentInstance{ID: "inst-1", AgentName: "momentum-v1", UserID: "user-1", Mode: models.ModeLive}
	decision := &models.Decision{Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(100)}

	txID, status, err := submitter.SubmitTrade(context.Background(), inst, decision, decimal.NewFromInt(3200))
	if err != nil {
		t.Fatalf("SubmitTrade: %v", err)
	}
	if txID == "" || status != "executed" {
		t.Fatalf("result = %q/%q", txID, status)
	}
	if dex.lastFrom != "USDC" || dex.lastTo != "ETH" {
		t.Fatalf("quoted %s -> %s", dex.lastFrom, dex.lastTo)
	}
	if !dex.lastAmount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("quote amount = %s", dex.lastAmount)
	}
	if mock.BroadcastCount() != 1 {
		t.Fatalf("broadcasts = %d", mock.BroadcastCount())
	}
}

func TestSubmitTradeSellConvertsUnits(t *testing.T) {
	submitter, dex, _ := newSubmitterEnv(t)
	inst := &models.AgentInstance{ID: "inst-1", AgentName: "momentum-v1", UserID: "user-1", Mode: models.ModeLive}
	decision := &models.Decision{Action: models.ActionSell, Token: "ETH", AmountUSD: decimal.NewFromInt(1600)}

	_, status, err := submitter.SubmitTrade(context.Background(), inst, decision, decimal.NewFromInt(3200))
	if err != nil {
		t.Fatalf("SubmitTrade: %v", err)
	}
	if status != "executed" {
		t.Fatalf("status = %q", status)
	}
	if dex.lastFrom != "ETH" || dex.lastTo != "USDC" {
		t.Fatalf("quoted %s -> %s", dex.lastFrom, dex.lastTo)
	}
	// $1600 at $3200/ETH sells half a unit.
	if !dex.lastAmount.Equal(decimal.NewFromFloat(0.5)) {
		t.Fatalf("quote amount = %s", dex.lastAmount)
	}
}

func TestSubmitTradeNoWallet(t *testing.T) {
	submitter, _, _ := newSubmitterEnv(t)
	submitter.wallets = staticWallets{}
	inst := &models.AgentInstance{ID: "inst-1", UserID: "user-1", Mode: models.ModeLive}
	decision := &models.Decision{Action: models.ActionBuy, Token: "ETH", AmountUSD: decimal.NewFromInt(50)}

	if _, _, err := submitter.SubmitTrade(context.Background(), inst, decision, decimal.NewFromInt(3200)); err == nil {
		t.Fatal("expected error without wallet")
	}
}

func TestChainPortfolioSnapshot(t *testing.T) {
	mock := chain.NewMock(1)
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	mock.Balances = map[string][]chain.TokenBalance{
		addr.Hex(): {
			{Symbol: "ETH", Amount: decimal.NewFromFloat(2), Decimals: 18},
			{Symbol: "USDC", Amount: decimal.NewFromInt(500), Decimals: 6},
			{Symbol: "DAI", Amount: decimal.NewFromInt(250), Decimals: 18},
		},
	}

	portfolio := NewChainPortfolio(chain.NewRegistry(mock), &price.MockOracle{}, staticWallets{addr, true})
	holdings, cash, err := portfolio.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !cash.Equal(decimal.NewFromInt(750)) {
		t.Fatalf("cash = %s, want 750", cash)
	}
	if !holdings["ETH"].Equal(decimal.NewFromFloat(2)) {
		t.Fatalf("holdings = %v", holdings)
	}
	if _, ok := holdings["USDC"]; ok {
		t.Fatal("stablecoin leaked into holdings")
	}
}

func TestChainPortfolioNoWallet(t *testing.T) {
	portfolio := NewChainPortfolio(chain.NewRegistry(chain.NewMock(1)), &price.MockOracle{}, staticWallets{})
	holdings, cash, err := portfolio.Snapshot(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(holdings) != 0 || !cash.IsZero() {
		t.Fatalf("holdings = %v cash = %s", holdings, cash)
	}
}
