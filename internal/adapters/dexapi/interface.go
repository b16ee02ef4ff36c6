// Package dexapi holds the DEX-aggregator, bridge-aggregator, lending-pool
// and yield-list boundaries. Each is a narrow typed interface with an HTTP
// implementation wired at boot and mocks for quote-only operation.
package dexapi

import (
	"context"

	"github.com/shopspring/decimal"
)

// SwapQuote is the answer to "what do I get for this swap"
type SwapQuote struct {
	FromToken   string
	ToToken     string
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	PriceImpact decimal.Decimal // percent
	Router      string          // counterparty contract address
	CallData    []byte          // to be executed on-chain
	ValueWei    string          // native value to attach
	GasEstimate int64
}

// BridgeQuote is a cross-chain transfer quote
type BridgeQuote struct {
	FromChainID int64
	ToChainID   int64
	Token       string
	AmountIn    decimal.Decimal
	AmountOut   decimal.Decimal
	FeeUSD      decimal.Decimal
	ETASeconds  int
	Router      string
	CallData    []byte
}

// LendingQuote is a deposit/borrow market quote
type LendingQuote struct {
	Protocol    string
	Token       string
	SupplyAPY   decimal.Decimal
	BorrowAPY   decimal.Decimal
	TVLUSD      decimal.Decimal
	PoolAddress string
}

// YieldEntry is one row of the yield-list service
type YieldEntry struct {
	Protocol string
	Chain    string
	Token    string
	APY      decimal.Decimal
	TVLUSD   decimal.Decimal
}

// DEXAggregator quotes swaps on a single chain
type DEXAggregator interface {
	QuoteSwap(ctx context.Context, chainID int64, fromToken, toToken string, amount decimal.Decimal) (*SwapQuote, error)
}

// BridgeAggregator quotes cross-chain transfers
type BridgeAggregator interface {
	QuoteBridge(ctx context.Context, fromChainID, toChainID int64, token string, amount decimal.Decimal) (*BridgeQuote, error)
}

// LendingSource quotes lending markets
type LendingSource interface {
	QuoteLending(ctx context.Context, chainID int64, token string) ([]LendingQuote, error)
}

// YieldSource lists yield opportunities
type YieldSource interface {
	TopYields(ctx context.Context, limit int) ([]YieldEntry, error)
}
