package dexapi

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// MockDEX returns canned swap quotes at a fixed exchange rate.
type MockDEX struct {
	// Rate is toToken per fromToken. Defaults to 1 when zero.
	Rate   decimal.Decimal
	Impact decimal.Decimal
	Err    error
	calls  int
}

// QuoteSwap returns the canned quote.
func (m *MockDEX) QuoteSwap(_ context.Context, _ int64, fromToken, toToken string, amount decimal.Decimal) (*SwapQuote, error) {
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	rate := m.Rate
	if rate.IsZero() {
		rate = decimal.NewFromInt(1)
	}
	return &SwapQuote{
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    amount,
		AmountOut:   amount.Mul(rate),
		PriceImpact: m.Impact,
		Router:      "0x00000000000000000000000000000000000a11ce",
		CallData:    []byte{0xde, 0xad},
		ValueWei:    "0",
		GasEstimate: 210000,
	}, nil
}

// Calls reports how many quotes were requested.
func (m *MockDEX) Calls() int { return m.calls }

// MockBridge returns canned bridge quotes with a flat fee.
type MockBridge struct {
	FeeUSD decimal.Decimal
	Err    error
}

// QuoteBridge returns the canned quote.
func (m *MockBridge) QuoteBridge(_ context.Context, fromChainID, toChainID int64, token string, amount decimal.Decimal) (*BridgeQuote, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return &BridgeQuote{
		FromChainID: fromChainID,
		ToChainID:   toChainID,
		Token:       token,
		AmountIn:    amount,
		AmountOut:   amount,
		FeeUSD:      m.FeeUSD,
		ETASeconds:  180,
		Router:      "0x0000000000000000000000000000000000b71d9e",
		CallData:    []byte{0xbe, 0xef},
	}, nil
}

// MockLending serves preset lending quotes keyed by token symbol.
type MockLending struct {
	Quotes map[string][]LendingQuote
	Err    error
}

// QuoteLending returns the preset quotes for token.
func (m *MockLending) QuoteLending(_ context.Context, _ int64, token string) ([]LendingQuote, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if q, ok := m.Quotes[token]; ok {
		return q, nil
	}
	return nil, fmt.Errorf("no lending market for %s", token)
}

// MockYields serves a preset yield list.
type MockYields struct {
	Entries []YieldEntry
	Err     error
}

// TopYields returns up to limit preset entries.
func (m *MockYields) TopYields(_ context.Context, limit int) ([]YieldEntry, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if limit <= 0 || limit > len(m.Entries) {
		limit = len(m.Entries)
	}
	return m.Entries[:limit], nil
}
