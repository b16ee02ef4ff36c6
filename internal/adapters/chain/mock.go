package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// Mock is an in-memory Client for tests and quote-only operation.
type Mock struct {
	mu        sync.Mutex
	ID        int64
	Balances  map[string][]TokenBalance
	Receipts  map[string]*Receipt
	Fee       *FeeQuote
	nonce     uint64
	broadcast []string
}

// NewMock creates a mock client for the chain id.
func NewMock(chainID int64) *Mock {
	return &Mock{
		ID:       chainID,
		Balances: make(map[string][]TokenBalance),
		Receipts: make(map[string]*Receipt),
		Fee:      &FeeQuote{BaseFee: big.NewInt(20_000_000_000), Supports1559: true},
	}
}

// ChainID returns the mock chain id.
func (m *Mock) ChainID() int64 { return m.ID }

// NativeBalance returns a fixed 1-unit balance unless Balances overrides it.
func (m *Mock) NativeBalance(_ context.Context, address string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bals, ok := m.Balances[address]; ok && len(bals) > 0 {
		return bals[0].Amount.Shift(int32(bals[0].Decimals)).BigInt(), nil
	}
	return big.NewInt(1_000_000_000_000_000_000), nil
}

// TokenBalances returns the configured balances for the address.
func (m *Mock) TokenBalances(_ context.Context, address string) ([]TokenBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bals, ok := m.Balances[address]; ok {
		return bals, nil
	}
	return nil, nil
}

// Fees returns the configured fee quote.
func (m *Mock) Fees(context.Context) (*FeeQuote, error) {
	return m.Fee, nil
}

// PendingNonce increments per call.
func (m *Mock) PendingNonce(context.Context, string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nonce
	m.nonce++
	return n, nil
}

// Broadcast records the raw tx and mints a deterministic hash with an
// immediately-mined successful receipt.
func (m *Mock) Broadcast(_ context.Context, rawTx []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hash := fmt.Sprintf("0xmock%06d", len(m.broadcast))
	m.broadcast = append(m.broadcast, hash)
	m.Receipts[hash] = &Receipt{Mined: true, Success: true, GasUsed: 21000, BlockNumber: int64(1000 + len(m.broadcast))}
	return hash, nil
}

// ReceiptFor returns the stored receipt for the hash.
func (m *Mock) ReceiptFor(_ context.Context, hash string) (*Receipt, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rcpt, ok := m.Receipts[hash]
	return rcpt, ok, nil
}

// BroadcastCount reports how many transactions were submitted.
func (m *Mock) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.broadcast)
}
