// Package chain is the blockchain RPC boundary. The core depends only on the
// Client interface; the ethclient adapter is wired at boot.
package chain

import (
	"context"
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenBalance is one formatted holding on one chain
type TokenBalance struct {
	Symbol   string
	Address  string
	Amount   decimal.Decimal
	Decimals int
}

// FeeQuote carries current fee-market figures for gas policy
type FeeQuote struct {
	BaseFee      *big.Int // nil on legacy chains
	GasPrice     *big.Int // legacy fallback
	Supports1559 bool
}

// Receipt is the mined-transaction summary consumed by the pipeline
type Receipt struct {
	Mined       bool
	Success     bool
	GasUsed     int64
	BlockNumber int64
}

// Client is the per-chain RPC boundary
type Client interface {
	// ChainID returns the chain this client is connected to.
	ChainID() int64
	// NativeBalance returns the native coin balance in wei.
	NativeBalance(ctx context.Context, address string) (*big.Int, error)
	// TokenBalances returns formatted balances for the registry tokens the
	// address holds, native coin included.
	TokenBalances(ctx context.Context, address string) ([]TokenBalance, error)
	// Fees returns current fee-market figures.
	Fees(ctx context.Context) (*FeeQuote, error)
	// PendingNonce returns the next nonce for the address.
	PendingNonce(ctx context.Context, address string) (uint64, error)
	// Broadcast submits a signed raw transaction and returns its hash.
	Broadcast(ctx context.Context, rawTx []byte) (string, error)
	// ReceiptFor looks up a transaction hash. found=false means the chain
	// has not seen the hash.
	ReceiptFor(ctx context.Context, hash string) (rcpt *Receipt, found bool, err error)
}

// Registry resolves clients by chain id
type Registry struct {
	clients map[int64]Client
}

// NewRegistry builds a registry from concrete clients.
func NewRegistry(clients ...Client) *Registry {
	m := make(map[int64]Client, len(clients))
	for _, c := range clients {
		m[c.ChainID()] = c
	}
	return &Registry{clients: m}
}

// Get returns the client for a chain id, or nil.
func (r *Registry) Get(chainID int64) Client {
	return r.clients[chainID]
}

// ChainIDs lists the connected chains.
func (r *Registry) ChainIDs() []int64 {
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	return ids
}
