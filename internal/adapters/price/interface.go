package price

import (
	"context"

	"github.com/shopspring/decimal"
)

// Oracle is the USD price boundary
type Oracle interface {
	// GetTokenPrice returns the current USD price for a token symbol.
	GetTokenPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// stablecoins are pegged assets answered without a network call.
var stablecoins = map[string]bool{
	"USDC": true,
	"USDT": true,
	"DAI":  true,
	"BUSD": true,
	"TUSD": true,
	"USDP": true,
}

// IsStablecoin reports whether a symbol is treated as pegged to 1 USD.
func IsStablecoin(symbol string) bool {
	return stablecoins[symbol]
}
