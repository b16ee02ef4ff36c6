package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/retry"
)

const coingeckoAPIURL = "https://api.coingecko.com/api/v3"

// cacheTTL keeps non-stablecoin quotes fresh without hammering the API.
const cacheTTL = 60 * time.Second

// CoinGeckoOracle implements Oracle using the CoinGecko API (free, no key)
type CoinGeckoOracle struct {
	client  *http.Client
	cache   *gocache.Cache
	baseURL string
}

// NewCoinGeckoOracle creates the oracle.
func NewCoinGeckoOracle() *CoinGeckoOracle {
	return &CoinGeckoOracle{
		client:  &http.Client{Timeout: 10 * time.Second},
		cache:   gocache.New(cacheTTL, 5*time.Minute),
		baseURL: coingeckoAPIURL,
	}
}

// NewCoinGeckoOracleWithBase creates the oracle against a custom endpoint.
// Test entry point.
func NewCoinGeckoOracleWithBase(baseURL string) *CoinGeckoOracle {
	o := NewCoinGeckoOracle()
	o.baseURL = baseURL
	return o
}

// GetTokenPrice returns current USD price. Stablecoins answer 1.0 without a
// network call; everything else is cached for 60 seconds.
func (o *CoinGeckoOracle) GetTokenPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	symbol = strings.ToUpper(symbol)

	if IsStablecoin(symbol) {
		return decimal.NewFromInt(1), nil
	}

	if cached, ok := o.cache.Get(symbol); ok {
		return cached.(decimal.Decimal), nil
	}

	coinID := mapSymbolToCoinGeckoID(symbol)
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", o.baseURL, coinID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := retry.FetchWithRetry(o.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return decimal.Zero, fmt.Errorf("price request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price API error %d: %s", resp.StatusCode, string(body))
	}

	var result map[string]struct {
		USD float64 `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode price response: %w", err)
	}

	data, ok := result[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("price not found for %s", symbol)
	}

	priceUSD := decimal.NewFromFloat(data.USD)
	o.cache.Set(symbol, priceUSD, cacheTTL)

	return priceUSD, nil
}

// mapSymbolToCoinGeckoID translates ticker symbols to CoinGecko coin ids.
func mapSymbolToCoinGeckoID(symbol string) string {
	known := map[string]string{
		"ETH":   "ethereum",
		"WETH":  "weth",
		"BTC":   "bitcoin",
		"WBTC":  "wrapped-bitcoin",
		"BNB":   "binancecoin",
		"MATIC": "matic-network",
		"POL":   "matic-network",
		"ARB":   "arbitrum",
		"OP":    "optimism",
		"LINK":  "chainlink",
		"UNI":   "uniswap",
		"AAVE":  "aave",
		"SOL":   "solana",
	}
	if id, ok := known[symbol]; ok {
		return id
	}
	return strings.ToLower(symbol)
}
