package dexapi

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/retry"
)

const (
	zeroExAPIURL    = "https://api.0x.org/swap/v1/quote"
	lifiAPIURL      = "https://li.quest/v1/quote"
	defiLlamaYields = "https://yields.llama.fi/pools"
)

// ZeroExClient implements DEXAggregator against a 0x-style quote API
type ZeroExClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewZeroExClient creates the client.
func NewZeroExClient(apiKey string) *ZeroExClient {
	return &ZeroExClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: zeroExAPIURL,
		apiKey:  apiKey,
	}
}

// NewZeroExClientWithBase points at a custom endpoint. Test entry point.
func NewZeroExClientWithBase(baseURL string) *ZeroExClient {
	c := NewZeroExClient("")
	c.baseURL = baseURL
	return c
}

// QuoteSwap fetches a swap quote.
func (c *ZeroExClient) QuoteSwap(ctx context.Context, chainID int64, fromToken, toToken string, amount decimal.Decimal) (*SwapQuote, error) {
	q := url.Values{}
	q.Set("chainId", fmt.Sprintf("%d", chainID))
	q.Set("sellToken", fromToken)
	q.Set("buyToken", toToken)
	q.Set("sellAmount", amount.Shift(18).Truncate(0).String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("0x-api-key", c.apiKey)
	}

	resp, err := retry.FetchWithRetry(c.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return nil, fmt.Errorf("swap quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("swap quote error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		BuyAmount            string `json:"buyAmount"`
		EstimatedPriceImpact string `json:"estimatedPriceImpact"`
		To                   string `json:"to"`
		Data                 string `json:"data"`
		Value                string `json:"value"`
		Gas                  string `json:"gas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode swap quote: %w", err)
	}

	amountOut, err := decimal.NewFromString(result.BuyAmount)
	if err != nil {
		return nil, fmt.Errorf("bad buyAmount in quote: %w", err)
	}
	impact, _ := decimal.NewFromString(result.EstimatedPriceImpact)
	gas, _ := decimal.NewFromString(result.Gas)
	callData, _ := hex.DecodeString(trimHexPrefix(result.Data))

	return &SwapQuote{
		FromToken:   fromToken,
		ToToken:     toToken,
		AmountIn:    amount,
		AmountOut:   amountOut.Shift(-18),
		PriceImpact: impact,
		Router:      result.To,
		CallData:    callData,
		ValueWei:    result.Value,
		GasEstimate: gas.IntPart(),
	}, nil
}

// LiFiClient implements BridgeAggregator against a li.fi-style API
type LiFiClient struct {
	client  *http.Client
	baseURL string
}

// NewLiFiClient creates the client.
func NewLiFiClient() *LiFiClient {
	return &LiFiClient{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: lifiAPIURL,
	}
}

// QuoteBridge fetches a cross-chain quote.
func (c *LiFiClient) QuoteBridge(ctx context.Context, fromChainID, toChainID int64, token string, amount decimal.Decimal) (*BridgeQuote, error) {
	q := url.Values{}
	q.Set("fromChain", fmt.Sprintf("%d", fromChainID))
	q.Set("toChain", fmt.Sprintf("%d", toChainID))
	q.Set("fromToken", token)
	q.Set("toToken", token)
	q.Set("fromAmount", amount.Shift(18).Truncate(0).String())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := retry.FetchWithRetry(c.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return nil, fmt.Errorf("bridge quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bridge quote error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Estimate struct {
			ToAmount          string `json:"toAmount"`
			ExecutionDuration int    `json:"executionDuration"`
			FeeCosts          []struct {
				AmountUSD string `json:"amountUsd"`
			} `json:"feeCosts"`
		} `json:"estimate"`
		TransactionRequest struct {
			To   string `json:"to"`
			Data string `json:"data"`
		} `json:"transactionRequest"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode bridge quote: %w", err)
	}

	amountOut, err := decimal.NewFromString(result.Estimate.ToAmount)
	if err != nil {
		return nil, fmt.Errorf("bad toAmount in quote: %w", err)
	}
	feeUSD := decimal.Zero
	for _, fee := range result.Estimate.FeeCosts {
		if v, err := decimal.NewFromString(fee.AmountUSD); err == nil {
			feeUSD = feeUSD.Add(v)
		}
	}
	callData, _ := hex.DecodeString(trimHexPrefix(result.TransactionRequest.Data))

	return &BridgeQuote{
		FromChainID: fromChainID,
		ToChainID:   toChainID,
		Token:       token,
		AmountIn:    amount,
		AmountOut:   amountOut.Shift(-18),
		FeeUSD:      feeUSD,
		ETASeconds:  result.Estimate.ExecutionDuration,
		Router:      result.TransactionRequest.To,
		CallData:    callData,
	}, nil
}

// DefiLlamaClient implements LendingSource and YieldSource over the
// DefiLlama yields API
type DefiLlamaClient struct {
	client  *http.Client
	baseURL string
}

// NewDefiLlamaClient creates the client.
func NewDefiLlamaClient() *DefiLlamaClient {
	return &DefiLlamaClient{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: defiLlamaYields,
	}
}

type llamaPool struct {
	Project string  `json:"project"`
	Chain   string  `json:"chain"`
	Symbol  string  `json:"symbol"`
	APY     float64 `json:"apy"`
	TVLUSD  float64 `json:"tvlUsd"`
	Pool    string  `json:"pool"`
}

func (c *DefiLlamaClient) fetchPools(ctx context.Context) ([]llamaPool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := retry.FetchWithRetry(c.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return nil, fmt.Errorf("yields request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yields API error %d", resp.StatusCode)
	}

	var result struct {
		Data []llamaPool `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode yields: %w", err)
	}
	return result.Data, nil
}

// QuoteLending lists lending markets for a token.
func (c *DefiLlamaClient) QuoteLending(ctx context.Context, _ int64, token string) ([]LendingQuote, error) {
	pools, err := c.fetchPools(ctx)
	if err != nil {
		return nil, err
	}

	var quotes []LendingQuote
	for _, p := range pools {
		if p.Symbol != token {
			continue
		}
		quotes = append(quotes, LendingQuote{
			Protocol:    p.Project,
			Token:       p.Symbol,
			SupplyAPY:   decimal.NewFromFloat(p.APY),
			TVLUSD:      decimal.NewFromFloat(p.TVLUSD),
			PoolAddress: p.Pool,
		})
		if len(quotes) >= 5 {
			break
		}
	}
	return quotes, nil
}

// TopYields lists the highest-TVL yield entries.
func (c *DefiLlamaClient) TopYields(ctx context.Context, limit int) ([]YieldEntry, error) {
	pools, err := c.fetchPools(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	entries := make([]YieldEntry, 0, limit)
	for _, p := range pools {
		entries = append(entries, YieldEntry{
			Protocol: p.Project,
			Chain:    p.Chain,
			Token:    p.Symbol,
			APY:      decimal.NewFromFloat(p.APY),
			TVLUSD:   decimal.NewFromFloat(p.TVLUSD),
		})
		if len(entries) >= limit {
			break
		}
	}
	return entries, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
