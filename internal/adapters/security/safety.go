// Package security holds the outbound token-safety and contract-source
// boundaries consumed by the risk engine.
package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/retry"
	"github.com/chainclaw/chainclaw/pkg/models"
)

// SafetyAPI fetches token-safety reports for a contract
type SafetyAPI interface {
	FetchReport(ctx context.Context, chainID int64, address string) (*models.TokenSafetyReport, error)
}

// SourceAPI fetches verified contract source code
type SourceAPI interface {
	FetchSource(ctx context.Context, chainID int64, address string) (string, error)
}

const goPlusAPIURL = "https://api.gopluslabs.io/api/v1/token_security"

// GoPlusClient implements SafetyAPI against the GoPlus token security API
type GoPlusClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewGoPlusClient creates the client; the key is optional on the free tier.
func NewGoPlusClient(apiKey string) *GoPlusClient {
	return &GoPlusClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: goPlusAPIURL,
		apiKey:  apiKey,
	}
}

// NewGoPlusClientWithBase points the client at a custom endpoint. Test entry point.
func NewGoPlusClientWithBase(baseURL string) *GoPlusClient {
	c := NewGoPlusClient("")
	c.baseURL = baseURL
	return c
}

type goPlusResult struct {
	Result map[string]struct {
		IsHoneypot       string `json:"is_honeypot"`
		BuyTax           string `json:"buy_tax"`
		SellTax          string `json:"sell_tax"`
		IsMintable       string `json:"is_mintable"`
		TransferPausable string `json:"transfer_pausable"`
		IsBlacklisted    string `json:"is_blacklisted"`
		IsOpenSource     string `json:"is_open_source"`
		IsProxy          string `json:"is_proxy"`
		Holders          []struct {
			Percent string `json:"percent"`
		} `json:"holders"`
	} `json:"result"`
}

// FetchReport queries the safety API and normalises the answer.
func (c *GoPlusClient) FetchReport(ctx context.Context, chainID int64, address string) (*models.TokenSafetyReport, error) {
	address = strings.ToLower(address)
	url := fmt.Sprintf("%s/%d?contract_addresses=%s", c.baseURL, chainID, address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := retry.FetchWithRetry(c.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return nil, fmt.Errorf("safety API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("safety API error %d: %s", resp.StatusCode, string(body))
	}

	var result goPlusResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode safety response: %w", err)
	}

	raw, ok := result.Result[address]
	if !ok {
		return nil, fmt.Errorf("no safety data for %s on chain %d", address, chainID)
	}

	report := &models.TokenSafetyReport{
		Address:           address,
		ChainID:           chainID,
		IsHoneypot:        raw.IsHoneypot == "1",
		BuyTaxPercent:     parsePercent(raw.BuyTax),
		SellTaxPercent:    parsePercent(raw.SellTax),
		OwnerCanMint:      raw.IsMintable == "1",
		OwnerCanPause:     raw.TransferPausable == "1",
		OwnerCanBlacklist: raw.IsBlacklisted == "1",
		IsOpenSource:      raw.IsOpenSource == "1",
		IsProxy:           raw.IsProxy == "1",
	}
	if len(raw.Holders) > 0 {
		report.TopHolderPercent = parsePercent(raw.Holders[0].Percent)
	}

	return report, nil
}

// parsePercent converts API fractions ("0.05") into percent values.
func parsePercent(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return v.Mul(decimal.NewFromInt(100))
}

// MockSafety is a canned SafetyAPI for tests.
type MockSafety struct {
	Reports map[string]*models.TokenSafetyReport
	Err     error
}

// FetchReport returns the configured report for the address.
func (m *MockSafety) FetchReport(_ context.Context, chainID int64, address string) (*models.TokenSafetyReport, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if report, ok := m.Reports[strings.ToLower(address)]; ok {
		return report, nil
	}
	return &models.TokenSafetyReport{Address: address, ChainID: chainID, IsOpenSource: true}, nil
}
