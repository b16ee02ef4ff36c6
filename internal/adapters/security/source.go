package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chainclaw/chainclaw/internal/retry"
)

const etherscanAPIURL = "https://api.etherscan.io/v2/api"

// EtherscanClient implements SourceAPI against the etherscan-style
// contract-verification API.
type EtherscanClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewEtherscanClient creates the client.
func NewEtherscanClient(apiKey string) *EtherscanClient {
	return &EtherscanClient{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: etherscanAPIURL,
		apiKey:  apiKey,
	}
}

// NewEtherscanClientWithBase points at a custom endpoint. Test entry point.
func NewEtherscanClientWithBase(baseURL string) *EtherscanClient {
	c := NewEtherscanClient("")
	c.baseURL = baseURL
	return c
}

// FetchSource returns the verified source, or "" for unverified contracts.
func (c *EtherscanClient) FetchSource(ctx context.Context, chainID int64, address string) (string, error) {
	url := fmt.Sprintf("%s?chainid=%d&module=contract&action=getsourcecode&address=%s&apikey=%s",
		c.baseURL, chainID, address, c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := retry.FetchWithRetry(c.client, req, nil, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return "", fmt.Errorf("source API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("source API error %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Status string `json:"status"`
		Result []struct {
			SourceCode string `json:"SourceCode"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode source response: %w", err)
	}

	if len(result.Result) == 0 {
		return "", nil
	}
	return result.Result[0].SourceCode, nil
}

// MockSource is a canned SourceAPI for tests.
type MockSource struct {
	Sources map[string]string
	Err     error
}

// FetchSource returns the configured source text.
func (m *MockSource) FetchSource(_ context.Context, _ int64, address string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	return m.Sources[address], nil
}
