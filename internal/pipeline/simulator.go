package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chainclaw/chainclaw/internal/retry"
)

// Call is one transaction frame submitted to the simulator.
type Call struct {
	From     string
	To       string
	ValueWei *big.Int
	Data     []byte
}

// BalanceChange is one token delta reported by the simulator.
type BalanceChange struct {
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

// SimulationResult is the pre-flight verdict for a single call.
type SimulationResult struct {
	Success        bool            `json:"success"`
	GasEstimate    int64           `json:"gas_estimate"`
	BalanceChanges []BalanceChange `json:"balance_changes,omitempty"`
	RevertReason   string          `json:"revert_reason,omitempty"`
	// Fallback marks results produced without a configured simulator.
	Fallback bool `json:"fallback,omitempty"`
}

// RoundTrip is the sell-after-buy honeypot probe verdict.
type RoundTrip struct {
	Sellable    bool            `json:"sellable"`
	LossPercent decimal.Decimal `json:"loss_percent"`
}

// Simulator is the external bundle-simulation boundary.
type Simulator interface {
	// Simulate pre-flights a single call.
	Simulate(ctx context.Context, chainID int64, call Call) (*SimulationResult, error)
	// ProbeRoundTrip runs the approve/buy/sell bundle for a buy-type
	// call and reports whether the bought token can be sold back.
	ProbeRoundTrip(ctx context.Context, chainID int64, call Call) (*RoundTrip, error)
}

// fallbackGasEstimate is deliberately conservative; the real cost is
// always lower for plain transfers and most swaps.
const fallbackGasEstimate = 500_000

// permissiveResult is returned when no simulator is configured.
func permissiveResult() *SimulationResult {
	return &SimulationResult{
		Success:     true,
		GasEstimate: fallbackGasEstimate,
		Fallback:    true,
	}
}

// HTTPSimulator talks to a Tenderly-style bundle simulation API.
type HTTPSimulator struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTPSimulator creates the client.
func NewHTTPSimulator(baseURL, apiKey string) *HTTPSimulator {
	return &HTTPSimulator{
		client:  &http.Client{Timeout: 20 * time.Second},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type simRequest struct {
	ChainID int64     `json:"chain_id"`
	Calls   []simCall `json:"calls"`
}

type simCall struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value"`
	Data  string `json:"data"`
}

type simResponse struct {
	Results []struct {
		Success        bool   `json:"success"`
		GasUsed        int64  `json:"gas_used"`
		RevertReason   string `json:"revert_reason"`
		BalanceChanges []struct {
			Token  string `json:"token"`
			Amount string `json:"amount"`
		} `json:"balance_changes"`
	} `json:"results"`
}

func (s *HTTPSimulator) submit(ctx context.Context, chainID int64, calls []Call) (*simResponse, error) {
	req := simRequest{ChainID: chainID}
	for _, c := range calls {
		value := "0"
		if c.ValueWei != nil {
			value = c.ValueWei.String()
		}
		req.Calls = append(req.Calls, simCall{
			From:  c.From,
			To:    c.To,
			Value: value,
			Data:  fmt.Sprintf("0x%x", c.Data),
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode simulation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("X-Access-Key", s.apiKey)
	}

	resp, err := retry.FetchWithRetry(s.client, httpReq, body, retry.FetchOptions{MaxAttempts: 3})
	if err != nil {
		return nil, fmt.Errorf("simulation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("simulator returned %d", resp.StatusCode)
	}

	var out simResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode simulation response: %w", err)
	}
	return &out, nil
}

// Simulate pre-flights a single call.
func (s *HTTPSimulator) Simulate(ctx context.Context, chainID int64, call Call) (*SimulationResult, error) {
	resp, err := s.submit(ctx, chainID, []Call{call})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("simulator returned no results")
	}

	r := resp.Results[0]
	result := &SimulationResult{
		Success:      r.Success,
		GasEstimate:  r.GasUsed,
		RevertReason: r.RevertReason,
	}
	for _, bc := range r.BalanceChanges {
		amount, err := decimal.NewFromString(bc.Amount)
		if err != nil {
			continue
		}
		result.BalanceChanges = append(result.BalanceChanges, BalanceChange{
			Token:  bc.Token,
			Amount: amount,
		})
	}
	return result, nil
}

// ProbeRoundTrip submits the three-frame bundle: approve the router,
// execute the buy, then sell the full output straight back.
func (s *HTTPSimulator) ProbeRoundTrip(ctx context.Context, chainID int64, call Call) (*RoundTrip, error) {
	// the approve and sell frames target the same router with the
	// simulator substituting the bought amount
	bundle := []Call{
		{From: call.From, To: call.To, Data: []byte{0x09, 0x5e, 0xa7, 0xb3}},
		call,
		{From: call.From, To: call.To, Data: []byte{0xff}},
	}
	resp, err := s.submit(ctx, chainID, bundle)
	if err != nil {
		return nil, err
	}
	if len(resp.Results) < 3 {
		return nil, fmt.Errorf("simulator returned %d results for round-trip bundle", len(resp.Results))
	}

	sell := resp.Results[2]
	if !sell.Success {
		return &RoundTrip{Sellable: false, LossPercent: decimal.NewFromInt(100)}, nil
	}

	// loss is (in - out) / in across the buy and sell native deltas
	buyIn := bundleNativeDelta(resp.Results[1].BalanceChanges)
	sellOut := bundleNativeDelta(sell.BalanceChanges)
	loss := decimal.Zero
	if buyIn.IsNegative() && sellOut.IsPositive() {
		spent := buyIn.Neg()
		if spent.IsPositive() {
			loss = spent.Sub(sellOut).Div(spent).Mul(decimal.NewFromInt(100))
		}
	}
	return &RoundTrip{Sellable: true, LossPercent: loss}, nil
}

func bundleNativeDelta(changes []struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}) decimal.Decimal {
	for _, c := range changes {
		if c.Token == "native" || c.Token == "ETH" {
			if v, err := decimal.NewFromString(c.Amount); err == nil {
				return v
			}
		}
	}
	return decimal.Zero
}

// MockSimulator is a scripted Simulator for tests.
type MockSimulator struct {
	Result     *SimulationResult
	Probe      *RoundTrip
	Err        error
	SimCalls   int
	ProbeCalls int
}

// Simulate returns the scripted result.
func (m *MockSimulator) Simulate(_ context.Context, _ int64, _ Call) (*SimulationResult, error) {
	m.SimCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result != nil {
		return m.Result, nil
	}
	return &SimulationResult{Success: true, GasEstimate: 150_000}, nil
}

// ProbeRoundTrip returns the scripted probe verdict.
func (m *MockSimulator) ProbeRoundTrip(_ context.Context, _ int64, _ Call) (*RoundTrip, error) {
	m.ProbeCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Probe != nil {
		return m.Probe, nil
	}
	return &RoundTrip{Sellable: true, LossPercent: decimal.Zero}, nil
}
