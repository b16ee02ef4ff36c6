// Package pipeline drives a transaction from intent to receipt: risk
// gate, simulation, guardrails, confirmation, gas policy, broadcast and
// the confirmation watch. Every attempt leaves a durable tx_log record.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/internal/adapters/chain"
	"github.com/chainclaw/chainclaw/internal/guardrails"
	"github.com/chainclaw/chainclaw/internal/hooks"
	"github.com/chainclaw/chainclaw/internal/risk"
	"github.com/chainclaw/chainclaw/internal/txlog"
	"github.com/chainclaw/chainclaw/pkg/logger"
	"github.com/chainclaw/chainclaw/pkg/models"
)

const (
	confirmTimeout     = 2 * time.Minute
	receiptPoll        = 2 * time.Second
	defaultWatchWindow = 3 * time.Minute

	// round-trip loss above this is surfaced as a honeypot warning
	roundTripWarnPercent = 20
)

// Signer produces signed transactions for keystore addresses.
type Signer interface {
	SignTx(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// ConfirmFunc asks the user a yes/no question over their channel.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Request describes one transaction to push through the stages.
type Request struct {
	UserID      string
	ChainID     int64
	From        string
	To          string
	ValueWei    *big.Int
	Data        []byte
	GasLimit    int64 // 0 means take the simulation estimate
	AmountUSD   decimal.Decimal
	SkillName   string
	Description string
	Buy         bool // buy-type transactions get the sell-after-buy probe
	Strategy    GasStrategy
	Prefs       models.Preferences
	Confirm     ConfirmFunc // nil when the channel cannot confirm
}

// Result is the final pipeline outcome. A gated or failed transaction
// still yields a Result; errors are reserved for infrastructure faults.
type Result struct {
	TxID     string
	Hash     string
	Status   models.TxStatus
	Message  string
	Warnings []string
}

// Pipeline wires the stages together.
type Pipeline struct {
	chains      *chain.Registry
	riskEngine  *risk.Engine
	sim         Simulator // nil enables the permissive fallback
	guards      *guardrails.Checker
	signer      Signer
	txs         *txlog.Repository
	bus         *hooks.Bus
	watchWindow time.Duration
	log         *zap.Logger
}

// New assembles the pipeline.
func New(chains *chain.Registry, riskEngine *risk.Engine, sim Simulator, guards *guardrails.Checker, signer Signer, txs *txlog.Repository, bus *hooks.Bus) *Pipeline {
	return &Pipeline{
		chains:      chains,
		riskEngine:  riskEngine,
		sim:         sim,
		guards:      guards,
		signer:      signer,
		txs:         txs,
		bus:         bus,
		watchWindow: defaultWatchWindow,
		log:         logger.Named("pipeline"),
	}
}

// Execute runs the full stage sequence for one request.
func (p *Pipeline) Execute(ctx context.Context, req *Request) (*Result, error) {
	client := p.chains.Get(req.ChainID)
	if client == nil {
		return nil, fmt.Errorf("no chain client for chain %d", req.ChainID)
	}

	value := "0"
	if req.ValueWei != nil {
		value = req.ValueWei.String()
	}
	rec, err := p.txs.Create(ctx, &models.TxRecord{
		UserID:            req.UserID,
		ChainID:           req.ChainID,
		FromAddress:       req.From,
		ToAddress:         req.To,
		Value:             value,
		SkillName:         req.SkillName,
		IntentDescription: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tx record: %w", err)
	}

	result := &Result{TxID: rec.ID}

	// stage 1: risk gate
	verdict, err := p.riskEngine.ShouldBlock(ctx, req.UserID, req.ChainID, req.To)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("risk assessment failed: %v", err))
	}
	if verdict.Blocked {
		return p.fail(ctx, result, "blocked by risk engine: "+verdict.Reason)
	}

	// stage 2: simulation
	p.emit(ctx, hooks.KeyTxBeforeSimulate, result.TxID, req)
	simResult, warnings, err := p.simulate(ctx, req)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("simulation failed: %v", err))
	}
	result.Warnings = warnings
	if !simResult.Success {
		return p.fail(ctx, result, "simulation reverted: "+simResult.RevertReason)
	}
	simJSON, _ := json.Marshal(simResult)
	simStr := string(simJSON)
	if err := p.txs.Advance(ctx, result.TxID, models.TxSimulated, txlog.Update{SimulationResult: &simStr}); err != nil {
		return nil, err
	}
	p.emit(ctx, hooks.KeyTxAfterSimulate, result.TxID, simResult)

	// stage 3: guardrails
	check, err := p.guards.Check(ctx, req.UserID, req.AmountUSD)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("guardrail check failed: %v", err))
	}
	checkJSON, _ := json.Marshal(check)
	checkStr := string(checkJSON)
	if !check.Allowed {
		// a denied check reserves nothing
		_ = p.txs.Advance(ctx, result.TxID, models.TxFailed, txlog.Update{
			GuardrailChecks: &checkStr,
			Error:           &check.FailedRule,
		})
		p.emit(ctx, hooks.KeyTxFailed, result.TxID, check.FailedRule)
		result.Status = models.TxFailed
		result.Message = "blocked by guardrails: " + check.FailedRule
		return result, nil
	}
	committed := false
	defer func() {
		if !committed {
			p.guards.Release(req.UserID, req.AmountUSD)
		}
	}()

	// stage 4: confirmation
	needsConfirm := check.ConfirmRequired ||
		req.AmountUSD.GreaterThanOrEqual(req.Prefs.ConfirmThresholdUSD)
	if needsConfirm && req.Confirm != nil {
		ok, err := p.askConfirmation(ctx, req, warnings)
		if err != nil || !ok {
			msg := "transaction cancelled by user"
			if err != nil {
				msg = "No confirmation received, cancelling."
			}
			_ = p.txs.Advance(ctx, result.TxID, models.TxFailed, txlog.Update{
				GuardrailChecks: &checkStr,
				Error:           &msg,
			})
			p.emit(ctx, hooks.KeyTxFailed, result.TxID, msg)
			result.Status = models.TxFailed
			result.Message = msg
			return result, nil
		}
	}

	// stage 5: gas policy
	quote, err := client.Fees(ctx)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("fee quote failed: %v", err))
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = GasStandard
	}
	plan := PlanGas(quote, strategy)

	gasLimit := req.GasLimit
	if gasLimit <= 0 {
		gasLimit = simResult.GasEstimate
	}

	// stage 6: sign and broadcast
	raw, gasPrice, err := p.buildAndSign(ctx, client, req, plan, gasLimit)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("signing failed: %v", err))
	}

	p.emit(ctx, hooks.KeyTxBeforeBroadcast, result.TxID, nil)
	hash, err := client.Broadcast(ctx, raw)
	if err != nil {
		return p.fail(ctx, result, fmt.Sprintf("broadcast failed: %v", err))
	}
	p.guards.Commit(req.UserID, req.AmountUSD)
	committed = true
	if err := p.txs.Advance(ctx, result.TxID, models.TxBroadcast, txlog.Update{
		Hash:            &hash,
		GuardrailChecks: &checkStr,
		GasPrice:        &gasPrice,
	}); err != nil {
		return nil, err
	}
	result.Hash = hash
	p.emit(ctx, hooks.KeyTxAfterBroadcast, result.TxID, hash)

	p.log.Info("Transaction broadcast",
		zap.String("tx_id", result.TxID),
		zap.String("hash", hash),
		zap.Int64("chain_id", req.ChainID),
		zap.String("skill", req.SkillName))

	// stage 7: confirmation watch
	return p.watch(ctx, client, result, hash)
}

func (p *Pipeline) simulate(ctx context.Context, req *Request) (*SimulationResult, []string, error) {
	if p.sim == nil {
		return permissiveResult(), nil, nil
	}

	call := Call{From: req.From, To: req.To, ValueWei: req.ValueWei, Data: req.Data}
	simResult, err := p.sim.Simulate(ctx, req.ChainID, call)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	if req.Buy && simResult.Success {
		probe, err := p.sim.ProbeRoundTrip(ctx, req.ChainID, call)
		if err != nil {
			p.log.Warn("Round-trip probe failed", zap.Error(err))
		} else if !probe.Sellable {
			warnings = append(warnings, "⚠️ the bought token could not be sold back in simulation (honeypot behaviour)")
		} else if probe.LossPercent.GreaterThan(decimal.NewFromInt(roundTripWarnPercent)) {
			warnings = append(warnings,
				fmt.Sprintf("⚠️ buying and immediately selling loses %s%% in simulation", probe.LossPercent.StringFixed(1)))
		}
	}
	return simResult, warnings, nil
}

func (p *Pipeline) askConfirmation(ctx context.Context, req *Request, warnings []string) (bool, error) {
	prompt := fmt.Sprintf("Confirm %s of ~$%s on chain %d to %s?",
		req.SkillName, req.AmountUSD.StringFixed(2), req.ChainID, req.To)
	for _, w := range warnings {
		prompt += "\n" + w
	}

	confirmCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	return req.Confirm(confirmCtx, prompt)
}

func (p *Pipeline) buildAndSign(ctx context.Context, client chain.Client, req *Request, plan *GasPlan, gasLimit int64) ([]byte, string, error) {
	from := common.HexToAddress(req.From)
	nonce, err := client.PendingNonce(ctx, req.From)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch nonce: %w", err)
	}

	to := common.HexToAddress(req.To)
	value := req.ValueWei
	if value == nil {
		value = big.NewInt(0)
	}

	var tx *types.Transaction
	var gasPrice string
	if plan.Legacy {
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: plan.GasPrice,
			Gas:      uint64(gasLimit),
			To:       &to,
			Value:    value,
			Data:     req.Data,
		})
		gasPrice = plan.GasPrice.String()
	} else {
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   big.NewInt(req.ChainID),
			Nonce:     nonce,
			GasTipCap: plan.TipCap,
			GasFeeCap: plan.FeeCap,
			Gas:       uint64(gasLimit),
			To:        &to,
			Value:     value,
			Data:      req.Data,
		})
		gasPrice = plan.FeeCap.String()
	}

	signed, err := p.signer.SignTx(from, tx, big.NewInt(req.ChainID))
	if err != nil {
		return nil, "", err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode signed tx: %w", err)
	}
	return raw, gasPrice, nil
}

func (p *Pipeline) watch(ctx context.Context, client chain.Client, result *Result, hash string) (*Result, error) {
	deadline := time.Now().Add(p.watchWindow)
	ticker := time.NewTicker(receiptPoll)
	defer ticker.Stop()

	for {
		rcpt, found, err := client.ReceiptFor(ctx, hash)
		if err != nil {
			p.log.Warn("Receipt poll failed", zap.String("hash", hash), zap.Error(err))
		} else if found && rcpt.Mined {
			if rcpt.Success {
				_ = p.txs.Advance(ctx, result.TxID, models.TxConfirmed, txlog.Update{
					GasUsed:     &rcpt.GasUsed,
					BlockNumber: &rcpt.BlockNumber,
				})
				p.emit(ctx, hooks.KeyTxConfirmed, result.TxID, rcpt)
				result.Status = models.TxConfirmed
				result.Message = fmt.Sprintf("✅ Confirmed in block %d (gas used %d)", rcpt.BlockNumber, rcpt.GasUsed)
				return result, nil
			}
			reason := "transaction reverted on-chain"
			_ = p.txs.Advance(ctx, result.TxID, models.TxFailed, txlog.Update{
				GasUsed:     &rcpt.GasUsed,
				BlockNumber: &rcpt.BlockNumber,
				Error:       &reason,
			})
			p.emit(ctx, hooks.KeyTxFailed, result.TxID, reason)
			result.Status = models.TxFailed
			result.Message = reason
			return result, nil
		}

		if time.Now().After(deadline) {
			// still in flight; boot reconciliation settles it later
			result.Status = models.TxBroadcast
			result.Message = fmt.Sprintf("Broadcast as %s, still waiting for confirmation", hash)
			return result, nil
		}

		select {
		case <-ctx.Done():
			result.Status = models.TxBroadcast
			result.Message = fmt.Sprintf("Broadcast as %s, confirmation watch interrupted", hash)
			return result, nil
		case <-ticker.C:
		}
	}
}

// fail records a terminal failure and mirrors it in the result.
func (p *Pipeline) fail(ctx context.Context, result *Result, reason string) (*Result, error) {
	if err := p.txs.Advance(ctx, result.TxID, models.TxFailed, txlog.Update{Error: &reason}); err != nil {
		p.log.Error("Failed to record tx failure", zap.String("tx_id", result.TxID), zap.Error(err))
	}
	p.emit(ctx, hooks.KeyTxFailed, result.TxID, reason)
	result.Status = models.TxFailed
	result.Message = reason
	return result, nil
}

func (p *Pipeline) emit(ctx context.Context, key, txID string, payload interface{}) {
	if p.bus == nil {
		return
	}
	category, action, err := hooks.SplitKey(key)
	if err != nil {
		return
	}
	p.bus.Emit(ctx, hooks.Event{
		Category: category,
		Action:   action,
		Payload:  map[string]interface{}{"tx_id": txID, "data": payload},
	})
}
