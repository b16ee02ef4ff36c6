package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/logger"
)

// erc20BalanceOfSelector is keccak("balanceOf(address)")[:4].
var erc20BalanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// TrackedToken is a registry token the balance aggregation knows about.
type TrackedToken struct {
	Symbol   string
	Address  string
	Decimals int
}

// EthClient is the go-ethereum backed Client implementation.
type EthClient struct {
	chainID      int64
	nativeSymbol string
	client       *ethclient.Client
	tokens       []TrackedToken
}

// Dial connects to an RPC endpoint and verifies the chain id matches.
func Dial(ctx context.Context, chainID int64, nativeSymbol, rpcURL string, tokens []TrackedToken) (*EthClient, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chain %d: %w", chainID, err)
	}

	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to query chain id: %w", err)
	}
	if remote.Int64() != chainID {
		client.Close()
		return nil, fmt.Errorf("rpc endpoint reports chain %d, expected %d", remote.Int64(), chainID)
	}

	logger.Info("chain client connected",
		zap.Int64("chain_id", chainID),
		zap.String("rpc", rpcURL),
	)

	return &EthClient{
		chainID:      chainID,
		nativeSymbol: nativeSymbol,
		client:       client,
		tokens:       tokens,
	}, nil
}

// ChainID returns the connected chain id.
func (c *EthClient) ChainID() int64 {
	return c.chainID
}

// NativeBalance returns the native coin balance in wei.
func (c *EthClient) NativeBalance(ctx context.Context, address string) (*big.Int, error) {
	bal, err := c.client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query balance: %w", err)
	}
	return bal, nil
}

// TokenBalances aggregates native plus registry ERC-20 balances.
func (c *EthClient) TokenBalances(ctx context.Context, address string) ([]TokenBalance, error) {
	native, err := c.NativeBalance(ctx, address)
	if err != nil {
		return nil, err
	}

	balances := []TokenBalance{{
		Symbol:   c.nativeSymbol,
		Address:  "",
		Amount:   weiToDecimal(native, 18),
		Decimals: 18,
	}}

	holder := common.HexToAddress(address)
	for _, token := range c.tokens {
		raw, err := c.erc20BalanceOf(ctx, common.HexToAddress(token.Address), holder)
		if err != nil {
			logger.Warn("token balance query failed",
				zap.String("token", token.Symbol),
				zap.Error(err),
			)
			continue
		}
		if raw.Sign() == 0 {
			continue
		}
		balances = append(balances, TokenBalance{
			Symbol:   token.Symbol,
			Address:  token.Address,
			Amount:   weiToDecimal(raw, token.Decimals),
			Decimals: token.Decimals,
		})
	}

	return balances, nil
}

func (c *EthClient) erc20BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	data := make([]byte, 0, 36)
	data = append(data, erc20BalanceOfSelector...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).SetBytes(out), nil
}

// Fees returns fee-market figures, detecting 1559 support from the head block.
func (c *EthClient) Fees(ctx context.Context) (*FeeQuote, error) {
	head, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head block: %w", err)
	}

	if head.BaseFee != nil {
		return &FeeQuote{BaseFee: head.BaseFee, Supports1559: true}, nil
	}

	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return &FeeQuote{GasPrice: gasPrice, Supports1559: false}, nil
}

// PendingNonce returns the next nonce for the address.
func (c *EthClient) PendingNonce(ctx context.Context, address string) (uint64, error) {
	nonce, err := c.client.PendingNonceAt(ctx, common.HexToAddress(address))
	if err != nil {
		return 0, fmt.Errorf("failed to query nonce: %w", err)
	}
	return nonce, nil
}

// Broadcast submits a signed raw transaction.
func (c *EthClient) Broadcast(ctx context.Context, rawTx []byte) (string, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(rawTx); err != nil {
		return "", fmt.Errorf("failed to decode raw transaction: %w", err)
	}
	if err := c.client.SendTransaction(ctx, &tx); err != nil {
		return "", fmt.Errorf("failed to broadcast transaction: %w", err)
	}
	return tx.Hash().Hex(), nil
}

// ReceiptFor looks up a transaction hash.
func (c *EthClient) ReceiptFor(ctx context.Context, hash string) (*Receipt, bool, error) {
	rcpt, err := c.client.TransactionReceipt(ctx, common.HexToHash(hash))
	if err != nil {
		if err == ethereum.NotFound || strings.Contains(err.Error(), "not found") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to fetch receipt: %w", err)
	}

	return &Receipt{
		Mined:       true,
		Success:     rcpt.Status == types.ReceiptStatusSuccessful,
		GasUsed:     int64(rcpt.GasUsed),
		BlockNumber: rcpt.BlockNumber.Int64(),
	}, true, nil
}

// Close releases the underlying RPC connection.
func (c *EthClient) Close() {
	c.client.Close()
}

// weiToDecimal formats a raw integer amount with the given decimals.
func weiToDecimal(raw *big.Int, decimals int) decimal.Decimal {
	return decimal.NewFromBigInt(raw, 0).Shift(int32(-decimals))
}
