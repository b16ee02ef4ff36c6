// Package wallet manages locally encrypted signing keys. Keys live as
// scrypt keystore files under the wallet directory and never leave it
// unencrypted.
package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/chainclaw/chainclaw/pkg/errs"
	"github.com/chainclaw/chainclaw/pkg/logger"
)

// Manager owns the keystore and the per-user default address mapping.
type Manager struct {
	ks       *keystore.KeyStore
	password string

	mu       sync.RWMutex
	defaults map[string]common.Address // userId -> default address
}

// NewManager opens (or creates) the keystore directory.
func NewManager(dir, password string) (*Manager, error) {
	if len(password) < 8 {
		return nil, errs.Config("WALLET_PASSWORD", "must be at least 8 characters")
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return &Manager{
		ks:       ks,
		password: password,
		defaults: make(map[string]common.Address),
	}, nil
}

// Create generates a new key and returns its address.
func (m *Manager) Create(_ context.Context, userID string) (common.Address, error) {
	account, err := m.ks.NewAccount(m.password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to create wallet: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.defaults[userID]; !ok {
		m.defaults[userID] = account.Address
	}
	m.mu.Unlock()

	logger.Log.Info("Wallet created",
		zap.String("user_id", userID),
		zap.String("address", account.Address.Hex()))
	return account.Address, nil
}

// Import adds a raw hex private key to the keystore.
func (m *Manager) Import(_ context.Context, userID, privateKeyHex string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}

	account, err := m.ks.ImportECDSA(key, m.password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to import wallet: %w", err)
	}

	m.mu.Lock()
	if _, ok := m.defaults[userID]; !ok {
		m.defaults[userID] = account.Address
	}
	m.mu.Unlock()

	logger.Log.Info("Wallet imported",
		zap.String("user_id", userID),
		zap.String("address", account.Address.Hex()))
	return account.Address, nil
}

// List returns every address held in the keystore.
func (m *Manager) List() []common.Address {
	accounts := m.ks.Accounts()
	addrs := make([]common.Address, 0, len(accounts))
	for _, a := range accounts {
		addrs = append(addrs, a.Address)
	}
	return addrs
}

// SetDefault marks address as the user's signing wallet.
func (m *Manager) SetDefault(userID string, address common.Address) error {
	if !m.has(address) {
		return fmt.Errorf("address %s is not in the keystore", address.Hex())
	}
	m.mu.Lock()
	m.defaults[userID] = address
	m.mu.Unlock()
	return nil
}

// Default returns the user's signing wallet, if any.
func (m *Manager) Default(userID string) (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	addr, ok := m.defaults[userID]
	return addr, ok
}

// SignTx decrypts the key for addr and signs tx for the given chain.
func (m *Manager) SignTx(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	account := accounts.Account{Address: addr}
	signed, err := m.ks.SignTxWithPassphrase(account, m.password, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}

func (m *Manager) has(address common.Address) bool {
	for _, a := range m.ks.Accounts() {
		if a.Address == address {
			return true
		}
	}
	return false
}
