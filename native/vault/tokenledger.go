package vault

import (
	"errors"
	"math/big"
	"strings"
	"sync"
)

// ErrInsufficientBalance is returned by MemoryTokenLedger when a debit
// exceeds the holder's balance.
var ErrInsufficientBalance = errors.New("token ledger: insufficient balance")

// MemoryTokenLedger is an in-process TokenLedger backed by a balance map.
// It is the default collaborator for single-node deployments and tests;
// production deployments substitute their own settlement layer.
type MemoryTokenLedger struct {
	mu       sync.Mutex
	balances map[string]map[string]*big.Int
}

// NewMemoryTokenLedger returns an empty ledger.
func NewMemoryTokenLedger() *MemoryTokenLedger {
	return &MemoryTokenLedger{balances: make(map[string]map[string]*big.Int)}
}

// Credit adds amount to the holder's balance for symbol.
func (m *MemoryTokenLedger) Credit(owner, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balance(owner, symbol)
	balance.Add(balance, amount)
	return nil
}

// Debit removes amount from the holder's balance, failing without effect when
// the balance is too small.
func (m *MemoryTokenLedger) Debit(owner, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balance(owner, symbol)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	balance.Sub(balance, amount)
	return nil
}

// BalanceOf reports the holder's balance for symbol.
func (m *MemoryTokenLedger) BalanceOf(owner, symbol string) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return new(big.Int).Set(m.balance(owner, symbol))
}

func (m *MemoryTokenLedger) balance(owner, symbol string) *big.Int {
	ownerKey := strings.TrimSpace(owner)
	symbolKey := strings.ToUpper(strings.TrimSpace(symbol))
	holdings, ok := m.balances[ownerKey]
	if !ok {
		holdings = make(map[string]*big.Int)
		m.balances[ownerKey] = holdings
	}
	balance, ok := holdings[symbolKey]
	if !ok {
		balance = big.NewInt(0)
		holdings[symbolKey] = balance
	}
	return balance
}
