package vault

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"stablevault/core/events"
	"stablevault/native/common"
	"stablevault/observability"
)

var (
	ErrVaultNotFound          = errors.New("vault ledger: vault not found")
	ErrInvalidAmount          = errors.New("vault ledger: amount must be positive")
	ErrInvalidOwner           = errors.New("vault ledger: owner identity required")
	ErrUnknownAsset           = errors.New("vault ledger: unsupported collateral asset")
	ErrBelowMinCollateral     = errors.New("vault ledger: amount below minimum collateral requirement")
	ErrExceedsLTV             = errors.New("vault ledger: debt would exceed maximum LTV")
	ErrInsufficientCollateral = errors.New("vault ledger: amount exceeds locked collateral")
	ErrOverRepay              = errors.New("vault ledger: repayment exceeds outstanding debt")
	ErrStateChanged           = errors.New("vault ledger: vault state changed since read")
	ErrTransferFailed         = errors.New("vault ledger: token transfer failed")

	errNilState = errors.New("vault ledger: state not configured")
)

const moduleName = "vault"

// LedgerState is the persistence boundary for vault records. Implementations
// return a nil vault (not an error) when the id is unknown.
type LedgerState interface {
	GetVault(id uint64) (*Vault, error)
	PutVault(v *Vault) error
	VaultIDByOwner(owner string) (uint64, bool, error)
	IndexVaultOwner(owner string, id uint64) error
	NextVaultID() (uint64, error)
	VaultIDs() ([]uint64, error)
}

// TokenLedger is the external fungible-token collaborator. Credit and Debit
// are fail-capable: any error aborts the enclosing vault mutation, leaving
// vault state unchanged.
type TokenLedger interface {
	Credit(owner, symbol string, amount *big.Int) error
	Debit(owner, symbol string, amount *big.Int) error
}

// Ledger owns the authoritative state of every vault and serialises all
// mutation through its entry points. Each operation is atomic: state is
// staged on a clone and persisted only after every collaborator call has
// succeeded.
type Ledger struct {
	mu      sync.Mutex
	state   LedgerState
	tokens  TokenLedger
	prices  PriceSource
	params  Params
	pauses  common.PauseView
	emitter events.Emitter
	now     func() time.Time
}

// NewLedger constructs a ledger configured with the protocol risk parameters.
func NewLedger(params Params) *Ledger {
	return &Ledger{
		params:  params.Normalise(),
		emitter: events.NoopEmitter{},
		now:     time.Now,
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state LedgerState) { l.state = state }

// SetTokenLedger wires the external token collaborator.
func (l *Ledger) SetTokenLedger(tokens TokenLedger) { l.tokens = tokens }

// SetPriceSource wires the oracle view used for every LTV computation.
func (l *Ledger) SetPriceSource(prices PriceSource) { l.prices = prices }

// SetPauses wires the operator pause switches.
func (l *Ledger) SetPauses(p common.PauseView) {
	if l == nil {
		return
	}
	l.pauses = p
}

// SetEmitter wires the ledger to an event sink.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if l == nil || emitter == nil {
		return
	}
	l.emitter = emitter
}

// SetClock overrides the time source. Intended for tests.
func (l *Ledger) SetClock(now func() time.Time) {
	if l == nil || now == nil {
		return
	}
	l.now = now
}

// Params returns the normalised ledger parameters.
func (l *Ledger) Params() Params { return l.params }

// Deposit locks collateral into the owner's vault, creating the vault on the
// owner's first deposit. No price check is required. Returns the vault id.
func (l *Ledger) Deposit(owner, asset string, amount *big.Int) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return 0, err
	}
	ownerID, err := normaliseOwner(owner)
	if err != nil {
		return 0, err
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	assetParams, ok := l.params.Assets[symbol]
	if !ok {
		return 0, ErrUnknownAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, created, err := l.ensureVault(ownerID)
	if err != nil {
		return 0, err
	}

	locked := vault.Collateral[symbol]
	if locked == nil {
		locked = big.NewInt(0)
	}
	next := new(big.Int).Add(locked, amount)
	if assetParams.MinCollateral != nil && next.Cmp(assetParams.MinCollateral) < 0 {
		return 0, ErrBelowMinCollateral
	}

	if err := l.debit(ownerID, symbol, amount); err != nil {
		return 0, err
	}

	vault.Collateral[symbol] = next
	l.touch(vault)
	if err := l.state.PutVault(vault); err != nil {
		return 0, err
	}
	if created {
		if err := l.state.IndexVaultOwner(ownerID, vault.ID); err != nil {
			return 0, err
		}
	}

	observability.LedgerMetrics().ObserveOperation("deposit", "ok")
	l.emitter.Emit(events.VaultDeposited{VaultID: vault.ID, Owner: ownerID, Asset: symbol, Amount: new(big.Int).Set(amount)})
	return vault.ID, nil
}

// Mint increases the vault's debt after checking the post-mint position
// against the LTV ceiling at currently-fresh prices. Any stale or missing
// price fails the call immediately; there is no waiting for freshness.
func (l *Ledger) Mint(owner string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	ownerID, err := normaliseOwner(owner)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.vaultByOwner(ownerID)
	if err != nil {
		return err
	}

	ceiling, err := maxDebt(vault, l.prices, l.params)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(vault.Debt, amount)
	if projected.Cmp(ceiling) > 0 {
		observability.LedgerMetrics().ObserveOperation("mint", "exceeds_ltv")
		return ErrExceedsLTV
	}

	if err := l.credit(ownerID, l.params.StableSymbol, amount); err != nil {
		return err
	}

	vault.Debt = projected
	l.touch(vault)
	if err := l.state.PutVault(vault); err != nil {
		return err
	}

	observability.LedgerMetrics().ObserveOperation("mint", "ok")
	l.emitter.Emit(events.StableMinted{VaultID: vault.ID, Owner: ownerID, Amount: new(big.Int).Set(amount)})
	return nil
}

// Repay burns stable units against the vault's debt. Repaying more than the
// outstanding debt is rejected.
func (l *Ledger) Repay(owner string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	ownerID, err := normaliseOwner(owner)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.vaultByOwner(ownerID)
	if err != nil {
		return err
	}
	if amount.Cmp(vault.Debt) > 0 {
		return ErrOverRepay
	}

	if err := l.debit(ownerID, l.params.StableSymbol, amount); err != nil {
		return err
	}

	vault.Debt = new(big.Int).Sub(vault.Debt, amount)
	l.touch(vault)
	if err := l.state.PutVault(vault); err != nil {
		return err
	}

	observability.LedgerMetrics().ObserveOperation("repay", "ok")
	l.emitter.Emit(events.DebtRepaid{VaultID: vault.ID, Owner: ownerID, Amount: new(big.Int).Set(amount)})
	return nil
}

// Withdraw releases collateral provided the post-withdrawal position still
// satisfies the LTV ceiling. A debt-free vault withdraws without any price
// check, so deposit/withdraw round-trips are exact and never blocked by a
// stale oracle.
func (l *Ledger) Withdraw(owner, asset string, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	ownerID, err := normaliseOwner(owner)
	if err != nil {
		return err
	}
	symbol := strings.ToUpper(strings.TrimSpace(asset))
	if _, ok := l.params.Assets[symbol]; !ok {
		return ErrUnknownAsset
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.vaultByOwner(ownerID)
	if err != nil {
		return err
	}
	locked := vault.Collateral[symbol]
	if locked == nil || locked.Cmp(amount) < 0 {
		return ErrInsufficientCollateral
	}

	vault.Collateral[symbol] = new(big.Int).Sub(locked, amount)
	if vault.Debt.Sign() > 0 {
		ceiling, err := maxDebt(vault, l.prices, l.params)
		if err != nil {
			return err
		}
		if vault.Debt.Cmp(ceiling) > 0 {
			observability.LedgerMetrics().ObserveOperation("withdraw", "exceeds_ltv")
			return ErrExceedsLTV
		}
	}

	if err := l.credit(ownerID, symbol, amount); err != nil {
		return err
	}

	l.touch(vault)
	if err := l.state.PutVault(vault); err != nil {
		return err
	}

	observability.LedgerMetrics().ObserveOperation("withdraw", "ok")
	l.emitter.Emit(events.CollateralWithdrawn{VaultID: vault.ID, Owner: ownerID, Asset: symbol, Amount: new(big.Int).Set(amount)})
	return nil
}

// Health reports the vault's collateral ratio at currently-fresh prices. A
// vault with zero debt is fully healthy regardless of prices and no price is
// consulted for it.
func (l *Ledger) Health(vaultID uint64) (HealthReport, error) {
	if l == nil || l.state == nil {
		return HealthReport{}, errNilState
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.loadVault(vaultID)
	if err != nil {
		return HealthReport{}, err
	}
	report := HealthReport{
		VaultID: vault.ID,
		Debt:    new(big.Int).Set(vault.Debt),
		Version: vault.Version,
	}
	if vault.Debt.Sign() == 0 {
		report.FullyHealthy = true
		return report, nil
	}
	value, err := collateralValue(vault, l.prices)
	if err != nil {
		return HealthReport{}, err
	}
	report.CollateralValue = value
	report.Ratio = new(big.Rat).SetFrac(value, vault.Debt)
	return report, nil
}

// Liquidate applies a liquidation computed by the liquidation engine. The
// call is privileged and carries the vault version read during evaluation;
// if the vault has moved since, the application is rejected with
// ErrStateChanged and the engine must re-evaluate. The caller funds the debt
// repayment and receives the seized collateral.
func (l *Ledger) Liquidate(vaultID uint64, caller string, expectedVersion uint64, repay *big.Int, seize map[string]*big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := common.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	callerID, err := normaliseOwner(caller)
	if err != nil {
		return err
	}
	if repay == nil || repay.Sign() <= 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	vault, err := l.loadVault(vaultID)
	if err != nil {
		return err
	}
	if vault.Version != expectedVersion {
		observability.LedgerMetrics().ObserveOperation("liquidate", "state_changed")
		return ErrStateChanged
	}
	if repay.Cmp(vault.Debt) > 0 {
		return ErrOverRepay
	}
	seized := make(map[string]*big.Int, len(seize))
	for asset, amount := range seize {
		symbol := strings.ToUpper(strings.TrimSpace(asset))
		if amount == nil || amount.Sign() < 0 {
			return ErrInvalidAmount
		}
		if amount.Sign() == 0 {
			continue
		}
		locked := vault.Collateral[symbol]
		if locked == nil || locked.Cmp(amount) < 0 {
			return ErrInsufficientCollateral
		}
		seized[symbol] = new(big.Int).Set(amount)
	}

	if err := l.debit(callerID, l.params.StableSymbol, repay); err != nil {
		return err
	}
	for _, symbol := range sortedKeys(seized) {
		if err := l.credit(callerID, symbol, seized[symbol]); err != nil {
			return err
		}
	}

	vault.Debt = new(big.Int).Sub(vault.Debt, repay)
	for symbol, amount := range seized {
		vault.Collateral[symbol] = new(big.Int).Sub(vault.Collateral[symbol], amount)
	}
	l.touch(vault)
	if err := l.state.PutVault(vault); err != nil {
		return err
	}

	observability.LedgerMetrics().ObserveOperation("liquidate", "ok")
	return nil
}

// GetVault returns a defensive copy of the vault.
func (l *Ledger) GetVault(vaultID uint64) (*Vault, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	vault, err := l.loadVault(vaultID)
	if err != nil {
		return nil, err
	}
	return vault.Clone(), nil
}

// VaultIDByOwner resolves the owner's vault id when one exists.
func (l *Ledger) VaultIDByOwner(owner string) (uint64, bool, error) {
	if l == nil || l.state == nil {
		return 0, false, errNilState
	}
	ownerID, err := normaliseOwner(owner)
	if err != nil {
		return 0, false, err
	}
	return l.state.VaultIDByOwner(ownerID)
}

// VaultIDs lists every known vault id for scanning.
func (l *Ledger) VaultIDs() ([]uint64, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	return l.state.VaultIDs()
}

func (l *Ledger) ensureVault(ownerID string) (*Vault, bool, error) {
	id, ok, err := l.state.VaultIDByOwner(ownerID)
	if err != nil {
		return nil, false, err
	}
	if ok {
		vault, err := l.loadVault(id)
		if err != nil {
			return nil, false, err
		}
		return vault, false, nil
	}
	id, err = l.state.NextVaultID()
	if err != nil {
		return nil, false, err
	}
	now := l.now().UTC()
	return &Vault{
		ID:         id,
		Owner:      ownerID,
		Collateral: make(map[string]*big.Int),
		Debt:       big.NewInt(0),
		CreatedAt:  now,
		UpdatedAt:  now,
	}, true, nil
}

func (l *Ledger) vaultByOwner(ownerID string) (*Vault, error) {
	id, ok, err := l.state.VaultIDByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrVaultNotFound
	}
	return l.loadVault(id)
}

// loadVault returns a working copy with nil big.Int fields backfilled so the
// mutation paths never trip over partially-encoded records.
func (l *Ledger) loadVault(id uint64) (*Vault, error) {
	stored, err := l.state.GetVault(id)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, ErrVaultNotFound
	}
	vault := stored.Clone()
	if vault.Debt == nil {
		vault.Debt = big.NewInt(0)
	}
	if vault.Collateral == nil {
		vault.Collateral = make(map[string]*big.Int)
	}
	return vault, nil
}

func (l *Ledger) touch(v *Vault) {
	v.Version++
	v.UpdatedAt = l.now().UTC()
}

func (l *Ledger) credit(owner, symbol string, amount *big.Int) error {
	if l.tokens == nil {
		return nil
	}
	if err := l.tokens.Credit(owner, symbol, amount); err != nil {
		return fmt.Errorf("%w: credit %s %s: %v", ErrTransferFailed, symbol, common.FormatFixed8(amount), err)
	}
	return nil
}

func (l *Ledger) debit(owner, symbol string, amount *big.Int) error {
	if l.tokens == nil {
		return nil
	}
	if err := l.tokens.Debit(owner, symbol, amount); err != nil {
		return fmt.Errorf("%w: debit %s %s: %v", ErrTransferFailed, symbol, common.FormatFixed8(amount), err)
	}
	return nil
}

func normaliseOwner(owner string) (string, error) {
	trimmed := strings.TrimSpace(owner)
	if trimmed == "" {
		return "", ErrInvalidOwner
	}
	return trimmed, nil
}

func sortedKeys(m map[string]*big.Int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
