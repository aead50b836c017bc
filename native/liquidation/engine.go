package liquidation

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"stablevault/core/events"
	"stablevault/native/common"
	"stablevault/native/vault"
	"stablevault/observability"
)

var (
	ErrPriceUnavailable = errors.New("liquidation engine: price unavailable")
	ErrVaultHealthy     = errors.New("liquidation engine: vault is healthy")
	ErrSuperseded       = errors.New("liquidation engine: vault changed since evaluation")
	ErrInvalidParams    = errors.New("liquidation engine: invalid parameters")
	// ErrNoViablePlan marks an unhealthy vault no liquidation can act on: its
	// collateral value is zero (or floors to a zero repayment), so there is
	// nothing to seize in exchange for debt.
	ErrNoViablePlan = errors.New("liquidation engine: no viable liquidation plan")

	errNilLedger = errors.New("liquidation engine: vault ledger not configured")
)

const moduleName = "liquidation"

var basisPoints = big.NewInt(10_000)

// VaultLedger is the slice of the vault ledger the engine drives: reading
// positions, applying privileged liquidations, and enumerating vaults for
// scans.
type VaultLedger interface {
	GetVault(id uint64) (*vault.Vault, error)
	Liquidate(id uint64, caller string, expectedVersion uint64, repay *big.Int, seize map[string]*big.Int) error
	VaultIDs() ([]uint64, error)
}

// Engine evaluates vault health against the liquidation threshold and settles
// partial liquidations through the vault ledger. It holds no position state
// of its own: every evaluation reads the ledger fresh, and races with
// concurrent mutations surface as ErrSuperseded.
type Engine struct {
	params  Params
	ledger  VaultLedger
	prices  vault.PriceSource
	records RecordStore
	pauses  common.PauseView
	emitter events.Emitter
	now     func() time.Time
}

// NewEngine constructs an engine with the supplied risk parameters. The
// threshold must leave room for the keeper bonus: a liquidation can only
// restore the ratio when ThresholdBps exceeds 10000 plus BonusBps.
func NewEngine(params Params) (*Engine, error) {
	params = params.Normalise()
	if params.ThresholdBps <= 10_000+params.BonusBps {
		return nil, fmt.Errorf("%w: threshold %d must exceed 10000 + bonus %d", ErrInvalidParams, params.ThresholdBps, params.BonusBps)
	}
	return &Engine{
		params:  params,
		emitter: events.NoopEmitter{},
		now:     time.Now,
	}, nil
}

// SetLedger wires the vault ledger.
func (e *Engine) SetLedger(ledger VaultLedger) { e.ledger = ledger }

// SetPriceSource wires the oracle view used to value collateral.
func (e *Engine) SetPriceSource(prices vault.PriceSource) { e.prices = prices }

// SetRecordStore wires the append-only audit trail.
func (e *Engine) SetRecordStore(records RecordStore) { e.records = records }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the engine to an event sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// Params returns the normalised engine parameters.
func (e *Engine) Params() Params { return e.params }

// Evaluate reads the vault and classifies it against the threshold. For an
// unhealthy vault the assessment carries the liquidation plan: the smallest
// repayment that restores the collateral ratio to the threshold, the
// collateral seized in exchange (repayment value plus the keeper bonus), and
// the vault version the plan is valid against. Missing or stale prices fail
// the evaluation; the engine never guesses a vault's worth.
func (e *Engine) Evaluate(vaultID uint64) (Assessment, error) {
	if e == nil || e.ledger == nil {
		return Assessment{}, errNilLedger
	}
	v, err := e.ledger.GetVault(vaultID)
	if err != nil {
		return Assessment{}, err
	}

	assessment := Assessment{
		VaultID: v.ID,
		Status:  StatusHealthy,
		Debt:    new(big.Int).Set(v.Debt),
		Version: v.Version,
	}
	if v.Debt.Sign() == 0 {
		return assessment, nil
	}

	values, total, err := e.collateralValues(v)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	assessment.CollateralValue = total
	assessment.Ratio = new(big.Rat).SetFrac(total, v.Debt)

	// Healthy iff C * 10000 >= T * D, i.e. ratio >= threshold.
	lhs := new(big.Int).Mul(total, basisPoints)
	rhs := new(big.Int).Mul(v.Debt, new(big.Int).SetUint64(e.params.ThresholdBps))
	if lhs.Cmp(rhs) >= 0 {
		return assessment, nil
	}

	assessment.Status = StatusLiquidatable
	plan := e.buildPlan(v, values, total)
	if plan == nil {
		return Assessment{}, fmt.Errorf("%w: vault %d", ErrNoViablePlan, v.ID)
	}
	assessment.Plan = plan
	return assessment, nil
}

// buildPlan computes the partial liquidation for an unhealthy vault.
//
// Seizing collateral worth repay*(1+bonus) shifts the ratio toward the
// threshold T; solving (C - repay*(1+b)) / (D - repay) >= T for the smallest
// repay gives
//
//	repay = ceil((T*D - 10000*C) / (T - (10000 + B)))
//
// with everything in basis points. The repayment is then capped by the close
// factor, the outstanding debt, and the collateral actually available. A vault
// whose collateral is worth nothing (or so little that the capped repayment
// floors to zero) yields no plan.
func (e *Engine) buildPlan(v *vault.Vault, values map[string]*big.Int, total *big.Int) *Plan {
	if total.Sign() <= 0 {
		return nil
	}
	threshold := new(big.Int).SetUint64(e.params.ThresholdBps)
	bonusFactor := new(big.Int).SetUint64(10_000 + e.params.BonusBps)

	numerator := new(big.Int).Mul(threshold, v.Debt)
	numerator.Sub(numerator, new(big.Int).Mul(basisPoints, total))
	denominator := new(big.Int).Sub(threshold, bonusFactor)
	repay := new(big.Int).Add(numerator, new(big.Int).Sub(denominator, big.NewInt(1)))
	repay.Quo(repay, denominator)

	if e.params.CloseFactorBps < 10_000 {
		limit := new(big.Int).Mul(v.Debt, new(big.Int).SetUint64(e.params.CloseFactorBps))
		limit.Quo(limit, basisPoints)
		if repay.Cmp(limit) > 0 {
			repay = limit
		}
	}
	if repay.Cmp(v.Debt) > 0 {
		repay = new(big.Int).Set(v.Debt)
	}
	// The seized value cannot exceed what the vault holds.
	maxRepay := new(big.Int).Mul(total, basisPoints)
	maxRepay.Quo(maxRepay, bonusFactor)
	if repay.Cmp(maxRepay) > 0 {
		repay = maxRepay
	}
	if repay.Sign() <= 0 {
		return nil
	}

	seizeValue := new(big.Int).Mul(repay, bonusFactor)
	seizeValue.Quo(seizeValue, basisPoints)

	// Seize each asset in proportion to its share of the vault's value.
	seize := make(map[string]*big.Int, len(values))
	assets := make([]string, 0, len(values))
	for asset := range values {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := new(big.Int).Mul(v.Collateral[asset], seizeValue)
		amount.Quo(amount, total)
		if amount.Sign() > 0 {
			seize[asset] = amount
		}
	}

	return &Plan{
		Repay:      repay,
		Seize:      seize,
		SeizeValue: seizeValue,
		Bonus:      new(big.Int).Sub(seizeValue, repay),
	}
}

// Liquidate evaluates the vault and, when unhealthy, applies the plan through
// the ledger in the caller's name. The application carries the version read
// during evaluation; if any mutation landed in between, the ledger rejects it
// and Liquidate reports ErrSuperseded so the caller can re-evaluate. A settled
// liquidation is recorded in the append-only audit trail.
func (e *Engine) Liquidate(ctx context.Context, vaultID uint64, caller string) (Record, error) {
	if e == nil || e.ledger == nil {
		return Record{}, errNilLedger
	}
	if err := common.Guard(e.pauses, moduleName); err != nil {
		return Record{}, err
	}

	assessment, err := e.Evaluate(vaultID)
	if err != nil {
		return Record{}, err
	}
	if assessment.Status != StatusLiquidatable {
		return Record{}, ErrVaultHealthy
	}
	plan := assessment.Plan

	err = e.ledger.Liquidate(vaultID, caller, assessment.Version, plan.Repay, plan.Seize)
	if err != nil {
		if errors.Is(err, vault.ErrStateChanged) {
			observability.LiquidationEngineMetrics().ObserveSuperseded()
			return Record{}, ErrSuperseded
		}
		return Record{}, err
	}

	record := Record{
		ID:         uuid.NewString(),
		VaultID:    vaultID,
		Liquidator: caller,
		DebtRepaid: new(big.Int).Set(plan.Repay),
		Seized:     cloneAmounts(plan.Seize),
		BonusValue: new(big.Int).Set(plan.Bonus),
		Timestamp:  e.now().UTC(),
	}
	if e.records != nil {
		if err := e.records.Append(ctx, record); err != nil {
			return record, fmt.Errorf("append liquidation record: %w", err)
		}
	}

	observability.LiquidationEngineMetrics().ObserveExecuted()
	e.emitter.Emit(events.VaultLiquidated{
		VaultID:    record.VaultID,
		Liquidator: record.Liquidator,
		DebtRepaid: record.DebtRepaid,
		Seized:     cloneAmounts(record.Seized),
		BonusValue: record.BonusValue,
	})
	return record, nil
}

// Scan evaluates every known vault and returns the liquidatable assessments.
// Vaults whose prices are unavailable, or whose collateral is worth too little
// to act on, are skipped rather than guessed at; the next scan picks them up
// once conditions change.
func (e *Engine) Scan(ctx context.Context) ([]Assessment, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilLedger
	}
	start := e.now()
	ids, err := e.ledger.VaultIDs()
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var unhealthy []Assessment
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		assessment, err := e.Evaluate(id)
		if err != nil {
			if errors.Is(err, ErrPriceUnavailable) || errors.Is(err, ErrNoViablePlan) || errors.Is(err, vault.ErrVaultNotFound) {
				continue
			}
			return nil, err
		}
		if assessment.Status == StatusLiquidatable {
			unhealthy = append(unhealthy, assessment)
		}
	}

	observability.LiquidationEngineMetrics().ObserveScan(e.now().Sub(start))
	return unhealthy, nil
}

// collateralValues prices each locked asset and returns the per-asset values
// along with their sum.
func (e *Engine) collateralValues(v *vault.Vault) (map[string]*big.Int, *big.Int, error) {
	if e.prices == nil {
		return nil, nil, errors.New("price source not configured")
	}
	values := make(map[string]*big.Int, len(v.Collateral))
	total := big.NewInt(0)
	for asset, amount := range v.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		price, err := e.prices.GetPrice(asset)
		if err != nil {
			return nil, nil, err
		}
		value := common.MulFixed8(amount, price.Value)
		values[asset] = value
		total.Add(total, value)
	}
	return values, total, nil
}

func cloneAmounts(m map[string]*big.Int) map[string]*big.Int {
	clone := make(map[string]*big.Int, len(m))
	for k, v := range m {
		clone[k] = new(big.Int).Set(v)
	}
	return clone
}
