package liquidation

import (
	"context"
	"math/big"
	"time"
)

// Status classifies a vault at evaluation time.
type Status string

const (
	// StatusHealthy means the collateral ratio sits at or above the
	// liquidation threshold (or the vault carries no debt).
	StatusHealthy Status = "healthy"
	// StatusLiquidatable means the vault is below the threshold and a
	// liquidation plan has been computed.
	StatusLiquidatable Status = "liquidatable"
)

// Params configures the liquidation engine. All rates are basis points.
type Params struct {
	// ThresholdBps is the collateral-ratio floor below which a vault becomes
	// liquidatable. 12500 means a ratio of 1.25.
	ThresholdBps uint64
	// BonusBps is the keeper incentive applied on top of the repaid debt.
	BonusBps uint64
	// CloseFactorBps caps the share of outstanding debt a single liquidation
	// may repay. 10000 allows the full debt.
	CloseFactorBps uint64
}

// Normalise fills zero-valued fields with protocol defaults.
func (p Params) Normalise() Params {
	if p.ThresholdBps == 0 {
		p.ThresholdBps = 12_500
	}
	if p.BonusBps == 0 {
		p.BonusBps = 1_000
	}
	if p.CloseFactorBps == 0 || p.CloseFactorBps > 10_000 {
		p.CloseFactorBps = 10_000
	}
	return p
}

// Plan is the computed liquidation for an unhealthy vault: how much debt the
// liquidator repays and which collateral it receives in exchange.
type Plan struct {
	// Repay is the stable-unit debt the liquidator settles.
	Repay *big.Int
	// Seize maps asset symbol to the collateral amount transferred to the
	// liquidator.
	Seize map[string]*big.Int
	// SeizeValue is the USD value of all seized collateral at plan prices.
	SeizeValue *big.Int
	// Bonus is SeizeValue minus Repay, the keeper incentive.
	Bonus *big.Int
}

// Assessment is the outcome of evaluating one vault.
type Assessment struct {
	VaultID uint64
	Status  Status
	// Ratio is collateral value over debt. Nil for debt-free vaults.
	Ratio           *big.Rat
	CollateralValue *big.Int
	Debt            *big.Int
	// Plan is populated only when Status is StatusLiquidatable.
	Plan *Plan
	// Version is the vault version the assessment was computed against. A
	// liquidation application carries it so concurrent mutations are detected.
	Version uint64
}

// Record is the append-only audit trail entry written after a settled
// liquidation. Records are never updated or deleted.
type Record struct {
	ID         string              `json:"id"`
	VaultID    uint64              `json:"vaultId"`
	Liquidator string              `json:"liquidator"`
	DebtRepaid *big.Int            `json:"debtRepaid"`
	Seized     map[string]*big.Int `json:"seized"`
	BonusValue *big.Int            `json:"bonusValue"`
	Timestamp  time.Time           `json:"timestamp"`
}

// RecordStore persists liquidation records.
type RecordStore interface {
	Append(ctx context.Context, record Record) error
}
