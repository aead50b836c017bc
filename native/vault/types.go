package vault

import (
	"math/big"
	"strings"
	"time"
)

// Vault is the authoritative debt/collateral position for one owner. Amounts
// are fixed-point with eight decimal places. A vault is never deleted: once
// collateral and debt both reach zero it is closed but its history remains.
type Vault struct {
	ID    uint64 `json:"id"`
	Owner string `json:"owner"`
	// Collateral maps asset symbol to the locked amount.
	Collateral map[string]*big.Int `json:"collateral"`
	// Debt is the outstanding stable-unit amount minted against the vault.
	Debt *big.Int `json:"debt"`
	// Version advances on every successful mutation. Liquidations carry the
	// version read during evaluation; a mismatch rejects the application.
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the vault.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := &Vault{
		ID:        v.ID,
		Owner:     v.Owner,
		Version:   v.Version,
		CreatedAt: v.CreatedAt,
		UpdatedAt: v.UpdatedAt,
	}
	if v.Debt != nil {
		clone.Debt = new(big.Int).Set(v.Debt)
	} else {
		clone.Debt = big.NewInt(0)
	}
	clone.Collateral = make(map[string]*big.Int, len(v.Collateral))
	for asset, amount := range v.Collateral {
		if amount == nil {
			clone.Collateral[asset] = big.NewInt(0)
			continue
		}
		clone.Collateral[asset] = new(big.Int).Set(amount)
	}
	return clone
}

// Closed reports whether the vault holds no collateral and no debt.
func (v *Vault) Closed() bool {
	if v == nil {
		return true
	}
	if v.Debt != nil && v.Debt.Sign() > 0 {
		return false
	}
	for _, amount := range v.Collateral {
		if amount != nil && amount.Sign() > 0 {
			return false
		}
	}
	return true
}

// HealthReport summarises a vault's collateralisation at current prices.
type HealthReport struct {
	VaultID uint64
	// CollateralValue is the fixed-point USD value of all locked collateral.
	CollateralValue *big.Int
	// Debt is the outstanding stable-unit amount.
	Debt *big.Int
	// Ratio is CollateralValue / Debt. Nil when the vault carries no debt.
	Ratio *big.Rat
	// FullyHealthy is the zero-debt sentinel: no debt means no liquidation
	// exposure regardless of prices.
	FullyHealthy bool
	// Version is the vault version the report was computed against.
	Version uint64
}

// AssetParams groups the per-asset risk settings.
type AssetParams struct {
	// LTVBps is the mint-time loan-to-value ceiling in basis points.
	LTVBps uint64
	// MinCollateral is the smallest permitted locked amount after a deposit.
	MinCollateral *big.Int
}

// Params configures the ledger.
type Params struct {
	// StableSymbol names the stable unit on the external token ledger.
	StableSymbol string
	// Assets enumerates the supported collateral kinds.
	Assets map[string]AssetParams
}

// Normalise canonicalises symbols and fills zero-valued fields.
func (p Params) Normalise() Params {
	cfg := Params{
		StableSymbol: strings.ToUpper(strings.TrimSpace(p.StableSymbol)),
		Assets:       make(map[string]AssetParams, len(p.Assets)),
	}
	if cfg.StableSymbol == "" {
		cfg.StableSymbol = "ZUSD"
	}
	for symbol, params := range p.Assets {
		canonical := strings.ToUpper(strings.TrimSpace(symbol))
		if canonical == "" {
			continue
		}
		if params.LTVBps == 0 {
			params.LTVBps = 7500
		}
		if params.MinCollateral == nil {
			params.MinCollateral = big.NewInt(0)
		}
		cfg.Assets[canonical] = params
	}
	return cfg
}
