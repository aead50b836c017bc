package vault

import (
	"math/big"
	"sort"

	"stablevault/native/common"
	"stablevault/native/oracle"
)

var basisPoints = big.NewInt(10_000)

// collateralAssets returns the vault's non-zero collateral symbols in a
// deterministic order.
func collateralAssets(v *Vault) []string {
	assets := make([]string, 0, len(v.Collateral))
	for asset, amount := range v.Collateral {
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// collateralValue sums the fixed-point USD value of every locked asset using
// the supplied prices. Every touched asset needs a fresh price; any price
// failure propagates so callers fail closed.
func collateralValue(v *Vault, prices PriceSource) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range collateralAssets(v) {
		price, err := prices.GetPrice(asset)
		if err != nil {
			return nil, err
		}
		total.Add(total, common.MulFixed8(v.Collateral[asset], price.Value))
	}
	return total, nil
}

// maxDebt computes the mint ceiling Σ(collateral × price × LTV) at current
// prices.
func maxDebt(v *Vault, prices PriceSource, params Params) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range collateralAssets(v) {
		assetParams, ok := params.Assets[asset]
		if !ok {
			return nil, ErrUnknownAsset
		}
		price, err := prices.GetPrice(asset)
		if err != nil {
			return nil, err
		}
		value := common.MulFixed8(v.Collateral[asset], price.Value)
		value.Mul(value, new(big.Int).SetUint64(assetParams.LTVBps))
		value.Quo(value, basisPoints)
		total.Add(total, value)
	}
	return total, nil
}

// PriceSource is the oracle view the ledger consumes. GetPrice must fail fast
// on stale or missing prices; the ledger never waits for freshness.
type PriceSource interface {
	GetPrice(asset string) (oracle.AggregatedPrice, error)
}
