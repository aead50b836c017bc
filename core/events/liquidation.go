package events

import (
	"math/big"
	"strconv"
	"strings"

	"stablevault/native/common"
)

const (
	// TypeVaultLiquidated is emitted after a liquidation settles.
	TypeVaultLiquidated = "liquidation.executed"
)

type VaultLiquidated struct {
	VaultID    uint64
	Liquidator string
	DebtRepaid *big.Int
	Seized     map[string]*big.Int
	BonusValue *big.Int
}

func (VaultLiquidated) EventType() string { return TypeVaultLiquidated }

func (e VaultLiquidated) Attributes() map[string]string {
	attrs := map[string]string{
		"vaultId":    strconv.FormatUint(e.VaultID, 10),
		"liquidator": strings.TrimSpace(e.Liquidator),
		"debtRepaid": common.FormatFixed8(e.DebtRepaid),
		"bonusValue": common.FormatFixed8(e.BonusValue),
	}
	for asset, amount := range e.Seized {
		attrs["seized."+asset] = common.FormatFixed8(amount)
	}
	return attrs
}
