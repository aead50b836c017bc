package events

import (
	"math/big"
	"strconv"

	"stablevault/native/common"
)

const (
	// TypeVaultDeposited is emitted when collateral is locked into a vault.
	TypeVaultDeposited = "vault.deposited"
	// TypeStableMinted is emitted when stable units are minted against a vault.
	TypeStableMinted = "vault.minted"
	// TypeDebtRepaid is emitted when outstanding vault debt is repaid.
	TypeDebtRepaid = "vault.repaid"
	// TypeCollateralWithdrawn is emitted when collateral is released to the owner.
	TypeCollateralWithdrawn = "vault.withdrawn"
)

type VaultDeposited struct {
	VaultID uint64
	Owner   string
	Asset   string
	Amount  *big.Int
}

func (VaultDeposited) EventType() string { return TypeVaultDeposited }

func (e VaultDeposited) Attributes() map[string]string {
	return map[string]string{
		"vaultId": strconv.FormatUint(e.VaultID, 10),
		"owner":   e.Owner,
		"asset":   e.Asset,
		"amount":  common.FormatFixed8(e.Amount),
	}
}

type StableMinted struct {
	VaultID uint64
	Owner   string
	Amount  *big.Int
}

func (StableMinted) EventType() string { return TypeStableMinted }

func (e StableMinted) Attributes() map[string]string {
	return map[string]string{
		"vaultId": strconv.FormatUint(e.VaultID, 10),
		"owner":   e.Owner,
		"amount":  common.FormatFixed8(e.Amount),
	}
}

type DebtRepaid struct {
	VaultID uint64
	Owner   string
	Amount  *big.Int
}

func (DebtRepaid) EventType() string { return TypeDebtRepaid }

func (e DebtRepaid) Attributes() map[string]string {
	return map[string]string{
		"vaultId": strconv.FormatUint(e.VaultID, 10),
		"owner":   e.Owner,
		"amount":  common.FormatFixed8(e.Amount),
	}
}

type CollateralWithdrawn struct {
	VaultID uint64
	Owner   string
	Asset   string
	Amount  *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Attributes() map[string]string {
	return map[string]string{
		"vaultId": strconv.FormatUint(e.VaultID, 10),
		"owner":   e.Owner,
		"asset":   e.Asset,
		"amount":  common.FormatFixed8(e.Amount),
	}
}
