package keeper

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/time/rate"

	"stablevault/native/common"
	"stablevault/native/liquidation"
)

// Keeper drives the liquidation engine on a schedule: scan every vault,
// attempt the unhealthy ones, and back off per vault after failures. Losing a
// race to another liquidator is expected operation, not an error.
type Keeper struct {
	engine    *liquidation.Engine
	identity  string
	interval  time.Duration
	limiter   *rate.Limiter
	cooldowns *CooldownStore
	minProfit *big.Int
	log       *slog.Logger
	now       func() time.Time
}

// New constructs a keeper liquidating as identity.
func New(engine *liquidation.Engine, identity string, interval time.Duration) *Keeper {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Keeper{
		engine:   engine,
		identity: identity,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Limit(1), 1),
		log:      slog.Default(),
		now:      time.Now,
	}
}

// SetRateLimit bounds liquidation submissions per second.
func (k *Keeper) SetRateLimit(perSecond float64) {
	if k == nil || perSecond <= 0 {
		return
	}
	k.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// SetCooldowns wires the per-vault back-off store.
func (k *Keeper) SetCooldowns(store *CooldownStore) { k.cooldowns = store }

// SetProfitFloor skips liquidations whose keeper bonus is below floor (stable
// units). Nil or non-positive means every eligible vault is attempted.
func (k *Keeper) SetProfitFloor(floor *big.Int) {
	if k == nil || floor == nil || floor.Sign() <= 0 {
		return
	}
	k.minProfit = new(big.Int).Set(floor)
}

// SetLogger overrides the logger.
func (k *Keeper) SetLogger(log *slog.Logger) {
	if k == nil || log == nil {
		return
	}
	k.log = log
}

// SetClock overrides the time source. Intended for tests.
func (k *Keeper) SetClock(now func() time.Time) {
	if k == nil || now == nil {
		return
	}
	k.now = now
}

// Run scans on the configured interval until the context is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	if err := k.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		k.log.Warn("keeper scan failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := k.RunOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				k.log.Warn("keeper scan failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single scan-and-liquidate pass and reports how many
// liquidations settled.
func (k *Keeper) RunOnce(ctx context.Context) error {
	_, err := k.runOnce(ctx)
	return err
}

func (k *Keeper) runOnce(ctx context.Context) (int, error) {
	unhealthy, err := k.engine.Scan(ctx)
	if err != nil {
		return 0, err
	}
	settled := 0
	for _, assessment := range unhealthy {
		if err := ctx.Err(); err != nil {
			return settled, err
		}
		if k.minProfit != nil && assessment.Plan != nil && assessment.Plan.Bonus.Cmp(k.minProfit) < 0 {
			continue
		}
		ready, err := k.cooldowns.Ready(assessment.VaultID, k.now())
		if err != nil {
			return settled, err
		}
		if !ready {
			continue
		}
		if err := k.limiter.Wait(ctx); err != nil {
			return settled, err
		}

		record, err := k.engine.Liquidate(ctx, assessment.VaultID, k.identity)
		switch {
		case err == nil:
			settled++
			if clearErr := k.cooldowns.Clear(assessment.VaultID); clearErr != nil {
				k.log.Warn("clear cooldown", "vault", assessment.VaultID, "error", clearErr)
			}
			k.log.Info("liquidation settled",
				"vault", record.VaultID,
				"repaid", common.FormatFixed8(record.DebtRepaid),
				"bonus", common.FormatFixed8(record.BonusValue),
			)
		case errors.Is(err, liquidation.ErrSuperseded):
			// Another actor moved the vault first. Re-evaluated next scan.
			k.log.Debug("liquidation superseded", "vault", assessment.VaultID)
		case errors.Is(err, liquidation.ErrVaultHealthy):
			// Recovered between scan and attempt.
		default:
			k.log.Warn("liquidation failed", "vault", assessment.VaultID, "error", err)
			if markErr := k.cooldowns.MarkAttempt(assessment.VaultID, k.now()); markErr != nil {
				k.log.Warn("mark cooldown", "vault", assessment.VaultID, "error", markErr)
			}
		}
	}
	return settled, nil
}
