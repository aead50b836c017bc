package keeper

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stablevault/native/common"
	"stablevault/native/liquidation"
	"stablevault/native/oracle"
	"stablevault/native/vault"
	"stablevault/storage"
)

type stubPrices struct {
	prices map[string]*big.Int
}

func (s *stubPrices) GetPrice(asset string) (oracle.AggregatedPrice, error) {
	value, ok := s.prices[asset]
	if !ok {
		return oracle.AggregatedPrice{}, oracle.ErrNoPrice
	}
	return oracle.AggregatedPrice{Asset: asset, Value: new(big.Int).Set(value), QuorumMet: true}, nil
}

type memRecords struct {
	records []liquidation.Record
}

func (m *memRecords) Append(_ context.Context, record liquidation.Record) error {
	m.records = append(m.records, record)
	return nil
}

func fixed(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := common.ParseFixed8(s)
	require.NoError(t, err)
	return v
}

// testStack builds a ledger with one underwater vault (1 BTC, 750 debt,
// price dropped from 1000 to 900) and a keeper pointed at it.
func testStack(t *testing.T) (*Keeper, *vault.Ledger, *vault.MemoryTokenLedger, *memRecords) {
	t.Helper()
	prices := &stubPrices{prices: map[string]*big.Int{"BTC": fixed(t, "1000")}}

	ledger := vault.NewLedger(vault.Params{
		StableSymbol: "ZUSD",
		Assets:       map[string]vault.AssetParams{"BTC": {LTVBps: 7500}},
	})
	ledger.SetState(storage.NewState(storage.NewMemDB()))
	tokens := vault.NewMemoryTokenLedger()
	ledger.SetTokenLedger(tokens)
	ledger.SetPriceSource(prices)

	require.NoError(t, tokens.Credit("alice", "BTC", fixed(t, "1")))
	_, err := ledger.Deposit("alice", "BTC", fixed(t, "1"))
	require.NoError(t, err)
	require.NoError(t, ledger.Mint("alice", fixed(t, "750")))
	prices.prices["BTC"] = fixed(t, "900")

	engine, err := liquidation.NewEngine(liquidation.Params{ThresholdBps: 12_500, BonusBps: 1_000})
	require.NoError(t, err)
	engine.SetLedger(ledger)
	engine.SetPriceSource(prices)
	records := &memRecords{}
	engine.SetRecordStore(records)

	k := New(engine, "keeper", time.Second)
	k.SetRateLimit(1000)
	return k, ledger, tokens, records
}

func TestRunOnceSettlesUnderwaterVault(t *testing.T) {
	k, ledger, tokens, records := testStack(t)
	require.NoError(t, tokens.Credit("keeper", "ZUSD", fixed(t, "250")))

	require.NoError(t, k.RunOnce(context.Background()))

	require.Len(t, records.records, 1)
	record := records.records[0]
	require.Equal(t, uint64(1), record.VaultID)
	require.Equal(t, "keeper", record.Liquidator)
	require.Zero(t, record.DebtRepaid.Cmp(fixed(t, "250")))

	report, err := ledger.Health(1)
	require.NoError(t, err)
	threshold := big.NewRat(12_500, 10_000)
	require.GreaterOrEqual(t, report.Ratio.Cmp(threshold), 0)

	// The vault is healthy now; another pass is a no-op.
	require.NoError(t, k.RunOnce(context.Background()))
	require.Len(t, records.records, 1)
}

func TestProfitFloorSkipsSmallLiquidations(t *testing.T) {
	k, _, tokens, records := testStack(t)
	require.NoError(t, tokens.Credit("keeper", "ZUSD", fixed(t, "250")))

	// The plan's bonus is 25; a 100 floor makes the vault not worth acting on.
	k.SetProfitFloor(fixed(t, "100"))
	require.NoError(t, k.RunOnce(context.Background()))
	require.Empty(t, records.records)

	k.SetProfitFloor(fixed(t, "10"))
	require.NoError(t, k.RunOnce(context.Background()))
	require.Len(t, records.records, 1)
}

func TestCooldownBacksOffFailedAttempts(t *testing.T) {
	k, _, _, records := testStack(t)
	// The keeper holds no stable units, so every attempt fails at settlement.

	cooldowns, err := OpenCooldownStore(filepath.Join(t.TempDir(), "cooldown.db"), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cooldowns.Close() })
	k.SetCooldowns(cooldowns)

	require.NoError(t, k.RunOnce(context.Background()))
	require.Empty(t, records.records)

	ready, err := cooldowns.Ready(1, time.Now())
	require.NoError(t, err)
	require.False(t, ready, "failed attempt must start a cooldown")

	ready, err = cooldowns.Ready(1, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	require.True(t, ready, "cooldown must expire")
}

func TestCooldownStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cooldown.db")
	now := time.Now()

	store, err := OpenCooldownStore(path, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.MarkAttempt(7, now))
	require.NoError(t, store.Close())

	reopened, err := OpenCooldownStore(path, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	ready, err := reopened.Ready(7, now.Add(time.Second))
	require.NoError(t, err)
	require.False(t, ready)

	require.NoError(t, reopened.Clear(7))
	ready, err = reopened.Ready(7, now.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ready)
}
