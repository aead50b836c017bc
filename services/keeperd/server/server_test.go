package server

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"stablevault/native/common"
	"stablevault/native/liquidation"
	"stablevault/native/oracle"
	"stablevault/native/vault"
	"stablevault/storage"
)

type stubPrices struct {
	prices map[string]*big.Int
	err    error
}

func (s *stubPrices) GetPrice(asset string) (oracle.AggregatedPrice, error) {
	if s.err != nil {
		return oracle.AggregatedPrice{}, s.err
	}
	value, ok := s.prices[asset]
	if !ok {
		return oracle.AggregatedPrice{}, oracle.ErrNoPrice
	}
	return oracle.AggregatedPrice{Asset: asset, Value: new(big.Int).Set(value), QuorumMet: true, Sources: 2}, nil
}

type stubRecords struct {
	byVault map[uint64][]liquidation.Record
}

func (s *stubRecords) ListByVault(_ context.Context, vaultID uint64) ([]liquidation.Record, error) {
	return s.byVault[vaultID], nil
}

func fixed(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := common.ParseFixed8(s)
	require.NoError(t, err)
	return v
}

func testServer(t *testing.T) (*httptest.Server, *stubPrices) {
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
	require.NoError(t, ledger.Mint("alice", fixed(t, "500")))

	srv := httptest.NewServer(New(ledger, prices, &stubRecords{}, nil).Router())
	t.Cleanup(srv.Close)
	return srv, prices
}

func getJSON(t *testing.T, url string, wantStatus int) map[string]any {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, wantStatus, resp.StatusCode)
	var payload map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

func TestVaultHealthEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	payload := getJSON(t, srv.URL+"/v1/vaults/1/health", http.StatusOK)
	require.Equal(t, "500.00000000", payload["debt"])
	require.Equal(t, "2.00000000", payload["ratio"])
	require.Equal(t, false, payload["fullyHealthy"])
}

func TestVaultEndpointNotFound(t *testing.T) {
	srv, _ := testServer(t)

	payload := getJSON(t, srv.URL+"/v1/vaults/99", http.StatusNotFound)
	require.Contains(t, payload["error"], "not found")

	getJSON(t, srv.URL+"/v1/vaults/abc", http.StatusBadRequest)
}

func TestPriceEndpoint(t *testing.T) {
	srv, prices := testServer(t)

	payload := getJSON(t, srv.URL+"/v1/prices/BTC", http.StatusOK)
	require.Equal(t, "1000.00000000", payload["value"])

	getJSON(t, srv.URL+"/v1/prices/DOGE", http.StatusNotFound)

	prices.err = oracle.ErrStalePrice
	getJSON(t, srv.URL+"/v1/prices/BTC", http.StatusServiceUnavailable)
}

func TestHealthz(t *testing.T) {
	srv, _ := testServer(t)
	payload := getJSON(t, srv.URL+"/healthz", http.StatusOK)
	require.Equal(t, "ok", payload["status"])
}
