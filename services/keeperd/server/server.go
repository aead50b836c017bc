package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stablevault/native/common"
	"stablevault/native/liquidation"
	"stablevault/native/oracle"
	"stablevault/native/vault"
)

// RecordReader is the read side of the liquidation audit trail.
type RecordReader interface {
	ListByVault(ctx context.Context, vaultID uint64) ([]liquidation.Record, error)
}

// Server exposes the keeper's read-only HTTP surface: vault health, published
// prices, and the liquidation audit trail.
type Server struct {
	ledger  *vault.Ledger
	prices  vault.PriceSource
	records RecordReader
	log     *slog.Logger
}

// New constructs the server.
func New(ledger *vault.Ledger, prices vault.PriceSource, records RecordReader, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{ledger: ledger, prices: prices, records: records, log: log}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/vaults/{id}", s.handleVault)
		r.Get("/vaults/{id}/health", s.handleVaultHealth)
		r.Get("/vaults/{id}/liquidations", s.handleVaultLiquidations)
		r.Get("/prices/{asset}", s.handlePrice)
	})
	return r
}

func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vaultID(w, r)
	if !ok {
		return
	}
	v, err := s.ledger.GetVault(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	collateral := make(map[string]string, len(v.Collateral))
	for asset, amount := range v.Collateral {
		collateral[asset] = common.FormatFixed8(amount)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         v.ID,
		"owner":      v.Owner,
		"collateral": collateral,
		"debt":       common.FormatFixed8(v.Debt),
		"version":    v.Version,
		"updatedAt":  v.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleVaultHealth(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vaultID(w, r)
	if !ok {
		return
	}
	report, err := s.ledger.Health(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := map[string]any{
		"vaultId":      report.VaultID,
		"debt":         common.FormatFixed8(report.Debt),
		"fullyHealthy": report.FullyHealthy,
		"version":      report.Version,
	}
	if report.CollateralValue != nil {
		payload["collateralValue"] = common.FormatFixed8(report.CollateralValue)
	}
	if report.Ratio != nil {
		payload["ratio"] = report.Ratio.FloatString(8)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleVaultLiquidations(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vaultID(w, r)
	if !ok {
		return
	}
	if s.records == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	records, err := s.records.ListByVault(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(records))
	for _, record := range records {
		seized := make(map[string]string, len(record.Seized))
		for asset, amount := range record.Seized {
			seized[asset] = common.FormatFixed8(amount)
		}
		payload = append(payload, map[string]any{
			"id":         record.ID,
			"vaultId":    record.VaultID,
			"liquidator": record.Liquidator,
			"debtRepaid": common.FormatFixed8(record.DebtRepaid),
			"seized":     seized,
			"bonusValue": common.FormatFixed8(record.BonusValue),
			"timestamp":  record.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")
	price, err := s.prices.GetPrice(asset)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":      price.Asset,
		"value":      common.FormatFixed8(price.Value),
		"sources":    price.Sources,
		"computedAt": price.ComputedAt.UTC().Format(time.RFC3339),
		"observedAt": price.ObservedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) vaultID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid vault id"})
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vault.ErrVaultNotFound):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrNoPrice):
		status = http.StatusNotFound
	case errors.Is(err, oracle.ErrStalePrice):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
