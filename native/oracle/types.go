package oracle

import (
	"math/big"
	"strings"
	"time"
)

// PriceQuote captures a single venue's observation for one asset. Price is a
// fixed-point value with eight decimal places (USD per unit). Quotes are
// immutable once recorded: they live for at most one aggregation round.
type PriceQuote struct {
	Asset      string
	Price      *big.Int
	Source     string
	ObservedAt time.Time
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Asset: q.Asset, Source: q.Source, ObservedAt: q.ObservedAt}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// AggregatedPrice is the trusted reference price for one asset. A single live
// instance exists per asset and is overwritten atomically on each successful
// aggregation round.
type AggregatedPrice struct {
	Asset string
	// Value is the deviation-filtered median, fixed-point with 8 decimals.
	Value *big.Int
	// ComputedAt records when the round ran; it drives the staleness clock.
	ComputedAt time.Time
	// ObservedAt is the newest observation among the accepted quotes. It is
	// monotonically increasing across published rounds.
	ObservedAt time.Time
	// QuorumMet reports that at least the configured source quorum survived
	// both the staleness and deviation filters.
	QuorumMet bool
	// Sources counts the quotes that contributed to Value.
	Sources int
}

// Clone returns a deep copy of the aggregate.
func (p AggregatedPrice) Clone() AggregatedPrice {
	clone := p
	if p.Value != nil {
		clone.Value = new(big.Int).Set(p.Value)
	}
	return clone
}

// Config controls the aggregation policy.
type Config struct {
	// MaxQuoteAge bounds how old a venue quote may be before it is dropped
	// from the round, and how old a published aggregate may be before
	// GetPrice refuses to serve it.
	MaxQuoteAge time.Duration
	// MaxDeviationBps is the tolerated distance from the round median in
	// basis points; quotes further out are discarded as outliers.
	MaxDeviationBps uint64
	// QuorumSources is the minimum number of surviving quotes required to
	// publish a price.
	QuorumSources int
}

// Normalise applies the protocol defaults for unset fields.
func (c Config) Normalise() Config {
	cfg := c
	if cfg.MaxQuoteAge <= 0 {
		cfg.MaxQuoteAge = 5 * time.Minute
	}
	if cfg.MaxDeviationBps == 0 {
		cfg.MaxDeviationBps = 500
	}
	if cfg.QuorumSources <= 0 {
		cfg.QuorumSources = 2
	}
	return cfg
}

// NormaliseAsset canonicalises asset symbols for map lookups.
func NormaliseAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

func normaliseSource(source string) string {
	return strings.ToLower(strings.TrimSpace(source))
}
