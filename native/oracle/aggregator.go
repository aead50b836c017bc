package oracle

import (
	"errors"
	"math/big"
	"sort"
	"sync"
	"time"

	"stablevault/core/events"
	"stablevault/observability"
)

var (
	// ErrInsufficientQuorum indicates too few fresh quotes to trust a round.
	ErrInsufficientQuorum = errors.New("oracle: insufficient quorum of fresh quotes")
	// ErrDeviationTooHigh indicates the deviation filter left fewer quotes
	// than the quorum requires.
	ErrDeviationTooHigh = errors.New("oracle: price deviation too high between sources")
	// ErrStalePrice indicates the published aggregate is older than the
	// staleness window. Callers must treat this as "do not trust price".
	ErrStalePrice = errors.New("oracle: published price is stale")
	// ErrNoPrice indicates no aggregation has ever succeeded for the asset.
	ErrNoPrice = errors.New("oracle: no price published for asset")
	// ErrInvalidQuote indicates a malformed submission (missing asset, nil or
	// non-positive price).
	ErrInvalidQuote = errors.New("oracle: invalid quote submission")

	errNoNewObservations = errors.New("oracle: round observations not newer than published price")
)

// Aggregator consumes venue quotes, filters stale and outlier submissions and
// publishes a trusted median price per asset. Each asset aggregates
// independently: one asset's failure never disturbs another's published price.
type Aggregator struct {
	mu        sync.RWMutex
	cfg       Config
	rounds    map[string]map[string]PriceQuote
	published map[string]AggregatedPrice
	emitter   events.Emitter
	now       func() time.Time
}

// NewAggregator constructs an aggregator with the supplied policy. Unset
// policy fields fall back to the protocol defaults.
func NewAggregator(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:       cfg.Normalise(),
		rounds:    make(map[string]map[string]PriceQuote),
		published: make(map[string]AggregatedPrice),
		emitter:   events.NoopEmitter{},
		now:       time.Now,
	}
}

// SetEmitter wires the aggregator to an event sink.
func (a *Aggregator) SetEmitter(emitter events.Emitter) {
	if a == nil || emitter == nil {
		return
	}
	a.mu.Lock()
	a.emitter = emitter
	a.mu.Unlock()
}

// SetClock overrides the time source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SubmitQuote records one source's quote for the current round. Repeated
// submissions from the same source within a round supersede earlier ones and
// are never an error. Malformed quotes are rejected at this boundary.
func (a *Aggregator) SubmitQuote(asset string, quote PriceQuote) error {
	if a == nil {
		return ErrInvalidQuote
	}
	symbol := NormaliseAsset(asset)
	source := normaliseSource(quote.Source)
	if symbol == "" || source == "" {
		return ErrInvalidQuote
	}
	if quote.Price == nil || quote.Price.Sign() <= 0 {
		return ErrInvalidQuote
	}
	stored := quote.Clone()
	stored.Asset = symbol
	stored.Source = source
	if stored.ObservedAt.IsZero() {
		stored.ObservedAt = a.now().UTC()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	round, ok := a.rounds[symbol]
	if !ok {
		round = make(map[string]PriceQuote)
		a.rounds[symbol] = round
	}
	round[source] = stored
	return nil
}

// Aggregate runs one aggregation round for the asset and publishes the result.
// On any failure the previously published price is left untouched; only its
// staleness clock keeps advancing. Accepted quotes are consumed by a
// successful round.
func (a *Aggregator) Aggregate(asset string) (AggregatedPrice, error) {
	if a == nil {
		return AggregatedPrice{}, ErrNoPrice
	}
	symbol := NormaliseAsset(asset)
	if symbol == "" {
		return AggregatedPrice{}, ErrInvalidQuote
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	cutoff := now.Add(-a.cfg.MaxQuoteAge)

	fresh := make([]PriceQuote, 0, len(a.rounds[symbol]))
	for _, quote := range a.rounds[symbol] {
		if quote.ObservedAt.Before(cutoff) {
			continue
		}
		fresh = append(fresh, quote)
	}
	if len(fresh) < a.cfg.QuorumSources {
		observability.OracleMetrics().ObserveRound(symbol, "insufficient_quorum")
		return AggregatedPrice{}, ErrInsufficientQuorum
	}

	median := medianPrice(fresh)

	accepted := fresh[:0]
	for _, quote := range fresh {
		if withinDeviation(quote.Price, median, a.cfg.MaxDeviationBps) {
			accepted = append(accepted, quote)
		}
	}
	if len(accepted) < a.cfg.QuorumSources {
		observability.OracleMetrics().ObserveRound(symbol, "deviation_too_high")
		return AggregatedPrice{}, ErrDeviationTooHigh
	}

	value := medianPrice(accepted)
	observedAt := time.Time{}
	for _, quote := range accepted {
		if quote.ObservedAt.After(observedAt) {
			observedAt = quote.ObservedAt
		}
	}

	previous, exists := a.published[symbol]
	if exists && !observedAt.After(previous.ObservedAt) {
		observability.OracleMetrics().ObserveRound(symbol, "no_new_observations")
		return AggregatedPrice{}, errNoNewObservations
	}

	result := AggregatedPrice{
		Asset:      symbol,
		Value:      value,
		ComputedAt: now,
		ObservedAt: observedAt.UTC(),
		QuorumMet:  true,
		Sources:    len(accepted),
	}
	a.published[symbol] = result.Clone()
	delete(a.rounds, symbol)

	observability.OracleMetrics().ObserveRound(symbol, "published")
	observability.OracleMetrics().SetPublished(symbol, value)
	a.emitter.Emit(events.PriceUpdated{
		Asset:      symbol,
		Value:      new(big.Int).Set(value),
		Sources:    len(accepted),
		ObservedAt: result.ObservedAt,
	})
	return result.Clone(), nil
}

// GetPrice returns the current published aggregate. It fails fast with
// ErrStalePrice once the aggregate's age exceeds the staleness window and
// never waits for a fresher quote.
func (a *Aggregator) GetPrice(asset string) (AggregatedPrice, error) {
	if a == nil {
		return AggregatedPrice{}, ErrNoPrice
	}
	symbol := NormaliseAsset(asset)

	a.mu.RLock()
	published, ok := a.published[symbol]
	now := a.now().UTC()
	maxAge := a.cfg.MaxQuoteAge
	a.mu.RUnlock()

	if !ok {
		return AggregatedPrice{}, ErrNoPrice
	}
	if now.Sub(published.ComputedAt) > maxAge {
		return AggregatedPrice{}, ErrStalePrice
	}
	return published.Clone(), nil
}

// medianPrice computes the median over the quotes' prices. For an even count
// the two middle values are averaged, truncating toward zero in fixed-point.
func medianPrice(quotes []PriceQuote) *big.Int {
	values := make([]*big.Int, 0, len(quotes))
	for _, quote := range quotes {
		if quote.Price == nil {
			continue
		}
		values = append(values, new(big.Int).Set(quote.Price))
	}
	if len(values) == 0 {
		return big.NewInt(0)
	}
	sort.Slice(values, func(i, j int) bool {
		return values[i].Cmp(values[j]) < 0
	})
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	sum := new(big.Int).Add(values[mid-1], values[mid])
	return sum.Quo(sum, big.NewInt(2))
}

// withinDeviation reports whether price lies within maxBps basis points of the
// median: |price - median| * 10000 <= maxBps * median.
func withinDeviation(price, median *big.Int, maxBps uint64) bool {
	if price == nil || median == nil || median.Sign() <= 0 {
		return false
	}
	diff := new(big.Int).Sub(price, median)
	diff.Abs(diff)
	diff.Mul(diff, basisPoints)
	limit := new(big.Int).Mul(median, new(big.Int).SetUint64(maxBps))
	return diff.Cmp(limit) <= 0
}

var basisPoints = big.NewInt(10_000)
