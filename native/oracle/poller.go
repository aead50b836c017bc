package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// PriceSink receives every successfully published aggregate, typically to
// persist it in the aggregated-price table.
type PriceSink interface {
	StoreAggregatedPrice(price AggregatedPrice) error
}

// Poller drives the fetch -> submit -> aggregate cycle for a set of assets on
// a fixed interval. Venue fetches share a rate limiter so a short interval
// cannot hammer the upstream APIs.
type Poller struct {
	agg      *Aggregator
	sources  []SourceAdapter
	assets   []string
	interval time.Duration
	timeout  time.Duration
	limiter  *rate.Limiter
	sink     PriceSink
	log      *slog.Logger
}

// NewPoller constructs a poller over the supplied sources and assets.
func NewPoller(agg *Aggregator, sources []SourceAdapter, assets []string, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	normalised := make([]string, 0, len(assets))
	for _, asset := range assets {
		if symbol := NormaliseAsset(asset); symbol != "" {
			normalised = append(normalised, symbol)
		}
	}
	return &Poller{
		agg:      agg,
		sources:  sources,
		assets:   normalised,
		interval: interval,
		timeout:  10 * time.Second,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
		log:      log.With("component", "oracle_poller"),
	}
}

// SetRateLimit overrides the venue fetch rate limit.
func (p *Poller) SetRateLimit(perSecond float64, burst int) {
	if p == nil || perSecond <= 0 || burst <= 0 {
		return
	}
	p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// SetSink wires a persistence sink for published aggregates.
func (p *Poller) SetSink(sink PriceSink) {
	if p == nil {
		return
	}
	p.sink = sink
}

// Run polls until the context is cancelled. An immediate first cycle runs
// before the ticker starts so prices are available soon after boot.
func (p *Poller) Run(ctx context.Context) error {
	if p == nil || p.agg == nil {
		return errors.New("oracle: poller not configured")
	}
	p.PollOnce(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single fetch/submit/aggregate cycle across all assets.
// Failures are logged and never interrupt the other assets: aggregation is
// fail-closed, so a failed round simply leaves the previous price in place.
func (p *Poller) PollOnce(ctx context.Context) {
	for _, asset := range p.assets {
		for _, source := range p.sources {
			if err := p.limiter.Wait(ctx); err != nil {
				return
			}
			fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
			quote, err := source.FetchQuote(fetchCtx, asset)
			cancel()
			if err != nil {
				p.log.Warn("venue fetch failed", "asset", asset, "source", source.Name(), "err", err)
				continue
			}
			if err := p.agg.SubmitQuote(asset, quote); err != nil {
				p.log.Warn("quote rejected", "asset", asset, "source", source.Name(), "err", err)
			}
		}
		published, err := p.agg.Aggregate(asset)
		if err != nil {
			if !errors.Is(err, errNoNewObservations) {
				p.log.Warn("aggregation failed", "asset", asset, "err", err)
			}
			continue
		}
		p.log.Info("price published", "asset", asset, "value", published.Value.String(), "sources", published.Sources)
		if p.sink != nil {
			if err := p.sink.StoreAggregatedPrice(published); err != nil {
				p.log.Error("persist aggregate failed", "asset", asset, "err", err)
			}
		}
	}
}
