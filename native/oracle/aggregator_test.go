package oracle

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"stablevault/native/common"
)

var testEpoch = time.Unix(1_700_000_000, 0).UTC()

func fixed(t *testing.T, s string) *big.Int {
	t.Helper()
	v, err := common.ParseFixed8(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return v
}

func testAggregator() (*Aggregator, *time.Time) {
	now := testEpoch
	agg := NewAggregator(Config{MaxQuoteAge: 5 * time.Minute, MaxDeviationBps: 500, QuorumSources: 2})
	agg.SetClock(func() time.Time { return now })
	return agg, &now
}

func submit(t *testing.T, agg *Aggregator, asset, source, price string, observed time.Time) {
	t.Helper()
	err := agg.SubmitQuote(asset, PriceQuote{
		Asset:      asset,
		Price:      fixed(t, price),
		Source:     source,
		ObservedAt: observed,
	})
	if err != nil {
		t.Fatalf("submit %s from %s: %v", asset, source, err)
	}
}

func TestAggregateFiltersOutlierAndPublishesMedian(t *testing.T) {
	agg, now := testAggregator()

	// Three venues quote {100, 101, 150}: the raw median is 101, the 150
	// quote deviates by far more than 5% and is dropped, and the surviving
	// pair averages to 100.50.
	submit(t, agg, "BTC", "venue-a", "100", now.Add(-time.Minute))
	submit(t, agg, "BTC", "venue-b", "101", now.Add(-30*time.Second))
	submit(t, agg, "BTC", "venue-c", "150", now.Add(-10*time.Second))

	result, err := agg.Aggregate("BTC")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.Value.Cmp(fixed(t, "100.50")) != 0 {
		t.Fatalf("value = %s, want 100.50", common.FormatFixed8(result.Value))
	}
	if result.Sources != 2 {
		t.Fatalf("sources = %d, want 2", result.Sources)
	}
	if !result.QuorumMet {
		t.Fatal("quorum flag not set")
	}
	if got := result.ObservedAt; !got.Equal(now.Add(-30 * time.Second)) {
		t.Fatalf("observedAt = %v, want newest accepted quote", got)
	}
}

func TestAggregateInsufficientQuorumKeepsPreviousPrice(t *testing.T) {
	agg, nowPtr := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *nowPtr)
	submit(t, agg, "BTC", "venue-b", "102", *nowPtr)
	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("first round: %v", err)
	}
	previous, err := agg.GetPrice("BTC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}

	// One fresh quote is below the 2-source quorum.
	*nowPtr = nowPtr.Add(time.Minute)
	submit(t, agg, "BTC", "venue-a", "95", *nowPtr)
	if _, err := agg.Aggregate("BTC"); !errors.Is(err, ErrInsufficientQuorum) {
		t.Fatalf("err = %v, want ErrInsufficientQuorum", err)
	}

	current, err := agg.GetPrice("BTC")
	if err != nil {
		t.Fatalf("get price after failed round: %v", err)
	}
	if current.Value.Cmp(previous.Value) != 0 {
		t.Fatalf("published price moved on a failed round: %s -> %s",
			common.FormatFixed8(previous.Value), common.FormatFixed8(current.Value))
	}
}

func TestAggregateDeviationBelowQuorum(t *testing.T) {
	agg, now := testAggregator()

	// Two fresh quotes 40% apart: the deviation filter leaves one survivor,
	// below quorum.
	submit(t, agg, "BTC", "venue-a", "100", *now)
	submit(t, agg, "BTC", "venue-b", "140", *now)

	if _, err := agg.Aggregate("BTC"); !errors.Is(err, ErrDeviationTooHigh) {
		t.Fatalf("err = %v, want ErrDeviationTooHigh", err)
	}
	if _, err := agg.GetPrice("BTC"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("err = %v, want ErrNoPrice", err)
	}
}

func TestStaleQuotesExcludedFromRound(t *testing.T) {
	agg, now := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", now.Add(-10*time.Minute))
	submit(t, agg, "BTC", "venue-b", "101", *now)

	if _, err := agg.Aggregate("BTC"); !errors.Is(err, ErrInsufficientQuorum) {
		t.Fatalf("err = %v, want ErrInsufficientQuorum", err)
	}
}

func TestGetPriceFailsClosedWhenStale(t *testing.T) {
	agg, nowPtr := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *nowPtr)
	submit(t, agg, "BTC", "venue-b", "101", *nowPtr)
	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	*nowPtr = nowPtr.Add(4 * time.Minute)
	if _, err := agg.GetPrice("BTC"); err != nil {
		t.Fatalf("fresh read: %v", err)
	}

	*nowPtr = nowPtr.Add(2 * time.Minute)
	if _, err := agg.GetPrice("BTC"); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("err = %v, want ErrStalePrice", err)
	}
}

func TestGetPriceIdempotentBetweenRounds(t *testing.T) {
	agg, now := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *now)
	submit(t, agg, "BTC", "venue-b", "102", *now)
	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	first, err := agg.GetPrice("BTC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	second, err := agg.GetPrice("btc")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if first.Value.Cmp(second.Value) != 0 || !first.ComputedAt.Equal(second.ComputedAt) {
		t.Fatal("reads between rounds must return the identical aggregate")
	}
}

func TestResubmissionSupersedesEarlierQuote(t *testing.T) {
	agg, now := testAggregator()

	submit(t, agg, "BTC", "venue-a", "90", now.Add(-2*time.Minute))
	submit(t, agg, "BTC", "venue-a", "100", now.Add(-time.Minute))
	submit(t, agg, "BTC", "venue-b", "102", *now)

	result, err := agg.Aggregate("BTC")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	// Median of {100, 102}; the superseded 90 must not participate.
	if result.Value.Cmp(fixed(t, "101")) != 0 {
		t.Fatalf("value = %s, want 101", common.FormatFixed8(result.Value))
	}
}

func TestPublishedObservationsAdvanceMonotonically(t *testing.T) {
	agg, nowPtr := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *nowPtr)
	submit(t, agg, "BTC", "venue-b", "102", *nowPtr)
	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("first round: %v", err)
	}

	// A replayed round built from observations no newer than what was
	// published must not move the price.
	submit(t, agg, "BTC", "venue-a", "50", *nowPtr)
	submit(t, agg, "BTC", "venue-b", "51", *nowPtr)
	if _, err := agg.Aggregate("BTC"); err == nil {
		t.Fatal("replayed round republished a price")
	}
	current, err := agg.GetPrice("BTC")
	if err != nil {
		t.Fatalf("get price: %v", err)
	}
	if current.Value.Cmp(fixed(t, "101")) != 0 {
		t.Fatalf("value = %s, want 101 from the first round", common.FormatFixed8(current.Value))
	}
}

func TestSuccessfulRoundConsumesQuotes(t *testing.T) {
	agg, nowPtr := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *nowPtr)
	submit(t, agg, "BTC", "venue-b", "102", *nowPtr)
	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("first round: %v", err)
	}

	// The consumed quotes cannot seed a second round.
	*nowPtr = nowPtr.Add(time.Second)
	if _, err := agg.Aggregate("BTC"); !errors.Is(err, ErrInsufficientQuorum) {
		t.Fatalf("err = %v, want ErrInsufficientQuorum", err)
	}
}

func TestAssetsAggregateIndependently(t *testing.T) {
	agg, now := testAggregator()

	submit(t, agg, "BTC", "venue-a", "100", *now)
	submit(t, agg, "BTC", "venue-b", "102", *now)
	submit(t, agg, "ETH", "venue-a", "10", *now)

	if _, err := agg.Aggregate("BTC"); err != nil {
		t.Fatalf("btc round: %v", err)
	}
	if _, err := agg.Aggregate("ETH"); !errors.Is(err, ErrInsufficientQuorum) {
		t.Fatalf("eth err = %v, want ErrInsufficientQuorum", err)
	}
	if _, err := agg.GetPrice("BTC"); err != nil {
		t.Fatalf("btc price must survive eth failure: %v", err)
	}
}

func TestSubmitQuoteRejectsMalformed(t *testing.T) {
	agg, now := testAggregator()

	cases := []PriceQuote{
		{Asset: "BTC", Source: "venue-a"},                                  // nil price
		{Asset: "BTC", Source: "venue-a", Price: big.NewInt(0)},            // zero
		{Asset: "BTC", Source: "venue-a", Price: big.NewInt(-5)},           // negative
		{Asset: "BTC", Source: "", Price: big.NewInt(1), ObservedAt: *now}, // no source
		{Asset: "", Source: "venue-a", Price: big.NewInt(1)},               // no asset
	}
	for i, quote := range cases {
		if err := agg.SubmitQuote(quote.Asset, quote); !errors.Is(err, ErrInvalidQuote) {
			t.Fatalf("case %d: err = %v, want ErrInvalidQuote", i, err)
		}
	}
}

func TestMedianOddCount(t *testing.T) {
	agg, now := testAggregator()

	submit(t, agg, "BTC", "venue-a", "99", *now)
	submit(t, agg, "BTC", "venue-b", "100", *now)
	submit(t, agg, "BTC", "venue-c", "101", *now)

	result, err := agg.Aggregate("BTC")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if result.Value.Cmp(fixed(t, "100")) != 0 {
		t.Fatalf("value = %s, want 100", common.FormatFixed8(result.Value))
	}
}
