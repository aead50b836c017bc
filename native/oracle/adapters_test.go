package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stablevault/native/common"
)

func TestManualSourceRoundTrip(t *testing.T) {
	source := NewManualSource("Manual-Override")
	if source.Name() != "manual-override" {
		t.Fatalf("name = %q, want normalised", source.Name())
	}
	ts := time.Unix(1_700_000_000, 0).UTC()
	if err := source.SetDecimal("btc", "43250.12345678", ts); err != nil {
		t.Fatalf("set: %v", err)
	}

	quote, err := source.FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := common.FormatFixed8(quote.Price); got != "43250.12345678" {
		t.Fatalf("price = %s", got)
	}
	if !quote.ObservedAt.Equal(ts) {
		t.Fatalf("observedAt = %v, want %v", quote.ObservedAt, ts)
	}

	if err := source.SetDecimal("btc", "-1", ts); err == nil {
		t.Fatal("negative price accepted")
	}
	if _, err := source.FetchQuote(context.Background(), "ETH"); err == nil {
		t.Fatal("missing asset returned a quote")
	}
}

func TestCoinGeckoSourceParsesPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "bitcoin" {
			t.Errorf("ids = %q, want bitcoin", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":43250.5,"last_updated_at":1700000000}}`))
	}))
	defer server.Close()

	source := NewCoinGeckoSource(server.Client(), server.URL, map[string]string{"BTC": "bitcoin"})
	quote, err := source.FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := common.FormatFixed8(quote.Price); got != "43250.50000000" {
		t.Fatalf("price = %s", got)
	}
	if want := time.Unix(1_700_000_000, 0).UTC(); !quote.ObservedAt.Equal(want) {
		t.Fatalf("observedAt = %v, want %v", quote.ObservedAt, want)
	}
	if quote.Source != "coingecko" {
		t.Fatalf("source = %q", quote.Source)
	}
}

func TestVenuePricesRoundedToFixedPoint(t *testing.T) {
	// Venues quote at full float precision; the extra digits round half-up
	// instead of knocking the source out of quorum.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":43250.123456789,"last_updated_at":1700000000}}`))
	}))
	defer server.Close()

	source := NewCoinGeckoSource(server.Client(), server.URL, map[string]string{"BTC": "bitcoin"})
	quote, err := source.FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := common.FormatFixed8(quote.Price); got != "43250.12345679" {
		t.Fatalf("price = %s, want 43250.12345679", got)
	}
}

func TestParseVenuePrice(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"43250.123456785", "43250.12345679", true}, // ties round up
		{"43250.123456784", "43250.12345678", true},
		{"2301.07", "2301.07000000", true},
		{"0", "", false},
		{"-1.5", "", false},
		{"not-a-number", "", false},
		{"3/2", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := parseVenuePrice(tc.in)
		if !tc.ok {
			if err == nil {
				t.Errorf("parseVenuePrice(%q) accepted, want error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseVenuePrice(%q): %v", tc.in, err)
			continue
		}
		if formatted := common.FormatFixed8(got); formatted != tc.want {
			t.Errorf("parseVenuePrice(%q) = %s, want %s", tc.in, formatted, tc.want)
		}
	}
}

func TestCoinGeckoSourceRejectsMalformedPayload(t *testing.T) {
	payloads := []string{
		`{"bitcoin":{"usd":"not-a-number"}}`,
		`{"bitcoin":{}}`,
		`{}`,
		`[1,2,3]`,
	}
	for i, payload := range payloads {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(payload))
		}))
		source := NewCoinGeckoSource(server.Client(), server.URL, map[string]string{"BTC": "bitcoin"})
		if _, err := source.FetchQuote(context.Background(), "BTC"); err == nil {
			t.Errorf("payload %d accepted: %s", i, payload)
		}
		server.Close()
	}
}

func TestBinanceSourceParsesTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "ETHUSDT" {
			t.Errorf("symbol = %q, want ETHUSDT", got)
		}
		_, _ = w.Write([]byte(`{"symbol":"ETHUSDT","price":"2301.07000000"}`))
	}))
	defer server.Close()

	source := NewBinanceSource(server.Client(), server.URL)
	quote, err := source.FetchQuote(context.Background(), "eth")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := common.FormatFixed8(quote.Price); got != "2301.07000000" {
		t.Fatalf("price = %s", got)
	}
	if quote.Asset != "ETH" {
		t.Fatalf("asset = %q", quote.Asset)
	}
}

func TestBinanceSourceRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"code":-1121,"msg":"Invalid symbol."}`, http.StatusBadRequest)
	}))
	defer server.Close()

	source := NewBinanceSource(server.Client(), server.URL)
	if _, err := source.FetchQuote(context.Background(), "BTC"); err == nil {
		t.Fatal("error status accepted")
	}
}

func TestKrakenSourceParsesTicker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("pair"); got != "XXBTZUSD" {
			t.Errorf("pair = %q, want XXBTZUSD", got)
		}
		_, _ = w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{"c":["43100.90000","0.01000000"]}}}`))
	}))
	defer server.Close()

	source := NewKrakenSource(server.Client(), server.URL, map[string]string{"BTC": "XXBTZUSD"})
	quote, err := source.FetchQuote(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := common.FormatFixed8(quote.Price); got != "43100.90000000" {
		t.Fatalf("price = %s", got)
	}
}

func TestKrakenSourceSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":["EQuery:Unknown asset pair"],"result":{}}`))
	}))
	defer server.Close()

	source := NewKrakenSource(server.Client(), server.URL, nil)
	if _, err := source.FetchQuote(context.Background(), "BTC"); err == nil {
		t.Fatal("api error accepted")
	}
}
