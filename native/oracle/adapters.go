package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"stablevault/native/common"
)

// SourceAdapter fetches a single quote from one external venue. Adapters parse
// the venue's loose payload into a strongly-typed fixed-point quote; malformed
// or non-numeric payloads are rejected here and never reach aggregation.
type SourceAdapter interface {
	Name() string
	FetchQuote(ctx context.Context, asset string) (PriceQuote, error)
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ManualSource provides an in-memory adapter used for tests and manual
// overrides during incident response.
type ManualSource struct {
	mu     sync.RWMutex
	name   string
	quotes map[string]PriceQuote
}

// NewManualSource constructs an empty manual source under the given name.
func NewManualSource(name string) *ManualSource {
	trimmed := normaliseSource(name)
	if trimmed == "" {
		trimmed = "manual"
	}
	return &ManualSource{name: trimmed, quotes: make(map[string]PriceQuote)}
}

// Name returns the source identifier.
func (m *ManualSource) Name() string { return m.name }

// SetDecimal records the supplied decimal price for the asset at ts.
func (m *ManualSource) SetDecimal(asset, price string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual source not configured")
	}
	parsed, err := common.ParseFixed8(price)
	if err != nil {
		return fmt.Errorf("manual source: %w", err)
	}
	if parsed.Sign() <= 0 {
		return fmt.Errorf("manual source: price must be positive")
	}
	symbol := NormaliseAsset(asset)
	m.mu.Lock()
	m.quotes[symbol] = PriceQuote{Asset: symbol, Price: parsed, Source: m.name, ObservedAt: ts}
	m.mu.Unlock()
	return nil
}

// FetchQuote returns the stored quote for the asset.
func (m *ManualSource) FetchQuote(_ context.Context, asset string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual source not configured")
	}
	symbol := NormaliseAsset(asset)
	m.mu.RLock()
	stored, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("manual source: quote for %s not found", symbol)
	}
	return stored.Clone(), nil
}

// CoinGeckoSource adapts the public CoinGecko simple price API.
type CoinGeckoSource struct {
	client   HTTPDoer
	endpoint string
	idMap    map[string]string
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// NewCoinGeckoSource constructs a new adapter. idMap maps protocol asset
// symbols to CoinGecko asset identifiers (e.g. BTC -> bitcoin).
func NewCoinGeckoSource(client HTTPDoer, endpoint string, idMap map[string]string) *CoinGeckoSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(idMap))
	for k, v := range idMap {
		mapped[NormaliseAsset(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoSource{client: client, endpoint: ep, idMap: mapped}
}

// Name returns the source identifier.
func (s *CoinGeckoSource) Name() string { return "coingecko" }

func (s *CoinGeckoSource) assetID(symbol string) string {
	if id, ok := s.idMap[symbol]; ok && id != "" {
		return id
	}
	return strings.ToLower(symbol)
}

// FetchQuote resolves the USD price for the asset.
func (s *CoinGeckoSource) FetchQuote(ctx context.Context, asset string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, fmt.Errorf("coingecko source not configured")
	}
	symbol := NormaliseAsset(asset)
	id := s.assetID(symbol)
	if id == "" {
		return PriceQuote{}, fmt.Errorf("coingecko source: unmapped asset %s", symbol)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", "usd")
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("coingecko source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko source: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko source: quote missing for %s", symbol)
	}
	raw, ok := entry["usd"]
	if !ok {
		return PriceQuote{}, fmt.Errorf("coingecko source: empty price for %s", symbol)
	}
	price, err := parseVenuePrice(raw.String())
	if err != nil {
		return PriceQuote{}, fmt.Errorf("coingecko source: invalid price %q", raw.String())
	}
	ts := time.Now().UTC()
	if rawTs, ok := entry["last_updated_at"]; ok {
		if parsed, err := rawTs.Int64(); err == nil && parsed > 0 {
			ts = time.Unix(parsed, 0).UTC()
		}
	}
	return PriceQuote{Asset: symbol, Price: price, Source: s.Name(), ObservedAt: ts}, nil
}

// BinanceSource adapts the Binance spot ticker endpoint, quoting against USDT.
type BinanceSource struct {
	client   HTTPDoer
	endpoint string
}

const defaultBinanceEndpoint = "https://api.binance.com/api/v3/ticker/price"

// NewBinanceSource constructs a new adapter. When the client is nil
// http.DefaultClient is used.
func NewBinanceSource(client HTTPDoer, endpoint string) *BinanceSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultBinanceEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &BinanceSource{client: client, endpoint: ep}
}

// Name returns the source identifier.
func (s *BinanceSource) Name() string { return "binance" }

// FetchQuote resolves the asset's USDT ticker price. Binance reports no
// observation timestamp, so receipt time is used.
func (s *BinanceSource) FetchQuote(ctx context.Context, asset string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, fmt.Errorf("binance source not configured")
	}
	symbol := NormaliseAsset(asset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("symbol", symbol+"USDT")
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("binance source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("binance source: decode: %w", err)
	}
	price, err := parseVenuePrice(payload.Price)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("binance source: invalid price %q", payload.Price)
	}
	return PriceQuote{Asset: symbol, Price: price, Source: s.Name(), ObservedAt: time.Now().UTC()}, nil
}

// KrakenSource adapts the Kraken public ticker endpoint.
type KrakenSource struct {
	client   HTTPDoer
	endpoint string
	pairMap  map[string]string
}

const defaultKrakenEndpoint = "https://api.kraken.com/0/public/Ticker"

// NewKrakenSource constructs a new adapter. pairMap maps protocol asset
// symbols to Kraken pair identifiers (e.g. BTC -> XXBTZUSD); unmapped assets
// fall back to X<ASSET>ZUSD.
func NewKrakenSource(client HTTPDoer, endpoint string, pairMap map[string]string) *KrakenSource {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultKrakenEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(pairMap))
	for k, v := range pairMap {
		mapped[NormaliseAsset(k)] = strings.TrimSpace(v)
	}
	return &KrakenSource{client: client, endpoint: ep, pairMap: mapped}
}

// Name returns the source identifier.
func (s *KrakenSource) Name() string { return "kraken" }

func (s *KrakenSource) pair(symbol string) string {
	if pair, ok := s.pairMap[symbol]; ok && pair != "" {
		return pair
	}
	return "X" + symbol + "ZUSD"
}

// FetchQuote resolves the asset's USD ticker close price.
func (s *KrakenSource) FetchQuote(ctx context.Context, asset string) (PriceQuote, error) {
	if s == nil {
		return PriceQuote{}, fmt.Errorf("kraken source not configured")
	}
	symbol := NormaliseAsset(asset)
	pair := s.pair(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("pair", pair)
	req.URL.RawQuery = values.Encode()
	resp, err := s.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("kraken source: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			Close []string `json:"c"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("kraken source: decode: %w", err)
	}
	if len(payload.Error) > 0 {
		return PriceQuote{}, fmt.Errorf("kraken source: %s", strings.Join(payload.Error, "; "))
	}
	entry, ok := payload.Result[pair]
	if !ok || len(entry.Close) == 0 {
		return PriceQuote{}, fmt.Errorf("kraken source: quote missing for %s", symbol)
	}
	price, err := parseVenuePrice(entry.Close[0])
	if err != nil {
		return PriceQuote{}, fmt.Errorf("kraken source: invalid price %q", entry.Close[0])
	}
	return PriceQuote{Asset: symbol, Price: price, Source: s.Name(), ObservedAt: time.Now().UTC()}, nil
}

// ParseFixed8 parses a decimal string into the protocol's fixed-point
// representation. It is re-exported here so adapter implementations outside
// this package share the same boundary validation.
func ParseFixed8(value string) (*big.Int, error) {
	return common.ParseFixed8(value)
}

// parseVenuePrice parses a venue's decimal price, rounding half-up to the
// protocol's eight-decimal grid. Venues quote at whatever precision their
// matching engine uses; rejecting the extra digits would silently drop an
// otherwise healthy source from quorum. Operator-entered values (manual
// source, config) stay on the strict ParseFixed8 path.
func parseVenuePrice(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.ContainsAny(trimmed, "/") {
		return nil, fmt.Errorf("malformed decimal %q", value)
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return nil, fmt.Errorf("malformed decimal %q", value)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("price %q must be positive", value)
	}
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(common.Fixed8Unit))
	// Half-up rounding: floor((2n + d) / 2d).
	num := new(big.Int).Lsh(scaled.Num(), 1)
	num.Add(num, scaled.Denom())
	den := new(big.Int).Lsh(scaled.Denom(), 1)
	return num.Quo(num, den), nil
}
