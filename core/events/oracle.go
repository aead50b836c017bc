package events

import (
	"math/big"
	"strconv"
	"time"

	"stablevault/native/common"
)

const (
	// TypePriceUpdated is emitted whenever the aggregator publishes a new
	// trusted price for an asset.
	TypePriceUpdated = "oracle.price_updated"
)

// PriceUpdated carries the published aggregate for downstream subscribers.
type PriceUpdated struct {
	Asset      string
	Value      *big.Int
	Sources    int
	ObservedAt time.Time
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

// Attributes renders the event payload as flat string pairs for indexing.
func (e PriceUpdated) Attributes() map[string]string {
	value := big.NewInt(0)
	if e.Value != nil {
		value = new(big.Int).Set(e.Value)
	}
	return map[string]string{
		"asset":      e.Asset,
		"value":      common.FormatFixed8(value),
		"sources":    strconv.Itoa(e.Sources),
		"observedAt": e.ObservedAt.UTC().Format(time.RFC3339Nano),
	}
}
