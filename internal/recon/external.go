package recon

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"go.uber.org/multierr"

	"execution-core/internal/schema"
)

// ExternalSnapshot is the venue's view of the account, as fetched by an
// external collaborator. Numeric fields stay decimal strings at the wire
// boundary and convert to scaled integers through the registry.
type ExternalSnapshot struct {
	Timestamp int64              `json:"timestamp"`
	Cash      decimal.Decimal    `json:"cash"`
	Positions []ExternalPosition `json:"positions"`
	Orders    []ExternalOrder    `json:"openOrders,omitempty"`
	Fills     []ExternalFill     `json:"fills,omitempty"`
}

// ExternalPosition is one symbol holding reported by the venue.
type ExternalPosition struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
}

// ExternalOrder is an open order reported by the venue. Reserved for the
// order-diff phase.
type ExternalOrder struct {
	ExchangeOrderID string          `json:"exchangeOrderId"`
	Symbol          string          `json:"symbol"`
	Qty             decimal.Decimal `json:"qty"`
}

// ExternalFill is a fill reported by the venue. Reserved for the
// fill-diff phase.
type ExternalFill struct {
	FillID string          `json:"fillId"`
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
}

// ParseExternalSnapshot decodes a snapshot from JSON.
func ParseExternalSnapshot(data []byte) (ExternalSnapshot, error) {
	var snap ExternalSnapshot
	if err := sonic.ConfigStd.Unmarshal(data, &snap); err != nil {
		return ExternalSnapshot{}, err
	}
	return snap, nil
}

// ReadExternalSnapshot loads a snapshot from disk.
func ReadExternalSnapshot(path string) (ExternalSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ExternalSnapshot{}, err
	}
	return ParseExternalSnapshot(data)
}

// resolvedExternal is the snapshot converted to scaled integers keyed by
// symbol id.
type resolvedExternal struct {
	timestamp int64
	cash      schema.Notional
	positions map[schema.SymbolID]schema.Quantity
}

// resolve converts decimal fields to scaled integers. Conversion problems
// are aggregated so one bad symbol does not hide the rest.
func resolve(registry *schema.Registry, snap ExternalSnapshot) (resolvedExternal, error) {
	var errs error

	cashScale := schema.DefaultScaleSpec().NotionalScale
	cash, err := schema.ParseScaled(snap.Cash.String(), cashScale)
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("external cash: %w", err))
	}

	out := resolvedExternal{
		timestamp: snap.Timestamp,
		cash:      schema.Notional(cash),
		positions: make(map[schema.SymbolID]schema.Quantity, len(snap.Positions)),
	}
	for _, pos := range snap.Positions {
		symbolID, ok := registry.SymbolIDByName(pos.Symbol)
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("external position: unknown symbol %q", pos.Symbol))
			continue
		}
		qty, err := schema.ParseScaled(pos.Qty.String(), registry.SymbolScale(symbolID).QuantityScale)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("external position %s: %w", pos.Symbol, err))
			continue
		}
		out.positions[symbolID] = schema.Quantity(qty)
	}
	return out, errs
}
