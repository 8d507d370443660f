// Package cost implements the shared fee/tax model for TAIFEX index futures.
// Per-side costs are applied by the paper OMS on every fill; round-trip
// totals are used by reporting.
package cost

import "fmt"

// TaxRateEquityFutures is the Taiwan futures transaction tax for equity
// index futures, applied per side on notional (2/100000).
const TaxRateEquityFutures = 0.00002

// FeeSpec holds per-contract per-side fees in NTD.
type FeeSpec struct {
	ExchangeFee      float64 `yaml:"exchange_fee"`
	ClearingFee      float64 `yaml:"clearing_fee"`
	BrokerCommission float64 `yaml:"broker_commission"`
}

// PerSide returns the total per-contract per-side fee.
func (f FeeSpec) PerSide() float64 {
	return f.ExchangeFee + f.ClearingFee + f.BrokerCommission
}

// Model maps symbols to contract multipliers and fee specs. Symbols are
// matched by base prefix so rolling codes like TMFB6 resolve to TMF.
type Model struct {
	TaxRate     float64            `yaml:"tax_rate"`
	Multipliers map[string]float64 `yaml:"multipliers"`
	Fees        map[string]FeeSpec `yaml:"fees"`
}

// DefaultModel returns the TAIFEX index-futures cost model.
// Point values: TMF 10, MXF 50, TXF 200 NTD/point/contract.
func DefaultModel() *Model {
	return &Model{
		TaxRate: TaxRateEquityFutures,
		Multipliers: map[string]float64{
			"TMF": 10.0,
			"MXF": 50.0,
			"TXF": 200.0,
		},
		Fees: map[string]FeeSpec{
			"TMF": {ExchangeFee: 4.8, ClearingFee: 3.2},
			"MXF": {},
			"TXF": {},
		},
	}
}

// BaseSymbol reduces a rolling/continuous contract code to its product base
// (TMFB6 -> TMF). Unknown symbols are returned unchanged.
func BaseSymbol(symbol string) string {
	for _, base := range []string{"TMF", "TXF", "MXF"} {
		if len(symbol) >= len(base) && symbol[:len(base)] == base {
			return base
		}
	}
	return symbol
}

// Multiplier returns the point value for a symbol, or 0 when unknown.
func (m *Model) Multiplier(symbol string) float64 {
	return m.Multipliers[BaseSymbol(symbol)]
}

// ContractNotional computes price * multiplier * qty in NTD.
// Unknown symbols fail with UNKNOWN_SYMBOL.
func (m *Model) ContractNotional(price float64, symbol string, qty float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("price must be positive, got %v", price)
	}
	mult := m.Multiplier(symbol)
	if mult <= 0 {
		return 0, fmt.Errorf("UNKNOWN_SYMBOL: no multiplier for %s", symbol)
	}
	return price * mult * qty, nil
}

// PerSideCost returns the fee and tax for one side of a fill.
// Fees are per contract; tax is notional * rate.
func (m *Model) PerSideCost(symbol string, price, qty float64) (fee, tax float64) {
	mult := m.Multiplier(symbol)
	if mult <= 0 {
		mult = 1.0
	}
	notional := price * mult * qty
	tax = notional * m.TaxRate
	fee = m.Fees[BaseSymbol(symbol)].PerSide() * qty
	return fee, tax
}

// RoundTrip is the itemized round-trip (open+close) cost breakdown.
type RoundTrip struct {
	Symbol               string  `json:"symbol"`
	Qty                  float64 `json:"qty"`
	ContractNotional     float64 `json:"contract_notional"`
	TaxPerSideRate       float64 `json:"tax_rate_per_side"`
	TaxRoundTripPerQty   float64 `json:"tax_round_trip_per_contract"`
	FeePerSide           float64 `json:"fee_per_side"`
	FeeRoundTripPerQty   float64 `json:"fee_round_trip_per_contract"`
	TotalRoundTripPerQty float64 `json:"total_round_trip_per_contract"`
	TotalRoundTrip       float64 `json:"total_round_trip_all"`
}

// RoundTripCost computes open+close costs for qty contracts at price.
// Identity: total == 2*fee_per_side*qty + 2*notional*tax_rate, i.e. the sum
// of two per-side costs.
func (m *Model) RoundTripCost(symbol string, price float64, qty float64) (*RoundTrip, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("qty must be positive, got %v", qty)
	}
	notional, err := m.ContractNotional(price, symbol, 1)
	if err != nil {
		return nil, err
	}
	fee := m.Fees[BaseSymbol(symbol)].PerSide()
	taxRT := notional * m.TaxRate * 2.0
	feeRT := fee * 2.0
	perContract := taxRT + feeRT
	return &RoundTrip{
		Symbol:               symbol,
		Qty:                  qty,
		ContractNotional:     notional,
		TaxPerSideRate:       m.TaxRate,
		TaxRoundTripPerQty:   taxRT,
		FeePerSide:           fee,
		FeeRoundTripPerQty:   feeRT,
		TotalRoundTripPerQty: perContract,
		TotalRoundTrip:       perContract * qty,
	}, nil
}
