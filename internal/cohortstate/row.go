package cohortstate

import (
	"github.com/shopspring/decimal"

	"utxo-cohort-lab/internal/costbasis"
	"utxo-cohort-lab/internal/domain"
)

// Row is the value of every metric of one cohort at one height.
type Row struct {
	Supply              domain.Sats
	UTXOCount           uint64
	Sent                domain.Sats
	CoinblocksDestroyed decimal.Decimal
	CoindaysDestroyed   decimal.Decimal

	RealizedCap    decimal.Decimal
	RealizedProfit decimal.Decimal
	RealizedLoss   decimal.Decimal
	ValueCreated   decimal.Decimal
	ValueDestroyed decimal.Decimal
	PeakRegret     decimal.Decimal
	RealizedPrice  domain.OptionalCents
	PricedSupply   domain.Sats // supply received at priced heights

	Percentiles      [costbasis.PercentileCount]domain.OptionalCents
	UnrealizedProfit decimal.Decimal
	UnrealizedLoss   decimal.Decimal
	SupplyInProfit   domain.Sats
	SupplyInLoss     domain.Sats
}

// AddScalars adds the summable fields of o into r. Realized price and the
// histogram-derived fields are not summable.
func (r *Row) AddScalars(o Row) {
	r.Supply += o.Supply
	r.UTXOCount += o.UTXOCount
	r.Sent += o.Sent
	r.CoinblocksDestroyed = r.CoinblocksDestroyed.Add(o.CoinblocksDestroyed)
	r.CoindaysDestroyed = r.CoindaysDestroyed.Add(o.CoindaysDestroyed)
	r.RealizedCap = r.RealizedCap.Add(o.RealizedCap)
	r.RealizedProfit = r.RealizedProfit.Add(o.RealizedProfit)
	r.RealizedLoss = r.RealizedLoss.Add(o.RealizedLoss)
	r.ValueCreated = r.ValueCreated.Add(o.ValueCreated)
	r.ValueDestroyed = r.ValueDestroyed.Add(o.ValueDestroyed)
	r.PeakRegret = r.PeakRegret.Add(o.PeakRegret)
	r.PricedSupply += o.PricedSupply
}

// RecomputeRealizedPrice sets RealizedPrice from RealizedCap and
// PricedSupply. Unpriced supply carries no cost basis and is left out.
func (r *Row) RecomputeRealizedPrice() {
	r.RealizedPrice = domain.PricePerBTC(r.RealizedCap, r.PricedSupply)
}
