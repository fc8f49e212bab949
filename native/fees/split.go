package fees

import (
	"errors"
	"math/big"
)

// BasisPoints is the denominator used for all fee and royalty rates.
const BasisPoints = 10_000

var basisPointsBig = big.NewInt(BasisPoints)

var (
	ErrInvalidConfig = errors.New("fees: combined rate exceeds basis points")
)

// Config captures the fee policy applied to payout flows. Collector receives
// the fee portion, royalty (when configured) is routed separately by the
// caller.
type Config struct {
	FeeBps     uint32
	RoyaltyBps uint32
	Collector  [20]byte
}

// Validate reports whether the configured rates leave a positive net share.
func (c Config) Validate() error {
	if uint64(c.FeeBps)+uint64(c.RoyaltyBps) >= BasisPoints {
		return ErrInvalidConfig
	}
	return nil
}

// Split divides a gross amount into fee, royalty and net portions. Both the
// fee and the royalty truncate toward zero, so the net share absorbs every
// rounding remainder and fee+royalty+net always equals gross exactly.
func Split(gross *big.Int, feeBps, royaltyBps uint32) (fee, royalty, net *big.Int, err error) {
	if uint64(feeBps)+uint64(royaltyBps) > BasisPoints {
		return nil, nil, nil, ErrInvalidConfig
	}
	amount := big.NewInt(0)
	if gross != nil && gross.Sign() > 0 {
		amount = new(big.Int).Set(gross)
	}
	fee = bpsShare(amount, feeBps)
	royalty = bpsShare(amount, royaltyBps)
	net = new(big.Int).Sub(amount, fee)
	net.Sub(net, royalty)
	return fee, royalty, net, nil
}

func bpsShare(amount *big.Int, bps uint32) *big.Int {
	if amount.Sign() <= 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, big.NewInt(int64(bps)))
	return share.Div(share, basisPointsBig)
}

// Totals aggregates fee accounting across calls so drift against the summed
// gross amounts is observable.
type Totals struct {
	Gross   *big.Int
	Fee     *big.Int
	Royalty *big.Int
	Net     *big.Int
}

// NewTotals returns a zeroed totals accumulator.
func NewTotals() *Totals {
	return &Totals{Gross: big.NewInt(0), Fee: big.NewInt(0), Royalty: big.NewInt(0), Net: big.NewInt(0)}
}

// Add folds a single split result into the running totals.
func (t *Totals) Add(gross, fee, royalty, net *big.Int) {
	if t == nil {
		return
	}
	t.Gross.Add(t.Gross, nonNil(gross))
	t.Fee.Add(t.Fee, nonNil(fee))
	t.Royalty.Add(t.Royalty, nonNil(royalty))
	t.Net.Add(t.Net, nonNil(net))
}

// Clone returns a copy of the totals structure with duplicated big.Int values.
func (t *Totals) Clone() *Totals {
	if t == nil {
		return NewTotals()
	}
	return &Totals{
		Gross:   new(big.Int).Set(nonNil(t.Gross)),
		Fee:     new(big.Int).Set(nonNil(t.Fee)),
		Royalty: new(big.Int).Set(nonNil(t.Royalty)),
		Net:     new(big.Int).Set(nonNil(t.Net)),
	}
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
