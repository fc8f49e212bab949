package events

import (
	"math/big"
	"strconv"

	"ledgercore/core/types"
)

const (
	// TypePresalePurchased captures a purchase recorded against a sale round.
	TypePresalePurchased = "presale.purchased"
	// TypePresaleClaimed is emitted when vested tokens are released to a buyer.
	TypePresaleClaimed = "presale.claimed"
)

// PresalePurchased captures a recorded allocation and the payment pulled for it.
type PresalePurchased struct {
	Buyer    [20]byte
	RecordID uint64
	Amount   *big.Int
	Cost     *big.Int
}

// EventType satisfies the Event interface.
func (PresalePurchased) EventType() string { return TypePresalePurchased }

// Event converts the structured payload into a broadcastable event.
func (e PresalePurchased) Event() *types.Event {
	return &types.Event{Type: TypePresalePurchased, Attributes: map[string]string{
		"buyer":  formatAddress(e.Buyer),
		"record": strconv.FormatUint(e.RecordID, 10),
		"amount": formatAmount(e.Amount),
		"cost":   formatAmount(e.Cost),
	}}
}

// PresaleClaimed captures the vested amount released to a buyer.
type PresaleClaimed struct {
	Buyer  [20]byte
	Amount *big.Int
}

// EventType satisfies the Event interface.
func (PresaleClaimed) EventType() string { return TypePresaleClaimed }

// Event converts the structured payload into a broadcastable event.
func (e PresaleClaimed) Event() *types.Event {
	return &types.Event{Type: TypePresaleClaimed, Attributes: map[string]string{
		"buyer":  formatAddress(e.Buyer),
		"amount": formatAmount(e.Amount),
	}}
}
