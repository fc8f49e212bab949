package events

import (
	"math/big"
	"strconv"

	"ledgercore/core/types"
)

const (
	// TypeVoucherIssued captures a funded voucher entering circulation.
	TypeVoucherIssued = "voucher.issued"
	// TypeVoucherRedeemed is emitted on every successful redemption.
	TypeVoucherRedeemed = "voucher.redeemed"
)

// VoucherIssued captures a newly funded voucher.
type VoucherIssued struct {
	Issuer  [20]byte
	Code    string
	Amount  *big.Int
	MaxUses uint32
}

// EventType satisfies the Event interface.
func (VoucherIssued) EventType() string { return TypeVoucherIssued }

// Event converts the structured payload into a broadcastable event.
func (e VoucherIssued) Event() *types.Event {
	return &types.Event{Type: TypeVoucherIssued, Attributes: map[string]string{
		"issuer":  formatAddress(e.Issuer),
		"code":    e.Code,
		"amount":  formatAmount(e.Amount),
		"maxUses": strconv.FormatUint(uint64(e.MaxUses), 10),
	}}
}

// VoucherRedeemed captures a single redemption against a voucher code.
type VoucherRedeemed struct {
	Redeemer [20]byte
	Code     string
	Amount   *big.Int
	UsesLeft uint32
}

// EventType satisfies the Event interface.
func (VoucherRedeemed) EventType() string { return TypeVoucherRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e VoucherRedeemed) Event() *types.Event {
	return &types.Event{Type: TypeVoucherRedeemed, Attributes: map[string]string{
		"redeemer": formatAddress(e.Redeemer),
		"code":     e.Code,
		"amount":   formatAmount(e.Amount),
		"usesLeft": strconv.FormatUint(uint64(e.UsesLeft), 10),
	}}
}
