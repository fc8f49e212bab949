package events

import (
	"math/big"
	"strconv"

	"ledgercore/core/types"
)

const (
	// TypeStakeCreated captures a new stake record entering a plan pool.
	TypeStakeCreated = "stake.created"
	// TypeStakeClaimed is emitted when accrued rewards are paid out to an owner.
	TypeStakeClaimed = "stake.claimed"
	// TypeStakeCompounded captures rewards folded back into the stake principal.
	TypeStakeCompounded = "stake.compounded"
	// TypeStakeWithdrawn is emitted when a matured stake settles and closes.
	TypeStakeWithdrawn = "stake.withdrawn"
	// TypeStakeReconciled signals an operator-driven pool resync.
	TypeStakeReconciled = "stake.reconciled"
)

// StakeCreated captures the record created when an owner enters a plan.
type StakeCreated struct {
	Owner     [20]byte
	PlanID    string
	RecordID  uint64
	Amount    *big.Int
	MaturesAt int64
}

// EventType satisfies the Event interface.
func (StakeCreated) EventType() string { return TypeStakeCreated }

// Event converts the structured payload into a broadcastable event.
func (e StakeCreated) Event() *types.Event {
	return &types.Event{Type: TypeStakeCreated, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"plan":      e.PlanID,
		"record":    strconv.FormatUint(e.RecordID, 10),
		"amount":    formatAmount(e.Amount),
		"maturesAt": strconv.FormatInt(e.MaturesAt, 10),
	}}
}

// StakeClaimed captures a reward payout, including the fee retained for the
// collector.
type StakeClaimed struct {
	Owner    [20]byte
	PlanID   string
	RecordID uint64
	Reward   *big.Int
	Fee      *big.Int
	Net      *big.Int
}

// EventType satisfies the Event interface.
func (StakeClaimed) EventType() string { return TypeStakeClaimed }

// Event converts the structured payload into a broadcastable event.
func (e StakeClaimed) Event() *types.Event {
	return &types.Event{Type: TypeStakeClaimed, Attributes: map[string]string{
		"owner":  formatAddress(e.Owner),
		"plan":   e.PlanID,
		"record": strconv.FormatUint(e.RecordID, 10),
		"reward": formatAmount(e.Reward),
		"fee":    formatAmount(e.Fee),
		"net":    formatAmount(e.Net),
	}}
}

// StakeCompounded captures a reward folded back into the principal.
type StakeCompounded struct {
	Owner     [20]byte
	PlanID    string
	RecordID  uint64
	Reward    *big.Int
	NewAmount *big.Int
}

// EventType satisfies the Event interface.
func (StakeCompounded) EventType() string { return TypeStakeCompounded }

// Event converts the structured payload into a broadcastable event.
func (e StakeCompounded) Event() *types.Event {
	return &types.Event{Type: TypeStakeCompounded, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"plan":      e.PlanID,
		"record":    strconv.FormatUint(e.RecordID, 10),
		"reward":    formatAmount(e.Reward),
		"newAmount": formatAmount(e.NewAmount),
	}}
}

// StakeWithdrawn captures the terminal settlement of a stake record.
type StakeWithdrawn struct {
	Owner     [20]byte
	PlanID    string
	RecordID  uint64
	Principal *big.Int
	Reward    *big.Int
	Fee       *big.Int
}

// EventType satisfies the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StakeWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeStakeWithdrawn, Attributes: map[string]string{
		"owner":     formatAddress(e.Owner),
		"plan":      e.PlanID,
		"record":    strconv.FormatUint(e.RecordID, 10),
		"principal": formatAmount(e.Principal),
		"reward":    formatAmount(e.Reward),
		"fee":       formatAmount(e.Fee),
	}}
}

// StakeReconciled captures an operator resync of a plan pool counter.
type StakeReconciled struct {
	PlanID  string
	OldUsed *big.Int
	NewUsed *big.Int
}

// EventType satisfies the Event interface.
func (StakeReconciled) EventType() string { return TypeStakeReconciled }

// Event converts the structured payload into a broadcastable event.
func (e StakeReconciled) Event() *types.Event {
	return &types.Event{Type: TypeStakeReconciled, Attributes: map[string]string{
		"plan":    e.PlanID,
		"oldUsed": formatAmount(e.OldUsed),
		"newUsed": formatAmount(e.NewUsed),
	}}
}
