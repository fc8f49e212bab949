package pool

import (
	"errors"
	"math/big"

	"ledgercore/native/rewards"
)

var (
	ErrNotFound      = errors.New("pool: plan not found")
	ErrInvalidConfig = errors.New("pool: invalid plan configuration")
	ErrPlanInactive  = errors.New("pool: plan inactive")
	ErrPoolFull      = errors.New("pool: capacity exceeded")
	ErrUnderflow     = errors.New("pool: release exceeds reserved amount")
	ErrBelowMinimum  = errors.New("pool: amount below plan minimum")
	ErrAboveMaximum  = errors.New("pool: amount above plan maximum")
)

// Plan describes a staking plan and its live utilisation. Used mirrors the
// sum of active ledger records referencing the plan and is only ever moved by
// paired Reserve/Release calls, never recomputed on the hot path.
type Plan struct {
	ID          string       `json:"id"`
	MinAmount   *big.Int     `json:"minAmount"`
	MaxAmount   *big.Int     `json:"maxAmount"`
	RateBps     uint32       `json:"rateBps"`
	LockSeconds uint64       `json:"lockSeconds"`
	Accrual     rewards.Mode `json:"accrual"`
	Capacity    *big.Int     `json:"capacity"`
	Used        *big.Int     `json:"used"`
	Active      bool         `json:"active"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	clone := *p
	clone.MinAmount = cloneBigInt(p.MinAmount)
	clone.MaxAmount = cloneBigInt(p.MaxAmount)
	clone.Capacity = cloneBigInt(p.Capacity)
	clone.Used = cloneBigInt(p.Used)
	return &clone
}

func (p *Plan) validate() error {
	if p.ID == "" {
		return ErrInvalidConfig
	}
	if p.Capacity == nil || p.Capacity.Sign() <= 0 {
		return ErrInvalidConfig
	}
	if !p.Accrual.Valid() {
		return ErrInvalidConfig
	}
	if p.MinAmount != nil && p.MaxAmount != nil && p.MaxAmount.Sign() > 0 && p.MinAmount.Cmp(p.MaxAmount) > 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Accountant enforces per-plan capacity ceilings and keeps the used counters
// in lockstep with the ledger records they summarize.
type Accountant struct {
	plans map[string]*Plan
}

// NewAccountant returns an accountant with no plans registered.
func NewAccountant() *Accountant {
	return &Accountant{plans: make(map[string]*Plan)}
}

// AddPlan registers a plan after validating its configuration. A nil Used
// counter starts at zero.
func (a *Accountant) AddPlan(p *Plan) error {
	if p == nil {
		return ErrInvalidConfig
	}
	clone := p.Clone()
	if err := clone.validate(); err != nil {
		return err
	}
	if clone.Used == nil {
		clone.Used = big.NewInt(0)
	}
	if clone.Used.Cmp(clone.Capacity) > 0 {
		return ErrInvalidConfig
	}
	a.plans[clone.ID] = clone
	return nil
}

// Plan returns a clone of the registered plan.
func (a *Accountant) Plan(id string) (*Plan, error) {
	p, ok := a.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// Plans returns clones of every registered plan.
func (a *Accountant) Plans() []*Plan {
	out := make([]*Plan, 0, len(a.plans))
	for _, p := range a.plans {
		out = append(out, p.Clone())
	}
	return out
}

// SetActive toggles whether a plan accepts new reservations.
func (a *Accountant) SetActive(id string, active bool) error {
	p, ok := a.plans[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = active
	return nil
}

// CheckBounds verifies the amount sits within the plan's per-stake bounds.
func (a *Accountant) CheckBounds(id string, amount *big.Int) error {
	p, ok := a.plans[id]
	if !ok {
		return ErrNotFound
	}
	if !p.Active {
		return ErrPlanInactive
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrBelowMinimum
	}
	if p.MinAmount != nil && p.MinAmount.Sign() > 0 && amount.Cmp(p.MinAmount) < 0 {
		return ErrBelowMinimum
	}
	if p.MaxAmount != nil && p.MaxAmount.Sign() > 0 && amount.Cmp(p.MaxAmount) > 0 {
		return ErrAboveMaximum
	}
	return nil
}

// Reserve increments the plan's used counter, failing when the reservation
// would push it past capacity. Callers pair it with a ledger record creation
// inside the same guarded operation.
func (a *Accountant) Reserve(id string, amount *big.Int) error {
	p, ok := a.plans[id]
	if !ok {
		return ErrNotFound
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrBelowMinimum
	}
	next := new(big.Int).Add(p.Used, amount)
	if next.Cmp(p.Capacity) > 0 {
		return ErrPoolFull
	}
	p.Used = next
	return nil
}

// Release decrements the plan's used counter. Releasing more than is reserved
// indicates a ledger/pool desync and fails defensively.
func (a *Accountant) Release(id string, amount *big.Int) error {
	p, ok := a.plans[id]
	if !ok {
		return ErrNotFound
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrBelowMinimum
	}
	if amount.Cmp(p.Used) > 0 {
		return ErrUnderflow
	}
	p.Used = new(big.Int).Sub(p.Used, amount)
	return nil
}

// Reconcile overwrites the used counter with an externally recomputed value.
// This is the drift-recovery escape hatch for trusted operators; it never runs
// on user-facing paths. The previous value is returned for audit logging.
func (a *Accountant) Reconcile(id string, used *big.Int) (*big.Int, error) {
	p, ok := a.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	if used == nil || used.Sign() < 0 {
		return nil, ErrInvalidConfig
	}
	if used.Cmp(p.Capacity) > 0 {
		return nil, ErrPoolFull
	}
	prev := p.Used
	p.Used = new(big.Int).Set(used)
	return prev, nil
}

// Snapshot captures a deep copy of every plan for rollback or persistence.
func (a *Accountant) Snapshot() []*Plan {
	return a.Plans()
}

// Restore replaces the registered plans with the snapshot.
func (a *Accountant) Restore(plans []*Plan) {
	a.plans = make(map[string]*Plan, len(plans))
	for _, p := range plans {
		if p == nil {
			continue
		}
		a.plans[p.ID] = p.Clone()
	}
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
