package ledger

import (
	"errors"
	"math/big"
)

var (
	ErrNotFound        = errors.New("ledger: record not found")
	ErrAlreadyInactive = errors.New("ledger: record already inactive")
	ErrInvalidAmount   = errors.New("ledger: amount must be positive")
	ErrInvalidPlan     = errors.New("ledger: plan identifier required")
)

// Ledger owns the authoritative per-owner collection of records. Storage is
// arena-style: a flat slice indexed by global id plus an owner-to-id map.
// Terminated records are tombstoned in place so outstanding ids stay stable.
type Ledger struct {
	records []*Record
	byOwner map[[20]byte][]uint64
	aggs    Aggregates
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{
		byOwner: make(map[[20]byte][]uint64),
		aggs:    NewAggregates(),
	}
}

// Create appends a new active record and returns its global id. The ledger
// enforces only structural invariants; capacity ceilings are the caller's
// concern and must be checked before calling.
func (l *Ledger) Create(owner [20]byte, planID string, amount *big.Int, createdAt, maturesAt int64) (uint64, error) {
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if planID == "" {
		return 0, ErrInvalidPlan
	}
	id := uint64(len(l.records))
	rec := &Record{
		GlobalID:           id,
		Owner:              owner,
		PlanID:             planID,
		Amount:             new(big.Int).Set(amount),
		CreatedAt:          createdAt,
		MaturesAt:          maturesAt,
		LastAccrualAt:      createdAt,
		AccumulatedClaimed: big.NewInt(0),
		Active:             true,
	}
	l.records = append(l.records, rec)
	l.byOwner[owner] = append(l.byOwner[owner], id)
	l.aggs.TotalLocked.Add(l.aggs.TotalLocked, rec.Amount)
	l.aggs.TotalRecords++
	return id, nil
}

// Get returns a clone of the record owned by the given address.
func (l *Ledger) Get(owner [20]byte, id uint64) (*Record, error) {
	rec, err := l.lookup(owner, id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Deactivate marks a record terminal. The transition is one-way: calling it
// twice fails with ErrAlreadyInactive.
func (l *Ledger) Deactivate(owner [20]byte, id uint64) error {
	rec, err := l.lookup(owner, id)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrAlreadyInactive
	}
	rec.Active = false
	l.aggs.TotalLocked.Sub(l.aggs.TotalLocked, rec.Amount)
	return nil
}

// MutateAmount adjusts the principal of an active record by delta. Used by
// compounding; the amount can never be driven negative.
func (l *Ledger) MutateAmount(owner [20]byte, id uint64, delta *big.Int) error {
	if delta == nil {
		return ErrInvalidAmount
	}
	rec, err := l.lookup(owner, id)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrAlreadyInactive
	}
	next := new(big.Int).Add(rec.Amount, delta)
	if next.Sign() < 0 {
		return ErrInvalidAmount
	}
	rec.Amount = next
	l.aggs.TotalLocked.Add(l.aggs.TotalLocked, delta)
	return nil
}

// RecordClaim advances a record's accrual cursor and claim total in one step,
// keeping the distributed aggregate in lockstep.
func (l *Ledger) RecordClaim(owner [20]byte, id uint64, claimed *big.Int, accrualAt int64) error {
	if claimed == nil || claimed.Sign() < 0 {
		return ErrInvalidAmount
	}
	rec, err := l.lookup(owner, id)
	if err != nil {
		return err
	}
	if !rec.Active {
		return ErrAlreadyInactive
	}
	rec.AccumulatedClaimed.Add(rec.AccumulatedClaimed, claimed)
	rec.LastAccrualAt = accrualAt
	l.aggs.TotalDistributed.Add(l.aggs.TotalDistributed, claimed)
	return nil
}

// OwnerRecords returns clones of every record held by the owner, active or
// tombstoned, in creation order.
func (l *Ledger) OwnerRecords(owner [20]byte) []*Record {
	ids := l.byOwner[owner]
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.records[id].Clone())
	}
	return out
}

// ActiveByPlan returns clones of every active record referencing the plan.
func (l *Ledger) ActiveByPlan(planID string) []*Record {
	out := make([]*Record, 0)
	for _, rec := range l.records {
		if rec.Active && rec.PlanID == planID {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// ActivePlanTotal sums the amounts of active records referencing the plan.
// This is the reconciliation ground truth for a plan's used counter.
func (l *Ledger) ActivePlanTotal(planID string) *big.Int {
	total := big.NewInt(0)
	for _, rec := range l.records {
		if rec.Active && rec.PlanID == planID {
			total.Add(total, rec.Amount)
		}
	}
	return total
}

// Aggregates returns a copy of the denormalized totals.
func (l *Ledger) Aggregates() Aggregates {
	return l.aggs.Clone()
}

// Len reports the number of records ever created, tombstones included.
func (l *Ledger) Len() int { return len(l.records) }

// Snapshot captures a deep copy of the ledger for rollback or persistence.
func (l *Ledger) Snapshot() Snapshot {
	records := make([]*Record, len(l.records))
	for i, rec := range l.records {
		records[i] = rec.Clone()
	}
	return Snapshot{Records: records, Aggregates: l.aggs.Clone()}
}

// Restore replaces the ledger contents with the snapshot.
func (l *Ledger) Restore(snap Snapshot) {
	l.records = make([]*Record, len(snap.Records))
	l.byOwner = make(map[[20]byte][]uint64)
	for i, rec := range snap.Records {
		clone := rec.Clone()
		clone.GlobalID = uint64(i)
		l.records[i] = clone
		l.byOwner[clone.Owner] = append(l.byOwner[clone.Owner], clone.GlobalID)
	}
	l.aggs = snap.Aggregates.Clone()
}

func (l *Ledger) lookup(owner [20]byte, id uint64) (*Record, error) {
	if id >= uint64(len(l.records)) {
		return nil, ErrNotFound
	}
	rec := l.records[id]
	if rec.Owner != owner {
		return nil, ErrNotFound
	}
	return rec, nil
}
