package ledger

import "math/big"

// Record is a single value-bearing unit of account (stake, lock, purchase)
// with a lifecycle. Records are owned exclusively by the ledger; accessors
// return clones so callers can never alias stored state.
type Record struct {
	GlobalID           uint64   `json:"globalId"`
	Owner              [20]byte `json:"owner"`
	PlanID             string   `json:"planId"`
	Amount             *big.Int `json:"amount"`
	CreatedAt          int64    `json:"createdAt"`
	MaturesAt          int64    `json:"maturesAt"`
	LastAccrualAt      int64    `json:"lastAccrualAt"`
	AccumulatedClaimed *big.Int `json:"accumulatedClaimed"`
	Active             bool     `json:"active"`
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	if r.Amount != nil {
		clone.Amount = new(big.Int).Set(r.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	if r.AccumulatedClaimed != nil {
		clone.AccumulatedClaimed = new(big.Int).Set(r.AccumulatedClaimed)
	} else {
		clone.AccumulatedClaimed = big.NewInt(0)
	}
	return &clone
}

// Aggregates are denormalized caches of ledger sums. Every mutation path
// through the ledger updates them in the same step as the record it touches.
type Aggregates struct {
	TotalLocked      *big.Int `json:"totalLocked"`
	TotalDistributed *big.Int `json:"totalDistributed"`
	TotalRecords     uint64   `json:"totalRecords"`
}

// NewAggregates returns a zeroed aggregate set.
func NewAggregates() Aggregates {
	return Aggregates{TotalLocked: big.NewInt(0), TotalDistributed: big.NewInt(0)}
}

// Clone returns a deep copy of the aggregates.
func (a Aggregates) Clone() Aggregates {
	clone := Aggregates{TotalRecords: a.TotalRecords, TotalLocked: big.NewInt(0), TotalDistributed: big.NewInt(0)}
	if a.TotalLocked != nil {
		clone.TotalLocked.Set(a.TotalLocked)
	}
	if a.TotalDistributed != nil {
		clone.TotalDistributed.Set(a.TotalDistributed)
	}
	return clone
}

// Snapshot captures the complete ledger contents for rollback and
// persistence.
type Snapshot struct {
	Records    []*Record  `json:"records"`
	Aggregates Aggregates `json:"aggregates"`
}
