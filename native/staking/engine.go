package staking

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"ledgercore/core/events"
	"ledgercore/native/common"
	"ledgercore/native/fees"
	"ledgercore/native/ledger"
	"ledgercore/native/pool"
	"ledgercore/native/rewards"
	"ledgercore/observability/metrics"
)

const moduleName = "staking"

var (
	errNilToken          = errors.New("staking engine: token ledger not configured")
	ErrTransferFailed    = errors.New("staking engine: token transfer failed")
	ErrFeeTransferFailed = errors.New("staking engine: fee transfer failed after owner payout")
	ErrNotMatured        = errors.New("staking engine: record not matured")
)

// TokenLedger is the external fungible-token collaborator. Transfer debits
// the engine's custody address; TransferFrom pulls previously approved funds
// from an owner. Any error aborts the surrounding operation.
type TokenLedger interface {
	Transfer(to [20]byte, amount *big.Int) error
	TransferFrom(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
}

// Engine orchestrates the stake lifecycle: entry into a plan pool, reward
// claims, compounding and matured withdrawal. Every mutating operation runs
// inside the shared call guard and commits all ledger state before touching
// the token collaborator; a failed transfer rolls the staged mutation back.
type Engine struct {
	records   *ledger.Ledger
	pools     *pool.Accountant
	token     TokenLedger
	feeConfig fees.Config
	feeTotals *fees.Totals
	guard     common.CallGuard
	pauses    common.PauseView
	emitter   events.Emitter
	metrics   *metrics.LedgerMetrics
	custody   [20]byte
	nowFn     func() int64
}

// NewEngine creates a staking engine bound to the shared record ledger and
// pool accountant. The custody address holds staked principal and the reward
// float.
func NewEngine(records *ledger.Ledger, pools *pool.Accountant, custody [20]byte) *Engine {
	return &Engine{
		records:   records,
		pools:     pools,
		custody:   custody,
		feeTotals: fees.NewTotals(),
		emitter:   events.NoopEmitter{},
		metrics:   metrics.Ledger(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetToken wires the external fungible-token collaborator.
func (e *Engine) SetToken(token TokenLedger) { e.token = token }

// SetFeeConfig configures the claim fee policy.
func (e *Engine) SetFeeConfig(cfg fees.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.feeConfig = cfg
	return nil
}

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 { return e.nowFn() }

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// Stake reserves plan capacity, records the position and pulls the principal
// from the owner. The record and reservation are committed before the pull;
// a refused pull restores both so no partial effect survives.
func (e *Engine) Stake(owner [20]byte, planID string, amount *big.Int) (id uint64, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "stake", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return 0, err
	}
	defer release()
	if e.token == nil {
		return 0, errNilToken
	}
	if err = e.pools.CheckBounds(planID, amount); err != nil {
		return 0, err
	}
	plan, err := e.pools.Plan(planID)
	if err != nil {
		return 0, err
	}
	now := e.now()

	recordsSnap := e.records.Snapshot()
	poolsSnap := e.pools.Snapshot()
	if err = e.pools.Reserve(planID, amount); err != nil {
		return 0, err
	}
	maturesAt := now + int64(plan.LockSeconds)
	id, err = e.records.Create(owner, planID, amount, now, maturesAt)
	if err != nil {
		e.pools.Restore(poolsSnap)
		return 0, err
	}
	if pullErr := e.token.TransferFrom(owner, e.custody, amount); pullErr != nil {
		e.records.Restore(recordsSnap)
		e.pools.Restore(poolsSnap)
		err = fmt.Errorf("%w: %v", ErrTransferFailed, pullErr)
		return 0, err
	}
	e.publishPoolGauge(planID)
	e.emit(events.StakeCreated{Owner: owner, PlanID: planID, RecordID: id, Amount: new(big.Int).Set(amount), MaturesAt: maturesAt})
	return id, nil
}

// Claim pays out the reward accrued since the last claim, deducting the
// configured fee for the collector. Claiming with nothing accrued returns
// zero without mutating any state. A fee leg refused after the owner was
// paid returns the committed net alongside ErrFeeTransferFailed.
func (e *Engine) Claim(owner [20]byte, id uint64) (net *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "claim", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if e.token == nil {
		return nil, errNilToken
	}
	rec, plan, err := e.activeRecord(owner, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	capTime := accrualCap(plan, rec)
	reward := rewards.Pending(rec.Amount, plan.RateBps, rec.LastAccrualAt, now, capTime, plan.Accrual)
	if reward.Sign() == 0 {
		return big.NewInt(0), nil
	}
	fee, _, net, err := fees.Split(reward, e.feeConfig.FeeBps, 0)
	if err != nil {
		return nil, err
	}

	recordsSnap := e.records.Snapshot()
	if err = e.records.RecordClaim(owner, id, reward, rewards.AccrualEnd(now, capTime)); err != nil {
		return nil, err
	}
	if payErr := e.payout(owner, net, fee); payErr != nil {
		if !errors.Is(payErr, ErrFeeTransferFailed) {
			e.records.Restore(recordsSnap)
			err = payErr
			return nil, err
		}
		// The owner already holds the net leg, so the claim stays committed
		// and the accrual cannot replay. The fee sits in custody until the
		// operator re-routes it.
		err = payErr
	}
	e.feeTotals.Add(reward, fee, big.NewInt(0), net)
	e.metrics.AddDistributed(approx(reward))
	e.emit(events.StakeClaimed{Owner: owner, PlanID: rec.PlanID, RecordID: id, Reward: reward, Fee: fee, Net: net})
	return net, err
}

// Compound folds the accrued reward back into the principal. The plan's
// capacity ceiling applies to the increased position, so a full pool rejects
// the compound with ErrPoolFull.
func (e *Engine) Compound(owner [20]byte, id uint64) (newAmount *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "compound", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return nil, err
	}
	defer release()
	rec, plan, err := e.activeRecord(owner, id)
	if err != nil {
		return nil, err
	}
	now := e.now()
	capTime := accrualCap(plan, rec)
	reward := rewards.Pending(rec.Amount, plan.RateBps, rec.LastAccrualAt, now, capTime, plan.Accrual)
	if reward.Sign() == 0 {
		return rec.Amount, nil
	}

	recordsSnap := e.records.Snapshot()
	poolsSnap := e.pools.Snapshot()
	if err = e.pools.Reserve(rec.PlanID, reward); err != nil {
		return nil, err
	}
	if err = e.records.RecordClaim(owner, id, reward, rewards.AccrualEnd(now, capTime)); err != nil {
		e.pools.Restore(poolsSnap)
		return nil, err
	}
	if err = e.records.MutateAmount(owner, id, reward); err != nil {
		e.records.Restore(recordsSnap)
		e.pools.Restore(poolsSnap)
		return nil, err
	}
	newAmount = new(big.Int).Add(rec.Amount, reward)
	e.publishPoolGauge(rec.PlanID)
	e.emit(events.StakeCompounded{Owner: owner, PlanID: rec.PlanID, RecordID: id, Reward: reward, NewAmount: newAmount})
	return newAmount, nil
}

// Withdraw settles a matured record: the final reward accrues, the principal
// and net reward return to the owner, the fee goes to the collector and the
// record transitions to its terminal state.
func (e *Engine) Withdraw(owner [20]byte, id uint64) (principal, reward *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "withdraw", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer release()
	if e.token == nil {
		return nil, nil, errNilToken
	}
	rec, plan, err := e.activeRecord(owner, id)
	if err != nil {
		return nil, nil, err
	}
	now := e.now()
	if now < rec.MaturesAt {
		return nil, nil, ErrNotMatured
	}
	capTime := accrualCap(plan, rec)
	reward = rewards.Pending(rec.Amount, plan.RateBps, rec.LastAccrualAt, now, capTime, plan.Accrual)
	fee, _, net, err := fees.Split(reward, e.feeConfig.FeeBps, 0)
	if err != nil {
		return nil, nil, err
	}
	principal = new(big.Int).Set(rec.Amount)

	recordsSnap := e.records.Snapshot()
	poolsSnap := e.pools.Snapshot()
	if reward.Sign() > 0 {
		if err = e.records.RecordClaim(owner, id, reward, rewards.AccrualEnd(now, capTime)); err != nil {
			return nil, nil, err
		}
	}
	if err = e.records.Deactivate(owner, id); err != nil {
		e.records.Restore(recordsSnap)
		return nil, nil, err
	}
	if err = e.pools.Release(rec.PlanID, principal); err != nil {
		e.records.Restore(recordsSnap)
		return nil, nil, err
	}
	total := new(big.Int).Add(principal, net)
	if payErr := e.payout(owner, total, fee); payErr != nil {
		if !errors.Is(payErr, ErrFeeTransferFailed) {
			e.records.Restore(recordsSnap)
			e.pools.Restore(poolsSnap)
			err = payErr
			return nil, nil, err
		}
		// Principal and net reward are already with the owner; the
		// settlement stands and only the fee awaits operator recovery.
		err = payErr
	}
	if reward.Sign() > 0 {
		e.feeTotals.Add(reward, fee, big.NewInt(0), net)
		e.metrics.AddDistributed(approx(reward))
	}
	e.publishPoolGauge(rec.PlanID)
	e.emit(events.StakeWithdrawn{Owner: owner, PlanID: rec.PlanID, RecordID: id, Principal: principal, Reward: reward, Fee: fee})
	return principal, reward, err
}

// ReconcilePool resyncs a plan's used counter against the sum of active
// ledger records. Trusted-operator recovery path only.
func (e *Engine) ReconcilePool(planID string) (err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "reconcile", err) }()
	release, err := e.guard.Begin()
	if err != nil {
		return err
	}
	defer release()
	used := e.records.ActivePlanTotal(planID)
	prev, err := e.pools.Reconcile(planID, used)
	if err != nil {
		return err
	}
	e.publishPoolGauge(planID)
	e.emit(events.StakeReconciled{PlanID: planID, OldUsed: prev, NewUsed: used})
	return nil
}

// PendingReward reports the reward that a claim would pay right now. Pure
// query, no side effects.
func (e *Engine) PendingReward(owner [20]byte, id uint64) (*big.Int, error) {
	rec, plan, err := e.activeRecord(owner, id)
	if err != nil {
		return nil, err
	}
	return rewards.Pending(rec.Amount, plan.RateBps, rec.LastAccrualAt, e.now(), accrualCap(plan, rec), plan.Accrual), nil
}

// OwnerRecords exposes the owner's record list, tombstones included.
func (e *Engine) OwnerRecords(owner [20]byte) []*ledger.Record {
	return e.records.OwnerRecords(owner)
}

// Plans exposes the registered plans.
func (e *Engine) Plans() []*pool.Plan { return e.pools.Plans() }

// Plan exposes a single plan by id.
func (e *Engine) Plan(id string) (*pool.Plan, error) { return e.pools.Plan(id) }

// Aggregates exposes the global ledger totals.
func (e *Engine) Aggregates() ledger.Aggregates { return e.records.Aggregates() }

// FeeTotals exposes the cumulative claim fee accounting.
func (e *Engine) FeeTotals() *fees.Totals { return e.feeTotals.Clone() }

func (e *Engine) activeRecord(owner [20]byte, id uint64) (*ledger.Record, *pool.Plan, error) {
	rec, err := e.records.Get(owner, id)
	if err != nil {
		return nil, nil, err
	}
	if !rec.Active {
		return nil, nil, ledger.ErrAlreadyInactive
	}
	plan, err := e.pools.Plan(rec.PlanID)
	if err != nil {
		return nil, nil, err
	}
	return rec, plan, nil
}

// payout pushes the net and fee legs from custody. Custody must cover both
// legs before anything moves, so an underfunded payout fails cleanly with
// ErrTransferFailed and the caller's snapshot restore is safe. Once the owner
// leg has executed the ledger mutation must stand: a fee-leg failure from
// that point comes back as ErrFeeTransferFailed and the caller commits.
func (e *Engine) payout(owner [20]byte, net, fee *big.Int) error {
	needed := big.NewInt(0)
	if net != nil && net.Sign() > 0 {
		needed.Add(needed, net)
	}
	if fee != nil && fee.Sign() > 0 {
		needed.Add(needed, fee)
	}
	if needed.Sign() == 0 {
		return nil
	}
	balance, err := e.token.BalanceOf(e.custody)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if balance == nil || balance.Cmp(needed) < 0 {
		return fmt.Errorf("%w: custody cannot cover payout of %s", ErrTransferFailed, needed)
	}
	ownerPaid := false
	if net != nil && net.Sign() > 0 {
		if err := e.token.Transfer(owner, net); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		ownerPaid = true
	}
	if fee != nil && fee.Sign() > 0 {
		if err := e.token.Transfer(e.feeConfig.Collector, fee); err != nil {
			if ownerPaid {
				return fmt.Errorf("%w: %v", ErrFeeTransferFailed, err)
			}
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
	}
	return nil
}

func (e *Engine) publishPoolGauge(planID string) {
	plan, err := e.pools.Plan(planID)
	if err != nil {
		return
	}
	e.metrics.SetPoolUsed(planID, approx(plan.Used))
}

// accrualCap returns the timestamp accrual stops at for the record, zero when
// the plan accrues indefinitely.
func accrualCap(plan *pool.Plan, rec *ledger.Record) int64 {
	if plan.Accrual == rewards.ModeLinearTerm {
		return rec.MaturesAt
	}
	return 0
}

func approx(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
