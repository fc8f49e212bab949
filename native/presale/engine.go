package presale

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"ledgercore/core/events"
	"ledgercore/native/common"
	"ledgercore/native/eligibility"
	"ledgercore/native/ledger"
	"ledgercore/native/vesting"
	"ledgercore/observability/metrics"
)

const moduleName = "presale"

// roundID tags purchase records in the shared ledger schema.
const roundID = "presale"

var (
	errNilToken       = errors.New("presale engine: token ledger not configured")
	ErrTransferFailed = errors.New("presale engine: token transfer failed")
	ErrSaleClosed     = errors.New("presale engine: sale window closed")
	ErrAlreadyClaimed = errors.New("presale engine: allocation fully claimed")
	ErrInvalidAmount  = errors.New("presale engine: amount must be positive")
	ErrInvalidPrice   = errors.New("presale engine: invalid price configuration")
)

// TokenLedger is the external fungible-token collaborator used for both the
// payment pull on purchase and the sale-token payout on claim.
type TokenLedger interface {
	Transfer(to [20]byte, amount *big.Int) error
	TransferFrom(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
}

// Engine manages presale purchases and the cliff-plus-linear release of the
// purchased allocations. Allocation lists committed to a merkle root can be
// claimed without a purchase via ClaimWithProof.
type Engine struct {
	records  *ledger.Ledger
	token    TokenLedger
	payment  TokenLedger
	schedule vesting.Config
	tgeAt    int64
	opensAt  int64
	closesAt int64
	priceNum *big.Int
	priceDen *big.Int
	root     [32]byte
	custody  [20]byte
	treasury [20]byte
	guard    common.CallGuard
	pauses   common.PauseView
	emitter  events.Emitter
	metrics  *metrics.LedgerMetrics
	nowFn    func() int64
}

// NewEngine creates a presale engine. Custody holds the sale tokens released
// on claim; treasury receives payment pulls.
func NewEngine(records *ledger.Ledger, custody, treasury [20]byte) *Engine {
	return &Engine{
		records:  records,
		custody:  custody,
		treasury: treasury,
		priceNum: big.NewInt(1),
		priceDen: big.NewInt(1),
		emitter:  events.NoopEmitter{},
		metrics:  metrics.Ledger(),
		nowFn:    func() int64 { return time.Now().Unix() },
	}
}

// SetToken wires the sale-token collaborator paid out on claims.
func (e *Engine) SetToken(token TokenLedger) { e.token = token }

// SetPaymentToken wires the collaborator debited on purchases.
func (e *Engine) SetPaymentToken(token TokenLedger) { e.payment = token }

// SetSchedule configures the vesting curve measured from the TGE timestamp.
func (e *Engine) SetSchedule(cfg vesting.Config, tgeAt int64) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.schedule = cfg
	e.tgeAt = tgeAt
	return nil
}

// SetWindow bounds the purchase phase. A zero closesAt leaves the sale open.
func (e *Engine) SetWindow(opensAt, closesAt int64) {
	e.opensAt = opensAt
	e.closesAt = closesAt
}

// SetPrice configures the payment cost per sale token as a num/den ratio.
func (e *Engine) SetPrice(num, den *big.Int) error {
	if num == nil || den == nil || num.Sign() <= 0 || den.Sign() <= 0 {
		return ErrInvalidPrice
	}
	e.priceNum = new(big.Int).Set(num)
	e.priceDen = new(big.Int).Set(den)
	return nil
}

// SetAllocationRoot commits the merkle root gating proof-based claims.
func (e *Engine) SetAllocationRoot(root [32]byte) { e.root = root }

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

// SetNowFunc overrides the time source for deterministic tests.
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

// Purchase records an allocation for the buyer and pulls the payment. The
// record is committed before the pull and restored if the pull is refused.
func (e *Engine) Purchase(buyer [20]byte, amount *big.Int) (id uint64, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "purchase", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return 0, err
	}
	defer release()
	if e.payment == nil {
		return 0, errNilToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	now := e.now()
	if now < e.opensAt || (e.closesAt > 0 && now >= e.closesAt) {
		return 0, ErrSaleClosed
	}
	cost := new(big.Int).Mul(amount, e.priceNum)
	cost.Div(cost, e.priceDen)

	snap := e.records.Snapshot()
	id, err = e.records.Create(buyer, roundID, amount, now, e.fullVestAt())
	if err != nil {
		return 0, err
	}
	if pullErr := e.payment.TransferFrom(buyer, e.treasury, cost); pullErr != nil {
		e.records.Restore(snap)
		err = fmt.Errorf("%w: %v", ErrTransferFailed, pullErr)
		return 0, err
	}
	e.emit(events.PresalePurchased{Buyer: buyer, RecordID: id, Amount: new(big.Int).Set(amount), Cost: cost})
	return id, nil
}

// Claim releases every vested-but-unclaimed unit across the buyer's records.
// Records that are fully vested and fully claimed transition to their
// terminal state; claiming again once everything settled fails with
// ErrAlreadyClaimed.
func (e *Engine) Claim(buyer [20]byte) (claimed *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "claim", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return nil, err
	}
	defer release()
	return e.claimLocked(buyer)
}

// ClaimWithProof authorizes a committed allocation for the buyer and releases
// its vested portion. The first valid proof materializes the allocation
// record; replays are claim-gated like any other record.
func (e *Engine) ClaimWithProof(buyer [20]byte, allocation *big.Int, proof [][32]byte) (claimed *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "claimProof", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return nil, err
	}
	defer release()
	if allocation == nil || allocation.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	leaf := eligibility.AllocationLeaf(buyer, allocation)
	if !eligibility.Verify(leaf, proof, e.root) {
		err = eligibility.ErrInvalidProof
		return nil, err
	}
	if !e.hasAllocation(buyer, allocation) {
		if _, err = e.records.Create(buyer, roundID, allocation, e.now(), e.fullVestAt()); err != nil {
			return nil, err
		}
	}
	return e.claimLocked(buyer)
}

// ClaimableOf reports the amount a claim would release right now. Pure query.
func (e *Engine) ClaimableOf(buyer [20]byte) *big.Int {
	elapsed := e.now() - e.tgeAt
	total := big.NewInt(0)
	for _, rec := range e.saleRecords(buyer) {
		if !rec.Active {
			continue
		}
		total.Add(total, vesting.Claimable(rec.Amount, rec.AccumulatedClaimed, e.schedule, elapsed))
	}
	return total
}

// BuyerRecords exposes the buyer's purchase records.
func (e *Engine) BuyerRecords(buyer [20]byte) []*ledger.Record {
	return e.saleRecords(buyer)
}

// saleRecords narrows the buyer's ledger view to this sale round. The ledger
// is shared with the staking engine, so records from other plans never enter
// the sale accounting.
func (e *Engine) saleRecords(buyer [20]byte) []*ledger.Record {
	all := e.records.OwnerRecords(buyer)
	out := make([]*ledger.Record, 0, len(all))
	for _, rec := range all {
		if rec.PlanID == roundID {
			out = append(out, rec)
		}
	}
	return out
}

// Aggregates exposes the sale totals: TotalLocked tracks outstanding
// purchased amounts, TotalDistributed the claimed units.
func (e *Engine) Aggregates() ledger.Aggregates { return e.records.Aggregates() }

func (e *Engine) claimLocked(buyer [20]byte) (*big.Int, error) {
	if e.token == nil {
		return nil, errNilToken
	}
	now := e.now()
	elapsed := now - e.tgeAt

	type pendingClaim struct {
		id      uint64
		amount  *big.Int
		settles bool
	}
	total := big.NewInt(0)
	claims := make([]pendingClaim, 0)
	settled := 0
	active := 0
	for _, rec := range e.saleRecords(buyer) {
		if !rec.Active {
			settled++
			continue
		}
		active++
		claimable := vesting.Claimable(rec.Amount, rec.AccumulatedClaimed, e.schedule, elapsed)
		if claimable.Sign() == 0 {
			continue
		}
		after := new(big.Int).Add(rec.AccumulatedClaimed, claimable)
		claims = append(claims, pendingClaim{
			id:      rec.GlobalID,
			amount:  claimable,
			settles: after.Cmp(rec.Amount) >= 0,
		})
		total.Add(total, claimable)
	}
	if active == 0 && settled == 0 {
		return nil, ledger.ErrNotFound
	}
	if total.Sign() == 0 {
		if active == 0 {
			return nil, ErrAlreadyClaimed
		}
		return big.NewInt(0), nil
	}

	snap := e.records.Snapshot()
	for _, c := range claims {
		if err := e.records.RecordClaim(buyer, c.id, c.amount, now); err != nil {
			e.records.Restore(snap)
			return nil, err
		}
		if c.settles {
			if err := e.records.Deactivate(buyer, c.id); err != nil {
				e.records.Restore(snap)
				return nil, err
			}
		}
	}
	if payErr := e.token.Transfer(buyer, total); payErr != nil {
		e.records.Restore(snap)
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, payErr)
	}
	e.metrics.AddDistributed(approx(total))
	e.emit(events.PresaleClaimed{Buyer: buyer, Amount: total})
	return total, nil
}

// hasAllocation reports whether a sale record already carries this
// allocation amount, settled or not. Record amounts are immutable, so a
// matching record means the proof was already materialized.
func (e *Engine) hasAllocation(buyer [20]byte, allocation *big.Int) bool {
	for _, rec := range e.saleRecords(buyer) {
		if rec.Amount != nil && rec.Amount.Cmp(allocation) == 0 {
			return true
		}
	}
	return false
}

func (e *Engine) fullVestAt() int64 {
	return e.tgeAt + e.schedule.CliffDuration + e.schedule.VestingDuration
}

func approx(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	return f
}
