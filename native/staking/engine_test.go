package staking

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"ledgercore/core/events"
	"ledgercore/native/common"
	"ledgercore/native/fees"
	"ledgercore/native/ledger"
	"ledgercore/native/pool"
	"ledgercore/native/rewards"
)

const day = int64(86_400)

type mockToken struct {
	balances   map[[20]byte]*big.Int
	custody    [20]byte
	failPull   bool
	failPayout bool
	onTransfer func(to [20]byte, amount *big.Int) error
}

func newMockToken(custody [20]byte) *mockToken {
	return &mockToken{balances: make(map[[20]byte]*big.Int), custody: custody}
}

func (m *mockToken) credit(addr [20]byte, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockToken) balance(addr [20]byte) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return b
	}
	return big.NewInt(0)
}

func (m *mockToken) Transfer(to [20]byte, amount *big.Int) error {
	if m.onTransfer != nil {
		if err := m.onTransfer(to, amount); err != nil {
			return err
		}
	}
	if m.failPayout {
		return fmt.Errorf("payout refused")
	}
	return m.move(m.custody, to, amount)
}

func (m *mockToken) TransferFrom(from, to [20]byte, amount *big.Int) error {
	if m.failPull {
		return fmt.Errorf("pull refused")
	}
	return m.move(from, to, amount)
}

func (m *mockToken) BalanceOf(addr [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(addr)), nil
}

func (m *mockToken) Allowance(owner, spender [20]byte) (*big.Int, error) {
	return new(big.Int).Set(m.balance(owner)), nil
}

func (m *mockToken) move(from, to [20]byte, amount *big.Int) error {
	src := m.balance(from)
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = new(big.Int).Sub(src, amount)
	m.balances[to] = new(big.Int).Add(m.balance(to), amount)
	return nil
}

type recordingEmitter struct {
	events []events.Event
}

func (r *recordingEmitter) Emit(ev events.Event) { r.events = append(r.events, ev) }

type stubPauses struct{ paused bool }

func (s stubPauses) IsPaused(module string) bool { return s.paused }

func makeAddress(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

type fixture struct {
	engine  *Engine
	token   *mockToken
	records *ledger.Ledger
	pools   *pool.Accountant
	now     int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	custody := makeAddress(0xEE)
	records := ledger.New()
	pools := pool.NewAccountant()
	if err := pools.AddPlan(&pool.Plan{
		ID:          "gold",
		MinAmount:   big.NewInt(100),
		MaxAmount:   big.NewInt(2_000),
		RateBps:     50,
		LockSeconds: uint64(30 * day),
		Accrual:     rewards.ModeDaily,
		Capacity:    big.NewInt(5_000),
		Active:      true,
	}); err != nil {
		t.Fatalf("add plan: %v", err)
	}
	engine := NewEngine(records, pools, custody)
	token := newMockToken(custody)
	engine.SetToken(token)
	if err := engine.SetFeeConfig(fees.Config{FeeBps: 500, Collector: makeAddress(0xFC)}); err != nil {
		t.Fatalf("fee config: %v", err)
	}
	f := &fixture{engine: engine, token: token, records: records, pools: pools}
	engine.SetNowFunc(func() int64 { return f.now })
	return f
}

func (f *fixture) assertPoolInvariant(t *testing.T) {
	t.Helper()
	p, err := f.pools.Plan("gold")
	if err != nil {
		t.Fatalf("plan lookup: %v", err)
	}
	if p.Used.Cmp(f.records.ActivePlanTotal("gold")) != 0 {
		t.Fatalf("pool used %s desynced from active record total %s", p.Used, f.records.ActivePlanTotal("gold"))
	}
}

func TestStakeClaimScenario(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x01)
	f.token.credit(owner, 1_000)

	id, err := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.assertPoolInvariant(t)
	if f.token.balance(owner).Sign() != 0 {
		t.Fatalf("principal not pulled, owner still holds %s", f.token.balance(owner))
	}

	f.now = 10 * day
	pending, err := f.engine.PendingReward(owner, id)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected pending 50 after 10 days, got %s", pending)
	}

	f.token.credit(f.token.custody, 1_050)
	net, err := f.engine.Claim(owner, id)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if net.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected net 48 after 5%% fee on 50, got %s", net)
	}
	collector := makeAddress(0xFC)
	if f.token.balance(collector).Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected collector fee 2, got %s", f.token.balance(collector))
	}
	if f.token.balance(owner).Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected owner net 48, got %s", f.token.balance(owner))
	}

	pending, err = f.engine.PendingReward(owner, id)
	if err != nil {
		t.Fatalf("pending after claim: %v", err)
	}
	if pending.Sign() != 0 {
		t.Fatalf("expected zero pending after claim, got %s", pending)
	}
	aggs := f.engine.Aggregates()
	if aggs.TotalDistributed.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected distributed 50, got %s", aggs.TotalDistributed)
	}
	totals := f.engine.FeeTotals()
	sum := new(big.Int).Add(totals.Fee, totals.Net)
	if sum.Cmp(totals.Gross) != 0 {
		t.Fatalf("fee totals drifted: %s+%s != %s", totals.Fee, totals.Net, totals.Gross)
	}
}

func TestClaimTwiceWithoutElapsedYieldsZero(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x02)
	f.token.credit(owner, 500)
	id, err := f.engine.Stake(owner, "gold", big.NewInt(500))
	if err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.now = 4 * day
	f.token.credit(f.token.custody, 600)
	first, err := f.engine.Claim(owner, id)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Sign() == 0 {
		t.Fatal("expected a positive first claim")
	}
	second, err := f.engine.Claim(owner, id)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second.Sign() != 0 {
		t.Fatalf("expected zero second claim, got %s", second)
	}
}

func TestStakeBoundsAndCapacity(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x03)
	f.token.credit(owner, 10_000)

	if _, err := f.engine.Stake(owner, "gold", big.NewInt(50)); !errors.Is(err, pool.ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if _, err := f.engine.Stake(owner, "gold", big.NewInt(2_500)); !errors.Is(err, pool.ErrAboveMaximum) {
		t.Fatalf("expected ErrAboveMaximum, got %v", err)
	}
	if _, err := f.engine.Stake(owner, "missing", big.NewInt(500)); !errors.Is(err, pool.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := f.engine.Stake(owner, "gold", big.NewInt(2_000)); err != nil {
			t.Fatalf("stake %d: %v", i, err)
		}
	}
	// 4000 of 5000 reserved; a further 2000 breaches capacity.
	if _, err := f.engine.Stake(owner, "gold", big.NewInt(2_000)); !errors.Is(err, pool.ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	f.assertPoolInvariant(t)
}

func TestStakePullFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x04)
	f.token.credit(owner, 1_000)
	f.token.failPull = true

	if _, err := f.engine.Stake(owner, "gold", big.NewInt(1_000)); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if len(f.engine.OwnerRecords(owner)) != 0 {
		t.Fatal("record survived failed pull")
	}
	p, _ := f.pools.Plan("gold")
	if p.Used.Sign() != 0 {
		t.Fatalf("reservation survived failed pull: %s", p.Used)
	}
	aggs := f.engine.Aggregates()
	if aggs.TotalLocked.Sign() != 0 || aggs.TotalRecords != 0 {
		t.Fatalf("aggregates survived failed pull: %+v", aggs)
	}
}

func TestClaimPayoutFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x05)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	f.now = 10 * day
	f.token.failPayout = true

	if _, err := f.engine.Claim(owner, id); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	pending, _ := f.engine.PendingReward(owner, id)
	if pending.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("failed claim consumed accrual, pending %s", pending)
	}
	aggs := f.engine.Aggregates()
	if aggs.TotalDistributed.Sign() != 0 {
		t.Fatalf("failed claim updated distributed total: %s", aggs.TotalDistributed)
	}
}

func TestClaimUnderfundedCustodyMovesNothing(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x0D)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	f.now = 10 * day

	// Custody holds the net leg but not the fee leg; neither may move.
	f.token.credit(f.token.custody, 48)
	if _, err := f.engine.Claim(owner, id); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	if f.token.balance(owner).Sign() != 0 {
		t.Fatalf("underfunded claim paid the owner %s", f.token.balance(owner))
	}
	pending, _ := f.engine.PendingReward(owner, id)
	if pending.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("underfunded claim consumed accrual, pending %s", pending)
	}

	// Topping up custody settles the accrual exactly once.
	f.token.credit(f.token.custody, 50)
	net, err := f.engine.Claim(owner, id)
	if err != nil {
		t.Fatalf("claim after top-up: %v", err)
	}
	if net.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected net 48, got %s", net)
	}
	if f.token.balance(owner).Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected owner balance 48 after a single settlement, got %s", f.token.balance(owner))
	}
	if second, _ := f.engine.Claim(owner, id); second.Sign() != 0 {
		t.Fatalf("accrual replayed, second claim paid %s", second)
	}
}

func TestClaimFeeLegFailureCommitsAccrual(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x0E)
	collector := makeAddress(0xFC)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	f.now = 10 * day

	f.token.onTransfer = func(to [20]byte, amount *big.Int) error {
		if to == collector {
			return fmt.Errorf("collector refused")
		}
		return nil
	}
	net, err := f.engine.Claim(owner, id)
	if !errors.Is(err, ErrFeeTransferFailed) {
		t.Fatalf("expected ErrFeeTransferFailed, got %v", err)
	}
	if net == nil || net.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected net 48 with the fee pending, got %v", net)
	}
	if f.token.balance(owner).Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected owner to hold the net leg, got %s", f.token.balance(owner))
	}
	// The committed claim must not re-arm the accrual.
	pending, _ := f.engine.PendingReward(owner, id)
	if pending.Sign() != 0 {
		t.Fatalf("fee-leg failure re-armed accrual, pending %s", pending)
	}
	f.token.onTransfer = nil
	if second, _ := f.engine.Claim(owner, id); second.Sign() != 0 {
		t.Fatalf("double payout: second claim paid %s", second)
	}
	// The unpaid fee stays in custody for operator recovery.
	if f.token.balance(collector).Sign() != 0 {
		t.Fatalf("collector unexpectedly paid %s", f.token.balance(collector))
	}
	if f.token.balance(f.token.custody).Cmp(big.NewInt(952)) != 0 {
		t.Fatalf("expected custody to retain the fee, got %s", f.token.balance(f.token.custody))
	}
}

func TestReentrantClaimRejected(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x06)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	f.now = 10 * day
	f.token.credit(f.token.custody, 1_000)

	var nested error
	f.token.onTransfer = func(to [20]byte, amount *big.Int) error {
		_, nested = f.engine.Claim(owner, id)
		return nested
	}
	_, err := f.engine.Claim(owner, id)
	if !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected outer ErrTransferFailed, got %v", err)
	}
	if !errors.Is(nested, common.ErrReentrantCall) {
		t.Fatalf("expected nested ErrReentrantCall, got %v", nested)
	}
	// The rolled-back claim must leave the full accrual intact.
	f.token.onTransfer = nil
	pending, _ := f.engine.PendingReward(owner, id)
	if pending.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("partial effects survived reentrant attempt, pending %s", pending)
	}
}

func TestCompoundFoldsRewardAndChecksCapacity(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x07)
	f.token.credit(owner, 2_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(2_000))

	f.now = 10 * day
	newAmount, err := f.engine.Compound(owner, id)
	if err != nil {
		t.Fatalf("compound: %v", err)
	}
	// 2000 at 50bps/day for 10 days accrues 100.
	if newAmount.Cmp(big.NewInt(2_100)) != 0 {
		t.Fatalf("expected 2100 after compound, got %s", newAmount)
	}
	f.assertPoolInvariant(t)
	if pending, _ := f.engine.PendingReward(owner, id); pending.Sign() != 0 {
		t.Fatalf("expected zero pending after compound, got %s", pending)
	}

	// Fill remaining capacity, then a later compound must hit the ceiling.
	other := makeAddress(0x08)
	f.token.credit(other, 2_000)
	if _, err := f.engine.Stake(other, "gold", big.NewInt(2_000)); err != nil {
		t.Fatalf("stake: %v", err)
	}
	f.now = 400 * day
	if _, err := f.engine.Compound(owner, id); !errors.Is(err, pool.ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	f.assertPoolInvariant(t)
}

func TestWithdrawLifecycle(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x09)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))

	f.now = 29 * day
	if _, _, err := f.engine.Withdraw(owner, id); !errors.Is(err, ErrNotMatured) {
		t.Fatalf("expected ErrNotMatured, got %v", err)
	}

	f.now = 30 * day
	f.token.credit(f.token.custody, 2_000)
	principal, reward, err := f.engine.Withdraw(owner, id)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if principal.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected principal 1000, got %s", principal)
	}
	// 30 days at 50bps/day accrues 150; 5% fee leaves 143 net (fee 7).
	if reward.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected reward 150, got %s", reward)
	}
	if f.token.balance(owner).Cmp(big.NewInt(1_143)) != 0 {
		t.Fatalf("expected owner balance 1143, got %s", f.token.balance(owner))
	}
	f.assertPoolInvariant(t)

	if _, _, err := f.engine.Withdraw(owner, id); !errors.Is(err, ledger.ErrAlreadyInactive) {
		t.Fatalf("expected ErrAlreadyInactive, got %v", err)
	}
	if _, err := f.engine.Claim(owner, id); !errors.Is(err, ledger.ErrAlreadyInactive) {
		t.Fatalf("expected ErrAlreadyInactive, got %v", err)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x0A)
	f.token.credit(owner, 1_000)
	f.engine.SetPauses(stubPauses{paused: true})

	if _, err := f.engine.Stake(owner, "gold", big.NewInt(1_000)); !errors.Is(err, common.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if f.token.balance(owner).Cmp(big.NewInt(1_000)) != 0 {
		t.Fatal("paused stake moved funds")
	}
	aggs := f.engine.Aggregates()
	if aggs.TotalRecords != 0 {
		t.Fatal("paused stake created a record")
	}
}

func TestReconcilePoolRestoresInvariant(t *testing.T) {
	f := newFixture(t)
	owner := makeAddress(0x0B)
	f.token.credit(owner, 1_000)
	f.engine.Stake(owner, "gold", big.NewInt(1_000))

	// Simulate operator drift, then resync from the ledger.
	if _, err := f.pools.Reconcile("gold", big.NewInt(4_321)); err != nil {
		t.Fatalf("seed drift: %v", err)
	}
	if err := f.engine.ReconcilePool("gold"); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	f.assertPoolInvariant(t)
}

func TestEventsEmitted(t *testing.T) {
	f := newFixture(t)
	emitter := &recordingEmitter{}
	f.engine.SetEmitter(emitter)
	owner := makeAddress(0x0C)
	f.token.credit(owner, 1_000)
	id, _ := f.engine.Stake(owner, "gold", big.NewInt(1_000))
	f.now = 30 * day
	f.token.credit(f.token.custody, 1_500)
	if _, _, err := f.engine.Withdraw(owner, id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if len(emitter.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(emitter.events))
	}
	if emitter.events[0].EventType() != events.TypeStakeCreated {
		t.Fatalf("unexpected first event %q", emitter.events[0].EventType())
	}
	if emitter.events[1].EventType() != events.TypeStakeWithdrawn {
		t.Fatalf("unexpected second event %q", emitter.events[1].EventType())
	}
}
