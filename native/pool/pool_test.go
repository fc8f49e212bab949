package pool

import (
	"errors"
	"math/big"
	"testing"

	"ledgercore/native/rewards"
)

func testPlan() *Plan {
	return &Plan{
		ID:          "gold",
		MinAmount:   big.NewInt(100),
		MaxAmount:   big.NewInt(2_000),
		RateBps:     50,
		LockSeconds: 30 * 86_400,
		Accrual:     rewards.ModeDaily,
		Capacity:    big.NewInt(5_000),
		Active:      true,
	}
}

func TestAddPlanValidation(t *testing.T) {
	a := NewAccountant()
	if err := a.AddPlan(testPlan()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := testPlan()
	bad.ID = ""
	if err := a.AddPlan(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	bad = testPlan()
	bad.Capacity = big.NewInt(0)
	if err := a.AddPlan(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	bad = testPlan()
	bad.MinAmount = big.NewInt(3_000)
	if err := a.AddPlan(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	bad = testPlan()
	bad.Accrual = rewards.Mode(7)
	if err := a.AddPlan(bad); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestReserveHonoursCapacity(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	if err := a.Reserve("gold", big.NewInt(4_000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.Reserve("gold", big.NewInt(1_001)); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	if err := a.Reserve("gold", big.NewInt(1_000)); err != nil {
		t.Fatalf("reservation at exact capacity must succeed: %v", err)
	}
	p, _ := a.Plan("gold")
	if p.Used.Cmp(p.Capacity) != 0 {
		t.Fatalf("expected used == capacity, got %s/%s", p.Used, p.Capacity)
	}
}

func TestReleaseUnderflow(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	a.Reserve("gold", big.NewInt(500))
	if err := a.Release("gold", big.NewInt(501)); !errors.Is(err, ErrUnderflow) {
		t.Fatalf("expected ErrUnderflow, got %v", err)
	}
	if err := a.Release("gold", big.NewInt(500)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, _ := a.Plan("gold")
	if p.Used.Sign() != 0 {
		t.Fatalf("expected zero used, got %s", p.Used)
	}
}

func TestReserveReleasePairing(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	amounts := []int64{100, 250, 1_000, 333}
	total := big.NewInt(0)
	for _, amt := range amounts {
		if err := a.Reserve("gold", big.NewInt(amt)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total.Add(total, big.NewInt(amt))
	}
	for _, amt := range amounts {
		p, _ := a.Plan("gold")
		if p.Used.Cmp(total) != 0 {
			t.Fatalf("used desynced: %s vs %s", p.Used, total)
		}
		if err := a.Release("gold", big.NewInt(amt)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total.Sub(total, big.NewInt(amt))
	}
	p, _ := a.Plan("gold")
	if p.Used.Sign() != 0 {
		t.Fatalf("expected zero used after full unwind, got %s", p.Used)
	}
}

func TestCheckBounds(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	if err := a.CheckBounds("gold", big.NewInt(99)); !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
	if err := a.CheckBounds("gold", big.NewInt(2_001)); !errors.Is(err, ErrAboveMaximum) {
		t.Fatalf("expected ErrAboveMaximum, got %v", err)
	}
	if err := a.CheckBounds("gold", big.NewInt(100)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := a.CheckBounds("missing", big.NewInt(100)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	a.SetActive("gold", false)
	if err := a.CheckBounds("gold", big.NewInt(100)); !errors.Is(err, ErrPlanInactive) {
		t.Fatalf("expected ErrPlanInactive, got %v", err)
	}
}

func TestReconcile(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	a.Reserve("gold", big.NewInt(900))
	prev, err := a.Reconcile("gold", big.NewInt(750))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prev.Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("expected previous used 900, got %s", prev)
	}
	p, _ := a.Plan("gold")
	if p.Used.Cmp(big.NewInt(750)) != 0 {
		t.Fatalf("expected used 750, got %s", p.Used)
	}
	if _, err := a.Reconcile("gold", big.NewInt(5_001)); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
	if _, err := a.Reconcile("gold", big.NewInt(-1)); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSnapshotRestore(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	a.Reserve("gold", big.NewInt(400))
	snap := a.Snapshot()
	a.Reserve("gold", big.NewInt(600))
	a.Restore(snap)
	p, _ := a.Plan("gold")
	if p.Used.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("restore did not roll back used, got %s", p.Used)
	}
}

func TestPlanCloneDoesNotAlias(t *testing.T) {
	a := NewAccountant()
	a.AddPlan(testPlan())
	p, _ := a.Plan("gold")
	p.Used.SetInt64(9_999)
	again, _ := a.Plan("gold")
	if again.Used.Sign() != 0 {
		t.Fatal("plan accessor leaked internal state")
	}
}
