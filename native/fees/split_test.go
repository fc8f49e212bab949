package fees

import (
	"errors"
	"math/big"
	"testing"
)

func TestSplitConservation(t *testing.T) {
	cases := []struct {
		gross      int64
		feeBps     uint32
		royaltyBps uint32
	}{
		{0, 250, 100},
		{1, 250, 100},
		{3, 3333, 3333},
		{50, 500, 0},
		{999, 1, 1},
		{1_000_000, 9_999, 0},
		{7, 5000, 4999},
	}
	for _, tc := range cases {
		fee, royalty, net, err := Split(big.NewInt(tc.gross), tc.feeBps, tc.royaltyBps)
		if err != nil {
			t.Fatalf("split(%d,%d,%d): %v", tc.gross, tc.feeBps, tc.royaltyBps, err)
		}
		sum := new(big.Int).Add(fee, royalty)
		sum.Add(sum, net)
		if sum.Cmp(big.NewInt(tc.gross)) != 0 {
			t.Fatalf("split(%d,%d,%d): fee %s + royalty %s + net %s != gross", tc.gross, tc.feeBps, tc.royaltyBps, fee, royalty, net)
		}
		if fee.Sign() < 0 || royalty.Sign() < 0 || net.Sign() < 0 {
			t.Fatalf("split(%d,%d,%d): negative component", tc.gross, tc.feeBps, tc.royaltyBps)
		}
	}
}

func TestSplitTruncatesFeeFirst(t *testing.T) {
	// 5% of 50 truncates to 2, leaving 48 net.
	fee, royalty, net, err := Split(big.NewInt(50), 500, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("expected fee 2, got %s", fee)
	}
	if royalty.Sign() != 0 {
		t.Fatalf("expected zero royalty, got %s", royalty)
	}
	if net.Cmp(big.NewInt(48)) != 0 {
		t.Fatalf("expected net 48, got %s", net)
	}
}

func TestSplitRejectsExcessiveRates(t *testing.T) {
	if _, _, _, err := Split(big.NewInt(100), 6000, 5000); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestSplitNilAndNegativeGross(t *testing.T) {
	fee, royalty, net, err := Split(nil, 500, 100)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.Sign() != 0 || royalty.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("expected zero split for nil gross")
	}
	fee, _, net, err = Split(big.NewInt(-10), 500, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fee.Sign() != 0 || net.Sign() != 0 {
		t.Fatalf("expected zero split for negative gross")
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{FeeBps: 500, RoyaltyBps: 250}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg = Config{FeeBps: 5000, RoyaltyBps: 5000}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestTotalsTrackGross(t *testing.T) {
	totals := NewTotals()
	for _, gross := range []int64{1, 50, 999, 12345} {
		fee, royalty, net, err := Split(big.NewInt(gross), 250, 125)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		totals.Add(big.NewInt(gross), fee, royalty, net)
	}
	sum := new(big.Int).Add(totals.Fee, totals.Royalty)
	sum.Add(sum, totals.Net)
	if sum.Cmp(totals.Gross) != 0 {
		t.Fatalf("totals drifted: %s != %s", sum, totals.Gross)
	}
	clone := totals.Clone()
	clone.Gross.Add(clone.Gross, big.NewInt(1))
	if clone.Gross.Cmp(totals.Gross) == 0 {
		t.Fatal("clone aliases the original totals")
	}
}
