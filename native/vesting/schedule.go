package vesting

import (
	"errors"
	"math/big"
)

const basisPoints = 10_000

var basisPointsBig = big.NewInt(basisPoints)

var (
	ErrInvalidConfig = errors.New("vesting: invalid schedule configuration")
)

// Config describes a cliff-plus-linear release schedule measured from the
// token generation event. TGEBps releases immediately, the remainder unlocks
// linearly over VestingDuration once CliffDuration has elapsed.
type Config struct {
	TGEBps          uint32
	CliffDuration   int64
	VestingDuration int64
}

// Validate reports whether the schedule parameters are internally consistent.
func (c Config) Validate() error {
	if c.TGEBps > basisPoints {
		return ErrInvalidConfig
	}
	if c.CliffDuration < 0 || c.VestingDuration < 0 {
		return ErrInvalidConfig
	}
	return nil
}

// Vested returns the amount released at the given elapsed time since TGE.
// The result is monotonically non-decreasing in elapsed and saturates at
// purchased once the cliff and vesting window have both passed.
func Vested(purchased *big.Int, cfg Config, elapsed int64) *big.Int {
	if purchased == nil || purchased.Sign() <= 0 {
		return big.NewInt(0)
	}
	if cfg.TGEBps >= basisPoints {
		return new(big.Int).Set(purchased)
	}
	tgeAmount := new(big.Int).Mul(purchased, big.NewInt(int64(cfg.TGEBps)))
	tgeAmount.Div(tgeAmount, basisPointsBig)
	if elapsed < cfg.CliffDuration {
		return tgeAmount
	}
	vestElapsed := elapsed - cfg.CliffDuration
	if cfg.VestingDuration == 0 || vestElapsed >= cfg.VestingDuration {
		return new(big.Int).Set(purchased)
	}
	linear := new(big.Int).Sub(purchased, tgeAmount)
	linear.Mul(linear, big.NewInt(vestElapsed))
	linear.Div(linear, big.NewInt(cfg.VestingDuration))
	return linear.Add(linear, tgeAmount)
}

// Claimable returns the portion of the vested amount not yet claimed. The
// result is never negative and calling it repeatedly without an intervening
// claim yields the same value.
func Claimable(purchased, alreadyClaimed *big.Int, cfg Config, elapsed int64) *big.Int {
	vested := Vested(purchased, cfg, elapsed)
	if alreadyClaimed != nil && alreadyClaimed.Sign() > 0 {
		vested.Sub(vested, alreadyClaimed)
	}
	if vested.Sign() < 0 {
		return big.NewInt(0)
	}
	return vested
}
