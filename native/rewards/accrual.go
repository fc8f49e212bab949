package rewards

import "math/big"

const (
	secondsPerDay    = 24 * 60 * 60
	secondsPerYear   = 365 * secondsPerDay
	basisPointsDenom = 10_000
)

var (
	dailyDenom  = big.NewInt(basisPointsDenom * secondsPerDay)
	annualDenom = big.NewInt(basisPointsDenom * secondsPerYear)
)

// Mode selects how a plan's rate is interpreted when accruing rewards.
type Mode uint8

const (
	// ModeLinearTerm applies the rate as a simple APR over the lock term.
	ModeLinearTerm Mode = iota
	// ModeDaily applies the rate per elapsed day, pro-rated by the second.
	ModeDaily
)

// Valid reports whether the mode value is within the supported range.
func (m Mode) Valid() bool {
	switch m {
	case ModeLinearTerm, ModeDaily:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	switch m {
	case ModeLinearTerm:
		return "linear"
	case ModeDaily:
		return "daily"
	default:
		return "unknown"
	}
}

// Pending computes the reward accrued between lastAccrualAt and now, clamped
// at capTime when capTime is non-zero. The amount is multiplied by the rate
// and the elapsed seconds before any division so rounding loss stays within a
// single unit per call.
func Pending(amount *big.Int, rateBps uint32, lastAccrualAt, now, capTime int64, mode Mode) *big.Int {
	if amount == nil || amount.Sign() <= 0 || rateBps == 0 {
		return big.NewInt(0)
	}
	end := now
	if capTime > 0 && capTime < end {
		end = capTime
	}
	if end <= lastAccrualAt {
		return big.NewInt(0)
	}
	elapsed := end - lastAccrualAt
	reward := new(big.Int).Mul(amount, big.NewInt(int64(rateBps)))
	reward.Mul(reward, big.NewInt(elapsed))
	switch mode {
	case ModeDaily:
		reward.Div(reward, dailyDenom)
	default:
		reward.Div(reward, annualDenom)
	}
	return reward
}

// AccrualEnd returns the timestamp rewards were accrued up to for the given
// inputs, i.e. the value a record's lastAccrualAt should advance to after a
// claim. It mirrors the clamping applied by Pending.
func AccrualEnd(now, capTime int64) int64 {
	if capTime > 0 && capTime < now {
		return capTime
	}
	return now
}
