package voucher

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"ledgercore/core/events"
	"ledgercore/native/common"
	"ledgercore/observability/metrics"
)

const moduleName = "voucher"

var (
	errNilToken       = errors.New("voucher engine: token ledger not configured")
	ErrNotFound       = errors.New("voucher engine: voucher not found")
	ErrAlreadyClaimed = errors.New("voucher engine: voucher exhausted")
	ErrExpired        = errors.New("voucher engine: voucher expired")
	ErrInvalidAmount  = errors.New("voucher engine: amount must be positive")
	ErrInvalidUses    = errors.New("voucher engine: max uses must be positive")
	ErrTransferFailed = errors.New("voucher engine: token transfer failed")
)

// TokenLedger is the external fungible-token collaborator. Issued vouchers
// are funded up front into custody; each redemption pays out of it.
type TokenLedger interface {
	Transfer(to [20]byte, amount *big.Int) error
	TransferFrom(from, to [20]byte, amount *big.Int) error
	BalanceOf(addr [20]byte) (*big.Int, error)
	Allowance(owner, spender [20]byte) (*big.Int, error)
}

// Voucher is a prefunded claim on a fixed amount, redeemable up to MaxUses
// times before an optional expiry. Exhaustion is terminal.
type Voucher struct {
	Code      string   `json:"code"`
	Issuer    [20]byte `json:"issuer"`
	Amount    *big.Int `json:"amount"`
	MaxUses   uint32   `json:"maxUses"`
	Uses      uint32   `json:"uses"`
	CreatedAt int64    `json:"createdAt"`
	ExpiresAt int64    `json:"expiresAt"`
	Active    bool     `json:"active"`
}

// Clone returns a deep copy of the voucher.
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	clone := *v
	if v.Amount != nil {
		clone.Amount = new(big.Int).Set(v.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Engine issues and redeems vouchers against the prefunded custody balance.
type Engine struct {
	vouchers map[string]*Voucher
	token    TokenLedger
	custody  [20]byte
	guard    common.CallGuard
	pauses   common.PauseView
	emitter  events.Emitter
	metrics  *metrics.LedgerMetrics
	nowFn    func() int64
	codeFn   func() string
}

// NewEngine creates a voucher engine bound to the custody address.
func NewEngine(custody [20]byte) *Engine {
	return &Engine{
		vouchers: make(map[string]*Voucher),
		custody:  custody,
		emitter:  events.NoopEmitter{},
		metrics:  metrics.Ledger(),
		nowFn:    func() int64 { return time.Now().Unix() },
		codeFn:   func() string { return uuid.NewString() },
	}
}

// SetToken wires the external fungible-token collaborator.
func (e *Engine) SetToken(token TokenLedger) { e.token = token }

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

// SetCodeFunc overrides code generation for deterministic tests.
func (e *Engine) SetCodeFunc(code func() string) {
	if code == nil {
		e.codeFn = func() string { return uuid.NewString() }
		return
	}
	e.codeFn = code
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// Issue funds a new voucher by pulling amount*maxUses from the issuer and
// returns the generated redemption code. A zero expiresAt never expires.
func (e *Engine) Issue(issuer [20]byte, amount *big.Int, maxUses uint32, expiresAt int64) (code string, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "issue", err) }()
	if err = common.Guard(e.pauses, moduleName); err != nil {
		return "", err
	}
	release, err := e.guard.Begin()
	if err != nil {
		return "", err
	}
	defer release()
	if e.token == nil {
		return "", errNilToken
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", ErrInvalidAmount
	}
	if maxUses == 0 {
		return "", ErrInvalidUses
	}
	funding := new(big.Int).Mul(amount, big.NewInt(int64(maxUses)))
	if pullErr := e.token.TransferFrom(issuer, e.custody, funding); pullErr != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, pullErr)
		return "", err
	}
	code = e.codeFn()
	v := &Voucher{
		Code:      code,
		Issuer:    issuer,
		Amount:    new(big.Int).Set(amount),
		MaxUses:   maxUses,
		CreatedAt: e.nowFn(),
		ExpiresAt: expiresAt,
		Active:    true,
	}
	e.vouchers[code] = v
	e.emit(events.VoucherIssued{Issuer: issuer, Code: code, Amount: v.Amount, MaxUses: maxUses})
	return code, nil
}

// Redeem pays the voucher amount to the redeemer. The use counter commits
// before the payout and rolls back if the payout is refused; once the last
// use is consumed the voucher deactivates permanently.
func (e *Engine) Redeem(code string, redeemer [20]byte) (amount *big.Int, err error) {
	defer func() { e.metrics.ObserveOperation(moduleName, "redeem", err) }()
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
	v, ok := e.vouchers[code]
	if !ok {
		return nil, ErrNotFound
	}
	if !v.Active || v.Uses >= v.MaxUses {
		return nil, ErrAlreadyClaimed
	}
	if v.ExpiresAt > 0 && e.nowFn() >= v.ExpiresAt {
		return nil, ErrExpired
	}

	prev := v.Clone()
	v.Uses++
	if v.Uses >= v.MaxUses {
		v.Active = false
	}
	if payErr := e.token.Transfer(redeemer, v.Amount); payErr != nil {
		e.vouchers[code] = prev
		err = fmt.Errorf("%w: %v", ErrTransferFailed, payErr)
		return nil, err
	}
	e.emit(events.VoucherRedeemed{Redeemer: redeemer, Code: code, Amount: v.Amount, UsesLeft: v.MaxUses - v.Uses})
	return new(big.Int).Set(v.Amount), nil
}

// Get returns a clone of the voucher identified by code.
func (e *Engine) Get(code string) (*Voucher, error) {
	v, ok := e.vouchers[code]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

// Vouchers returns clones of every issued voucher.
func (e *Engine) Vouchers() []*Voucher {
	out := make([]*Voucher, 0, len(e.vouchers))
	for _, v := range e.vouchers {
		out = append(out, v.Clone())
	}
	return out
}

// Restore replaces the voucher set, used by persistence on startup.
func (e *Engine) Restore(vouchers []*Voucher) {
	e.vouchers = make(map[string]*Voucher, len(vouchers))
	for _, v := range vouchers {
		if v == nil || v.Code == "" {
			continue
		}
		e.vouchers[v.Code] = v.Clone()
	}
}
