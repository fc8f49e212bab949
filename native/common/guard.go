package common

import (
	"errors"
	"sync/atomic"
)

var (
	ErrModulePaused  = errors.New("module paused")
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView exposes the operator pause switches consulted before any mutating
// operation.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the operation when the named module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallGuard is a scoped non-reentrant lock shared by every externally callable
// mutating operation of an engine. Execution is serialized, so the lock exists
// purely to reject synchronous re-entry through a token-transfer callback; it
// never blocks.
type CallGuard struct {
	busy atomic.Bool
}

// Begin acquires the guard and returns the release function. Callers must
// defer the release so the lock drops on every exit path.
func (g *CallGuard) Begin() (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if !g.busy.CompareAndSwap(false, true) {
		return nil, ErrReentrantCall
	}
	return func() { g.busy.Store(false) }, nil
}

// WithGuard runs fn inside the guarded region.
func (g *CallGuard) WithGuard(fn func() error) error {
	release, err := g.Begin()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}
