package common

import (
	"errors"
	"testing"
)

type stubPauseView struct {
	modules map[string]bool
}

func (s stubPauseView) IsPaused(module string) bool {
	if s.modules == nil {
		return false
	}
	return s.modules[module]
}

func TestGuardPausedModule(t *testing.T) {
	view := stubPauseView{modules: map[string]bool{"staking": true}}
	if err := Guard(view, "staking"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(view, "voucher"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Guard(nil, "staking"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}

func TestCallGuardRejectsReentry(t *testing.T) {
	var guard CallGuard
	err := guard.WithGuard(func() error {
		return guard.WithGuard(func() error {
			t.Fatal("nested region executed")
			return nil
		})
	})
	if !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
}

func TestCallGuardReleasesOnError(t *testing.T) {
	var guard CallGuard
	sentinel := errors.New("boom")
	if err := guard.WithGuard(func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
	if err := guard.WithGuard(func() error { return nil }); err != nil {
		t.Fatalf("guard not released after failure: %v", err)
	}
}

func TestCallGuardBeginRelease(t *testing.T) {
	var guard CallGuard
	release, err := guard.Begin()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := guard.Begin(); !errors.Is(err, ErrReentrantCall) {
		t.Fatalf("expected ErrReentrantCall, got %v", err)
	}
	release()
	release2, err := guard.Begin()
	if err != nil {
		t.Fatalf("guard not reusable after release: %v", err)
	}
	release2()
}
