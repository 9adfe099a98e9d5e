package common

import (
	"errors"
	"testing"
)

func TestGuardModuleAndScopes(t *testing.T) {
	board := NewSwitchboard()
	if err := Guard(board, "lending", "dai"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	board.Set(Scope("lending", "dai"), true)
	if err := Guard(board, "lending", "dai"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(board, "lending", "usdc"); err != nil {
		t.Fatalf("expected other markets to stay open, got %v", err)
	}

	board.Set(Scope("lending", "dai"), false)
	board.Set("lending", true)
	if err := Guard(board, "lending", "usdc"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected module pause to apply to every market, got %v", err)
	}
}

func TestGuardNilView(t *testing.T) {
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("expected nil view to allow, got %v", err)
	}
	var board *Switchboard
	if board.IsPaused("lending") {
		t.Fatalf("nil switchboard must report unpaused")
	}
}

func TestScopeNormalisesSubScope(t *testing.T) {
	if got := Scope("lending", " dai "); got != "lending/DAI" {
		t.Fatalf("unexpected scope %q", got)
	}
	if got := Scope("lending", ""); got != "lending" {
		t.Fatalf("unexpected scope %q", got)
	}
}
