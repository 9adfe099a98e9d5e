package common

import (
	"errors"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a scope is paused. A scope is either a module name
// or a module name and sub-scope joined by Scope.
type PauseView interface {
	IsPaused(scope string) bool
}

// Scope joins a module name with a sub-scope such as a market symbol.
func Scope(module, sub string) string {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return module
	}
	return module + "/" + strings.ToUpper(sub)
}

// Guard fails with ErrModulePaused when the module, or any of the extra
// scopes of the module, is paused.
func Guard(p PauseView, module string, subs ...string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	for _, sub := range subs {
		if p.IsPaused(Scope(module, sub)) {
			return ErrModulePaused
		}
	}
	return nil
}

// Switchboard is an in-memory PauseView toggled by operators.
type Switchboard struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewSwitchboard returns a switchboard with the given scopes paused.
func NewSwitchboard(scopes ...string) *Switchboard {
	s := &Switchboard{paused: make(map[string]bool)}
	for _, scope := range scopes {
		s.Set(scope, true)
	}
	return s
}

// Set pauses or resumes scope.
func (s *Switchboard) Set(scope string, paused bool) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[scope] = true
		return
	}
	delete(s.paused, scope)
}

// IsPaused implements PauseView.
func (s *Switchboard) IsPaused(scope string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[scope]
}
