package common

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is an in-memory PauseView toggled by operators.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet returns a set with the listed modules paused.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]bool)}
	for _, m := range modules {
		set.Set(m, true)
	}
	return set
}

func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[strings.ToLower(strings.TrimSpace(module))]
}

// Set pauses or resumes module.
func (s *PauseSet) Set(module string, paused bool) {
	key := strings.ToLower(strings.TrimSpace(module))
	if key == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[key] = true
		return
	}
	delete(s.paused, key)
}

// Modules lists the paused modules in sorted order.
func (s *PauseSet) Modules() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.paused))
	for m := range s.paused {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
