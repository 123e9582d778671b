package common

import (
	"errors"
	"testing"
)

func TestGuardHonoursPauseSet(t *testing.T) {
	if err := Guard(nil, "cdp"); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
	set := NewPauseSet(" CDP ")
	if err := Guard(set, "cdp"); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(set, "token"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	set.Set("cdp", false)
	if err := Guard(set, "cdp"); err != nil {
		t.Fatalf("expected resume, got %v", err)
	}
	set.Set("token", true)
	if got := set.Modules(); len(got) != 1 || got[0] != "token" {
		t.Fatalf("unexpected modules: %v", got)
	}
}
