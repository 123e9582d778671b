package cdp

import (
	"errors"
	"fmt"
	"log/slog"
)

// journalEntry is one applied external effect together with the action that
// reverses it.
type journalEntry struct {
	name string
	undo func() error
}

// journal records compensations for effects already applied during an
// operation. On failure the entries are replayed newest first.
type journal struct {
	entries []journalEntry
	logger  *slog.Logger
}

func newJournal(logger *slog.Logger) *journal {
	return &journal{logger: logger}
}

// step runs apply and, when it succeeds, records undo. The final step of an
// operation may pass a nil undo.
func (j *journal) step(name string, apply func() error, undo func() error) error {
	if err := apply(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if undo != nil {
		j.entries = append(j.entries, journalEntry{name: name, undo: undo})
	}
	return nil
}

// revert replays compensations in reverse order. Compensation failures are
// logged and joined with the original cause.
func (j *journal) revert(cause error) error {
	var failures []error
	for i := len(j.entries) - 1; i >= 0; i-- {
		entry := j.entries[i]
		if err := entry.undo(); err != nil {
			j.logger.Error("cdp compensation failed", slog.String("step", entry.name), slog.Any("error", err))
			failures = append(failures, fmt.Errorf("undo %s: %w", entry.name, err))
		}
	}
	j.entries = nil
	if len(failures) == 0 {
		return cause
	}
	return errors.Join(append([]error{cause}, failures...)...)
}

func (j *journal) length() int { return len(j.entries) }
