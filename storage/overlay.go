package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrOverlayCommitted is returned when an overlay is reused after Commit or
// Discard.
var ErrOverlayCommitted = errors.New("storage: overlay already closed")

// Overlay buffers writes on top of a parent database. Reads observe the
// buffered writes first. Nothing reaches the parent until Commit, which flushes
// every staged write through a single batch.
type Overlay struct {
	mu      sync.RWMutex
	parent  Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// NewOverlay stages writes over parent.
func NewOverlay(parent Database) *Overlay {
	return &Overlay{
		parent:  parent,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayCommitted
	}
	k := string(key)
	delete(o.deletes, k)
	o.writes[k] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	k := string(key)
	if _, ok := o.deletes[k]; ok {
		return nil, ErrNotFound
	}
	if value, ok := o.writes[k]; ok {
		return append([]byte(nil), value...), nil
	}
	return o.parent.Get(key)
}

func (o *Overlay) Delete(key []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayCommitted
	}
	k := string(key)
	delete(o.writes, k)
	o.deletes[k] = struct{}{}
	return nil
}

// NewBatch returns a batch that stages into the overlay rather than the parent.
func (o *Overlay) NewBatch() Batch {
	return &overlayBatch{overlay: o}
}

// Close discards staged writes. The parent is owned by the caller.
func (o *Overlay) Close() {
	o.Discard()
}

// Pending reports the number of staged mutations.
func (o *Overlay) Pending() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.writes) + len(o.deletes)
}

// Commit flushes staged writes to the parent in one batch. Keys are written in
// sorted order so identical overlays produce identical batches.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayCommitted
	}
	batch := o.parent.NewBatch()
	keys := make([]string, 0, len(o.writes))
	for k := range o.writes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), o.writes[k])
	}
	dels := make([]string, 0, len(o.deletes))
	for k := range o.deletes {
		dels = append(dels, k)
	}
	sort.Strings(dels)
	for _, k := range dels {
		batch.Delete([]byte(k))
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return err
		}
	}
	o.closed = true
	o.writes = nil
	o.deletes = nil
	return nil
}

// Discard drops all staged writes.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.writes = nil
	o.deletes = nil
}

type overlayBatch struct {
	overlay *Overlay
	ops     []memOp
}

func (b *overlayBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, memOp{key: string(key), value: append([]byte(nil), value...)})
}

func (b *overlayBatch) Delete(key []byte) {
	b.ops = append(b.ops, memOp{key: string(key), delete: true})
}

func (b *overlayBatch) Len() int { return len(b.ops) }

func (b *overlayBatch) Write() error {
	for _, op := range b.ops {
		var err error
		if op.delete {
			err = b.overlay.Delete([]byte(op.key))
		} else {
			err = b.overlay.Put([]byte(op.key), op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
