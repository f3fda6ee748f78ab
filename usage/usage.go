// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package usage defines the SURB usage tracking interfaces, enforcing the
// single use property.
package usage

import (
	"errors"
	"sync"
)

var (
	// ErrStoreUnavailable is the error returned when the backing store
	// cannot be read or written.  A SURB must never be consumed without
	// durable proof that it was marked, so this is fatal for a send.
	ErrStoreUnavailable = errors.New("usage: store unavailable")

	// ErrDuplicateUse is the error returned when a send attempts to
	// consume a SURB that was already marked used.
	ErrDuplicateUse = errors.New("usage: SURB already used")
)

// Tracker is the durable digest to consumed-flag store.  Records are never
// deleted and never transition from used back to unused.
type Tracker interface {
	// IsUsed returns true iff the digest was ever marked used.  Absent
	// digests are unused.
	IsUsed(digest string) (bool, error)

	// CheckAndMark atomically tests and sets the used flag for digest,
	// returning true iff this call was the one that transitioned it to
	// used.  Callers use this instead of separate check+mark to avoid
	// double spend races.
	CheckAndMark(digest string) (bool, error)

	// Close tears down the tracker.
	Close()
}

// MemTracker is an in-memory Tracker for tests and ephemeral use.
type MemTracker struct {
	sync.Mutex

	used map[string]bool
}

// NewMemTracker creates an empty in-memory tracker.
func NewMemTracker() *MemTracker {
	return &MemTracker{used: make(map[string]bool)}
}

// IsUsed returns true iff the digest was ever marked used.
func (t *MemTracker) IsUsed(digest string) (bool, error) {
	t.Lock()
	defer t.Unlock()
	return t.used[digest], nil
}

// CheckAndMark atomically tests and sets the used flag for digest.
func (t *MemTracker) CheckAndMark(digest string) (bool, error) {
	t.Lock()
	defer t.Unlock()
	if t.used[digest] {
		return false, nil
	}
	t.used[digest] = true
	return true, nil
}

// Close is a no-op for the in-memory tracker.
func (t *MemTracker) Close() {}
