// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package path provides routines for path selection.
package path

import (
	"errors"
	"fmt"
	mRand "math/rand"
	"time"

	"github.com/mixcourier/mixcourier/core/pathspec"
	"github.com/mixcourier/mixcourier/core/pki"
)

var (
	// ErrInsufficientCandidates is the error returned when fewer eligible
	// relays remain than are needed to fill the remaining random slots.
	ErrInsufficientCandidates = errors.New("path: insufficient eligible relay candidates")

	// ErrAdjacentDuplicate is the error returned when a resolved path
	// would place the same relay in two adjacent positions.
	ErrAdjacentDuplicate = errors.New("path: adjacent hops resolve to the same relay")
)

// Blocklist holds the role based relay exclusion lists.
type Blocklist struct {
	// Servers are excluded from every path position.
	Servers map[string]bool

	// Entries are additionally excluded from the first position.
	Entries map[string]bool

	// Exits are additionally excluded from the last position.
	Exits map[string]bool
}

// NewBlocklist builds a Blocklist from the raw configuration name lists.
func NewBlocklist(servers, entries, exits []string) *Blocklist {
	toSet := func(names []string) map[string]bool {
		m := make(map[string]bool, len(names))
		for _, n := range names {
			m[n] = true
		}
		return m
	}
	return &Blocklist{
		Servers: toSet(servers),
		Entries: toSet(entries),
		Exits:   toSet(exits),
	}
}

// blocked returns true iff name is excluded from the path position given by
// isEntry/isExit.  A single hop path is both the entry and the exit.
func (b *Blocklist) blocked(name string, isEntry, isExit bool) bool {
	if b == nil {
		return false
	}
	if b.Servers[name] {
		return true
	}
	if isEntry && b.Entries[name] {
		return true
	}
	if isExit && b.Exits[name] {
		return true
	}
	return false
}

// Select resolves the slot template into a concrete ordered relay sequence.
//
// Random slots are filled by uniform random choice without replacement
// across the whole path, drawn from relays valid at now and not excluded by
// the applicable block list for the slot's role.  Fixed slots resolve to the
// named relay, bypassing block lists (an explicit override) but still
// requiring directory presence and a validity window covering now.  When
// requireExit is set the terminal hop must be capable of exit delivery.
//
// The rng must be backed by a cryptographically secure source in production;
// predictable path selection is an anonymity break.
func Select(rng *mRand.Rand, slots []pathspec.Slot, blk *Blocklist, doc *pki.Document, now time.Time, requireExit bool) ([]*pki.RelayDescriptor, error) {
	if len(slots) == 0 {
		return nil, errors.New("path: empty slot template")
	}

	hops := make([]*pki.RelayDescriptor, len(slots))
	used := make(map[string]bool)

	// Resolve the Fixed slots first so that random selection excludes them.
	for i, slot := range slots {
		if slot.Kind != pathspec.Fixed {
			continue
		}
		desc, err := doc.GetRelayByName(slot.Name)
		if err != nil {
			return nil, fmt.Errorf("path: fixed hop '%v': %w", slot.Name, err)
		}
		if !desc.ValidAt(now) {
			return nil, fmt.Errorf("path: fixed hop '%v' is outside its validity window", slot.Name)
		}
		hops[i] = desc
		used[desc.Name] = true
	}

	active := doc.ActiveAt(now)
	for i, slot := range slots {
		if slot.Kind != pathspec.Random {
			continue
		}
		isEntry := i == 0
		isExit := i == len(slots)-1

		candidates := make([]*pki.RelayDescriptor, 0, len(active))
		for _, desc := range active {
			if used[desc.Name] {
				continue
			}
			if blk.blocked(desc.Name, isEntry, isExit) {
				continue
			}
			if isExit && requireExit && !desc.CanExit {
				continue
			}
			candidates = append(candidates, desc)
		}
		if len(candidates) == 0 {
			return nil, ErrInsufficientCandidates
		}

		desc := candidates[rng.Intn(len(candidates))]
		hops[i] = desc
		used[desc.Name] = true
	}

	if requireExit && !hops[len(hops)-1].CanExit {
		return nil, fmt.Errorf("path: terminal hop '%v' cannot deliver", hops[len(hops)-1].Name)
	}

	// Random slots never repeat a relay, but explicitly pinned hops can.
	for i := 1; i < len(hops); i++ {
		if hops[i].Name == hops[i-1].Name {
			return nil, ErrAdjacentDuplicate
		}
	}

	return hops, nil
}

// ToString returns a slice of strings representing the useful component of
// each hop, suitable for debugging.
func ToString(hops []*pki.RelayDescriptor) []string {
	s := make([]string, 0, len(hops))
	for idx, desc := range hops {
		s = append(s, fmt.Sprintf("Hop[%v] '%v'", idx, desc.Name))
	}
	return s
}
