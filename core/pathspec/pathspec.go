// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package pathspec implements the compact path specification notation used
// in configuration files: `~N` for N random hops, `*N` for exactly N random
// hops, or an explicit relay name, comma separated.
package pathspec

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotKind is the tag discriminating the slot variants.
type SlotKind int

const (
	// Random is a slot filled by uniform random relay selection.
	Random SlotKind = iota

	// Fixed is a slot pinned to an explicitly named relay.
	Fixed
)

// Slot is one position in a path template.
type Slot struct {
	// Kind tags the variant.
	Kind SlotKind

	// Name is the relay name for Fixed slots.
	Name string

	// Exact is set for Random slots that came from a `*N` token, which
	// pins the hop count against path length tuning.
	Exact bool
}

func (s Slot) String() string {
	if s.Kind == Fixed {
		return s.Name
	}
	if s.Exact {
		return "*"
	}
	return "~"
}

// Parse tokenizes the path specification s into an ordered slot template.
func Parse(s string) ([]Slot, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("pathspec: empty specification")
	}

	var slots []Slot
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return nil, fmt.Errorf("pathspec: empty token")
		}

		switch tok[0] {
		case '~', '*':
			n, err := strconv.Atoi(tok[1:])
			if err != nil {
				return nil, fmt.Errorf("pathspec: invalid hop count '%v': %v", tok, err)
			}
			if n < 1 {
				return nil, fmt.Errorf("pathspec: hop count must be positive: '%v'", tok)
			}
			exact := tok[0] == '*'
			for i := 0; i < n; i++ {
				slots = append(slots, Slot{Kind: Random, Exact: exact})
			}
		default:
			if !isValidName(tok) {
				return nil, fmt.Errorf("pathspec: invalid relay name '%v'", tok)
			}
			slots = append(slots, Slot{Kind: Fixed, Name: tok})
		}
	}
	return slots, nil
}

// Names returns the set of relay names appearing in Fixed slots; these are
// the explicit overrides that bypass block lists.
func Names(slots []Slot) map[string]bool {
	names := make(map[string]bool)
	for _, s := range slots {
		if s.Kind == Fixed {
			names[s.Name] = true
		}
	}
	return names
}

func isValidName(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
