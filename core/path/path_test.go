// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package path

import (
	"fmt"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/stretchr/testify/require"

	"github.com/mixcourier/mixcourier/core/pathspec"
	"github.com/mixcourier/mixcourier/core/pki"
)

func testDescriptor(name string, canExit bool, notBefore, notAfter time.Time) *pki.RelayDescriptor {
	return &pki.RelayDescriptor{
		Name:        name,
		IdentityKey: []byte("identity:" + name),
		MixKey:      make([]byte, 32),
		Addresses:   map[string][]string{pki.TransportTCPv4: {"192.0.2.1:12345"}},
		NotBefore:   notBefore.Unix(),
		NotAfter:    notAfter.Unix(),
		CanExit:     canExit,
		Version:     pki.DescriptorVersion,
	}
}

func testDocument(nrRelays int, now time.Time) *pki.Document {
	doc := &pki.Document{GeneratedAt: now.Unix()}
	for i := 0; i < nrRelays; i++ {
		doc.Relays = append(doc.Relays, testDescriptor(fmt.Sprintf("Relay%d", i), true, now.Add(-time.Hour), now.Add(time.Hour)))
	}
	return doc
}

func TestSelectRandom(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := testDocument(10, now)

	slots, err := pathspec.Parse("~5")
	require.NoError(err)

	hops, err := Select(rand.NewMath(), slots, nil, doc, now, true)
	require.NoError(err)
	require.Len(hops, 5)

	// Without replacement: no relay may appear twice.
	seen := make(map[string]bool)
	for _, h := range hops {
		require.False(seen[h.Name], "relay %v selected twice", h.Name)
		seen[h.Name] = true
	}
}

func TestSelectExplicitOverridesBlocklist(t *testing.T) {
	require := require.New(t)
	now := time.Now()

	doc := testDocument(8, now)
	// The only exit capable relay is also on the exit block list.
	for _, d := range doc.Relays {
		d.CanExit = false
	}
	doc.Relays = append(doc.Relays, testDescriptor("Exit1", true, now.Add(-time.Hour), now.Add(time.Hour)))

	blk := NewBlocklist(nil, nil, []string{"Exit1"})

	slots, err := pathspec.Parse("~5,Exit1")
	require.NoError(err)

	hops, err := Select(rand.NewMath(), slots, blk, doc, now, true)
	require.NoError(err)
	require.Len(hops, 6)
	require.Equal("Exit1", hops[5].Name)

	// Without the explicit override the same directory cannot produce a
	// valid exit.
	slots, err = pathspec.Parse("~6")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, blk, doc, now, true)
	require.ErrorIs(err, ErrInsufficientCandidates)
}

func TestSelectBlocklistRoles(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := testDocument(4, now)

	// Relay0 is blocked everywhere; with only 4 relays and a 4 hop path,
	// some random slot cannot be filled.
	blk := NewBlocklist([]string{"Relay0"}, nil, nil)
	slots, err := pathspec.Parse("~4")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, blk, doc, now, true)
	require.ErrorIs(err, ErrInsufficientCandidates)

	// Entry blocks bind only the first hop.
	blk = NewBlocklist(nil, []string{"Relay0", "Relay1", "Relay2", "Relay3"}, nil)
	slots, err = pathspec.Parse("~2")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, blk, doc, now, true)
	require.ErrorIs(err, ErrInsufficientCandidates)

	blk = NewBlocklist(nil, []string{"Relay0"}, []string{"Relay1"})
	for i := 0; i < 32; i++ {
		hops, err := Select(rand.NewMath(), slots, blk, doc, now, true)
		require.NoError(err)
		require.NotEqual("Relay0", hops[0].Name)
		require.NotEqual("Relay1", hops[len(hops)-1].Name)
	}
}

func TestSelectFixed(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := testDocument(5, now)

	slots, err := pathspec.Parse("Relay0,~2,Relay4")
	require.NoError(err)
	hops, err := Select(rand.NewMath(), slots, nil, doc, now, true)
	require.NoError(err)
	require.Len(hops, 4)
	require.Equal("Relay0", hops[0].Name)
	require.Equal("Relay4", hops[3].Name)
	// Random slots never reuse a pinned relay.
	require.NotEqual("Relay0", hops[1].Name)
	require.NotEqual("Relay4", hops[1].Name)

	slots, err = pathspec.Parse("NoSuchRelay")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, nil, doc, now, true)
	require.ErrorIs(err, pki.ErrNoSuchRelay)
}

func TestSelectAdjacentDuplicate(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := testDocument(3, now)

	slots, err := pathspec.Parse("Relay1,Relay1")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, nil, doc, now, true)
	require.ErrorIs(err, ErrAdjacentDuplicate)

	// Non-adjacent reuse of a pinned relay is allowed.
	slots, err = pathspec.Parse("Relay1,Relay2,Relay1")
	require.NoError(err)
	hops, err := Select(rand.NewMath(), slots, nil, doc, now, true)
	require.NoError(err)
	require.Equal("Relay1", hops[0].Name)
	require.Equal("Relay1", hops[2].Name)
}

func TestSelectValidityWindow(t *testing.T) {
	require := require.New(t)
	now := time.Now()

	doc := &pki.Document{GeneratedAt: now.Unix()}
	doc.Relays = append(doc.Relays, testDescriptor("Stale", true, now.Add(-2*time.Hour), now.Add(-time.Hour)))
	doc.Relays = append(doc.Relays, testDescriptor("Fresh", true, now.Add(-time.Hour), now.Add(time.Hour)))

	slots, err := pathspec.Parse("~1")
	require.NoError(err)
	for i := 0; i < 16; i++ {
		hops, err := Select(rand.NewMath(), slots, nil, doc, now, true)
		require.NoError(err)
		require.Equal("Fresh", hops[0].Name)
	}

	// A pinned relay outside its window is an error, not silently skipped.
	slots, err = pathspec.Parse("Stale")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, nil, doc, now, true)
	require.Error(err)
}

func TestSelectRequireExit(t *testing.T) {
	require := require.New(t)
	now := time.Now()
	doc := testDocument(6, now)
	for _, d := range doc.Relays {
		d.CanExit = false
	}

	slots, err := pathspec.Parse("~3")
	require.NoError(err)
	_, err = Select(rand.NewMath(), slots, nil, doc, now, true)
	require.ErrorIs(err, ErrInsufficientCandidates)

	// Non-delivery paths do not need an exit capable terminal hop.
	hops, err := Select(rand.NewMath(), slots, nil, doc, now, false)
	require.NoError(err)
	require.Len(hops, 3)
}
