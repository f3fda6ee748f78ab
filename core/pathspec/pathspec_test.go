// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package pathspec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRandom(t *testing.T) {
	require := require.New(t)

	slots, err := Parse("~3")
	require.NoError(err)
	require.Len(slots, 3)
	for _, s := range slots {
		require.Equal(Random, s.Kind)
		require.False(s.Exact)
	}

	slots, err = Parse("*4")
	require.NoError(err)
	require.Len(slots, 4)
	for _, s := range slots {
		require.Equal(Random, s.Kind)
		require.True(s.Exact)
	}
}

func TestParseFixed(t *testing.T) {
	require := require.New(t)

	slots, err := Parse("Alice")
	require.NoError(err)
	require.Len(slots, 1)
	require.Equal(Fixed, slots[0].Kind)
	require.Equal("Alice", slots[0].Name)
}

func TestParseMixed(t *testing.T) {
	require := require.New(t)

	slots, err := Parse("~2, Exit1")
	require.NoError(err)
	require.Len(slots, 3)
	require.Equal(Random, slots[0].Kind)
	require.Equal(Random, slots[1].Kind)
	require.Equal(Fixed, slots[2].Kind)
	require.Equal("Exit1", slots[2].Name)

	slots, err = Parse("Entry9,~1,*2,Exit0")
	require.NoError(err)
	require.Len(slots, 5)
	require.Equal("Entry9", slots[0].Name)
	require.False(slots[1].Exact)
	require.True(slots[2].Exact)
	require.True(slots[3].Exact)
	require.Equal("Exit0", slots[4].Name)
}

func TestParseRejects(t *testing.T) {
	require := require.New(t)

	for _, spec := range []string{
		"",
		"   ",
		"~0",
		"*0",
		"~-1",
		"~x",
		"~",
		"a,,b",
		"bad name",
		"na/me",
	} {
		_, err := Parse(spec)
		require.Errorf(err, "Parse(%q) must fail", spec)
	}
}

func TestNames(t *testing.T) {
	require := require.New(t)

	slots, err := Parse("~2,Exit1,Exit1")
	require.NoError(err)
	names := Names(slots)
	require.Len(names, 1)
	require.True(names["Exit1"])
}
