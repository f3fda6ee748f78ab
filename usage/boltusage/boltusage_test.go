// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package boltusage

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBoltUsageBasic(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "usage.db")
	tr, err := New(f)
	require.NoError(err, "New()")

	const digest = "0011223344556677"

	used, err := tr.IsUsed(digest)
	require.NoError(err)
	require.False(used, "fresh digest must be unused")

	marked, err := tr.CheckAndMark(digest)
	require.NoError(err)
	require.True(marked, "first CheckAndMark must succeed")

	marked, err = tr.CheckAndMark(digest)
	require.NoError(err)
	require.False(marked, "second CheckAndMark must fail")

	used, err = tr.IsUsed(digest)
	require.NoError(err)
	require.True(used)

	tr.Close()
}

func TestBoltUsageDurability(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "usage.db")
	tr, err := New(f)
	require.NoError(err, "New()")

	digests := make([]string, 16)
	for i := range digests {
		digests[i] = fmt.Sprintf("digest-%02d", i)
		marked, err := tr.CheckAndMark(digests[i])
		require.NoError(err)
		require.True(marked)
	}
	tr.Close()

	// The marks must survive a close/reopen cycle.
	tr, err = New(f)
	require.NoError(err, "New() reload")
	defer tr.Close()

	for _, d := range digests {
		used, err := tr.IsUsed(d)
		require.NoError(err)
		require.True(used, "digest %v lost across reload", d)

		marked, err := tr.CheckAndMark(d)
		require.NoError(err)
		require.False(marked, "digest %v re-markable across reload", d)
	}

	used, err := tr.IsUsed("never-marked")
	require.NoError(err)
	require.False(used)
}

func TestBoltUsageConcurrentCheckAndMark(t *testing.T) {
	require := require.New(t)

	f := filepath.Join(t.TempDir(), "usage.db")
	tr, err := New(f)
	require.NoError(err, "New()")
	defer tr.Close()

	const (
		nrWorkers = 32
		digest    = "contended-digest"
	)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		winner int
	)
	for i := 0; i < nrWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			marked, err := tr.CheckAndMark(digest)
			require.NoError(err)
			if marked {
				mu.Lock()
				winner++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Equal(1, winner, "exactly one concurrent CheckAndMark must win")
}
