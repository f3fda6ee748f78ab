// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package status

import (
	"bytes"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusLines(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(w.CountPackets(3))
	require.Equal("COUNT_PACKETS 3\n", buf.String())
	buf.Reset()

	require.NoError(w.GeneratedSURB([]byte{0xde, 0xad, 0xbe, 0xef}))
	require.Equal("GENERATED_SURB 3q2+7w==\n", buf.String())
	buf.Reset()

	require.NoError(w.InspectSURB("aabbcc", 1700000000, true))
	require.Equal("INSPECT_SURB aabbcc 1700000000 1\n", buf.String())
	buf.Reset()

	require.NoError(w.InspectSURB("aabbcc", 1700000000, false))
	require.Equal("INSPECT_SURB aabbcc 1700000000 0\n", buf.String())
}

func TestStatusConcurrentWriters(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	w := NewWriter(&buf)

	const nrWriters = 16
	var wg sync.WaitGroup
	for i := 0; i < nrWriters; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			require.NoError(w.CountPackets(n))
		}(i)
	}
	wg.Wait()

	// Every line must be intact; interleaved partial lines are a defect.
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte{'\n'})
	require.Len(lines, nrWriters)
	for _, l := range lines {
		var n int
		_, err := fmt.Sscanf(string(l), "COUNT_PACKETS %d", &n)
		require.NoError(err, "malformed line %q", l)
	}
}
