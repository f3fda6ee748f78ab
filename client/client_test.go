// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/katzenpost/hpqc/nike"
	"github.com/stretchr/testify/require"

	"github.com/mixcourier/mixcourier/client/config"
	"github.com/mixcourier/mixcourier/core/pki"
	"github.com/mixcourier/mixcourier/core/sphinx"
	"github.com/mixcourier/mixcourier/usage"
)

type stubPKI struct {
	doc *pki.Document
	err error
}

func (s *stubPKI) Fetch(ctx context.Context) (*pki.Document, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.doc, nil
}

func testDirectory(require *require.Assertions, scheme nike.Scheme, nrRelays int, now time.Time) *pki.Document {
	doc := &pki.Document{GeneratedAt: now.Unix()}
	for i := 0; i < nrRelays; i++ {
		pub, _, err := scheme.GenerateKeyPair()
		require.NoError(err)
		doc.Relays = append(doc.Relays, &pki.RelayDescriptor{
			Name:        fmt.Sprintf("Relay%d", i),
			IdentityKey: []byte(fmt.Sprintf("identity:Relay%d", i)),
			MixKey:      pub.Bytes(),
			Addresses:   map[string][]string{pki.TransportTCPv4: {"192.0.2.1:12345"}},
			NotBefore:   now.Add(-time.Hour).Unix(),
			NotAfter:    now.Add(48 * time.Hour).Unix(),
			CanExit:     true,
			Version:     pki.DescriptorVersion,
		})
	}
	return doc
}

func testClient(t *testing.T, statusBuf *bytes.Buffer) *Client {
	require := require.New(t)

	cfg, err := config.Load([]byte(fmt.Sprintf(`
DataDir = %q
SURBLifetime = "1 day"

[Logging]
Disable = true
`, t.TempDir())))
	require.NoError(err)

	doc := testDirectory(require, sphinx.DefaultSphinx().Nike(), 8, time.Now())
	c, err := New(cfg, &stubPKI{doc: doc}, statusBuf)
	require.NoError(err)
	t.Cleanup(c.Shutdown)
	return c
}

func TestClientCountPackets(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	c := testClient(t, &buf)

	n, err := c.CountPackets(100)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal("COUNT_PACKETS 1\n", buf.String())
	buf.Reset()

	capacity := sphinx.DefaultSphinx().Geometry().UserForwardPayloadLength
	n, err = c.CountPackets(capacity + 1)
	require.NoError(err)
	require.Equal(2, n)
	require.Equal("COUNT_PACKETS 2\n", buf.String())
	buf.Reset()

	// Failure emits no line at all.
	_, err = c.CountPackets(-1)
	require.Error(err)
	require.Empty(buf.String())
}

func TestClientGenerateSURBs(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	c := testClient(t, &buf)

	const nrSURBs = 8
	surbs, err := c.GenerateSURBs(context.Background(), []byte("bob"), nrSURBs, time.Now())
	require.NoError(err)
	require.Len(surbs, nrSURBs)

	// Distinct SURBs, one status line each.
	digests := make(map[string]bool)
	for _, s := range surbs {
		require.False(digests[s.Digest], "duplicate SURB digest")
		digests[s.Digest] = true
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(lines, nrSURBs)
	for _, l := range lines {
		require.True(strings.HasPrefix(l, "GENERATED_SURB "), "line %q", l)
	}
}

func TestClientInspectSURB(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	c := testClient(t, &buf)

	s, err := c.GenerateSURB(context.Background(), []byte("bob"), time.Now())
	require.NoError(err)
	buf.Reset()

	info, err := c.InspectSURB(s.Blob)
	require.NoError(err)
	require.False(info.Used)
	require.Equal(fmt.Sprintf("INSPECT_SURB %s %d 0\n", s.Digest, s.Expiry.Unix()), buf.String())
	buf.Reset()

	// Malformed blobs produce no status line.
	_, err = c.InspectSURB([]byte("garbage"))
	require.Error(err)
	require.Empty(buf.String())
}

func TestClientSendReplyConsumesSURB(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	c := testClient(t, &buf)

	s, err := c.GenerateSURB(context.Background(), []byte("bob"), time.Now())
	require.NoError(err)

	pkt, firstHop, err := c.SendReply(s.Blob, []byte("a reply"))
	require.NoError(err)
	require.NotEmpty(pkt)
	require.NotEmpty(firstHop)

	// The single use property: the second send hard-stops.
	_, _, err = c.SendReply(s.Blob, []byte("a reply"))
	require.ErrorIs(err, usage.ErrDuplicateUse)

	// And the inspector now reports it consumed.
	buf.Reset()
	info, err := c.InspectSURB(s.Blob)
	require.NoError(err)
	require.True(info.Used)
}

func TestClientSendForward(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	c := testClient(t, &buf)

	geom := sphinx.DefaultSphinx().Geometry()
	msg := make([]byte, 3*geom.UserForwardPayloadLength)
	pkts, firstHop, err := c.SendForward(context.Background(), []byte("bob"), msg, time.Now())
	require.NoError(err)
	require.NotEmpty(firstHop)

	expected, err := c.CountPackets(len(msg))
	require.NoError(err)
	require.Len(pkts, expected)
	for _, pkt := range pkts {
		require.Len(pkt, geom.PacketLength)
	}
}

func TestClientDirectoryUnavailable(t *testing.T) {
	require := require.New(t)

	cfg, err := config.Load([]byte(fmt.Sprintf(`
DataDir = %q
DirectoryTimeout = "1 second"

[Logging]
Disable = true
`, t.TempDir())))
	require.NoError(err)

	var buf bytes.Buffer
	c, err := New(cfg, &stubPKI{err: pki.ErrDirectoryUnavailable}, &buf)
	require.NoError(err)
	defer c.Shutdown()

	_, err = c.GenerateSURB(context.Background(), []byte("bob"), time.Now())
	require.ErrorIs(err, pki.ErrDirectoryUnavailable)
	require.Empty(buf.String(), "no status line without a SURB")
}
