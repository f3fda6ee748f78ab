// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package client provides the mixcourier client core: packet accounting,
// path selection, SURB generation and inspection, and the state shared
// between them.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/mixcourier/mixcourier/client/config"
	"github.com/mixcourier/mixcourier/core/fragment"
	"github.com/mixcourier/mixcourier/core/log"
	"github.com/mixcourier/mixcourier/core/path"
	"github.com/mixcourier/mixcourier/core/pathspec"
	"github.com/mixcourier/mixcourier/core/pki"
	"github.com/mixcourier/mixcourier/core/sphinx"
	"github.com/mixcourier/mixcourier/core/sphinx/commands"
	"github.com/mixcourier/mixcourier/core/sphinx/constants"
	"github.com/mixcourier/mixcourier/status"
	"github.com/mixcourier/mixcourier/surb"
	"github.com/mixcourier/mixcourier/usage"
	"github.com/mixcourier/mixcourier/usage/boltusage"

	"github.com/katzenpost/hpqc/rand"
)

const usageStoreFile = "usage.db"

// Client is a mixcourier client instance.
type Client struct {
	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	sphinx  *sphinx.Sphinx
	cache   *pki.Cache
	tracker usage.Tracker
	status  *status.Writer
	factory *surb.Factory

	forwardSpec []pathspec.Slot
	surbSpec    []pathspec.Slot
	blocklist   *path.Blocklist

	haltOnce sync.Once
}

// LogBackend returns the client's logging backend.
func (c *Client) LogBackend() *log.Backend {
	return c.logBackend
}

// Tracker returns the client's SURB usage tracker.
func (c *Client) Tracker() usage.Tracker {
	return c.tracker
}

// CountPackets returns the number of Sphinx packets required to carry a
// message of messageLength bytes, and emits the corresponding status line.
func (c *Client) CountPackets(messageLength int) (int, error) {
	n, err := fragment.Count(messageLength, c.sphinx.Geometry().UserForwardPayloadLength)
	if err != nil {
		c.log.Errorf("count packets: %v", err)
		return 0, err
	}
	if err = c.status.CountPackets(n); err != nil {
		return 0, err
	}
	return n, nil
}

// GenerateSURB generates a single SURB addressed to recipient, valid from
// now for the configured lifetime.
func (c *Client) GenerateSURB(ctx context.Context, recipient []byte, now time.Time) (*surb.Surb, error) {
	doc, err := c.cache.Document(ctx)
	if err != nil {
		c.log.Errorf("generate SURB: no directory: %v", err)
		return nil, err
	}
	return c.factory.Generate(c.surbSpec, c.blocklist, doc, recipient, c.cfg.SURBLifetime.Duration, now)
}

// GenerateSURBs generates n SURBs concurrently. Generation is a pure
// computation over a single directory snapshot, so the only shared state is
// the entropy source, which is safe for concurrent use. Results preserve no
// particular order; the error is the first one observed.
func (c *Client) GenerateSURBs(ctx context.Context, recipient []byte, n int, now time.Time) ([]*surb.Surb, error) {
	doc, err := c.cache.Document(ctx)
	if err != nil {
		return nil, err
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		out      []*surb.Surb
		firstErr error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.factory.Generate(c.surbSpec, c.blocklist, doc, recipient, c.cfg.SURBLifetime.Duration, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out = append(out, s)
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// InspectSURB parses a SURB blob, queries the usage store, and emits the
// corresponding status line. An expired SURB is reported, not rejected.
func (c *Client) InspectSURB(b []byte) (*surb.Info, error) {
	info, err := surb.Inspect(b, c.tracker, c.sphinx.Geometry().SURBLength)
	if err != nil {
		c.log.Errorf("inspect SURB: %v", err)
		return nil, err
	}
	if err = c.status.InspectSURB(info.Digest, info.Expiry, info.Used); err != nil {
		return nil, err
	}
	return info, nil
}

// SendForward fragments msg and builds one forward Sphinx packet per
// fragment over a freshly selected path. It returns the packets and the
// name of the first hop they are to be handed to.
func (c *Client) SendForward(ctx context.Context, recipient []byte, msg []byte, now time.Time) ([][]byte, string, error) {
	doc, err := c.cache.Document(ctx)
	if err != nil {
		return nil, "", err
	}

	geom := c.sphinx.Geometry()
	frags, err := fragment.Split(rand.Reader, msg, geom.UserForwardPayloadLength)
	if err != nil {
		return nil, "", err
	}

	pkts := make([][]byte, 0, len(frags))
	hops, err := path.Select(rand.NewMath(), c.forwardSpec, c.blocklist, doc, now, true)
	if err != nil {
		return nil, "", err
	}
	fwdPath, err := c.assembleForwardPath(hops, recipient)
	if err != nil {
		return nil, "", err
	}
	for _, f := range frags {
		payload := make([]byte, geom.ForwardPayloadLength)
		f.Encode(payload)
		pkt, err := c.sphinx.NewPacket(rand.Reader, fwdPath, payload)
		if err != nil {
			return nil, "", err
		}
		pkts = append(pkts, pkt)
	}
	c.log.Debugf("built %d forward packets via %v", len(pkts), path.ToString(hops))
	return pkts, hops[0].Name, nil
}

// SendReply consumes the SURB blob b and builds the single reply packet
// carrying payload. The blob's digest is atomically marked used before any
// packet construction; a previously used blob or an unavailable store stops
// the send outright.
func (c *Client) SendReply(b, payload []byte) ([]byte, string, error) {
	marked, err := c.tracker.CheckAndMark(surb.Digest(b))
	if err != nil {
		c.log.Errorf("send reply: usage store: %v", err)
		return nil, "", err
	}
	if !marked {
		c.log.Warningf("send reply: SURB already consumed")
		return nil, "", usage.ErrDuplicateUse
	}
	return surb.Reply(c.sphinx, b, payload)
}

func (c *Client) assembleForwardPath(hops []*pki.RelayDescriptor, recipient []byte) ([]*sphinx.PathHop, error) {
	nikeScheme := c.sphinx.Nike()
	p := make([]*sphinx.PathHop, 0, len(hops))
	for i, h := range hops {
		hop := &sphinx.PathHop{ID: h.IDHash()}
		pub, err := h.UnmarshalMixKey(nikeScheme)
		if err != nil {
			return nil, fmt.Errorf("client: invalid mix key for '%v': %v", h.Name, err)
		}
		hop.PublicKey = pub
		if i == len(hops)-1 {
			recip := new(commands.Recipient)
			if len(recipient) > constants.RecipientIDLength {
				return nil, errors.New("client: recipient is too large")
			}
			copy(recip.ID[:], recipient)
			hop.Commands = []commands.RoutingCommand{recip}
		}
		p = append(p, hop)
	}
	return p, nil
}

// Shutdown releases the client's persistent state.
func (c *Client) Shutdown() {
	c.haltOnce.Do(func() {
		c.log.Noticef("shutting down")
		c.tracker.Close()
	})
}

// New constructs a new Client from the provided configuration. The pkiClient
// is the directory transport; statusOut receives the status notification
// lines.
func New(cfg *config.Config, pkiClient pki.Client, statusOut io.Writer) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("client: no configuration provided")
	}

	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = filepath.Join(cfg.DataDir, logFile)
	}
	logBackend, err := log.New(logFile, cfg.Logging.Level, cfg.Logging.Disable)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		logBackend: logBackend,
		log:        logBackend.GetLogger("client"),
		sphinx:     sphinx.DefaultSphinx(),
		status:     status.NewWriter(statusOut),
	}

	c.forwardSpec, err = pathspec.Parse(cfg.ForwardPath)
	if err != nil {
		return nil, err
	}
	c.surbSpec, err = pathspec.Parse(cfg.SURBPath)
	if err != nil {
		return nil, err
	}
	c.blocklist = path.NewBlocklist(cfg.BlockServers, cfg.BlockEntries, cfg.BlockExits)

	c.tracker, err = boltusage.New(filepath.Join(cfg.DataDir, usageStoreFile))
	if err != nil {
		return nil, fmt.Errorf("client: failed to open usage store: %v", err)
	}

	c.cache = pki.NewCache(pkiClient, cfg.DirectoryTimeout.Duration, logBackend.GetLogger("pki"))
	c.factory = surb.NewFactory(c.sphinx, logBackend.GetLogger("surb"), c.status)

	c.log.Noticef("mixcourier client initialized")
	return c, nil
}
