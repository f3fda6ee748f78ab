// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package surb

import (
	"fmt"
	"io"
	mRand "math/rand"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"gopkg.in/op/go-logging.v1"

	"github.com/mixcourier/mixcourier/core/path"
	"github.com/mixcourier/mixcourier/core/pathspec"
	"github.com/mixcourier/mixcourier/core/pki"
	"github.com/mixcourier/mixcourier/core/sphinx"
	"github.com/mixcourier/mixcourier/core/sphinx/commands"
	"github.com/mixcourier/mixcourier/core/sphinx/constants"
	"github.com/mixcourier/mixcourier/status"
)

// Factory builds single use reply blocks.  Generation is a single atomic
// computation with no retries; factories are safe for concurrent use since
// every call draws independent entropy and touches no shared mutable state.
type Factory struct {
	sphinx *sphinx.Sphinx
	log    *logging.Logger
	status *status.Writer

	// entropy is the cryptographic entropy source for key material and
	// decoding handles; selectionRNG builds the uniform hop sampler.
	// Both default to the system CSPRNG and exist so tests can inject a
	// deterministic source.
	entropy      io.Reader
	selectionRNG func() *mRand.Rand
}

// NewFactory constructs a SURB factory around the given Sphinx instance.
// The status writer may be nil, in which case no notification records are
// emitted.
func NewFactory(s *sphinx.Sphinx, log *logging.Logger, st *status.Writer) *Factory {
	return &Factory{
		sphinx:       s,
		log:          log,
		status:       st,
		entropy:      rand.Reader,
		selectionRNG: rand.NewMath,
	}
}

// SetEntropy overrides the entropy sources.  Tests only; production code
// must keep the CSPRNG defaults.
func (f *Factory) SetEntropy(entropy io.Reader, selectionRNG func() *mRand.Rand) {
	f.entropy = entropy
	f.selectionRNG = selectionRNG
}

// Generate resolves a reply path and builds a single use reply block from
// it.  The path must terminate at a relay capable of delivering to the
// recipient; expiry is the earlier of now+lifetime and the earliest hop key
// expiry.
func (f *Factory) Generate(spec []pathspec.Slot, blk *path.Blocklist, doc *pki.Document, recipient []byte, lifetime time.Duration, now time.Time) (*Surb, error) {
	if len(recipient) == 0 || len(recipient) > constants.RecipientIDLength {
		return nil, fmt.Errorf("surb: invalid recipient length: %d", len(recipient))
	}

	// A directory where no relay's key outlives the requested lifetime
	// cannot produce a reply block worth transmitting.
	lifetimeEnd := now.Add(lifetime).Unix()
	supportable := false
	for _, desc := range doc.ActiveAt(now) {
		if desc.NotAfter >= lifetimeEnd {
			supportable = true
			break
		}
	}
	if !supportable {
		return nil, ErrNoValidLifetime
	}

	hops, err := path.Select(f.selectionRNG(), spec, blk, doc, now, true)
	if err != nil {
		return nil, err
	}

	var surbID [constants.SURBIDLength]byte
	if _, err := io.ReadFull(f.entropy, surbID[:]); err != nil {
		return nil, err
	}

	pathHops, err := f.assemblePath(hops, recipient, &surbID)
	if err != nil {
		return nil, err
	}

	material, handle, err := f.sphinx.NewSURB(f.entropy, pathHops)
	if err != nil {
		return nil, err
	}

	expiry := lifetimeEnd
	for _, desc := range hops {
		if desc.NotAfter < expiry {
			expiry = desc.NotAfter
		}
	}
	if expiry <= now.Unix() {
		return nil, ErrNoValidLifetime
	}

	b, err := serializeBlob(&blob{
		Version:  BlobVersion,
		Expiry:   expiry,
		FirstHop: hops[0].Name,
		Material: material,
	})
	if err != nil {
		return nil, err
	}

	s := &Surb{
		Blob:   b,
		Digest: Digest(b),
		Handle: handle,
		Expiry: time.Unix(expiry, 0),
	}

	if f.log != nil {
		f.log.Debugf("generated SURB %v, expires %v, via %v", s.Digest, s.Expiry, path.ToString(hops))
	}
	if f.status != nil {
		if err := f.status.GeneratedSURB(s.Handle); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// assemblePath converts the selected relay sequence into Sphinx path hops,
// attaching the terminal Recipient and SURBReply commands.
func (f *Factory) assemblePath(hops []*pki.RelayDescriptor, recipient []byte, surbID *[constants.SURBIDLength]byte) ([]*sphinx.PathHop, error) {
	pathHops := make([]*sphinx.PathHop, 0, len(hops))
	for i, desc := range hops {
		h := &sphinx.PathHop{ID: desc.IDHash()}

		var err error
		h.PublicKey, err = desc.UnmarshalMixKey(f.sphinx.Nike())
		if err != nil {
			return nil, fmt.Errorf("surb: hop '%v' has unusable mix key: %v", desc.Name, err)
		}

		if i == len(hops)-1 {
			recipCmd := &commands.Recipient{}
			copy(recipCmd.ID[:], recipient)
			h.Commands = append(h.Commands, recipCmd)

			surbCmd := &commands.SURBReply{ID: *surbID}
			h.Commands = append(h.Commands, surbCmd)
		}

		pathHops = append(pathHops, h)
	}
	return pathHops, nil
}

// Reply builds the transmissible reply packet for the given SURB blob and
// payload, returning the packet and the name of the relay it must enter at.
// The payload must not exceed the geometry's forward payload length.
func Reply(s *sphinx.Sphinx, b, payload []byte) ([]byte, string, error) {
	parsed, err := parseBlob(b, s.Geometry().SURBLength)
	if err != nil {
		return nil, "", err
	}
	if len(payload) > s.Geometry().ForwardPayloadLength {
		return nil, "", fmt.Errorf("surb: reply payload too large: %d", len(payload))
	}

	padded := make([]byte, s.Geometry().ForwardPayloadLength)
	copy(padded, payload)

	pkt, _, err := s.NewPacketFromSURB(parsed.Material, padded)
	if err != nil {
		return nil, "", err
	}
	return pkt, parsed.FirstHop, nil
}

// DecryptReply completes the round trip: given the decoding handle returned
// by Generate and the payload that came back through the network, it
// recovers the reply plaintext.
func DecryptReply(s *sphinx.Sphinx, handle, payload []byte) ([]byte, error) {
	return s.DecryptSURBPayload(payload, handle)
}
