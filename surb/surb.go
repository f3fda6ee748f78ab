// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package surb implements single use reply block generation, inspection,
// and the reply round trip.
package surb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/hash"

	"github.com/mixcourier/mixcourier/usage"
)

// BlobVersion identifies the serialized SURB format.
const BlobVersion = 0

var (
	// ErrNoValidLifetime is the error returned when no relay in the
	// directory can cover the requested SURB lifetime.
	ErrNoValidLifetime = errors.New("surb: no relay covers the requested lifetime")

	// ErrMalformedSURB is the error returned when a blob cannot be parsed
	// into the expected structure.
	ErrMalformedSURB = errors.New("surb: malformed SURB blob")

	ccbor cbor.EncMode
)

// Surb is a generated single use reply block.  The Blob is transmissible to
// third parties; the Handle is the secret decoding key material and must
// never leave the creator's custody except via the final decrypted reply.
type Surb struct {
	// Blob is the serialized, transmissible reply block.
	Blob []byte

	// Digest is the hex encoded public hash of Blob, visible to anyone
	// holding the SURB.
	Digest string

	// Handle is the secret decoding handle needed to decrypt the eventual
	// reply.
	Handle []byte

	// Expiry is when the reply block ceases to be routable.
	Expiry time.Time
}

// blob is the CBOR wire representation of a transmitted SURB.  The decoding
// handle is deliberately absent.
type blob struct {
	Version  uint8
	Expiry   int64
	FirstHop string
	Material []byte
}

// Digest returns the hex encoded digest of a serialized SURB blob.  It is a
// pure function of the blob bytes: identical blobs always yield identical
// digests.
func Digest(b []byte) string {
	sum := hash.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Info is the result of inspecting a stored or received SURB.
type Info struct {
	// Digest is the hex encoded digest recomputed from the blob.
	Digest string

	// Expiry is the embedded expiry, in seconds since the UNIX epoch.
	Expiry int64

	// FirstHop is the name of the relay the reply must enter at.
	FirstHop string

	// Used reports the tracker's consumption state for the digest.
	Used bool
}

// Expired returns true iff the SURB's embedded expiry is before now.
// Expiry is a derived, time computed predicate, orthogonal to the used
// state, and is reported rather than treated as an error.
func (i *Info) Expired(now time.Time) bool {
	return now.Unix() > i.Expiry
}

// Inspect parses a stored or received SURB blob and reports its digest,
// expiry and consumption state.
func Inspect(b []byte, tracker usage.Tracker, materialLength int) (*Info, error) {
	parsed, err := parseBlob(b, materialLength)
	if err != nil {
		return nil, err
	}

	info := &Info{
		Digest:   Digest(b),
		Expiry:   parsed.Expiry,
		FirstHop: parsed.FirstHop,
	}
	info.Used, err = tracker.IsUsed(info.Digest)
	if err != nil {
		return nil, err
	}
	return info, nil
}

func parseBlob(b []byte, materialLength int) (*blob, error) {
	parsed := new(blob)
	if err := cbor.Unmarshal(b, parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSURB, err)
	}
	if parsed.Version != BlobVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrMalformedSURB, parsed.Version)
	}
	if len(parsed.Material) != materialLength {
		return nil, fmt.Errorf("%w: material length %d, expected %d", ErrMalformedSURB, len(parsed.Material), materialLength)
	}
	return parsed, nil
}

func serializeBlob(b *blob) ([]byte, error) {
	return ccbor.Marshal(b)
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
