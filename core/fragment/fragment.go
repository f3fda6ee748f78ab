// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package fragment implements cell accounting and payload fragmentation for
// messages that exceed a single cell's usable capacity.
package fragment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// IDLength is the fragment set identifier length in bytes.
	IDLength = 16

	// Overhead is the fragment header overhead in bytes, carried by every
	// cell after the first: the fragment set identifier, the fragment
	// index and total as 16 bit integers, and a 32 bit payload length.
	Overhead = IDLength + 2 + 2 + 4

	// MaxFragments is the maximum number of fragments a single message may
	// span.
	MaxFragments = 4096
)

var (
	// ErrPayloadTooLarge is the error returned when a payload would exceed
	// MaxFragments cells.
	ErrPayloadTooLarge = errors.New("fragment: payload exceeds maximum fragment count")

	errInvalidCapacity = errors.New("fragment: usable cell capacity too small")
)

// Fragment is one payload slice plus its sequence metadata.
type Fragment struct {
	// ID identifies the fragment set the fragment belongs to.
	ID [IDLength]byte

	// Index is the 0 based position of this fragment in the set.
	Index uint16

	// Total is the number of fragments in the set.
	Total uint16

	// Payload is the fragment's slice of the message.
	Payload []byte
}

// Encode serializes the fragment into dst and returns the number of bytes
// written.  The first fragment of a set is written bare; every subsequent
// fragment is prefixed with the Overhead byte header.
func (f *Fragment) Encode(dst []byte) int {
	off := 0
	if f.Index > 0 {
		copy(dst[0:IDLength], f.ID[:])
		binary.BigEndian.PutUint16(dst[IDLength:], f.Index)
		binary.BigEndian.PutUint16(dst[IDLength+2:], f.Total)
		binary.BigEndian.PutUint32(dst[IDLength+4:], uint32(len(f.Payload)))
		off = Overhead
	}
	copy(dst[off:], f.Payload)
	return off + len(f.Payload)
}

// Count returns the number of fixed size cells a payload of payloadSize
// bytes requires, given the usable payload capacity of a single cell.  The
// first cell carries the full capacity; every subsequent cell loses Overhead
// bytes to the fragment header.  A zero length payload still consumes one
// cell.
func Count(payloadSize, usableCellCapacity int) (int, error) {
	if payloadSize < 0 {
		return 0, fmt.Errorf("fragment: negative payload size: %d", payloadSize)
	}
	if usableCellCapacity <= Overhead {
		return 0, errInvalidCapacity
	}
	if payloadSize <= usableCellCapacity {
		return 1, nil
	}

	placed := usableCellCapacity
	n := 1
	for placed < payloadSize {
		n++
		if n > MaxFragments {
			return 0, ErrPayloadTooLarge
		}
		placed += usableCellCapacity - Overhead
	}
	return n, nil
}

// Split fragments msg into cells of the given usable capacity, reading the
// fragment set identifier from r.  Messages that fit in one cell yield a
// single fragment with no overhead accounted.
func Split(r io.Reader, msg []byte, usableCellCapacity int) ([]Fragment, error) {
	n, err := Count(len(msg), usableCellCapacity)
	if err != nil {
		return nil, err
	}

	var id [IDLength]byte
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return nil, err
	}

	frags := make([]Fragment, 0, n)
	offset := 0
	for i := 0; i < n; i++ {
		capacity := usableCellCapacity
		if i > 0 {
			capacity -= Overhead
		}
		end := offset + capacity
		if end > len(msg) {
			end = len(msg)
		}
		frags = append(frags, Fragment{
			ID:      id,
			Index:   uint16(i),
			Total:   uint16(n),
			Payload: msg[offset:end],
		})
		offset = end
	}
	if offset != len(msg) {
		// Count and Split disagreeing is a bug, not an input error.
		panic("fragment: BUG: split did not consume the entire payload")
	}
	return frags, nil
}
