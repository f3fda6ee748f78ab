// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package pki provides the relay directory interfaces and serialization
// routines.
package pki

import (
	"context"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrDirectoryUnavailable is the error returned when no fresh directory
	// document could be fetched and no cached snapshot is present.
	ErrDirectoryUnavailable = errors.New("pki: directory unavailable")

	// ErrNoSuchRelay is the error returned when a named relay is absent
	// from the directory document.
	ErrNoSuchRelay = errors.New("pki: no such relay")

	ccbor cbor.EncMode
)

// Document is a directory document: the set of relay descriptors the
// directory service has validated, plus when it was generated.
type Document struct {
	// GeneratedAt is when the directory service assembled the document,
	// in seconds since the UNIX epoch.
	GeneratedAt int64

	// Relays is the full set of relay descriptors.
	Relays []*RelayDescriptor
}

type document Document

// GetRelayByName returns the relay descriptor named name.
func (d *Document) GetRelayByName(name string) (*RelayDescriptor, error) {
	for _, desc := range d.Relays {
		if desc.Name == name {
			return desc, nil
		}
	}
	return nil, ErrNoSuchRelay
}

// ActiveAt returns the subset of relays whose validity window covers now.
func (d *Document) ActiveAt(now time.Time) []*RelayDescriptor {
	active := make([]*RelayDescriptor, 0, len(d.Relays))
	for _, desc := range d.Relays {
		if desc.ValidAt(now) {
			active = append(active, desc)
		}
	}
	return active
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (d *Document) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*document)(d))
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (d *Document) MarshalBinary() ([]byte, error) {
	return ccbor.Marshal((*document)(d))
}

// Client is the directory service collaborator that supplies validated
// directory documents, over whatever transport it sees fit.
type Client interface {
	// Fetch retrieves the current directory document.
	Fetch(ctx context.Context) (*Document, error)
}

func init() {
	var err error
	opts := cbor.CanonicalEncOptions()
	ccbor, err = opts.EncMode()
	if err != nil {
		panic(err)
	}
}
