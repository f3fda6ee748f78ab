// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package pki

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/nike"

	"github.com/mixcourier/mixcourier/core/sphinx/constants"
	"github.com/mixcourier/mixcourier/core/sphinx/geo"
)

const (
	// DescriptorVersion uniquely identifies the descriptor format so that
	// incompatible descriptors can be rejected.
	DescriptorVersion = "v0"

	// TransportTCPv4 is the TCPv4 transport identifier.
	TransportTCPv4 = "tcp4"

	// TransportTCPv6 is the TCPv6 transport identifier.
	TransportTCPv6 = "tcp6"
)

// RelayDescriptor describes a single relay in the network.  Descriptors are
// immutable, supplied by the directory service and refreshed periodically.
type RelayDescriptor struct {
	// Name is the human readable (descriptive) relay identifier.
	Name string

	// IdentityKey is the relay's identity (signing) key.
	IdentityKey []byte

	// MixKey is the relay's Sphinx (X25519) public key.
	MixKey []byte

	// Addresses is the map of transport to address combinations that can
	// be used to reach the relay.
	Addresses map[string][]string

	// NotBefore is the start of the key validity window, in seconds since
	// the UNIX epoch.
	NotBefore int64

	// NotAfter is the end of the key validity window, in seconds since the
	// UNIX epoch.
	NotAfter int64

	// CanExit indicates that the relay is capable of delivering messages
	// out of the network.
	CanExit bool

	// Version uniquely identifies the descriptor format as being for the
	// specified version so that it can be rejected if the format changes.
	Version string
}

type relayDescriptor RelayDescriptor

// ValidAt returns true iff the descriptor's validity window covers t.
func (d *RelayDescriptor) ValidAt(t time.Time) bool {
	u := t.Unix()
	return u >= d.NotBefore && u <= d.NotAfter
}

// IDHash returns the hash of the relay's identity key, used as the node
// identifier in Sphinx headers.
func (d *RelayDescriptor) IDHash() [constants.NodeIDLength]byte {
	return hash.Sum256(d.IdentityKey)
}

// UnmarshalMixKey parses the relay's Sphinx public key with the given NIKE
// scheme.
func (d *RelayDescriptor) UnmarshalMixKey(s nike.Scheme) (nike.PublicKey, error) {
	return s.UnmarshalBinaryPublicKey(d.MixKey)
}

// String returns a human readable RelayDescriptor suitable for terse
// logging.
func (d *RelayDescriptor) String() string {
	id := hash.Sum256(d.IdentityKey)
	return fmt.Sprintf("{%s %x %v}", d.Name, id[:8], d.Addresses)
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (d *RelayDescriptor) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*relayDescriptor)(d))
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (d *RelayDescriptor) MarshalBinary() ([]byte, error) {
	return ccbor.Marshal((*relayDescriptor)(d))
}

// IsDescriptorWellFormed validates the descriptor and returns a descriptive
// error iff there are any problems that would make it unusable as part of a
// directory document.
func IsDescriptorWellFormed(d *RelayDescriptor) error {
	if d.Name == "" {
		return fmt.Errorf("pki: descriptor missing Name")
	}
	if len(d.Name) > constants.NodeIDLength {
		return fmt.Errorf("pki: descriptor Name '%v' exceeds max length", d.Name)
	}
	if d.IdentityKey == nil {
		return fmt.Errorf("pki: descriptor missing IdentityKey")
	}
	if len(d.MixKey) != geo.GroupElementLength {
		return fmt.Errorf("pki: descriptor has invalid MixKey length: %d", len(d.MixKey))
	}
	if d.Version != DescriptorVersion {
		return fmt.Errorf("pki: descriptor has unknown version: '%v'", d.Version)
	}
	if d.NotAfter <= d.NotBefore {
		return fmt.Errorf("pki: descriptor validity window is empty")
	}
	if len(d.Addresses) == 0 {
		return fmt.Errorf("pki: descriptor missing Addresses")
	}
	for transport, addrs := range d.Addresses {
		if len(addrs) == 0 {
			return fmt.Errorf("pki: descriptor contains empty address list for transport '%v'", transport)
		}
		switch transport {
		case TransportTCPv4, TransportTCPv6:
		default:
			return fmt.Errorf("pki: descriptor contains invalid transport '%v'", transport)
		}
		for _, v := range addrs {
			h, p, err := net.SplitHostPort(v)
			if err != nil {
				return fmt.Errorf("pki: descriptor contains invalid address ['%v']'%v': %v", transport, v, err)
			}
			if len(h) == 0 {
				return fmt.Errorf("pki: descriptor contains invalid address ['%v']'%v'", transport, v)
			}
			if port, err := strconv.ParseUint(p, 10, 16); err != nil {
				return fmt.Errorf("pki: descriptor contains invalid address ['%v']'%v': %v", transport, v, err)
			} else if port == 0 {
				return fmt.Errorf("pki: descriptor contains invalid address ['%v']'%v': port is 0", transport, v)
			}
		}
	}
	return nil
}
