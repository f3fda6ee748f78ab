// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package geo describes the geometry of the Sphinx packets exchanged with
// the relay network.
package geo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mixcourier/mixcourier/core/sphinx/commands"
	"github.com/mixcourier/mixcourier/core/sphinx/constants"
	"github.com/mixcourier/mixcourier/core/sphinx/internal/crypto"
)

const (
	// GroupElementLength is the length of an X25519 group element in bytes.
	GroupElementLength = 32

	adLength = 2

	// payloadTagLength is the length of the Sphinx packet payload SPRP tag.
	payloadTagLength = 32

	// plaintextHeaderLength is the length of the plaintext payload framing
	// header in bytes.
	plaintextHeaderLength = 1 + 1

	sprpKeyMaterialLength = crypto.SPRPKeyLength + crypto.SPRPIVLength
)

// Geometry describes the geometry of a Sphinx packet.
type Geometry struct {
	// PacketLength is the length of a packet.
	PacketLength int

	// NrHops is the maximum number of hops, this indicates the size of the
	// Sphinx packet header.
	NrHops int

	// HeaderLength is the length of the Sphinx packet header in bytes.
	HeaderLength int

	// RoutingInfoLength is the length of the routing info portion of the
	// header.
	RoutingInfoLength int

	// PerHopRoutingInfoLength is the length of the per hop routing info.
	PerHopRoutingInfoLength int

	// SURBLength is the length of a SURB blob's Sphinx material.
	SURBLength int

	// PayloadTagLength is the length of the payload tag.
	PayloadTagLength int

	// ForwardPayloadLength is the size of the payload.
	ForwardPayloadLength int

	// UserForwardPayloadLength is the size of the usable payload.
	UserForwardPayloadLength int
}

// Validate returns an error if the geometry is internally inconsistent.
func (g *Geometry) Validate() error {
	if g.NrHops < 1 {
		return errors.New("geo: NrHops must be at least 1")
	}
	if g.PerHopRoutingInfoLength != perHopRoutingInfoLength() {
		return errors.New("geo: PerHopRoutingInfoLength mismatch")
	}
	if g.HeaderLength != headerLength(g.NrHops) {
		return errors.New("geo: HeaderLength mismatch")
	}
	if g.PacketLength != g.HeaderLength+g.PayloadTagLength+g.ForwardPayloadLength {
		return errors.New("geo: PacketLength mismatch")
	}
	return nil
}

func (g *Geometry) String() string {
	var b strings.Builder
	b.WriteString("sphinx_packet_geometry:\n")
	b.WriteString(fmt.Sprintf("packet size: %d\n", g.PacketLength))
	b.WriteString(fmt.Sprintf("number of hops: %d\n", g.NrHops))
	b.WriteString(fmt.Sprintf("header size: %d\n", g.HeaderLength))
	b.WriteString(fmt.Sprintf("forward payload size: %d\n", g.ForwardPayloadLength))
	b.WriteString(fmt.Sprintf("user forward payload size: %d\n", g.UserForwardPayloadLength))
	b.WriteString(fmt.Sprintf("payload tag size: %d\n", g.PayloadTagLength))
	b.WriteString(fmt.Sprintf("routing info size: %d\n", g.RoutingInfoLength))
	b.WriteString(fmt.Sprintf("surb size: %d\n", g.SURBLength))
	return b.String()
}

// This is derived off the largest routing info block that we expect to
// encounter.  Everything else just has a NextNodeHop + NodeDelay, or a
// Recipient, both cases which are shorter.
func perHopRoutingInfoLength() int {
	return commands.NextNodeHopLength + commands.SURBReplyLength
}

func routingInfoLength(nrHops int) int {
	return perHopRoutingInfoLength() * nrHops
}

func headerLength(nrHops int) int {
	return adLength + GroupElementLength + routingInfoLength(nrHops) + crypto.MACLength
}

func surbLength(nrHops int) int {
	return headerLength(nrHops) + constants.NodeIDLength + sprpKeyMaterialLength
}

// NewGeometry returns a Geometry for packets with at most nrHops hops and
// the given forward payload length.
func NewGeometry(nrHops, forwardPayloadLength int) *Geometry {
	hdrLen := headerLength(nrHops)
	return &Geometry{
		NrHops:                   nrHops,
		HeaderLength:             hdrLen,
		PacketLength:             hdrLen + payloadTagLength + forwardPayloadLength,
		RoutingInfoLength:        routingInfoLength(nrHops),
		PerHopRoutingInfoLength:  perHopRoutingInfoLength(),
		SURBLength:               surbLength(nrHops),
		PayloadTagLength:         payloadTagLength,
		ForwardPayloadLength:     forwardPayloadLength,
		UserForwardPayloadLength: forwardPayloadLength - (plaintextHeaderLength + surbLength(nrHops)),
	}
}
