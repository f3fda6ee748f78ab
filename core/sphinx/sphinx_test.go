// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package sphinx

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/hpqc/nike"

	"github.com/mixcourier/mixcourier/core/sphinx/commands"
	"github.com/mixcourier/mixcourier/core/sphinx/constants"
)

type nodeParams struct {
	id         [constants.NodeIDLength]byte
	privateKey nike.PrivateKey
	publicKey  nike.PublicKey
}

func newNode(require *require.Assertions, scheme nike.Scheme) *nodeParams {
	n := new(nodeParams)

	_, err := rand.Read(n.id[:])
	require.NoError(err, "newNode(): failed to generate ID")
	n.publicKey, n.privateKey, err = scheme.GenerateKeyPair()
	require.NoError(err, "newNode(): GenerateKeyPair() failed")
	return n
}

func newPathVector(require *require.Assertions, scheme nike.Scheme, nrHops int, isSURB bool) ([]*nodeParams, []*PathHop) {
	const delayBase = 0xdeadbabe

	nodes := make([]*nodeParams, nrHops)
	for i := range nodes {
		nodes[i] = newNode(require, scheme)
	}

	path := make([]*PathHop, nrHops)
	for i := range path {
		path[i] = new(PathHop)
		copy(path[i].ID[:], nodes[i].id[:])
		path[i].PublicKey = nodes[i].publicKey
		if i < nrHops-1 {
			delay := new(commands.NodeDelay)
			delay.Delay = delayBase * uint32(i+1)
			path[i].Commands = append(path[i].Commands, delay)
		} else {
			recipient := new(commands.Recipient)
			_, err := rand.Read(recipient.ID[:])
			require.NoError(err, "failed to generate recipient")
			path[i].Commands = append(path[i].Commands, recipient)

			if isSURB {
				surbReply := new(commands.SURBReply)
				_, err := rand.Read(surbReply.ID[:])
				require.NoError(err, "failed to generate surb_reply")
				path[i].Commands = append(path[i].Commands, surbReply)
			}
		}
	}

	return nodes, path
}

func TestForwardSphinx(t *testing.T) {
	const testPayload = "It is the stillest words that bring on the storm."

	require := require.New(t)
	s := DefaultSphinx()
	g := s.Geometry()

	for nrHops := 1; nrHops <= g.NrHops; nrHops++ {
		nodes, path := newPathVector(require, s.Nike(), nrHops, false)

		payload := make([]byte, g.ForwardPayloadLength)
		copy(payload, []byte(testPayload))
		pkt, err := s.NewPacket(rand.Reader, path, payload)
		require.NoError(err, "NewPacket failed")
		require.Len(pkt, g.HeaderLength+g.PayloadTagLength+len(payload), "Packet Length")

		for i := range nodes {
			b, _, cmds, err := s.Unwrap(nodes[i].privateKey, pkt)
			require.NoErrorf(err, "Hop %d: Unwrap failed", i)

			if i == len(path)-1 {
				require.Equalf(1, len(cmds), "Hop %d: unexpected number of commands", i)
				require.EqualValuesf(path[i].Commands[0], cmds[0], "Hop %d: recipient mismatch", i)
				require.Equalf(b, payload, "Hop %d: payload mismatch", i)
			} else {
				require.Equalf(2, len(cmds), "Hop %d: unexpected number of commands", i)
				require.EqualValuesf(path[i].Commands[0], cmds[0], "Hop %d: delay mismatch", i)

				nextNode, ok := cmds[1].(*commands.NextNodeHop)
				require.Truef(ok, "Hop %d: cmds[1] is not a NextNodeHop", i)
				require.Equalf(path[i+1].ID, nextNode.ID, "Hop %d: NextNodeHop.ID mismatch", i)

				require.Nil(b, "Hop %d: returned payload", i)
			}
		}
	}
}

func TestSphinxSURB(t *testing.T) {
	const testPayload = "Who can give an account of his own diligence?"

	require := require.New(t)
	s := DefaultSphinx()
	g := s.Geometry()

	for nrHops := 2; nrHops <= g.NrHops; nrHops++ {
		nodes, path := newPathVector(require, s.Nike(), nrHops, true)

		surb, surbKeys, err := s.NewSURB(rand.Reader, path)
		require.NoError(err, "NewSURB failed")
		require.Len(surb, g.SURBLength, "SURB length")

		payload := make([]byte, g.ForwardPayloadLength)
		copy(payload, []byte(testPayload))
		pkt, firstHop, err := s.NewPacketFromSURB(surb, payload)
		require.NoError(err, "NewPacketFromSURB failed")
		require.Equal(&nodes[0].id, firstHop, "NewPacketFromSURB: 0th hop")

		for i := range nodes {
			b, _, cmds, err := s.Unwrap(nodes[i].privateKey, pkt)
			require.NoErrorf(err, "SURB Hop %d: Unwrap failed", i)

			if i == len(path)-1 {
				require.Equalf(2, len(cmds), "SURB Hop %d: unexpected number of commands", i)
				require.EqualValuesf(path[i].Commands[0], cmds[0], "SURB Hop %d: recipient mismatch", i)
				require.EqualValuesf(path[i].Commands[1], cmds[1], "SURB Hop %d: surb_reply mismatch", i)

				b, err = s.DecryptSURBPayload(b, surbKeys)
				require.NoError(err, "DecryptSURBPayload failed")
				require.Equalf(b, payload, "SURB Hop %d: payload mismatch", i)
			} else {
				require.Equalf(2, len(cmds), "SURB Hop %d: unexpected number of commands", i)
				require.EqualValuesf(path[i].Commands[0], cmds[0], "SURB Hop %d: delay mismatch", i)

				nextNode, ok := cmds[1].(*commands.NextNodeHop)
				require.Truef(ok, "SURB Hop %d: cmds[1] is not a NextNodeHop", i)
				require.Equalf(path[i+1].ID, nextNode.ID, "SURB Hop %d: NextNodeHop.ID mismatch", i)

				require.Nil(b, "SURB Hop %d: returned payload", i)
			}
		}
	}
}

func TestSphinxPayloadLength(t *testing.T) {
	require := require.New(t)
	s := DefaultSphinx()

	_, path := newPathVector(require, s.Nike(), s.Geometry().NrHops, false)
	_, err := s.NewPacket(rand.Reader, path, []byte("short"))
	require.Error(err, "NewPacket must reject a mis-sized payload")
}
