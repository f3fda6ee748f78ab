// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package constants contains the Sphinx packet format constants that are
// shared across packages.
package constants

const (
	// NodeIDLength is the node identifier length in bytes.
	NodeIDLength = 32

	// RecipientIDLength is the recipient identifier length in bytes.
	RecipientIDLength = 32

	// SURBIDLength is the SURB identifier length in bytes.
	SURBIDLength = 16
)
