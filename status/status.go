// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package status emits the host visible status notification lines.  The
// line formats are a stable contract: they are parseable left-to-right by
// regular expression and are never removed or shortened once released.  On
// failure the corresponding line is omitted entirely, never emitted
// malformed.
package status

import (
	"encoding/base64"
	"fmt"
	"io"
	"sync"
)

// Writer serializes status notification lines to an output stream.
type Writer struct {
	sync.Mutex

	w io.Writer
}

// NewWriter creates a status Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// CountPackets emits the cell count for a message.
func (s *Writer) CountPackets(n int) error {
	return s.emit("COUNT_PACKETS %d\n", n)
}

// GeneratedSURB emits the secret decoding handle of a freshly generated
// SURB for host consumption.
func (s *Writer) GeneratedSURB(handle []byte) error {
	return s.emit("GENERATED_SURB %s\n", base64.StdEncoding.EncodeToString(handle))
}

// InspectSURB emits the digest, expiry and consumption state of an
// inspected SURB.
func (s *Writer) InspectSURB(digest string, expiry int64, used bool) error {
	u := 0
	if used {
		u = 1
	}
	return s.emit("INSPECT_SURB %s %d %d\n", digest, expiry, u)
}

func (s *Writer) emit(format string, args ...interface{}) error {
	s.Lock()
	defer s.Unlock()
	_, err := fmt.Fprintf(s.w, format, args...)
	return err
}
