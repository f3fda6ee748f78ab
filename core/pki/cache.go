// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package pki

import (
	"context"
	"sync"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/mixcourier/mixcourier/core/retry"
)

// Cache wraps a directory Client with a last-known-good snapshot.  Fetches
// are retried with exponential backoff inside the caller supplied timeout
// budget; when the budget is exhausted the cached snapshot, if any, is
// served instead.
type Cache struct {
	sync.RWMutex

	impl Client
	log  *logging.Logger

	doc       *Document
	fetchedAt time.Time

	timeout time.Duration
}

// NewCache constructs a Cache around the given directory client.  timeout
// bounds each Document call's total fetch budget, including retries.
func NewCache(impl Client, timeout time.Duration, log *logging.Logger) *Cache {
	return &Cache{
		impl:    impl,
		log:     log,
		timeout: timeout,
	}
}

// Snapshot returns the cached document, or nil if no fetch ever succeeded.
func (c *Cache) Snapshot() *Document {
	c.RLock()
	defer c.RUnlock()
	return c.doc
}

// Document returns a directory document, fetching a fresh one if possible
// and falling back to the cached snapshot otherwise.  It fails with
// ErrDirectoryUnavailable when there is neither.
func (c *Cache) Document(ctx context.Context) (*Document, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for attempt := 0; ; attempt++ {
		doc, err := c.impl.Fetch(fetchCtx)
		if err == nil {
			c.Lock()
			c.doc = doc
			c.fetchedAt = time.Now()
			c.Unlock()
			return doc, nil
		}
		lastErr = err
		c.log.Warningf("directory fetch attempt %d failed: %v", attempt, err)

		if !retry.IsTransientError(err) {
			break
		}
		select {
		case <-fetchCtx.Done():
			lastErr = fetchCtx.Err()
		case <-time.After(retry.Delay(retry.DefaultBaseDelay, retry.DefaultMaxDelay, retry.DefaultJitter, attempt)):
			continue
		}
		break
	}

	c.RLock()
	doc := c.doc
	c.RUnlock()
	if doc != nil {
		c.log.Noticef("directory fetch failed, serving cached snapshot: %v", lastErr)
		return doc, nil
	}
	c.log.Errorf("directory fetch failed with no cached snapshot: %v", lastErr)
	return nil, ErrDirectoryUnavailable
}
