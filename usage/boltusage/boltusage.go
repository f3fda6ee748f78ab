// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package boltusage implements the SURB usage tracker with a simple boltdb
// based backend.
package boltusage

import (
	"fmt"
	"sync"

	"github.com/katzenpost/hpqc/rand"
	"github.com/yawning/bloom"
	bolt "go.etcd.io/bbolt"

	"github.com/mixcourier/mixcourier/usage"
)

const (
	surbsBucket    = "surbs"
	metadataBucket = "metadata"
	versionKey     = "version"
)

var usedFlag = []byte{0x01}

type boltTracker struct {
	db *bolt.DB

	// f is a purely negative cache: it has no false negatives, so a miss
	// safely answers "unused" without touching the database.  Positive
	// answers always go to the database.
	fLock sync.Mutex
	f     *bloom.Filter
}

func (t *boltTracker) filterTest(digest string) bool {
	t.fLock.Lock()
	defer t.fLock.Unlock()
	return t.f.Test([]byte(digest))
}

func (t *boltTracker) filterSet(digest string) {
	t.fLock.Lock()
	defer t.fLock.Unlock()
	t.f.TestAndSet([]byte(digest))
}

func (t *boltTracker) Close() {
	t.db.Sync()
	t.db.Close()
}

func (t *boltTracker) IsUsed(digest string) (bool, error) {
	if !t.filterTest(digest) {
		return false, nil
	}

	var used bool
	err := t.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(surbsBucket))
		used = bkt.Get([]byte(digest)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", usage.ErrStoreUnavailable, err)
	}
	return used, nil
}

func (t *boltTracker) CheckAndMark(digest string) (bool, error) {
	var wasUnused bool
	err := t.db.Update(func(tx *bolt.Tx) error {
		// bolt serializes writers, so the get+put pair is an atomic
		// test-and-set.
		bkt := tx.Bucket([]byte(surbsBucket))
		if bkt.Get([]byte(digest)) != nil {
			wasUnused = false
			return nil
		}
		wasUnused = true
		return bkt.Put([]byte(digest), usedFlag)
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", usage.ErrStoreUnavailable, err)
	}
	if wasUnused {
		t.filterSet(digest)
	}
	return wasUnused, nil
}

// New creates (or loads) a SURB usage tracker with the given file name f.
func New(f string) (usage.Tracker, error) {
	var err error

	t := new(boltTracker)
	t.f, err = bloom.New(rand.Reader, 23, 0.001) // 1 MiB, 582,505 entries.
	if err != nil {
		return nil, err
	}
	t.db, err = bolt.Open(f, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usage.ErrStoreUnavailable, err)
	}

	if err = t.db.Update(func(tx *bolt.Tx) error {
		// Ensure that all the buckets exist, and grab the metadata bucket.
		bkt, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		sBkt, err := tx.CreateBucketIfNotExists([]byte(surbsBucket))
		if err != nil {
			return err
		}

		if b := bkt.Get([]byte(versionKey)); b != nil {
			// Well it looks like we loaded as opposed to created.
			if len(b) != 1 || b[0] != 0 {
				return fmt.Errorf("boltusage: incompatible version: %d", uint(b[0]))
			}
			// Re-prime the negative cache from the persisted records.
			cur := sBkt.Cursor()
			for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
				t.f.TestAndSet(k)
			}
			return nil
		}

		// We created a new database, so populate the new `metadata` bucket.
		return bkt.Put([]byte(versionKey), []byte{0})
	}); err != nil {
		// The struct isn't getting returned so clean up the database.
		t.db.Close()
		return nil, fmt.Errorf("%w: %v", usage.ErrStoreUnavailable, err)
	}

	return t, nil
}
