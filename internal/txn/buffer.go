// Package txn implements the Write Buffer and Transaction Context from
// spec sections 4.4 and 4.5: per-bucket buffered mutations with
// read-your-own-writes overlay, and multi-bucket two-phase commit with
// undo-based rollback.
package txn

import (
	"fmt"
	"sort"

	"github.com/emberdb/ember/internal/bucket"
	"github.com/emberdb/ember/internal/types"
)

// OverlayState reports what, if anything, a Write Buffer knows about a key
// that a transactional read must take into account before falling through
// to the real bucket state.
type OverlayState int

const (
	OverlayNotBuffered OverlayState = iota
	OverlayRecord
	OverlayDeleted
)

type updateEntry struct {
	New             types.Record
	Old             types.Record
	ExpectedVersion int64
}

type deleteEntry struct {
	Old             types.Record
	ExpectedVersion int64
}

type bucketBuffer struct {
	inserts map[string]types.Record
	updates map[string]*updateEntry
	deletes map[string]*deleteEntry
}

func newBucketBuffer() *bucketBuffer {
	return &bucketBuffer{
		inserts: map[string]types.Record{},
		updates: map[string]*updateEntry{},
		deletes: map[string]*deleteEntry{},
	}
}

func (b *bucketBuffer) empty() bool {
	return len(b.inserts) == 0 && len(b.updates) == 0 && len(b.deletes) == 0
}

// recordInsert implements the insert-side coalescing rules from spec
// section 4.4.
func (b *bucketBuffer) recordInsert(key string, record types.Record) error {
	if _, deleted := b.deletes[key]; deleted {
		return fmt.Errorf("ember: cannot insert key %q already deleted in this transaction", key)
	}
	b.inserts[key] = record
	return nil
}

// recordUpdate implements the update-side coalescing rules: insert+update
// merges into insert; update+update keeps the original expectedVersion and
// oldRecord but the latest newRecord.
func (b *bucketBuffer) recordUpdate(key string, newRecord, oldRecord types.Record, expectedVersion int64) error {
	if _, deleted := b.deletes[key]; deleted {
		return fmt.Errorf("ember: cannot update key %q already deleted in this transaction", key)
	}
	if existing, ok := b.inserts[key]; ok {
		merged := existing.Clone()
		for k, v := range newRecord {
			merged[k] = v
		}
		b.inserts[key] = merged
		return nil
	}
	if existing, ok := b.updates[key]; ok {
		b.updates[key] = &updateEntry{New: newRecord, Old: existing.Old, ExpectedVersion: existing.ExpectedVersion}
		return nil
	}
	b.updates[key] = &updateEntry{New: newRecord, Old: oldRecord, ExpectedVersion: expectedVersion}
	return nil
}

// recordDelete implements the delete-side coalescing rules: insert+delete
// is a no-op; update+delete collapses to a delete keeping the original
// expectedVersion; delete is terminal for a key.
func (b *bucketBuffer) recordDelete(key string, oldRecord types.Record, expectedVersion int64) error {
	if _, deleted := b.deletes[key]; deleted {
		return fmt.Errorf("ember: cannot delete key %q already deleted in this transaction", key)
	}
	if _, ok := b.inserts[key]; ok {
		delete(b.inserts, key)
		return nil
	}
	if existing, ok := b.updates[key]; ok {
		delete(b.updates, key)
		b.deletes[key] = &deleteEntry{Old: existing.Old, ExpectedVersion: existing.ExpectedVersion}
		return nil
	}
	b.deletes[key] = &deleteEntry{Old: oldRecord, ExpectedVersion: expectedVersion}
	return nil
}

func (b *bucketBuffer) overlay(key string) (types.Record, OverlayState) {
	if rec, ok := b.inserts[key]; ok {
		return rec, OverlayRecord
	}
	if entry, ok := b.updates[key]; ok {
		return entry.New, OverlayRecord
	}
	if _, ok := b.deletes[key]; ok {
		return nil, OverlayDeleted
	}
	return nil, OverlayNotBuffered
}

// ops renders the buffer into the ordered op list CommitBatch expects:
// inserts first, then updates, then deletes, each in sorted-key order for
// determinism.
func (b *bucketBuffer) ops() []bucket.Op {
	var out []bucket.Op

	insertKeys := make([]string, 0, len(b.inserts))
	for k := range b.inserts {
		insertKeys = append(insertKeys, k)
	}
	sort.Strings(insertKeys)
	for _, k := range insertKeys {
		out = append(out, bucket.Op{Kind: bucket.OpInsert, Key: k, Record: b.inserts[k]})
	}

	updateKeys := make([]string, 0, len(b.updates))
	for k := range b.updates {
		updateKeys = append(updateKeys, k)
	}
	sort.Strings(updateKeys)
	for _, k := range updateKeys {
		e := b.updates[k]
		out = append(out, bucket.Op{Kind: bucket.OpUpdate, Key: k, Record: e.New, OldRecord: e.Old, ExpectedVersion: e.ExpectedVersion})
	}

	deleteKeys := make([]string, 0, len(b.deletes))
	for k := range b.deletes {
		deleteKeys = append(deleteKeys, k)
	}
	sort.Strings(deleteKeys)
	for _, k := range deleteKeys {
		e := b.deletes[k]
		out = append(out, bucket.Op{Kind: bucket.OpDelete, Key: k, ExpectedVersion: e.ExpectedVersion})
	}

	return out
}

// WriteBuffer holds every bucket's buffered mutations for one transaction.
// It is owned exclusively by the Transaction Context that created it and
// is discarded at the end of the transaction, successful or not.
type WriteBuffer struct {
	buckets map[string]*bucketBuffer
}

func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{buckets: map[string]*bucketBuffer{}}
}

func (wb *WriteBuffer) bucketBuf(name string) *bucketBuffer {
	b, ok := wb.buckets[name]
	if !ok {
		b = newBucketBuffer()
		wb.buckets[name] = b
	}
	return b
}

// DirtyBucketNames returns, in sorted order, the names of every bucket
// with at least one buffered op — the deterministic commit order spec
// section 4.5 calls for.
func (wb *WriteBuffer) DirtyBucketNames() []string {
	var names []string
	for name, b := range wb.buckets {
		if !b.empty() {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (wb *WriteBuffer) Insert(bucketName, key string, record types.Record) error {
	return wb.bucketBuf(bucketName).recordInsert(key, record)
}

func (wb *WriteBuffer) Update(bucketName, key string, newRecord, oldRecord types.Record, expectedVersion int64) error {
	return wb.bucketBuf(bucketName).recordUpdate(key, newRecord, oldRecord, expectedVersion)
}

func (wb *WriteBuffer) Delete(bucketName, key string, oldRecord types.Record, expectedVersion int64) error {
	return wb.bucketBuf(bucketName).recordDelete(key, oldRecord, expectedVersion)
}

// Overlay returns the buffered view of bucketName/key.
func (wb *WriteBuffer) Overlay(bucketName, key string) (types.Record, OverlayState) {
	b, ok := wb.buckets[bucketName]
	if !ok {
		return nil, OverlayNotBuffered
	}
	return b.overlay(key)
}

// OverlayAll returns every buffered insert/update record for bucketName
// (for all/where/findOne/count overlay composition), and the set of keys
// deleted in this transaction.
func (wb *WriteBuffer) OverlayAll(bucketName string) (upserts map[string]types.Record, deleted map[string]bool) {
	b, ok := wb.buckets[bucketName]
	if !ok {
		return nil, nil
	}
	upserts = make(map[string]types.Record, len(b.inserts)+len(b.updates))
	for k, rec := range b.inserts {
		upserts[k] = rec
	}
	for k, e := range b.updates {
		upserts[k] = e.New
	}
	deleted = make(map[string]bool, len(b.deletes))
	for k := range b.deletes {
		deleted[k] = true
	}
	return upserts, deleted
}

// Ops renders bucketName's buffered mutations into the ordered op list
// CommitBatch expects.
func (wb *WriteBuffer) Ops(bucketName string) []bucket.Op {
	b, ok := wb.buckets[bucketName]
	if !ok {
		return nil
	}
	return b.ops()
}
