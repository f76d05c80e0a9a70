// Package indexmgr implements the per-bucket secondary index manager
// described in spec section 4.2: unique and non-unique indexes with a
// strict validate-then-apply two-phase protocol.
package indexmgr

import (
	"sort"

	"github.com/emberdb/ember/internal/types"
)

// Manager owns one bucket's secondary indexes. It is not safe for
// concurrent use; callers serialize access to it the same way the bucket
// worker serializes everything else.
type Manager struct {
	bucket string

	uniqueFields    []string
	nonUniqueFields []string

	// unique[field][valueKey] = primary key
	unique map[string]map[string]string
	// nonUnique[field][valueKey] = set of primary keys
	nonUnique map[string]map[string]map[string]struct{}
}

// New builds a Manager from a bucket's schema and declared index field
// list. A field marked Unique in its schema gets a unique index
// automatically; a field named in indexes (and not unique) gets a
// non-unique index.
func New(bucket string, schema types.Schema, indexes []string) *Manager {
	m := &Manager{
		bucket:    bucket,
		unique:    map[string]map[string]string{},
		nonUnique: map[string]map[string]map[string]struct{}{},
	}

	uniqueSet := map[string]bool{}
	for _, field := range types.SortedKeys(schema) {
		if schema[field].Unique {
			uniqueSet[field] = true
		}
	}
	for _, field := range indexes {
		if uniqueSet[field] {
			continue
		}
		if _, ok := m.nonUnique[field]; !ok {
			m.nonUnique[field] = map[string]map[string]struct{}{}
			m.nonUniqueFields = append(m.nonUniqueFields, field)
		}
	}
	for field := range uniqueSet {
		m.unique[field] = map[string]string{}
		m.uniqueFields = append(m.uniqueFields, field)
	}
	sort.Strings(m.uniqueFields)
	sort.Strings(m.nonUniqueFields)

	return m
}

// IndexedFields returns every field (unique or not) that has an index,
// used by the bucket worker to decide whether a filter can narrow via an
// index hit before falling back to a full scan.
func (m *Manager) IndexedFields() []string {
	out := make([]string, 0, len(m.uniqueFields)+len(m.nonUniqueFields))
	out = append(out, m.uniqueFields...)
	out = append(out, m.nonUniqueFields...)
	return out
}

func indexableKey(v types.Value) (string, bool) {
	if v.IsNull() {
		return "", false
	}
	return valueKeyString(v), true
}

// ValidateInsert checks every unique index for a collision without
// mutating any state. Per spec section 4.2, unique-field checks are
// iterated in a fixed, sorted field order so that at least one error
// surfaces deterministically when multiple unique fields collide.
func (m *Manager) ValidateInsert(record types.Record) error {
	for _, field := range m.uniqueFields {
		val, ok := record[field]
		if !ok {
			continue
		}
		key, indexable := indexableKey(val)
		if !indexable {
			continue
		}
		if _, exists := m.unique[field][key]; exists {
			return types.NewUniqueConstraintError(m.bucket, field, val.ToAny())
		}
	}
	return nil
}

// ValidateUpdate checks that a changed unique field's new value does not
// already map to a different key. Pure; does not mutate.
func (m *Manager) ValidateUpdate(key string, oldRecord, newRecord types.Record) error {
	for _, field := range m.uniqueFields {
		oldVal, oldOK := oldRecord[field]
		newVal, newOK := newRecord[field]

		oldKey, oldIndexable := "", false
		if oldOK {
			oldKey, oldIndexable = indexableKey(oldVal)
		}
		newKey, newIndexable := "", false
		if newOK {
			newKey, newIndexable = indexableKey(newVal)
		}

		if oldIndexable && newIndexable && oldKey == newKey {
			continue // unchanged value, no new collision possible
		}
		if !newIndexable {
			continue // cleared to null, cannot collide
		}
		if existingOwner, exists := m.unique[field][newKey]; exists && existingOwner != key {
			return types.NewUniqueConstraintError(m.bucket, field, newVal.ToAny())
		}
	}
	return nil
}

// AddRecord applies an already-validated insert to every index.
func (m *Manager) AddRecord(key string, record types.Record) {
	for _, field := range m.uniqueFields {
		if val, ok := record[field]; ok {
			if vk, indexable := indexableKey(val); indexable {
				m.unique[field][vk] = key
			}
		}
	}
	for _, field := range m.nonUniqueFields {
		if val, ok := record[field]; ok {
			if vk, indexable := indexableKey(val); indexable {
				m.addToSet(field, vk, key)
			}
		}
	}
}

// RemoveRecord removes an already-deleted record from every index.
func (m *Manager) RemoveRecord(key string, record types.Record) {
	for _, field := range m.uniqueFields {
		if val, ok := record[field]; ok {
			if vk, indexable := indexableKey(val); indexable {
				if m.unique[field][vk] == key {
					delete(m.unique[field], vk)
				}
			}
		}
	}
	for _, field := range m.nonUniqueFields {
		if val, ok := record[field]; ok {
			if vk, indexable := indexableKey(val); indexable {
				m.removeFromSet(field, vk, key)
			}
		}
	}
}

// UpdateRecord applies an already-validated update: for any field whose
// value changed, it removes the record from the old value's slot and adds
// it to the new value's slot.
func (m *Manager) UpdateRecord(key string, oldRecord, newRecord types.Record) {
	for _, field := range m.uniqueFields {
		oldVal, oldOK := oldRecord[field]
		newVal, newOK := newRecord[field]
		oldKey, oldIndexable := "", false
		if oldOK {
			oldKey, oldIndexable = indexableKey(oldVal)
		}
		newKey, newIndexable := "", false
		if newOK {
			newKey, newIndexable = indexableKey(newVal)
		}
		if oldIndexable && oldKey == newKey && newIndexable {
			continue
		}
		if oldIndexable {
			delete(m.unique[field], oldKey)
		}
		if newIndexable {
			m.unique[field][newKey] = key
		}
	}
	for _, field := range m.nonUniqueFields {
		oldVal, oldOK := oldRecord[field]
		newVal, newOK := newRecord[field]
		oldKey, oldIndexable := "", false
		if oldOK {
			oldKey, oldIndexable = indexableKey(oldVal)
		}
		newKey, newIndexable := "", false
		if newOK {
			newKey, newIndexable = indexableKey(newVal)
		}
		if oldIndexable && oldKey == newKey && newIndexable {
			continue
		}
		if oldIndexable {
			m.removeFromSet(field, oldKey, key)
		}
		if newIndexable {
			m.addToSet(field, newKey, key)
		}
	}
}

// FindByIndex returns the set of primary keys whose field value equals
// value, using whichever index (unique or non-unique) covers field. The
// second return value reports whether field has any index at all.
func (m *Manager) FindByIndex(field string, value types.Value) ([]string, bool) {
	vk, indexable := indexableKey(value)
	if !indexable {
		return nil, false
	}
	if owners, ok := m.unique[field]; ok {
		if owner, exists := owners[vk]; exists {
			return []string{owner}, true
		}
		return nil, true
	}
	if sets, ok := m.nonUnique[field]; ok {
		set, exists := sets[vk]
		if !exists {
			return nil, true
		}
		keys := make([]string, 0, len(set))
		for k := range set {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, true
	}
	return nil, false
}

// Reset clears every index, used by the bucket worker's clear() handler.
func (m *Manager) Reset() {
	for field := range m.unique {
		m.unique[field] = map[string]string{}
	}
	for field := range m.nonUnique {
		m.nonUnique[field] = map[string]map[string]struct{}{}
	}
}

func (m *Manager) addToSet(field, valueKey, key string) {
	set, ok := m.nonUnique[field][valueKey]
	if !ok {
		set = map[string]struct{}{}
		m.nonUnique[field][valueKey] = set
	}
	set[key] = struct{}{}
}

func (m *Manager) removeFromSet(field, valueKey, key string) {
	set, ok := m.nonUnique[field][valueKey]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(m.nonUnique[field], valueKey)
	}
}
