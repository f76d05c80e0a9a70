package types

import "fmt"

// Record is the internal representation of a stored row: field name to
// tagged value, including the four reserved metadata fields.
type Record map[string]Value

// Clone returns a shallow copy of the record's top-level map; Value itself
// is immutable once constructed, so a shallow copy is sufficient to give
// the caller an independent map.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// PrimaryKey reads the string form of the named primary-key field.
func (r Record) PrimaryKey(keyField string) string {
	v, ok := r[keyField]
	if !ok {
		return ""
	}
	if v.Kind() == KindString {
		return v.AsString()
	}
	return fmt.Sprint(v.ToAny())
}

func (r Record) Version() int64 {
	v, ok := r["_version"]
	if !ok {
		return 0
	}
	return v.AsInt()
}

func (r Record) CreatedAt() int64 {
	v, ok := r["_createdAt"]
	if !ok {
		return 0
	}
	return v.AsInt()
}

func (r Record) UpdatedAt() int64 {
	v, ok := r["_updatedAt"]
	if !ok {
		return 0
	}
	return v.AsInt()
}

// ExpiresAt returns the expiry epoch-ms and whether one is set.
func (r Record) ExpiresAt() (int64, bool) {
	v, ok := r["_expiresAt"]
	if !ok || v.IsNull() {
		return 0, false
	}
	return v.AsInt(), true
}

// ToMap converts the record to a plain map[string]any for the public API
// boundary.
func (r Record) ToMap() map[string]any {
	out := make(map[string]any, len(r))
	for k, v := range r {
		out[k] = v.ToAny()
	}
	return out
}

// RecordFromMap converts a plain map[string]any (as supplied by a caller)
// into the internal tagged-value representation.
func RecordFromMap(m map[string]any) Record {
	out := make(Record, len(m))
	for k, v := range m {
		out[k] = FromAny(v)
	}
	return out
}

// StripReservedAndKey removes the primary-key field and the four reserved
// metadata fields from a change set, as prepareUpdate requires; it also
// strips any field declared `generated` in the schema, since generated
// fields are immutable after insert.
func StripReservedAndKey(changes Record, keyField string, schema Schema) Record {
	out := make(Record, len(changes))
	for k, v := range changes {
		if k == keyField || IsReservedField(k) {
			continue
		}
		if fd, ok := schema[k]; ok && fd.Generated != "" {
			continue
		}
		out[k] = v
	}
	return out
}
