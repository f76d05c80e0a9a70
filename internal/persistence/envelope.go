package persistence

import "github.com/emberdb/ember/internal/types"

// RecordEntry is one [key, record] pair in a persisted snapshot, per spec
// section 6's "records:list<[key,record]>".
type RecordEntry struct {
	Key    string         `json:"key"`
	Record map[string]any `json:"record"`
}

// State is the persisted bucket body: every record plus the
// autoincrement counter needed to resume id generation without
// collisions.
type State struct {
	Records              []RecordEntry `json:"records"`
	AutoincrementCounter int64         `json:"autoincrementCounter"`
}

// Metadata is the envelope wrapper spec section 6 calls for.
type Metadata struct {
	PersistedAt   int64  `json:"persistedAt"`
	ServerID      string `json:"serverId"`
	SchemaVersion int    `json:"schemaVersion"`
}

// Envelope is the opaque blob shape saved to and loaded from a
// StorageAdapter, keyed by "<storeName>:bucket:<bucketName>".
type Envelope struct {
	State    State    `json:"state"`
	Metadata Metadata `json:"metadata"`
}

func recordsToEntries(records []types.Record, keyField string) []RecordEntry {
	out := make([]RecordEntry, 0, len(records))
	for _, r := range records {
		out = append(out, RecordEntry{Key: r.PrimaryKey(keyField), Record: r.ToMap()})
	}
	return out
}

func entriesToRecords(entries []RecordEntry) []types.Record {
	out := make([]types.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, types.RecordFromMap(e.Record))
	}
	return out
}
