package bucket

import "github.com/emberdb/ember/internal/types"

// OpKind discriminates the three mutation kinds a commit batch can carry.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one entry in a commitBatch call, per spec section 4.3. Insert
// carries Record; Update carries OldRecord/Record (new) and
// ExpectedVersion; Delete carries only Key and ExpectedVersion.
type Op struct {
	Kind            OpKind
	Key             string
	Record          types.Record
	OldRecord       types.Record
	ExpectedVersion int64
}

// UndoKind discriminates the three inverse-operation kinds applyUndo can
// carry.
type UndoKind int

const (
	UndoInsert UndoKind = iota // reverse of an insert: delete the key
	UndoUpdate                 // reverse of an update: restore Record as the old value
	UndoDelete                 // reverse of a delete: re-insert Record
)

// UndoOp is one entry in the reverse-op list returned by CommitBatch and
// consumed by ApplyUndo.
type UndoOp struct {
	Kind   UndoKind
	Key    string
	Record types.Record
}
