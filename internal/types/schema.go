package types

// FieldType enumerates the primitive types a field definition can declare.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
	TypeDate    FieldType = "date"
)

// Generated enumerates the supported auto-value generation strategies.
type Generated string

const (
	GeneratedUUID          Generated = "uuid"
	GeneratedCUID          Generated = "cuid"
	GeneratedAutoincrement Generated = "autoincrement"
	GeneratedTimestamp     Generated = "timestamp"
)

// Format enumerates the string-format constraints a field may declare.
type Format string

const (
	FormatEmail   Format = "email"
	FormatURL     Format = "url"
	FormatISODate Format = "iso-date"
)

// DefaultProducer is called with no arguments to produce a default value;
// set Default to a plain value instead when no computation is needed.
type DefaultProducer func() any

// FieldDefinition describes one schema field. Not every combination of
// options is meaningful for every Type; the validator ignores options that
// do not apply to the declared type.
type FieldDefinition struct {
	Type      FieldType
	Required  bool
	Default   any
	DefaultFn DefaultProducer
	Generated Generated
	Enum      []any
	Format    Format
	Min       *float64
	Max       *float64
	MinLength *int
	MaxLength *int
	Pattern   string
	Unique    bool
	Ref       string // informational only, not enforced
}

// HasDefault reports whether the field declares a default value or producer.
func (f FieldDefinition) HasDefault() bool {
	return f.DefaultFn != nil || f.Default != nil
}

// ResolveDefault invokes the producer if present, otherwise returns the
// static default value.
func (f FieldDefinition) ResolveDefault() any {
	if f.DefaultFn != nil {
		return f.DefaultFn()
	}
	return f.Default
}

// Schema maps field name to its definition.
type Schema map[string]FieldDefinition

// BucketDefinition describes one bucket's shape and lifecycle policy.
type BucketDefinition struct {
	Name       string
	Key        string
	Schema     Schema
	Indexes    []string
	TTL        any // nil, or a positive integer ms / duration string per ParseTTL
	MaxSize    int // 0 means unbounded
	Persistent *bool
}

// IsPersistent reports whether the bucket should be persisted, defaulting
// to true whenever the store itself has a persistence adapter configured
// and the bucket has not opted out explicitly.
func (b BucketDefinition) IsPersistent(storeHasPersistence bool) bool {
	if b.Persistent != nil {
		return *b.Persistent
	}
	return storeHasPersistence
}

// ReservedFields are the four metadata fields every record carries; they
// cannot be declared as schema field names and are stripped from update
// payloads.
var ReservedFields = map[string]bool{
	"_version":   true,
	"_createdAt": true,
	"_updatedAt": true,
	"_expiresAt": true,
}

// IsReservedField reports whether name is one of the four reserved
// metadata fields.
func IsReservedField(name string) bool {
	return ReservedFields[name]
}
