package types

import "fmt"

// Issue is a single field-level validation failure.
type Issue struct {
	Field   string
	Message string
	Code    string
}

// ValidationError aggregates every issue found while validating a record;
// validation never short-circuits, so this can carry more than one issue.
type ValidationError struct {
	Bucket string
	Issues []Issue
}

func NewValidationError(bucket string, issues []Issue) *ValidationError {
	return &ValidationError{Bucket: bucket, Issues: issues}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ember: validation failed for bucket %q (%d issue(s))", e.Bucket, len(e.Issues))
}

// UniqueConstraintError is raised when a unique index would be violated.
type UniqueConstraintError struct {
	Bucket string
	Field  string
	Value  any
}

func NewUniqueConstraintError(bucket, field string, value any) *UniqueConstraintError {
	return &UniqueConstraintError{Bucket: bucket, Field: field, Value: value}
}

func (e *UniqueConstraintError) Error() string {
	return fmt.Sprintf("ember: unique constraint violated on bucket %q field %q value %v", e.Bucket, e.Field, e.Value)
}

// BucketAlreadyExistsError is raised on redefinition of a bucket name.
type BucketAlreadyExistsError struct {
	Bucket string
}

func NewBucketAlreadyExistsError(bucket string) *BucketAlreadyExistsError {
	return &BucketAlreadyExistsError{Bucket: bucket}
}

func (e *BucketAlreadyExistsError) Error() string {
	return fmt.Sprintf("ember: bucket %q already exists", e.Bucket)
}

// BucketNotDefinedError is raised on access to, or drop of, an unknown bucket.
type BucketNotDefinedError struct {
	Bucket string
}

func NewBucketNotDefinedError(bucket string) *BucketNotDefinedError {
	return &BucketNotDefinedError{Bucket: bucket}
}

func (e *BucketNotDefinedError) Error() string {
	return fmt.Sprintf("ember: bucket %q is not defined", e.Bucket)
}

// RecordNotFoundError is raised when updating an absent key.
type RecordNotFoundError struct {
	Bucket string
	Key    string
}

func NewRecordNotFoundError(bucket, key string) *RecordNotFoundError {
	return &RecordNotFoundError{Bucket: bucket, Key: key}
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("ember: record %q not found in bucket %q", e.Key, e.Bucket)
}

// TransactionConflictError is raised on version mismatch or duplicate-key
// at commit time.
type TransactionConflictError struct {
	Bucket string
	Key    string
	Field  string
	Detail string
}

func NewTransactionConflictError(bucket, key, detail string) *TransactionConflictError {
	return &TransactionConflictError{Bucket: bucket, Key: key, Detail: detail}
}

func (e *TransactionConflictError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("ember: transaction conflict on bucket %q key %q: %s", e.Bucket, e.Key, e.Detail)
	}
	return fmt.Sprintf("ember: transaction conflict on bucket %q key %q", e.Bucket, e.Key)
}

// QueryAlreadyDefinedError is raised when registering a duplicate query name.
type QueryAlreadyDefinedError struct {
	Query string
}

func NewQueryAlreadyDefinedError(query string) *QueryAlreadyDefinedError {
	return &QueryAlreadyDefinedError{Query: query}
}

func (e *QueryAlreadyDefinedError) Error() string {
	return fmt.Sprintf("ember: query %q already defined", e.Query)
}

// QueryNotDefinedError is raised when subscribing to or running an unknown query.
type QueryNotDefinedError struct {
	Query string
}

func NewQueryNotDefinedError(query string) *QueryNotDefinedError {
	return &QueryNotDefinedError{Query: query}
}

func (e *QueryNotDefinedError) Error() string {
	return fmt.Sprintf("ember: query %q not defined", e.Query)
}

// TtlParseError is raised when a TTL duration string or number is invalid.
type TtlParseError struct {
	Message string
}

func NewTtlParseError(message string) *TtlParseError {
	return &TtlParseError{Message: message}
}

func (e *TtlParseError) Error() string {
	return fmt.Sprintf("ember: invalid ttl: %s", e.Message)
}

// WorkerClosedError is returned by a bucket handle once its worker has
// entered the stopping/stopped state and can no longer accept requests.
type WorkerClosedError struct {
	Bucket string
}

func NewWorkerClosedError(bucket string) *WorkerClosedError {
	return &WorkerClosedError{Bucket: bucket}
}

func (e *WorkerClosedError) Error() string {
	return fmt.Sprintf("ember: bucket %q worker is closed", e.Bucket)
}
