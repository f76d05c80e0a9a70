// Package sqliteadapter implements a StorageAdapter backed by a single
// SQLite key/blob table, using the pure-Go ncruces/go-sqlite3 driver so
// the store never needs cgo.
package sqliteadapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/emberdb/ember/internal/persistence"
)

var sqliteTracer = otel.Tracer("github.com/emberdb/ember/persistence/sqliteadapter")

// endSpan records an error, if any, and ends the span.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key TEXT PRIMARY KEY,
	blob BLOB NOT NULL
);
`

const busyRetryMaxElapsed = 5 * time.Second

// Adapter is a StorageAdapter backed by a single-table SQLite database.
type Adapter struct {
	db *sql.DB
}

// Open opens (creating if needed) a SQLite database at path and ensures
// the blob table exists. path may be ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*Adapter, error) {
	db, err := sql.Open("sqlite3", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqliteadapter: open: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqliteadapter: create schema: %w", err)
	}
	return &Adapter{db: db}, nil
}

func retryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = busyRetryMaxElapsed
	return bo
}

// isRetryableBusy matches on the driver's error text rather than a
// specific error type, the same way the Dolt store's isRetryableError
// does for transient MySQL driver errors: SQLITE_BUSY/SQLITE_LOCKED
// surface as substrings regardless of which ncruces error wrapper holds
// them.
func isRetryableBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// withRetry retries op under exponential backoff for transient
// SQLITE_BUSY errors; any other error is treated as permanent and
// returned immediately.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryableBusy(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(retryBackoff(), ctx))
}

func (a *Adapter) Load(ctx context.Context, key string) ([]byte, error) {
	ctx, span := sqliteTracer.Start(ctx, "sqliteadapter.load",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", "select"),
			attribute.String("ember.blob_key", key),
		),
	)
	var blob []byte
	err := withRetry(ctx, func() error {
		row := a.db.QueryRowContext(ctx, `SELECT blob FROM blobs WHERE key = ?`, key)
		return row.Scan(&blob)
	})
	if err == sql.ErrNoRows {
		endSpan(span, nil)
		return nil, &persistence.NotFoundError{Key: key}
	}
	if err != nil {
		wrapped := fmt.Errorf("sqliteadapter: load %q: %w", key, err)
		endSpan(span, wrapped)
		return nil, wrapped
	}
	endSpan(span, nil)
	return blob, nil
}

func (a *Adapter) Save(ctx context.Context, key string, blob []byte) error {
	ctx, span := sqliteTracer.Start(ctx, "sqliteadapter.save",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", "upsert"),
			attribute.String("ember.blob_key", key),
			attribute.Int("ember.blob_bytes", len(blob)),
		),
	)
	err := withRetry(ctx, func() error {
		_, err := a.db.ExecContext(ctx,
			`INSERT INTO blobs (key, blob) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET blob = excluded.blob`,
			key, blob)
		return err
	})
	if err != nil {
		wrapped := fmt.Errorf("sqliteadapter: save %q: %w", key, err)
		endSpan(span, wrapped)
		return wrapped
	}
	endSpan(span, nil)
	return nil
}

// Close releases the underlying database handle.
func (a *Adapter) Close(_ context.Context) error {
	return a.db.Close()
}
