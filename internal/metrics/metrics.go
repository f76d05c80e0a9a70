// Package metrics defines the OpenTelemetry instruments ember records
// against, mirroring the teacher's package-level meter + init()
// registration pattern (internal/storage/dolt/store.go's doltMetrics).
// Instruments are no-ops until the embedding application installs a real
// MeterProvider — ember never forces an exporter on its caller.
package metrics

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/emberdb/ember"

var meter = otel.Meter(instrumentationName)

var (
	bucketInserted metric.Int64Counter
	bucketUpdated  metric.Int64Counter
	bucketDeleted  metric.Int64Counter
	bucketEvicted  metric.Int64Counter

	txnCommitted metric.Int64Counter
	txnConflict  metric.Int64Counter

	queryReevaluated metric.Int64Counter

	ttlPurged metric.Int64Counter

	persistenceFlushMs metric.Float64Histogram
)

func init() {
	var err error
	bucketInserted, err = meter.Int64Counter("ember.bucket.inserted",
		metric.WithDescription("records inserted, across all buckets"))
	logIfErr(err)
	bucketUpdated, err = meter.Int64Counter("ember.bucket.updated",
		metric.WithDescription("records updated, across all buckets"))
	logIfErr(err)
	bucketDeleted, err = meter.Int64Counter("ember.bucket.deleted",
		metric.WithDescription("records deleted, across all buckets"))
	logIfErr(err)
	bucketEvicted, err = meter.Int64Counter("ember.bucket.evicted",
		metric.WithDescription("records evicted due to maxSize"))
	logIfErr(err)

	txnCommitted, err = meter.Int64Counter("ember.txn.committed",
		metric.WithDescription("transactions committed successfully"))
	logIfErr(err)
	txnConflict, err = meter.Int64Counter("ember.txn.conflict",
		metric.WithDescription("transactions aborted due to a commit conflict"))
	logIfErr(err)

	queryReevaluated, err = meter.Int64Counter("ember.query.reevaluated",
		metric.WithDescription("reactive query re-evaluations"))
	logIfErr(err)

	ttlPurged, err = meter.Int64Counter("ember.ttl.purged",
		metric.WithDescription("records purged by TTL expiry"))
	logIfErr(err)

	persistenceFlushMs, err = meter.Float64Histogram("ember.persistence.flush_ms",
		metric.WithDescription("wall-clock duration of a persistence flush cycle"),
		metric.WithUnit("ms"))
	logIfErr(err)
}

func logIfErr(err error) {
	if err != nil {
		log.Printf("[ember:metrics] instrument registration failed: %v", err)
	}
}

// RecordInserted increments the bucket-insert counter, tagged by bucket name.
func RecordInserted(bucket string) {
	if bucketInserted == nil {
		return
	}
	bucketInserted.Add(context.Background(), 1, metric.WithAttributes(bucketAttr(bucket)))
}

func RecordUpdated(bucket string) {
	if bucketUpdated == nil {
		return
	}
	bucketUpdated.Add(context.Background(), 1, metric.WithAttributes(bucketAttr(bucket)))
}

func RecordDeleted(bucket string) {
	if bucketDeleted == nil {
		return
	}
	bucketDeleted.Add(context.Background(), 1, metric.WithAttributes(bucketAttr(bucket)))
}

func RecordEvicted(bucket string) {
	if bucketEvicted == nil {
		return
	}
	bucketEvicted.Add(context.Background(), 1, metric.WithAttributes(bucketAttr(bucket)))
}

func RecordTxnCommitted() {
	if txnCommitted == nil {
		return
	}
	txnCommitted.Add(context.Background(), 1)
}

func RecordTxnConflict(bucket string) {
	if txnConflict == nil {
		return
	}
	txnConflict.Add(context.Background(), 1, metric.WithAttributes(bucketAttr(bucket)))
}

func RecordQueryReevaluated(name string) {
	if queryReevaluated == nil {
		return
	}
	queryReevaluated.Add(context.Background(), 1, metric.WithAttributes(attrString("query", name)))
}

func RecordTTLPurged(bucket string, count int) {
	if ttlPurged == nil || count == 0 {
		return
	}
	ttlPurged.Add(context.Background(), int64(count), metric.WithAttributes(bucketAttr(bucket)))
}

func RecordPersistenceFlush(durationMs float64) {
	if persistenceFlushMs == nil {
		return
	}
	persistenceFlushMs.Record(context.Background(), durationMs)
}
