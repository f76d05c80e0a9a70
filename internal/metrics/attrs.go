package metrics

import "go.opentelemetry.io/otel/attribute"

func bucketAttr(bucket string) attribute.KeyValue {
	return attribute.String("bucket", bucket)
}

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}
