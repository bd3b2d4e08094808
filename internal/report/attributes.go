package report

import (
	"fmt"
	"time"

	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

// unixNano converts a time to OTLP nanoseconds. The zero time maps to 0.
func unixNano(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano())
}

// attr builds one OTLP attribute.
func attr(key string, v any) *commonv1.KeyValue {
	return &commonv1.KeyValue{Key: key, Value: toAnyValue(v)}
}

// toAnyValue converts a Go value to an OTLP AnyValue. Unknown types are
// formatted with %v.
func toAnyValue(v any) *commonv1.AnyValue {
	switch val := v.(type) {
	case string:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: val}}
	case int:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: int64(val)}}
	case int64:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: val}}
	case time.Time:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: val.UTC().Format(time.RFC3339Nano)}}
	case time.Duration:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_IntValue{IntValue: val.Milliseconds()}}
	default:
		return &commonv1.AnyValue{Value: &commonv1.AnyValue_StringValue{StringValue: fmt.Sprintf("%v", val)}}
	}
}
