package report

import (
	"strconv"

	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

// anyValueToString renders an AnyValue the way a collector would display it.
func anyValueToString(v *commonv1.AnyValue) string {
	if v == nil {
		return ""
	}
	switch val := v.Value.(type) {
	case *commonv1.AnyValue_StringValue:
		return val.StringValue
	case *commonv1.AnyValue_IntValue:
		return strconv.FormatInt(val.IntValue, 10)
	case *commonv1.AnyValue_DoubleValue:
		return strconv.FormatFloat(val.DoubleValue, 'f', -1, 64)
	case *commonv1.AnyValue_BoolValue:
		return strconv.FormatBool(val.BoolValue)
	default:
		return ""
	}
}

// attributesMap flattens attributes to strings, keyed by attribute key.
func attributesMap(kvs []*commonv1.KeyValue) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if kv != nil && kv.Key != "" {
			out[kv.Key] = anyValueToString(kv.Value)
		}
	}
	return out
}
