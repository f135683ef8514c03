package server

import (
	commonv1 "go.opentelemetry.io/proto/otlp/common/v1"
)

func attributeMap(attributes []*commonv1.KeyValue) map[string]string {
	out := make(map[string]string, len(attributes))
	for _, attribute := range attributes {
		out[attribute.Key] = attribute.Value.GetStringValue()
	}
	return out
}

// mergedAttributes overlays record attributes on resource attributes; the
// record wins on conflict.
func mergedAttributes(resource, record map[string]string) map[string]string {
	out := make(map[string]string, len(resource)+len(record))
	for key, value := range resource {
		out[key] = value
	}
	for key, value := range record {
		out[key] = value
	}
	return out
}
