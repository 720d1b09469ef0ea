package telemetry

import "go.opentelemetry.io/otel/attribute"

func directionAttr(direction string) attribute.KeyValue {
	return attribute.String("direction", direction)
}
