package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmqpHeaderCarrier(t *testing.T) {
	carrier := make(AmqpHeaderCarrier)

	carrier.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	assert.Equal(t, "", carrier.Get("missing"))
	assert.ElementsMatch(t, []string{"traceparent"}, carrier.Keys())

	// Non-string header values (retry counters etc.) must not panic.
	carrier["x-retry-count"] = int64(2)
	assert.Equal(t, "", carrier.Get("x-retry-count"))
}
