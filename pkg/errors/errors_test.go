package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsToMediumSeverity(t *testing.T) {
	e := New(CodePipeline, "pipeline", "run", "stage failed")
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.False(t, e.IsCritical())
}

func TestNewCriticalSetsCriticalSeverity(t *testing.T) {
	e := NewCritical(CodeIntegrity, "audit", "verify", "chain broken")
	assert.True(t, e.IsCritical())
}

func TestWrapPreservesCauseAndUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	e := SinkError("write", "flush failed").Wrap(cause)

	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "disk full")
}

func TestWithMetadataAccumulates(t *testing.T) {
	e := ConfigurationError("validate", "bad value").
		WithMetadata("field", "batch_size").
		WithMetadata("value", -1)

	assert.Equal(t, "batch_size", e.Metadata["field"])
	assert.Equal(t, -1, e.Metadata["value"])
}

func TestToMapFlattensMetadataWithPrefix(t *testing.T) {
	e := BackpressureError("shed", "queue full").WithMetadata("lane", "main")
	m := e.ToMap()

	assert.Equal(t, string(CodeBackpressure), m["error_code"])
	assert.Equal(t, "main", m["error_meta_lane"])
}

func TestAsCoreErrorRoundTrips(t *testing.T) {
	var err error = ProducerError("build", "bad envelope")
	ce, ok := AsCoreError(err)
	assert.True(t, ok)
	assert.Equal(t, CodeProducer, ce.Code)
	assert.False(t, IsCoreError(errors.New("plain")))
}
