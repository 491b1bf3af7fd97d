package enrich

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/types"
)

func TestSystemEnricherReturnsHostFields(t *testing.T) {
	e := NewSystemEnricher(time.Hour)
	fields, err := e.Enrich(context.Background(), &types.LogEnvelope{})
	require.NoError(t, err)
	_, hasCPU := fields["host_cpu_percent"]
	_, hasMem := fields["host_mem_percent"]
	assert.True(t, hasCPU)
	assert.True(t, hasMem)
}

func TestSystemEnricherDoesNotResampleWithinInterval(t *testing.T) {
	e := NewSystemEnricher(time.Hour)
	_, err := e.Enrich(context.Background(), &types.LogEnvelope{})
	require.NoError(t, err)
	firstSample := e.lastSample

	_, err = e.Enrich(context.Background(), &types.LogEnvelope{})
	require.NoError(t, err)
	assert.Equal(t, firstSample, e.lastSample)
}
