package audit

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/types"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestAppendChainsEventsAndVerifies(t *testing.T) {
	trail, err := New(Config{}, quietLogger())
	require.NoError(t, err)

	first := trail.Append("login", "user authenticated", nil)
	assert.Equal(t, genesisPreviousHash, first.PreviousHash)
	assert.Equal(t, int64(1), first.SequenceNumber)

	second := trail.Append("logout", "user signed out", map[string]any{"user_id": "u1"})
	assert.Equal(t, first.Checksum, second.PreviousHash)
	assert.Equal(t, int64(2), second.SequenceNumber)

	idx, ok := trail.VerifyChain()
	assert.True(t, ok)
	assert.Equal(t, -1, idx)
}

func TestVerifyChainDetectsTamperedEvent(t *testing.T) {
	trail, err := New(Config{}, quietLogger())
	require.NoError(t, err)

	trail.Append("a", "first", nil)
	trail.Append("b", "second", nil)

	trail.events[0].Message = "tampered"

	idx, ok := trail.VerifyChain()
	assert.False(t, ok)
	assert.Equal(t, 0, idx)
}

func TestPersistenceWritesJSONLinesAndVerifiesFromStorage(t *testing.T) {
	dir := t.TempDir()
	trail, err := New(Config{Directory: dir, FlushInterval: 10 * time.Millisecond}, quietLogger())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		trail.Append("event", "message", nil)
	}

	require.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		for _, e := range entries {
			if info, statErr := os.Stat(filepath.Join(dir, e.Name())); statErr == nil && info.Size() > 0 {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	trail.Close()

	idx, ok, err := trail.VerifyChainFromStorage()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, -1, idx)
}

func TestRegistryReuseAndReset(t *testing.T) {
	reg := NewRegistry(quietLogger())

	a, err := reg.GetOrCreate("pipeline", Config{})
	require.NoError(t, err)
	a.Append("e1", "m1", nil)

	b, err := reg.GetOrCreate("pipeline", Config{})
	require.NoError(t, err)
	assert.Same(t, a, b)

	reg.Reset("pipeline")
	c, err := reg.GetOrCreate("pipeline", Config{})
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Empty(t, c.Events())
}

func TestValidatePolicyWarnsOnMissingHIPAAFlags(t *testing.T) {
	warnings := validatePolicy(types.CompliancePolicy{
		Enabled: true,
		Level:   types.ComplianceHIPAA,
	})
	require.NotEmpty(t, warnings)
}
