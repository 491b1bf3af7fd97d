package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"corelog/pkg/types"
)

type failingSink struct{ name string }

func (f *failingSink) Name() string                   { return f.name }
func (f *failingSink) Start(ctx context.Context) error { return nil }
func (f *failingSink) Stop() error                     { return nil }
func (f *failingSink) HealthCheck() bool               { return false }
func (f *failingSink) Write(ctx context.Context, v types.SerializedView) error {
	return errors.New("down")
}

type okSink struct{ writes int }

func (o *okSink) Name() string                   { return "ok" }
func (o *okSink) Start(ctx context.Context) error { return nil }
func (o *okSink) Stop() error                     { return nil }
func (o *okSink) HealthCheck() bool               { return true }
func (o *okSink) Write(ctx context.Context, v types.SerializedView) error {
	o.writes++
	return nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestWriteSucceedsWithoutTouchingStderr(t *testing.T) {
	var buf bytes.Buffer
	primary := &okSink{}
	s := New(primary, RedactNone, quietLogger(), &buf)

	err := s.Write(context.Background(), types.SerializedView(`{"schema_version":"1.0"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, primary.writes)
	assert.Zero(t, buf.Len())
}

func TestWriteFallsBackToStderrOnPrimaryFailure(t *testing.T) {
	var buf bytes.Buffer
	s := New(&failingSink{name: "primary"}, RedactNone, quietLogger(), &buf)

	payload := `{"schema_version":"1.0","log":{"message":"hi"}}`
	err := s.Write(context.Background(), types.SerializedView(payload))
	require.NoError(t, err, "fallback write never propagates the primary's error")
	assert.JSONEq(t, payload, buf.String())
}

func TestWriteAppliesMinimalRedactionOnFallback(t *testing.T) {
	var buf bytes.Buffer
	s := New(&failingSink{name: "primary"}, RedactMinimal, quietLogger(), &buf)

	payload := `{"schema_version":"1.0","log":{"data":{"password":"hunter2","ok":"fine"}}}`
	err := s.Write(context.Background(), types.SerializedView(payload))
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	data := out["log"].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "****", data["password"])
	assert.Equal(t, "fine", data["ok"])
}

func TestWriteHandlesInvalidJSONByDecodingReplacementChars(t *testing.T) {
	var buf bytes.Buffer
	s := New(&failingSink{name: "primary"}, RedactMinimal, quietLogger(), &buf)

	invalid := types.SerializedView([]byte{'{', 0xff, 0xfe, '}'})
	err := s.Write(context.Background(), invalid)
	require.NoError(t, err)
	assert.True(t, buf.Len() > 0)
}

func TestStopDelegatesToPrimaryAndHealthCheckAlwaysPasses(t *testing.T) {
	primary := &okSink{}
	s := New(primary, RedactNone, quietLogger(), nil)
	assert.True(t, s.HealthCheck())
	assert.NoError(t, s.Stop())
	assert.Equal(t, "fallback(ok)", s.Name())
}
