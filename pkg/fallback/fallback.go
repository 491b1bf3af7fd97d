// Package fallback implements the last-resort sink wrapper: when a
// primary sink fails, it emits a diagnostic, writes the event as a
// single JSON-lines record to stderr, and never lets a stderr failure
// propagate back to the caller.
package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"corelog/pkg/redact"
	"corelog/pkg/types"
)

// RedactMode controls whether the fallback applies minimal key-based
// redaction before writing to stderr.
type RedactMode int

const (
	RedactNone RedactMode = iota
	RedactMinimal
)

// Sink wraps a primary types.Sink and writes to stderr (or any
// io.Writer supplied for testing) when the primary fails.
type Sink struct {
	primary    types.Sink
	stderr     io.Writer
	redactMode RedactMode
	logger     *logrus.Logger
}

// New constructs a fallback Sink. stderr defaults to os.Stderr when
// nil.
func New(primary types.Sink, redactMode RedactMode, logger *logrus.Logger, stderr io.Writer) *Sink {
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Sink{primary: primary, stderr: stderr, redactMode: redactMode, logger: logger}
}

func (s *Sink) Name() string { return "fallback(" + s.primary.Name() + ")" }

func (s *Sink) Start(ctx context.Context) error { return s.primary.Start(ctx) }

func (s *Sink) Stop() error { return s.primary.Stop() }

func (s *Sink) HealthCheck() bool { return true }

// Write attempts the primary sink first; on failure it emits a
// diagnostic and writes view (minimally redacted when configured) as
// a single JSON line to stderr. A stderr write failure leaves only the
// diagnostic behind and never returns an error to the caller.
func (s *Sink) Write(ctx context.Context, view types.SerializedView) error {
	err := s.primary.Write(ctx, view)
	if err == nil {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"primary":    s.primary.Name(),
		"error_type": fmt.Sprintf("%T", err),
		"fallback":   "stderr",
	}).Warn("primary sink failed, routing to fallback")

	out := s.prepareForStderr(view)
	if _, writeErr := s.stderr.Write(append(out, '\n')); writeErr != nil {
		s.logger.WithError(writeErr).Error("fallback stderr write also failed, event dropped")
	}
	return nil
}

func (s *Sink) prepareForStderr(view types.SerializedView) []byte {
	if s.redactMode == RedactMinimal {
		if redacted, ok := applyMinimalRedaction(view); ok {
			return redacted
		}
		s.logger.WithField("primary", s.primary.Name()).Warn("fallback payload is not valid JSON, writing raw bytes")
	}
	if !utf8.Valid(view) {
		return bytes.ToValidUTF8(view, []byte("�"))
	}
	return view
}

// applyMinimalRedaction parses view as the wire envelope, redacts
// sensitive-named keys in its data subtree, and re-marshals it.
// Invalid JSON is reported via the bool return so the caller falls
// back to a raw, replacement-char-decoded write.
func applyMinimalRedaction(view types.SerializedView) ([]byte, bool) {
	var generic map[string]any
	if err := json.Unmarshal(view, &generic); err != nil {
		return nil, false
	}
	if log, ok := generic["log"].(map[string]any); ok {
		if data, ok := log["data"].(map[string]any); ok {
			log["data"] = redact.RedactSensitiveKeys(data)
		}
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, false
	}
	return out, true
}
