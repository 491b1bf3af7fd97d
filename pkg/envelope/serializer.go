package envelope

import (
	"encoding/json"
	"time"

	"corelog/pkg/types"
)

const schemaVersion = "1.0"

// wireException mirrors types.Exception's wire shape under a nested
// "error" key, matching the external interface's
// diagnostics.exception.error.{type,message,stack,frames} layout.
type wireException struct {
	Error struct {
		Type    string                  `json:"type"`
		Message string                  `json:"message"`
		Stack   string                  `json:"stack,omitempty"`
		Frames  []types.ExceptionFrame  `json:"frames,omitempty"`
	} `json:"error"`
}

type wireDiagnostics struct {
	Origin    types.Origin    `json:"origin"`
	Exception *wireException `json:"exception,omitempty"`
}

type wireLog struct {
	Timestamp     string          `json:"timestamp"`
	Level         types.Level     `json:"level"`
	Message       string          `json:"message"`
	Logger        string          `json:"logger"`
	CorrelationID string          `json:"correlation_id"`
	Context       map[string]any  `json:"context,omitempty"`
	Data          map[string]any  `json:"data,omitempty"`
	Diagnostics   wireDiagnostics `json:"diagnostics"`
	Tags          []string        `json:"tags,omitempty"`
	TraceID       string          `json:"trace_id,omitempty"`
	SpanID        string          `json:"span_id,omitempty"`
}

type wireEnvelope struct {
	SchemaVersion string  `json:"schema_version"`
	Log           wireLog `json:"log"`
}

// Serialize produces a byte buffer of
// {"schema_version":"1.0","log":{...}} with the timestamp rendered as
// RFC3339 UTC with millisecond precision and a trailing "Z". The
// output has no trailing newline; JSON-lines framing is a separate
// step applied by line-oriented sinks.
func Serialize(env types.LogEnvelope) (types.SerializedView, error) {
	w := wireEnvelope{
		SchemaVersion: schemaVersion,
		Log: wireLog{
			Timestamp:     formatTimestamp(env.Timestamp),
			Level:         env.Level,
			Message:       env.Message,
			Logger:        env.Logger,
			CorrelationID: env.CorrelationID,
			Context:       env.Context,
			Data:          env.Data,
			Diagnostics:   wireDiagnosticsFrom(env.Diagnostics),
			Tags:          env.Tags,
			TraceID:       env.TraceID,
			SpanID:        env.SpanID,
		},
	}

	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return types.SerializedView(b), nil
}

func wireDiagnosticsFrom(d types.Diagnostics) wireDiagnostics {
	out := wireDiagnostics{Origin: d.Origin}
	if d.Exception != nil {
		we := &wireException{}
		we.Error.Type = d.Exception.Type
		we.Error.Message = d.Exception.Message
		we.Error.Stack = d.Exception.Stack
		we.Error.Frames = d.Exception.Frames
		out.Exception = we
	}
	return out
}

func formatTimestamp(posixSeconds float64) string {
	sec := int64(posixSeconds)
	nsec := int64((posixSeconds - float64(sec)) * 1e9)
	t := time.Unix(sec, nsec).UTC()
	return t.Format("2006-01-02T15:04:05.000Z")
}

// AppendNewline returns view with a trailing newline, the JSON-lines
// framing step used before handing a view to line-oriented sinks.
func AppendNewline(view types.SerializedView) types.SerializedView {
	out := make(types.SerializedView, len(view)+1)
	copy(out, view)
	out[len(view)] = '\n'
	return out
}
