// Package envelope builds and serializes LogEnvelope values. Build is a
// pure function: it never raises for bad producer-side data, coercing
// to string where necessary, and always returns a complete envelope
// satisfying the invariants in types.LogEnvelope.
package envelope

import (
	"time"

	"github.com/google/uuid"

	"corelog/pkg/types"
)

const unsafeMarkerKey = "_fapilog_unsafe"

// maxStackChars bounds the exception stack string written to
// diagnostics.exception.stack.
const maxStackChars = 8192

// BuildOptions are the envelope builder's inputs: level, message, the
// call-site extra mapping, the bound context to merge under it, and
// optional exception capture.
type BuildOptions struct {
	Level        types.Level
	Message      string
	Extra        map[string]any
	BoundContext map[string]any
	Logger       string
	CorrelationID string
	Origin       types.Origin

	// Err, when non-nil, is captured into diagnostics.exception if
	// ExceptionSerialization is enabled.
	Err                    error
	ExceptionSerialization bool
	MaxFrames              int
	Frames                 []types.ExceptionFrame
	Stack                  string

	// AllowUnsafeMarker is set only by the facade's unsafe-debug path;
	// everywhere else a caller-supplied "_fapilog_unsafe" key in Extra
	// is stripped before the envelope is built.
	AllowUnsafeMarker bool

	// Now overrides time.Now for deterministic tests; zero means "use
	// the real clock".
	Now time.Time
}

// Build assembles a complete LogEnvelope from opts.
func Build(opts BuildOptions) types.LogEnvelope {
	logger := opts.Logger
	if logger == "" {
		logger = "root"
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	origin := opts.Origin
	if origin == "" {
		origin = types.OriginNative
	}

	data := mergeContext(opts.BoundContext, opts.Extra)
	if !opts.AllowUnsafeMarker {
		delete(data, unsafeMarkerKey)
	}
	applySensitiveMasking(data)

	diag := types.Diagnostics{Origin: origin}
	if opts.ExceptionSerialization && opts.Err != nil {
		diag.Exception = buildException(opts)
	}

	return types.LogEnvelope{
		Timestamp:     float64(now.UnixNano()) / 1e9,
		Level:         opts.Level,
		Message:       opts.Message,
		Logger:        logger,
		CorrelationID: correlationID,
		Context:       cloneMap(opts.BoundContext),
		Data:          data,
		Diagnostics:   diag,
		TraceID:       stringField(data, "trace_id"),
		SpanID:        stringField(data, "span_id"),
	}
}

func buildException(opts BuildOptions) *types.Exception {
	stack := opts.Stack
	if len(stack) > maxStackChars {
		stack = stack[:maxStackChars]
	}
	frames := opts.Frames
	maxFrames := opts.MaxFrames
	if maxFrames > 0 && len(frames) > maxFrames {
		frames = frames[:maxFrames]
	}
	return &types.Exception{
		Type:    typeName(opts.Err),
		Message: opts.Err.Error(),
		Stack:   stack,
		Frames:  frames,
	}
}

func typeName(err error) string {
	if err == nil {
		return ""
	}
	return typeNameOf(err)
}

// mergeContext merges bound context under extra, with extra winning on
// key conflicts, per the envelope builder contract.
func mergeContext(bound, extra map[string]any) map[string]any {
	out := make(map[string]any, len(bound)+len(extra))
	for k, v := range bound {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// applySensitiveMasking merges data["sensitive"] and data["pii"] (when
// both are mappings) into data["sensitive"], with pii winning on
// conflict, masking every leaf string to "***" recursively and every
// list-of-strings leaf to a list of "***". A non-mapping value under
// either key is left as an ordinary field. If the merged result is
// empty the "sensitive" key is omitted entirely.
func applySensitiveMasking(data map[string]any) {
	sensitive, sensitiveIsMap := asMap(data["sensitive"])
	pii, piiIsMap := asMap(data["pii"])

	if !sensitiveIsMap && !piiIsMap {
		return
	}

	merged := make(map[string]any, len(sensitive)+len(pii))
	for k, v := range sensitive {
		merged[k] = v
	}
	for k, v := range pii {
		merged[k] = v
	}

	if piiIsMap {
		delete(data, "pii")
	}
	if sensitiveIsMap {
		delete(data, "sensitive")
	}

	masked := maskRecursive(merged).(map[string]any)
	if len(masked) > 0 {
		data["sensitive"] = masked
	}
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func maskRecursive(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, val := range vv {
			out[k] = maskRecursive(val)
		}
		return out
	case string:
		return "***"
	case []string:
		out := make([]string, len(vv))
		for i := range vv {
			out[i] = "***"
		}
		return out
	case []any:
		out := make([]any, len(vv))
		for i, val := range vv {
			out[i] = maskRecursive(val)
		}
		return out
	default:
		return v
	}
}
