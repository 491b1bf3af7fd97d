// Package audit implements the hash-chained, append-only audit trail:
// every AuditEvent's checksum is computed over its own fields plus the
// previous event's checksum, so altering or removing any past event
// breaks the chain for everything after it. Persistence is modeled on
// the dead letter queue's background-writer-goroutine/JSON-lines/
// size-based-rotation shape.
package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"corelog/pkg/types"
)

// genesisPreviousHash is the previous_hash value of the first event in
// any chain: 64 hex characters of zero, matching a sha256 digest's
// hex-encoded width.
const genesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000"

func init() {
	if len(genesisPreviousHash) != 64 {
		panic("audit: genesisPreviousHash must be exactly 64 hex characters")
	}
}

// Config configures a Trail's persistence and compliance behavior.
type Config struct {
	Policy types.CompliancePolicy

	// Directory, when non-empty, enables JSON-lines file persistence.
	// Empty Directory means the trail only keeps events in memory.
	Directory     string
	MaxFileSizeMB int64
	FlushInterval time.Duration
}

// Trail is one hash-chained, append-only sequence of AuditEvents.
// Safe for concurrent Append calls.
type Trail struct {
	cfg    Config
	logger *logrus.Logger

	mu         sync.Mutex
	events     []types.AuditEvent
	lastHash   string
	nextSeq    int64
	file       *os.File
	writer     *bufio.Writer

	writeCh chan types.AuditEvent
	done    chan struct{}
}

// New constructs a Trail. If cfg.Directory is set, a background
// writer goroutine is started and must be stopped with Close.
func New(cfg Config, logger *logrus.Logger) (*Trail, error) {
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}

	t := &Trail{
		cfg:      cfg,
		logger:   logger,
		lastHash: genesisPreviousHash,
		nextSeq:  1,
		writeCh:  make(chan types.AuditEvent, 1024),
		done:     make(chan struct{}),
	}

	if cfg.Policy.Enabled {
		for _, warning := range validatePolicy(cfg.Policy) {
			logger.WithField("policy_level", cfg.Policy.Level).Warn(warning)
		}
	} else if cfg.Policy.EncryptAuditLogs {
		logger.Warn("encrypt_audit_logs is set but this trail implementation does not encrypt at rest")
	}

	if cfg.Directory != "" {
		if err := os.MkdirAll(cfg.Directory, 0755); err != nil {
			return nil, fmt.Errorf("audit: create directory: %w", err)
		}
		if err := t.openFile(); err != nil {
			return nil, err
		}
		go t.writerLoop()
	}
	return t, nil
}

// validatePolicy returns human-readable warnings for compliance
// expectations the configuration does not satisfy; it never blocks
// construction, matching the spec's "validation warnings, not errors"
// contract.
func validatePolicy(p types.CompliancePolicy) []string {
	var warnings []string
	if p.RetentionDays < 30 {
		warnings = append(warnings, "retention_days is below 30 days")
	}
	if p.ArchiveAfterDays < 7 {
		warnings = append(warnings, "archive_after_days is below 7 days")
	}
	if !p.RequireIntegrityCheck {
		warnings = append(warnings, "require_integrity_check is disabled")
	}
	switch p.Level {
	case types.ComplianceHIPAA:
		if !p.MinimumNecessary {
			warnings = append(warnings, "HIPAA policy selected without minimum_necessary enabled")
		}
	case types.ComplianceGDPR:
		if !p.DataSubjectRights {
			warnings = append(warnings, "GDPR policy selected without data_subject_rights enabled")
		}
	case types.ComplianceSOX:
		if p.RetentionDays < 2555 { // 7 years
			warnings = append(warnings, "SOX policy typically requires 7 years (2555 days) of retention")
		}
	}
	if p.EncryptAuditLogs {
		warnings = append(warnings, "encrypt_audit_logs is set but this trail implementation does not encrypt at rest")
	}
	return warnings
}

// Append computes the next event's checksum, chains it to the last
// event, stores it in memory, and (if persistence is enabled) hands it
// to the background writer. Returns the fully-populated event,
// including its assigned sequence number and checksum.
func (t *Trail) Append(eventType, message string, metadata map[string]any) types.AuditEvent {
	t.mu.Lock()
	defer t.mu.Unlock()

	ev := types.AuditEvent{
		SequenceNumber: t.nextSeq,
		EventType:      eventType,
		Timestamp:      time.Now().UTC(),
		Message:        message,
		Metadata:       metadata,
		PreviousHash:   t.lastHash,
	}
	ev.Checksum = checksum(ev)

	t.nextSeq++
	t.lastHash = ev.Checksum
	t.events = append(t.events, ev)

	if t.cfg.Directory != "" {
		select {
		case t.writeCh <- ev:
		default:
			t.logger.Warn("audit writer channel full, event persisted in memory only")
		}
	}
	return ev
}

// checksum hashes every field except Checksum itself in a fixed,
// field-delimited order so the same event always produces the
// same checksum regardless of map iteration order.
func checksum(ev types.AuditEvent) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s|%t|%t|%s|%s",
		ev.SequenceNumber,
		ev.EventType,
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.Message,
		canonicalMetadata(ev.Metadata),
		ev.UserID,
		ev.SessionID,
		ev.RequestID,
		ev.ContainsPII,
		ev.ContainsPHI,
		ev.DataClassification,
		ev.PreviousHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalMetadata(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sortStrings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v;", k, m[k])
	}
	return b.String()
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// VerifyChain walks the in-memory event list and confirms every
// event's checksum is correct and every event's previous_hash matches
// its predecessor's checksum. Returns the index of the first broken
// event, or -1 if the chain is intact.
func (t *Trail) VerifyChain() (brokenAt int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return verifyEvents(t.events)
}

func verifyEvents(events []types.AuditEvent) (int, bool) {
	expected := genesisPreviousHash
	for i, ev := range events {
		if ev.PreviousHash != expected {
			return i, false
		}
		if checksum(ev) != ev.Checksum {
			return i, false
		}
		expected = ev.Checksum
	}
	return -1, true
}

// VerifyChainFromStorage re-reads every JSON-lines file in cfg.Directory
// in filename order and verifies the chain from disk, independent of
// the in-memory event list. Requires file persistence to be enabled.
func (t *Trail) VerifyChainFromStorage() (brokenAt int, ok bool, err error) {
	if t.cfg.Directory == "" {
		return -1, false, fmt.Errorf("audit: persistence not enabled")
	}

	entries, err := os.ReadDir(t.cfg.Directory)
	if err != nil {
		return -1, false, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".jsonl") {
			files = append(files, e.Name())
		}
	}
	sortStrings(files)

	var events []types.AuditEvent
	for _, name := range files {
		read, rerr := readEventsFromFile(filepath.Join(t.cfg.Directory, name))
		if rerr != nil {
			return -1, false, rerr
		}
		events = append(events, read...)
	}
	idx, chainOK := verifyEvents(events)
	return idx, chainOK, nil
}

func readEventsFromFile(path string) ([]types.AuditEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []types.AuditEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev types.AuditEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("audit: decode %s: %w", path, err)
		}
		events = append(events, ev)
	}
	return events, scanner.Err()
}

// Events returns a copy of every event appended so far.
func (t *Trail) Events() []types.AuditEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.AuditEvent, len(t.events))
	copy(out, t.events)
	return out
}

func (t *Trail) openFile() error {
	name := fmt.Sprintf("audit_%s.jsonl", time.Now().UTC().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(t.cfg.Directory, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("audit: open file: %w", err)
	}
	t.file = f
	t.writer = bufio.NewWriter(f)
	return nil
}

func (t *Trail) writerLoop() {
	flush := time.NewTicker(t.cfg.FlushInterval)
	defer flush.Stop()

	for {
		select {
		case ev := <-t.writeCh:
			t.persist(ev)
		case <-flush.C:
			t.syncFile()
		case <-t.done:
			t.drainAndClose()
			return
		}
	}
}

func (t *Trail) persist(ev types.AuditEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shouldRotate() {
		t.rotate()
	}

	data, err := json.Marshal(ev)
	if err != nil {
		t.logger.WithError(err).Error("audit: failed to marshal event")
		return
	}
	data = append(data, '\n')
	if _, err := t.writer.Write(data); err != nil {
		t.logger.WithError(err).Error("audit: failed to write event")
	}
}

func (t *Trail) shouldRotate() bool {
	if t.file == nil {
		return true
	}
	info, err := t.file.Stat()
	if err != nil {
		return true
	}
	return info.Size() >= t.cfg.MaxFileSizeMB*1024*1024
}

func (t *Trail) rotate() {
	t.syncFileLocked()
	if t.file != nil {
		t.file.Close()
	}
	if err := t.openFile(); err != nil {
		t.logger.WithError(err).Error("audit: failed to rotate file")
	}
}

func (t *Trail) syncFile() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.syncFileLocked()
}

func (t *Trail) syncFileLocked() {
	if t.writer != nil {
		t.writer.Flush()
	}
	if t.file != nil {
		t.file.Sync()
	}
}

func (t *Trail) drainAndClose() {
	for {
		select {
		case ev := <-t.writeCh:
			t.persist(ev)
		default:
			t.mu.Lock()
			t.syncFileLocked()
			if t.file != nil {
				t.file.Close()
			}
			t.mu.Unlock()
			return
		}
	}
}

// Close flushes and closes the background writer, if persistence is
// enabled.
func (t *Trail) Close() {
	if t.cfg.Directory == "" {
		return
	}
	close(t.done)
}

// Registry is a named collection of Trails, one per audit domain
// (e.g. "pipeline", "security"), so callers can reference a trail by
// name instead of threading pointers through every component.
type Registry struct {
	mu     sync.Mutex
	trails map[string]*Trail
	logger *logrus.Logger
}

// NewRegistry constructs an empty Registry.
func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{trails: make(map[string]*Trail), logger: logger}
}

// GetOrCreate returns the named trail, constructing it with cfg on
// first use.
func (r *Registry) GetOrCreate(name string, cfg Config) (*Trail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trails[name]; ok {
		return t, nil
	}
	t, err := New(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.trails[name] = t
	return t, nil
}

// Reset closes and removes the named trail. A subsequent GetOrCreate
// starts a fresh chain from the genesis hash.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trails[name]; ok {
		t.Close()
		delete(r.trails, name)
	}
}
