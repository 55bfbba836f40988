package audit

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"execution-core/internal/schema"
)

// Kind tags an audit entry with the event that produced it.
type Kind string

const (
	KindStageIntake    Kind = "STAGE_INTAKE"
	KindStageValidate  Kind = "STAGE_VALIDATE"
	KindStageRisk      Kind = "STAGE_RISK"
	KindStageRoute     Kind = "STAGE_ROUTE"
	KindStageDispatch  Kind = "STAGE_DISPATCH"
	KindStageEvent     Kind = "STAGE_EXECUTION_EVENT"
	KindStagePostTrade Kind = "STAGE_POST_TRADE"
	KindStageHandoff   Kind = "STAGE_RECON_HANDOFF"

	KindIntentDuplicate Kind = "INTENT_DUPLICATE"
	KindOrderCancel     Kind = "ORDER_CANCEL"
	KindReconSummary    Kind = "RECON_SUMMARY"
	KindReconDiff       Kind = "RECON_DIFF"
)

// Entry is one immutable audit record. The payload is frozen to JSON at
// append time so later mutation of the source value cannot leak in.
type Entry struct {
	Seq           uint64          `json:"seq"`
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlationId"`
	Timestamp     int64           `json:"timestamp"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Sink receives committed entries in append order.
type Sink func(Entry)

// Log is an append-only, totally ordered event log. Appends are serialized
// by a single mutex; sinks run under the same lock so downstream consumers
// observe the same total order.
type Log struct {
	mu      sync.Mutex
	seq     uint64
	entries []Entry
	sinks   []Sink
	clock   func() time.Time
}

// NewLog creates an empty audit log.
func NewLog() *Log {
	return &Log{clock: func() time.Time { return time.Now().UTC() }}
}

// WithClock swaps the timestamp source. Intended for tests.
func (l *Log) WithClock(clock func() time.Time) *Log {
	if clock != nil {
		l.clock = clock
	}
	return l
}

// AddSink registers a consumer for committed entries.
func (l *Log) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, sink)
}

// Append marshals the payload, assigns the next sequence number and commits
// the entry. Entries are never mutated or reordered afterwards.
func (l *Log) Append(kind Kind, correlationID string, payload any) (Entry, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := sonic.ConfigStd.Marshal(payload)
		if err != nil {
			return Entry{}, err
		}
		raw = data
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	entry := Entry{
		Seq:           l.seq,
		Kind:          kind,
		CorrelationID: correlationID,
		Timestamp:     l.clock().UnixNano(),
		Payload:       raw,
	}
	l.entries = append(l.entries, entry)
	for _, sink := range l.sinks {
		sink(entry)
	}
	return entry, nil
}

// AppendReconSummary emits one RECON_SUMMARY entry followed by one
// RECON_DIFF entry per top-N diff, all under the summary's run id.
func (l *Log) AppendReconSummary(summary schema.ReconSummary) error {
	if _, err := l.Append(KindReconSummary, summary.RunID, summary); err != nil {
		return err
	}
	for _, diff := range summary.TopDiffs {
		if _, err := l.Append(KindReconDiff, summary.RunID, diff); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of committed entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// LastSeq returns the sequence number of the newest entry.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Entries returns a copy of all committed entries in append order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// ByKind returns entries matching the kind, in append order.
func (l *Log) ByKind(kind Kind) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, entry := range l.entries {
		if entry.Kind == kind {
			out = append(out, entry)
		}
	}
	return out
}

// ByCorrelation returns entries sharing a correlation id, in append order.
func (l *Log) ByCorrelation(correlationID string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, entry := range l.entries {
		if entry.CorrelationID == correlationID {
			out = append(out, entry)
		}
	}
	return out
}

// ExportJSONL writes every entry as one JSON object per line.
func (l *Log) ExportJSONL(w io.Writer) error {
	for _, entry := range l.Entries() {
		data, err := sonic.ConfigStd.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	return nil
}
