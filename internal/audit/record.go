package audit

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what an audit record describes
type Kind string

const (
	KindTriggerEvaluation Kind = "trigger_evaluation"
	KindModeTransition    Kind = "mode_transition"
	KindManualOverride    Kind = "manual_override"
	KindGateVerdict       Kind = "gate_verdict"
	KindVaRResult         Kind = "var_result"
	KindStressResult      Kind = "stress_result"
	KindEmergencyAction   Kind = "emergency_action"
)

// Record is one structured audit event. The payload is marshalled once at
// construction so every sink stores exactly the same bytes.
type Record struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
}

// NewRecord builds a record with a fresh id
func NewRecord(kind Kind, ts time.Time, payload interface{}) (Record, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Record{}, fmt.Errorf("audit: marshal %s payload: %w", kind, err)
	}
	if ts.IsZero() {
		ts = time.Now()
	}
	return Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: ts.UTC(),
		Payload:   data,
	}, nil
}

// Decode unmarshals the payload into v
func (r Record) Decode(v interface{}) error {
	return json.Unmarshal(r.Payload, v)
}

// Sink receives audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Write(rec Record) error
}

// Emit builds a record and writes it to sink. A nil sink discards.
func Emit(sink Sink, kind Kind, ts time.Time, payload interface{}) error {
	if sink == nil {
		return nil
	}
	rec, err := NewRecord(kind, ts, payload)
	if err != nil {
		return err
	}
	return sink.Write(rec)
}

// MultiSink fans a record out to several sinks. Every sink is attempted.
type MultiSink struct {
	sinks   []Sink
	onError func(sink int, err error)
}

// NewMultiSink creates a fan-out sink; onError may be nil
func NewMultiSink(onError func(sink int, err error), sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks, onError: onError}
}

// Write writes rec to every sink and joins the errors
func (m *MultiSink) Write(rec Record) error {
	var errs []error
	for i, s := range m.sinks {
		if err := s.Write(rec); err != nil {
			if m.onError != nil {
				m.onError(i, err)
			}
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// MemorySink keeps records in memory, bounded to the newest limit entries
type MemorySink struct {
	mu      sync.RWMutex
	records []Record
	limit   int
}

// NewMemorySink creates an in-memory sink; limit <= 0 keeps everything
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// Write appends rec
func (m *MemorySink) Write(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	if m.limit > 0 && len(m.records) > m.limit {
		m.records = append([]Record(nil), m.records[len(m.records)-m.limit:]...)
	}
	return nil
}

// Records returns a copy of the stored records, optionally filtered by kind
func (m *MemorySink) Records(kinds ...Kind) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		if len(kinds) == 0 || hasKind(kinds, r.Kind) {
			out = append(out, r)
		}
	}
	return out
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}
