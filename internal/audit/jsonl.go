package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// chainedLine is one line of the JSONL log. Field order is fixed so hashes are reproducible.
type chainedLine struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Timestamp time.Time       `json:"ts"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
}

// JSONLLog is an append-only JSONL audit log with SHA-256 hash chaining.
// Each entry's prev_hash is the hash of the previous line, so edits are detectable.
type JSONLLog struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// OpenJSONL opens (or creates) an audit log and recovers the chain tail
func OpenJSONL(path string) (*JSONLLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	return &JSONLLog{path: path, file: file, prevHash: prevHash}, nil
}

// Write appends rec, chained to the previous line, and syncs to disk
func (l *JSONLLog) Write(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit: log %s is closed", l.path)
	}

	line, err := json.Marshal(chainedLine{
		ID:        rec.ID,
		Kind:      rec.Kind,
		Timestamp: rec.Timestamp,
		Payload:   rec.Payload,
		PrevHash:  l.prevHash,
	})
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Close closes the underlying file
func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool         `json:"valid"`
	Lines     int          `json:"lines"`
	Kinds     map[Kind]int `json:"kinds,omitempty"`
	Error     string       `json:"error,omitempty"`
	ErrorLine int          `json:"error_line,omitempty"`
}

// Verify reads a JSONL audit log and validates the hash chain
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	expected := GenesisHash
	kinds := make(map[Kind]int)
	n := 0

	for scanner.Scan() {
		n++
		line := append([]byte(nil), scanner.Bytes()...)

		var entry chainedLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return VerifyResult{Lines: n, Error: fmt.Sprintf("parse error: %v", err), ErrorLine: n}
		}
		if entry.PrevHash != expected {
			return VerifyResult{
				Lines:     n,
				Error:     fmt.Sprintf("hash mismatch: expected %s, got %s", expected, entry.PrevHash),
				ErrorLine: n,
			}
		}
		kinds[entry.Kind]++
		expected = HashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: n, Error: fmt.Sprintf("scan: %v", err)}
	}
	return VerifyResult{Valid: true, Lines: n, Kinds: kinds}
}

// ReadJSONL loads every record from a log without verifying the chain
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open: %w", err)
	}
	defer f.Close()

	var out []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry chainedLine
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("audit: parse line %d: %w", len(out)+1, err)
		}
		out = append(out, Record{ID: entry.ID, Kind: entry.Kind, Timestamp: entry.Timestamp, Payload: entry.Payload})
	}
	return out, scanner.Err()
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}
