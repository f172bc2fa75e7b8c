// Package state persists what the guardian needs to come back after a restart:
// the mode transition history and the day-open equity.
package state

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ducminhle1904/futures-guardian/internal/guardian"
	"github.com/ducminhle1904/futures-guardian/internal/logger"
)

const historyFile = "transitions.jsonl"

// Store appends transition records to a JSON-lines file, one fsync per record
type Store struct {
	logger *logger.Logger
	dir    string

	mu   sync.Mutex
	file *os.File
}

// NewStore creates the state directory if needed
func NewStore(log *logger.Logger, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{logger: log.Named("state"), dir: dir}, nil
}

// Dir returns the state directory
func (s *Store) Dir() string { return s.dir }

// Append implements guardian.HistoryStore
func (s *Store) Append(rec guardian.TransitionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		f, err := os.OpenFile(filepath.Join(s.dir, historyFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open transition log: %w", err)
		}
		s.file = f
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append transition: %w", err)
	}
	return s.file.Sync()
}

// LoadHistory reads every persisted transition. A torn final line, left by a
// crash during Append, is dropped with a warning; corruption anywhere else is an error.
func (s *Store) LoadHistory() ([]guardian.TransitionRecord, error) {
	path := filepath.Join(s.dir, historyFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		s.logger.Info("No transition history found, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open transition log: %w", err)
	}
	defer f.Close()

	var (
		records []guardian.TransitionRecord
		badLine int
		badErr  error
		line    int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		if badErr != nil {
			return nil, fmt.Errorf("transition log line %d: %w", badLine, badErr)
		}
		var rec guardian.TransitionRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			badLine, badErr = line, err
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transition log: %w", err)
	}
	if badErr != nil {
		s.logger.LogWarning("Transition log", "dropping torn final line %d: %v", badLine, badErr)
	}

	s.logger.Info("Loaded %d transitions from %s", len(records), path)
	return records, nil
}

// Close closes the transition log
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// writeAtomic writes to a temporary file and renames it over path
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to move state file: %w", err)
	}
	return nil
}
