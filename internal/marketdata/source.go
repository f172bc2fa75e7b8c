package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ducminhle1904/futures-guardian/pkg/types"
)

// Source fetches a fresh market and account snapshot from a collaborator
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*types.Snapshot, error)
}

// FileSource reads a JSON snapshot from disk on every fetch.
// Used for dry runs and offline tooling.
type FileSource struct {
	Path string
	// StampNow replaces the snapshot and quote timestamps with the current time
	StampNow bool
	Now      func() time.Time
}

// NewFileSource creates a file-backed source
func NewFileSource(path string, stampNow bool) *FileSource {
	return &FileSource{Path: path, StampNow: stampNow, Now: time.Now}
}

// Name returns the source name
func (f *FileSource) Name() string {
	return "file"
}

// Fetch reads and decodes the snapshot file
func (f *FileSource) Fetch(ctx context.Context) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", f.Path, err)
	}
	if f.StampNow {
		now := f.Now()
		snap.Timestamp = now
		for sym, q := range snap.Quotes {
			q.LastQuoteTime = now
			snap.Quotes[sym] = q
		}
	}
	Normalize(&snap)
	return &snap, nil
}

// Normalize fills derived fields that collaborators may omit:
// map keys become quote symbols and products are derived from symbols.
func Normalize(snap *types.Snapshot) {
	for sym, q := range snap.Quotes {
		if q.Symbol == "" {
			q.Symbol = sym
		}
		if q.Product == "" {
			q.Product = types.ProductOf(q.Symbol)
		}
		snap.Quotes[sym] = q
	}
	for i := range snap.Account.Positions {
		p := &snap.Account.Positions[i]
		if p.Product == "" {
			if q, ok := snap.Quotes[p.Symbol]; ok {
				p.Product = q.Product
			} else {
				p.Product = types.ProductOf(p.Symbol)
			}
		}
	}
}
