// Package store provides crash-safe position persistence using JSON files.
//
// Each (venue, symbol) position is stored as a separate file:
// pos_<venue>_<symbol>.json. Writes use atomic file replacement (write to
// .tmp, then rename) to prevent corruption from partial writes or crashes
// mid-save. The engine calls Save for every position in
// internal/position.Book on a 10-second ticker and once more on shutdown,
// and LoadAll on startup to restore the book before strategies or the
// stdio handler accept any order.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/tradecore/engine/pkg/types"
)

// Store persists positions to JSON files in a designated directory.
// All operations are mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string     // directory containing pos_*.json files
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

func fileName(venue types.Venue, symbol types.Symbol) string {
	safeSymbol := strings.ReplaceAll(symbol.String(), "/", "_")
	return fmt.Sprintf("pos_%s_%s.json", venue, safeSymbol)
}

// Save atomically persists one position. It writes to a .tmp file first,
// then renames over the target to ensure the file is never left in a
// partial state (crash-safe).
func (s *Store) Save(pos types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	path := filepath.Join(s.dir, fileName(pos.Venue, pos.Symbol))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, path)
}

// Load restores one position from disk. Returns nil, nil if no saved
// position exists for (venue, symbol).
func (s *Store) Load(venue types.Venue, symbol types.Symbol) (*types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, fileName(venue, symbol))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read position: %w", err)
	}

	var pos types.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &pos, nil
}

// LoadAll reads every persisted position file in the store directory,
// for restoring a position.Book on startup via Book.Restore.
func (s *Store) LoadAll() ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	var positions []types.Position
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "pos_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var pos types.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", name, err)
		}
		positions = append(positions, pos)
	}
	return positions, nil
}
