package reference

import (
	"log/slog"
	"sync/atomic"
)

// Store holds the current snapshot. Reload builds a new snapshot and swaps
// it in atomically; checks already running keep the snapshot they started
// with.
type Store struct {
	current atomic.Pointer[Snapshot]
	dir     string
}

// NewStore creates a store serving snap.
func NewStore(snap *Snapshot) *Store {
	s := &Store{}
	s.current.Store(snap)
	return s
}

// Open loads the dataset from dir, or the embedded dataset when dir is empty.
func Open(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if _, err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Dir is the dataset directory, empty for the embedded dataset.
func (s *Store) Dir() string { return s.dir }

// Reload re-reads the dataset. On error the current snapshot stays in place.
func (s *Store) Reload() (*Snapshot, error) {
	var (
		snap *Snapshot
		err  error
	)
	if s.dir == "" {
		snap, err = Default()
	} else {
		snap, err = LoadDir(s.dir)
	}
	if err != nil {
		return nil, err
	}

	prev := s.current.Swap(snap)
	attrs := []any{
		"revision", snap.Revision(),
		"lists", len(snap.lists),
		"ingredients", len(snap.ingredients),
	}
	if prev != nil {
		attrs = append(attrs, "previous_revision", prev.Revision())
	}
	slog.Info("reference data loaded", attrs...)

	for _, d := range snap.Dangling() {
		slog.Warn("market program references a missing list", "program", d)
	}
	return snap, nil
}
