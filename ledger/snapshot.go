package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot is a read-only copy of the ledger at a point in time. It is
// also the persistence wire format: { groups, expenses }.
type Snapshot struct {
	Groups   []Group   `json:"groups"`
	Expenses []Expense `json:"expenses"`
}

// ErrNoSnapshot is returned by Load when nothing has been persisted yet.
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotStore is the persistence provider contract: load the full state
// at startup, save the full state after every mutation.
type SnapshotStore interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, snap Snapshot) error
}

// MemorySnapshotStore keeps the last saved snapshot in memory. It is the
// default backend and the test double.
type MemorySnapshotStore struct {
	mu    sync.Mutex
	snap  Snapshot
	saved int
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{}
}

func (m *MemorySnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == 0 {
		return Snapshot{}, ErrNoSnapshot
	}
	return m.snap, nil
}

func (m *MemorySnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	m.saved++
	return nil
}

// Saves returns how many snapshots were written.
func (m *MemorySnapshotStore) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved
}

// FileSnapshotStore persists the snapshot as a single JSON document on
// disk, written atomically via a temp file rename.
type FileSnapshotStore struct {
	path string
}

func NewFileSnapshotStore(path string) *FileSnapshotStore {
	return &FileSnapshotStore{path: path}
}

func (f *FileSnapshotStore) Load(ctx context.Context) (Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("reading snapshot file: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot file: %w", err)
	}
	return snap, nil
}

func (f *FileSnapshotStore) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating snapshot directory: %w", err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replacing snapshot file: %w", err)
	}
	return nil
}

// Saver decorates a SnapshotStore with asynchronous, coalescing writes.
// Save never blocks the mutation path: a newer snapshot waiting in the
// channel replaces any older one that hasn't been written yet. Failures
// are logged, not propagated; the in-memory state stays authoritative.
type Saver struct {
	snapCh chan Snapshot
	store  SnapshotStore
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewSaver(store SnapshotStore, bufferSize int) *Saver {
	if bufferSize < 1 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Saver{
		snapCh: make(chan Snapshot, bufferSize),
		store:  store,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Saver) Load(ctx context.Context) (Snapshot, error) {
	return s.store.Load(ctx)
}

func (s *Saver) Save(ctx context.Context, snap Snapshot) error {
	select {
	case s.snapCh <- snap:
	default:
		// Channel full: drop one stale snapshot and queue the newer one.
		select {
		case <-s.snapCh:
		default:
		}
		select {
		case s.snapCh <- snap:
		default:
		}
	}
	return nil
}

func (s *Saver) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.ctx.Done():
				slog.Info("draining snapshots before shutdown", "pending", len(s.snapCh))
				s.drain()
				return
			case snap := <-s.snapCh:
				snap = s.latest(snap)
				if err := s.store.Save(s.ctx, snap); err != nil {
					slog.Error("failed to persist snapshot", "error", err)
				}
			}
		}
	}()
}

// latest skips intermediate snapshots so only the newest state is written.
func (s *Saver) latest(snap Snapshot) Snapshot {
	for {
		select {
		case newer := <-s.snapCh:
			snap = newer
		default:
			return snap
		}
	}
}

func (s *Saver) drain() {
	var last *Snapshot
	for len(s.snapCh) > 0 {
		snap := <-s.snapCh
		last = &snap
	}
	if last != nil {
		if err := s.store.Save(context.Background(), *last); err != nil {
			slog.Error("failed to persist snapshot during shutdown", "error", err)
		}
	}
}

func (s *Saver) Shutdown() {
	s.cancel()
	s.wg.Wait()
	close(s.snapCh)
}
