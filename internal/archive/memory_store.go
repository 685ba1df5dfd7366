package archive

import (
	"context"
	"sort"
	"sync"

	"github.com/meridianlabs/escrowsync/internal/escrow"
	"github.com/meridianlabs/escrowsync/internal/metrics"
)

// MemoryStore implements Store with in-memory storage. Used in tests and
// when no database is configured.
type MemoryStore struct {
	mu         sync.RWMutex
	events     []escrow.Event
	seen       map[logKey]bool
	checkpoint uint64
	hasCheck   bool
}

type logKey struct {
	txHash   string
	logIndex uint
}

// NewMemoryStore creates an empty in-memory archive.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[logKey]bool)}
}

func (s *MemoryStore) SaveEvents(_ context.Context, events []escrow.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		base := ev.Base()
		key := logKey{txHash: base.TxHash, logIndex: base.LogIndex}
		if s.seen[key] {
			continue
		}
		s.seen[key] = true
		s.events = append(s.events, ev)
		metrics.ArchivedEventsTotal.Inc()
	}
	return nil
}

func (s *MemoryStore) Checkpoint(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.hasCheck {
		return 0, ErrNoCheckpoint
	}
	return s.checkpoint, nil
}

func (s *MemoryStore) SetCheckpoint(_ context.Context, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoint = block
	s.hasCheck = true
	return nil
}

func (s *MemoryStore) EventsByTransaction(_ context.Context, txID uint64, limit int) ([]escrow.Event, error) {
	s.mu.RLock()
	var result []escrow.Event
	for _, ev := range s.events {
		if ev.Base().TransactionID == txID {
			result = append(result, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].Base(), result[j].Base()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		return a.LogIndex < b.LogIndex
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) RecentEvents(_ context.Context, limit int) ([]escrow.Event, error) {
	s.mu.RLock()
	result := make([]escrow.Event, len(s.events))
	copy(result, s.events)
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].Base(), result[j].Base()
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber > b.BlockNumber
		}
		return a.LogIndex > b.LogIndex
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
