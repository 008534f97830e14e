package fixes

import (
	"sync"
	"time"

	"railtrack/internal/schedule"
)

type entry struct {
	fix        schedule.VehicleFix
	receivedAt time.Time
}

// Store keeps the latest vehicle fix per trip.
type Store struct {
	mu    sync.RWMutex
	fixes map[string]entry

	staleAfter time.Duration
	now        func() time.Time
}

func New(staleAfter time.Duration) *Store {
	return &Store{
		fixes:      make(map[string]entry),
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Update records fixes, keeping the newer one when a trip already has a fix
// with a later feed timestamp. It returns how many entries changed.
func (s *Store) Update(fixes ...schedule.VehicleFix) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	changed := 0
	for _, f := range fixes {
		if f.TripID == "" {
			continue
		}
		if existing, ok := s.fixes[f.TripID]; ok && existing.fix.Timestamp > f.Timestamp {
			continue
		}
		s.fixes[f.TripID] = entry{fix: f, receivedAt: now}
		changed++
	}
	return changed
}

// Get returns the fix for tripID unless it is stale.
func (s *Store) Get(tripID string) (schedule.VehicleFix, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.fixes[tripID]
	if !ok || s.stale(e) {
		return schedule.VehicleFix{}, false
	}
	return e.fix, true
}

func (s *Store) stale(e entry) bool {
	return s.staleAfter > 0 && s.now().Sub(e.receivedAt) > s.staleAfter
}

// PruneStale drops expired fixes and returns how many were removed.
func (s *Store) PruneStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.fixes {
		if s.stale(e) {
			delete(s.fixes, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.fixes)
}
