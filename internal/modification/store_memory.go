package modification

import (
	"context"
	"sort"
	"sync"
	"time"

	"escorte/pkg/platform/sentinel"
)

// InMemoryStore keeps requests in a map. Used by unit tests and as the
// reference implementation of the Store contract.
type InMemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	requests map[int64]*Request
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{requests: make(map[int64]*Request)}
}

type memorySnapshot struct {
	nextID   int64
	requests map[int64]*Request
}

// Snapshot implements tx.Snapshotter.
func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{
		nextID:   s.nextID,
		requests: make(map[int64]*Request, len(s.requests)),
	}
	for id, r := range s.requests {
		copied := *r
		snap.requests[id] = &copied
	}
	return snap
}

// Restore implements tx.Snapshotter.
func (s *InMemoryStore) Restore(snapshot any) {
	snap, ok := snapshot.(memorySnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.requests = snap.requests
}

func (s *InMemoryStore) Create(_ context.Context, r *Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.requests {
		if existing.MissionOrderID == r.MissionOrderID && existing.Status == StatusPending {
			return sentinel.ErrConflict
		}
	}
	s.nextID++
	r.ID = s.nextID
	copied := *r
	s.requests[r.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *r
	return &copied, nil
}

func (s *InMemoryStore) ListByOrder(_ context.Context, missionOrderID int64) ([]*Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.MissionOrderID == missionOrderID {
			copied := *r
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *InMemoryStore) Review(_ context.Context, id, reviewerID int64, status Status, rejectionReason string, when time.Time) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if r.Status != StatusPending {
		return nil, sentinel.ErrInvalidState
	}
	r.Status = status
	r.ReviewerID = &reviewerID
	r.RejectionReason = rejectionReason
	r.ReviewedAt = &when
	copied := *r
	return &copied, nil
}
