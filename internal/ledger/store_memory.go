package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"escorte/pkg/domain"
	"escorte/pkg/platform/sentinel"
)

// InMemoryStore keeps declarations and allocations in maps. Used by unit
// tests and as the reference implementation of the Store contract. Row-level
// serialization is provided by the surrounding tx.MemoryRunner; the store
// mutex only guards individual map accesses.
type InMemoryStore struct {
	mu           sync.RWMutex
	nextDeclID   int64
	nextAllocID  int64
	declarations map[int64]*Declaration
	allocations  map[int64]*ParcelAllocation
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		declarations: make(map[int64]*Declaration),
		allocations:  make(map[int64]*ParcelAllocation),
	}
}

type memorySnapshot struct {
	nextDeclID   int64
	nextAllocID  int64
	declarations map[int64]*Declaration
	allocations  map[int64]*ParcelAllocation
}

// Snapshot implements tx.Snapshotter.
func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{
		nextDeclID:   s.nextDeclID,
		nextAllocID:  s.nextAllocID,
		declarations: make(map[int64]*Declaration, len(s.declarations)),
		allocations:  make(map[int64]*ParcelAllocation, len(s.allocations)),
	}
	for id, d := range s.declarations {
		copied := *d
		snap.declarations[id] = &copied
	}
	for id, a := range s.allocations {
		copied := *a
		snap.allocations[id] = &copied
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
	s.nextDeclID = snap.nextDeclID
	s.nextAllocID = snap.nextAllocID
	s.declarations = snap.declarations
	s.allocations = snap.allocations
}

func (s *InMemoryStore) Create(_ context.Context, d *Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.declarations {
		if existing.DeletedAt == nil && strings.EqualFold(existing.NumeroDeclaration, d.NumeroDeclaration) {
			return sentinel.ErrConflict
		}
	}
	s.nextDeclID++
	d.ID = s.nextDeclID
	copied := *d
	s.declarations[d.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, id int64) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

func (s *InMemoryStore) findLocked(id int64) (*Declaration, error) {
	d, ok := s.declarations[id]
	if !ok || d.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *d
	return &copied, nil
}

func (s *InMemoryStore) FindByNumero(_ context.Context, numero string) (*Declaration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.declarations {
		if d.DeletedAt == nil && strings.EqualFold(d.NumeroDeclaration, numero) {
			copied := *d
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

// FindByIDForUpdate is equivalent to FindByID in memory: the MemoryRunner
// serializes whole transactions, so no finer lock is needed.
func (s *InMemoryStore) FindByIDForUpdate(ctx context.Context, id int64) (*Declaration, error) {
	return s.FindByID(ctx, id)
}

func (s *InMemoryStore) List(_ context.Context, filter ListFilter) ([]*Declaration, int, error) {
	filter.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Declaration
	for _, d := range s.declarations {
		if d.DeletedAt != nil {
			continue
		}
		if filter.DateFrom != nil && d.DateDeclaration.Before(*filter.DateFrom) {
			continue
		}
		if filter.DateTo != nil && d.DateDeclaration.After(*filter.DateTo) {
			continue
		}
		if filter.StatutLivraison != nil {
			projection := Project(d, s.countAllocationsLocked(d.ID))
			if projection.StatutLivraison != *filter.StatutLivraison {
				continue
			}
		}
		copied := *d
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DateDeclaration.Equal(matched[j].DateDeclaration) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].DateDeclaration.After(matched[j].DateDeclaration)
	})

	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start >= total {
		return []*Declaration{}, total, nil
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *InMemoryStore) DecrementRemaining(_ context.Context, id int64, colis int, poids decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.declarations[id]
	if !ok || d.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	if colis > d.NbreColisRestant || poids.GreaterThan(d.PoidsRestant) {
		return sentinel.ErrInsufficient
	}
	d.NbreColisRestant -= colis
	d.PoidsRestant = d.PoidsRestant.Sub(poids)
	d.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) RestoreRemaining(_ context.Context, id int64, colis int, poids decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.declarations[id]
	if !ok || d.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	if d.NbreColisRestant+colis > d.NbreColisTotal || d.PoidsRestant.Add(poids).GreaterThan(d.PoidsTotal) {
		return sentinel.ErrInvalidState
	}
	d.NbreColisRestant += colis
	d.PoidsRestant = d.PoidsRestant.Add(poids)
	d.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) UpdateClearance(_ context.Context, id int64, statut domain.StatutApurement, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.declarations[id]
	if !ok || d.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	d.StatutApurement = &statut
	d.DateApurement = &date
	d.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) SoftDelete(_ context.Context, id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.declarations[id]
	if !ok || d.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	d.DeletedAt = &when
	return nil
}

func (s *InMemoryStore) CreateAllocation(_ context.Context, a *ParcelAllocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.declarations[a.DeclarationID]; !ok || d.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	s.nextAllocID++
	a.ID = s.nextAllocID
	copied := *a
	s.allocations[a.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindAllocation(_ context.Context, id int64) (*ParcelAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[id]
	if !ok || a.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (s *InMemoryStore) ListAllocationsByDeclaration(_ context.Context, declarationID int64) ([]*ParcelAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ParcelAllocation
	for _, a := range s.allocations {
		if a.DeletedAt == nil && a.DeclarationID == declarationID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) ListAllocationsByOrder(_ context.Context, missionOrderID int64) ([]*ParcelAllocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*ParcelAllocation
	for _, a := range s.allocations {
		if a.DeletedAt == nil && a.MissionOrderID == missionOrderID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CountAllocations(_ context.Context, declarationID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countAllocationsLocked(declarationID), nil
}

func (s *InMemoryStore) DeleteAllocation(_ context.Context, id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocations[id]
	if !ok || a.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	a.DeletedAt = &when
	return nil
}

func (s *InMemoryStore) countAllocationsLocked(declarationID int64) int {
	count := 0
	for _, a := range s.allocations {
		if a.DeletedAt == nil && a.DeclarationID == declarationID {
			count++
		}
	}
	return count
}
