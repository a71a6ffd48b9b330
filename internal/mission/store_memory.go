package mission

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"escorte/pkg/domain"
	"escorte/pkg/platform/sentinel"
)

// InMemoryStore keeps orders and their owned collections in maps. Used by
// unit tests and as the reference implementation of the Store contract.
type InMemoryStore struct {
	mu          sync.RWMutex
	nextOrderID int64
	nextLineID  int64
	nextUnitID  int64
	orders      map[int64]*MissionOrder
	lines       map[int64]*CargoLine
	units       map[int64]*TransportUnit
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		orders: make(map[int64]*MissionOrder),
		lines:  make(map[int64]*CargoLine),
		units:  make(map[int64]*TransportUnit),
	}
}

type memorySnapshot struct {
	nextOrderID int64
	nextLineID  int64
	nextUnitID  int64
	orders      map[int64]*MissionOrder
	lines       map[int64]*CargoLine
	units       map[int64]*TransportUnit
}

// Snapshot implements tx.Snapshotter.
func (s *InMemoryStore) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := memorySnapshot{
		nextOrderID: s.nextOrderID,
		nextLineID:  s.nextLineID,
		nextUnitID:  s.nextUnitID,
		orders:      make(map[int64]*MissionOrder, len(s.orders)),
		lines:       make(map[int64]*CargoLine, len(s.lines)),
		units:       make(map[int64]*TransportUnit, len(s.units)),
	}
	for id, o := range s.orders {
		copied := *o
		snap.orders[id] = &copied
	}
	for id, l := range s.lines {
		copied := *l
		snap.lines[id] = &copied
	}
	for id, u := range s.units {
		copied := *u
		snap.units[id] = &copied
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
	s.nextOrderID = snap.nextOrderID
	s.nextLineID = snap.nextLineID
	s.nextUnitID = snap.nextUnitID
	s.orders = snap.orders
	s.lines = snap.lines
	s.units = snap.units
}

func (s *InMemoryStore) CreateOrder(_ context.Context, o *MissionOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.DeletedAt == nil && strings.EqualFold(existing.Number, o.Number) {
			return sentinel.ErrConflict
		}
	}
	s.nextOrderID++
	o.ID = s.nextOrderID
	copied := *o
	s.orders[o.ID] = &copied
	return nil
}

func (s *InMemoryStore) FindOrderByID(_ context.Context, id int64) (*MissionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

func (s *InMemoryStore) FindOrderByNumber(_ context.Context, number string) (*MissionOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.DeletedAt == nil && strings.EqualFold(o.Number, number) {
			copied := *o
			return &copied, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ListOrders(_ context.Context, f ListFilter) ([]*MissionOrder, int, error) {
	f.Normalize()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*MissionOrder
	for _, o := range s.orders {
		if o.DeletedAt != nil {
			continue
		}
		if f.Statut != nil && o.Statut != *f.Statut {
			continue
		}
		if f.Apurement != nil && o.Apurement != *f.Apurement {
			continue
		}
		if f.DateFrom != nil && o.DateOrdre.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && o.DateOrdre.After(*f.DateTo) {
			continue
		}
		copied := *o
		matched = append(matched, &copied)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].DateOrdre.Equal(matched[j].DateOrdre) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].DateOrdre.After(matched[j].DateOrdre)
	})

	total := len(matched)
	start := (f.Page - 1) * f.PerPage
	if start >= total {
		return []*MissionOrder{}, total, nil
	}
	end := start + f.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *InMemoryStore) UpdateOrder(_ context.Context, id int64, in UpdateOrderInput) (*MissionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	if in.Destination != nil {
		o.Destination = *in.Destination
	}
	if in.Itineraire != nil {
		o.Itineraire = *in.Itineraire
	}
	if in.Observations != nil {
		o.Observations = *in.Observations
	}
	if in.AgentID != nil {
		o.AgentID = in.AgentID
	}
	if in.EscouadeID != nil {
		o.EscouadeID = in.EscouadeID
	}
	o.UpdatedAt = time.Now()
	copied := *o
	return &copied, nil
}

func (s *InMemoryStore) UpdateStatut(_ context.Context, id int64, statut Statut) (*MissionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	o.Statut = statut
	o.UpdatedAt = time.Now()
	copied := *o
	return &copied, nil
}

func (s *InMemoryStore) UpdateApurement(_ context.Context, id int64, apurement domain.StatutApurement, when time.Time) (*MissionOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	o.Apurement = apurement
	o.DateApurement = &when
	o.UpdatedAt = time.Now()
	copied := *o
	return &copied, nil
}

func (s *InMemoryStore) SoftDeleteOrder(_ context.Context, id int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return sentinel.ErrNotFound
	}
	o.DeletedAt = &when
	return nil
}

func (s *InMemoryStore) CreateCargoLines(_ context.Context, lines []*CargoLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		if o, ok := s.orders[l.MissionOrderID]; !ok || o.DeletedAt != nil {
			return sentinel.ErrNotFound
		}
		s.nextLineID++
		l.ID = s.nextLineID
		copied := *l
		s.lines[l.ID] = &copied
	}
	return nil
}

func (s *InMemoryStore) ListCargoLines(_ context.Context, orderID int64) ([]*CargoLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*CargoLine
	for _, l := range s.lines {
		if l.MissionOrderID == orderID {
			copied := *l
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CreateTransportUnits(_ context.Context, units []*TransportUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range units {
		if o, ok := s.orders[u.MissionOrderID]; !ok || o.DeletedAt != nil {
			return sentinel.ErrNotFound
		}
		s.nextUnitID++
		u.ID = s.nextUnitID
		copied := *u
		s.units[u.ID] = &copied
	}
	return nil
}

func (s *InMemoryStore) ListTransportUnits(_ context.Context, orderID int64) ([]*TransportUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*TransportUnit
	for _, u := range s.units {
		if u.MissionOrderID == orderID {
			copied := *u
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *InMemoryStore) CountByNumberPrefix(_ context.Context, prefix string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.orders {
		if strings.HasPrefix(o.Number, prefix) {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) findLocked(id int64) (*MissionOrder, error) {
	o, ok := s.orders[id]
	if !ok || o.DeletedAt != nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *o
	return &copied, nil
}
