package wager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// MemoryStore implementa Store em memória.
type MemoryStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	odds    map[string]Odd
	parlays map[string]Parlay
	legs    map[string]Leg
	byOdd   map[string][]string

	// FailCreate, quando definido, faz CreateParlay falhar (testes de compensação).
	FailCreate error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		odds:    make(map[string]Odd),
		parlays: make(map[string]Parlay),
		legs:    make(map[string]Leg),
		byOdd:   make(map[string][]string),
	}
}

var _ Store = (*MemoryStore)(nil)

// UpsertOdd atualiza o valor e o mercado; a exposição acumulada é preservada.
func (s *MemoryStore) UpsertOdd(_ context.Context, o Odd) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.odds[o.ID]
	if !ok {
		cur = Odd{ID: o.ID, TotalStaked: decimal.Zero}
	}
	cur.MarketID = o.MarketID
	cur.Value = o.Value
	cur.UpdatedAt = s.now()
	s.odds[o.ID] = cur
	return nil
}

func (s *MemoryStore) Odd(_ context.Context, id string) (Odd, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.odds[id]
	if !ok {
		return Odd{}, errs.New("wager.odd", errs.KindNotFound, "odd "+id+" not found")
	}
	return o, nil
}

func (s *MemoryStore) CreateParlay(_ context.Context, p Parlay, legs []Leg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailCreate != nil {
		return s.FailCreate
	}
	if _, ok := s.parlays[p.ID]; ok {
		return errs.New("wager.create_parlay", errs.KindConflict, "parlay "+p.ID+" exists")
	}
	for _, l := range legs {
		if _, ok := s.odds[l.OddID]; !ok {
			return errs.New("wager.create_parlay", errs.KindInvalidOdd, "odd "+l.OddID+" not found")
		}
	}
	for _, l := range legs {
		o := s.odds[l.OddID]
		o.Bets++
		o.TotalStaked = o.TotalStaked.Add(l.Stake)
		s.odds[l.OddID] = o
		s.legs[l.ID] = l
		s.byOdd[l.OddID] = append(s.byOdd[l.OddID], l.ID)
	}
	p.LegIDs = append([]string(nil), p.LegIDs...)
	s.parlays[p.ID] = p
	return nil
}

func (s *MemoryStore) Parlay(_ context.Context, id string) (Parlay, []Leg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.parlays[id]
	if !ok {
		return Parlay{}, nil, errs.New("wager.parlay", errs.KindNotFound, "parlay "+id+" not found")
	}
	legs := make([]Leg, 0, len(p.LegIDs))
	for _, lid := range p.LegIDs {
		legs = append(legs, s.legs[lid])
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].Position < legs[j].Position })
	p.LegIDs = append([]string(nil), p.LegIDs...)
	return p, legs, nil
}

func (s *MemoryStore) Leg(_ context.Context, id string) (Leg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.legs[id]
	if !ok {
		return Leg{}, errs.New("wager.leg", errs.KindNotFound, "leg "+id+" not found")
	}
	return l, nil
}

func (s *MemoryStore) LegsByOdd(_ context.Context, oddID string) ([]Leg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byOdd[oddID]
	out := make([]Leg, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.legs[id])
	}
	return out, nil
}

func (s *MemoryStore) SaveSettlement(_ context.Context, p Parlay, leg Leg, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.parlays[p.ID]
	if !ok {
		return errs.New("wager.save_settlement", errs.KindNotFound, "parlay "+p.ID+" not found")
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	p.LegIDs = cur.LegIDs
	s.parlays[p.ID] = p
	s.legs[leg.ID] = leg
	return nil
}
