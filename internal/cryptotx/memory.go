package cryptotx

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// MemoryStore implementa Store em memória.
type MemoryStore struct {
	mu  sync.Mutex
	txs map[string]Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[string]Transaction)}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Create(_ context.Context, tx Transaction, maxPending int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[tx.ID]; ok {
		return errs.New("cryptotx.create", errs.KindConflict, "transaction "+tx.ID+" exists")
	}
	if tx.Type == Withdrawal && maxPending > 0 {
		n := 0
		for _, t := range s.txs {
			if t.AccountID == tx.AccountID && t.Type == Withdrawal && t.State == Pending {
				n++
			}
		}
		if n >= maxPending {
			return errs.New("cryptotx.create", errs.KindThrottleExceeded, "too many pending withdrawals")
		}
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.txs[id]
	if !ok {
		return Transaction{}, errs.New("cryptotx.get", errs.KindNotFound, "transaction "+id+" not found")
	}
	return tx, nil
}

func (s *MemoryStore) Update(_ context.Context, tx Transaction, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.txs[tx.ID]
	if !ok {
		return errs.New("cryptotx.update", errs.KindNotFound, "transaction "+tx.ID+" not found")
	}
	if cur.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *MemoryStore) ListPending(_ context.Context, createdBefore time.Time) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Transaction
	for _, t := range s.txs {
		if t.State != Pending {
			continue
		}
		if !createdBefore.IsZero() && !t.CreatedAt.Before(createdBefore) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
