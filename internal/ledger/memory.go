package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// MemoryStore implementa Store em memória. Um único mutex serializa todas as
// mutações, o que satisfaz a ordem por conta exigida pelo diário.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	accounts map[string]*Account
	entries  map[string][]Entry
	byOpKey  map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		accounts: make(map[string]*Account),
		entries:  make(map[string][]Entry),
		byOpKey:  make(map[string]Entry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Open(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc, ok := s.accounts[accountID]; ok {
		return *acc, nil
	}
	now := s.now()
	acc := &Account{ID: accountID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	s.accounts[accountID] = acc
	return *acc, nil
}

func (s *MemoryStore) Account(_ context.Context, accountID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return Account{}, errs.New("ledger.account", errs.KindNotFound, "account "+accountID+" not found")
	}
	return *acc, nil
}

func (s *MemoryStore) Apply(_ context.Context, m Mutation) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.byOpKey[m.OpKey]; ok {
		e.Replayed = true
		return e, nil
	}
	acc, ok := s.accounts[m.AccountID]
	if !ok {
		return Entry{}, errs.New("ledger.apply", errs.KindNotFound, "account "+m.AccountID+" not found")
	}
	next := acc.Balance.Add(m.delta())
	if next.IsNegative() {
		return Entry{}, errs.New("ledger.apply", errs.KindInsufficientFunds,
			"balance "+acc.Balance.StringFixed(2)+" < "+m.Amount.StringFixed(2))
	}

	now := s.now()
	acc.Balance = next
	acc.Seq++
	acc.UpdatedAt = now

	e := Entry{
		AccountID:    m.AccountID,
		Seq:          acc.Seq,
		Kind:         m.Kind,
		Amount:       m.Amount,
		BalanceAfter: next,
		OpKey:        m.OpKey,
		CreatedAt:    now,
	}
	s.entries[m.AccountID] = append(s.entries[m.AccountID], e)
	s.byOpKey[m.OpKey] = e
	return e, nil
}

func (s *MemoryStore) Entries(_ context.Context, accountID string, limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[accountID]; !ok {
		return nil, errs.New("ledger.entries", errs.KindNotFound, "account "+accountID+" not found")
	}
	all := s.entries[accountID]
	out := make([]Entry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) Lookup(_ context.Context, opKey string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byOpKey[opKey]
	return e, ok, nil
}
