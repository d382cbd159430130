package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/ledger"
)

// MemoryStore is a process-local ledger.Store used when no database is
// configured and in tests.
type MemoryStore struct {
	mu       sync.Mutex
	txs      map[string]domain.Transaction
	balances map[domain.Identity]int64
	contacts map[domain.Identity]map[string]domain.Contact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs:      make(map[string]domain.Transaction),
		balances: make(map[domain.Identity]int64),
		contacts: make(map[domain.Identity]map[string]domain.Contact),
	}
}

// SetBalance seeds an identity's balance.
func (s *MemoryStore) SetBalance(identity domain.Identity, balance int64) {
	s.mu.Lock()
	s.balances[identity] = balance
	s.mu.Unlock()
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrConcurrencyConflict)
	}
	if _, ok := s.balances[tx.Identity]; !ok {
		s.balances[tx.Identity] = 0
	}
	s.txs[tx.ID] = tx
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrUnknownReference)
	}
	return tx, nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, id string, status domain.TxStatus, metadata json.RawMessage, at time.Time) (ledger.TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return ledger.TransitionResult{}, fmt.Errorf("transaction %s: %w", id, domain.ErrUnknownReference)
	}

	res := ledger.TransitionResult{Transaction: tx, Previous: tx.Status}
	switch {
	case tx.Status == status:
		res.Outcome = ledger.Duplicate
		return res, nil
	case !ledger.Allowed(tx.Status, status):
		res.Outcome = ledger.Stale
		return res, nil
	}

	if delta := ledger.Delta(tx, status); delta != 0 {
		before := s.balances[tx.Identity]
		s.balances[tx.Identity] = before + delta
		res.Balance = &domain.BalanceChange{Before: before, After: before + delta}
	}

	tx.Status = status
	tx.UpdatedAt = at
	if len(metadata) > 0 {
		tx.Metadata = metadata
	}
	s.txs[id] = tx

	res.Transaction = tx
	res.Outcome = ledger.Applied
	return res, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, identity domain.Identity) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[identity]
	if !ok {
		return 0, fmt.Errorf("identity %s: %w", identity, domain.ErrUnknownReference)
	}
	return b, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, identity domain.Identity, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(tx domain.Transaction) bool {
		return tx.Identity == identity
	}), nil
}

func (s *MemoryStore) FindRefundable(_ context.Context, identity domain.Identity, amount int64, limit int) ([]domain.Transaction, error) {
	return s.filter(limit, func(tx domain.Transaction) bool {
		return tx.Identity == identity &&
			tx.Type == domain.TxPayIn &&
			tx.Status == domain.StatusCompleted &&
			!tx.Refunded &&
			(amount <= 0 || tx.Amount == amount)
	}), nil
}

func (s *MemoryStore) MarkRefunded(_ context.Context, id string, amount int64, at time.Time) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.txs[id]
	if !ok {
		return domain.Transaction{}, fmt.Errorf("transaction %s: %w", id, domain.ErrUnknownReference)
	}
	if tx.Type != domain.TxPayIn || tx.Status != domain.StatusCompleted || tx.Refunded {
		return domain.Transaction{}, fmt.Errorf("transaction %s is not refundable: %w", id, domain.ErrConcurrencyConflict)
	}
	tx.Refunded = true
	tx.RefundAmount = amount
	tx.Status = domain.StatusRefundRequested
	tx.UpdatedAt = at
	s.txs[id] = tx
	return tx, nil
}

func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, tx := range s.txs {
		if tx.Status != domain.StatusPending && tx.UpdatedAt.Before(cutoff) {
			delete(s.txs, id)
			n++
		}
	}
	return n, nil
}

// filter returns matching transactions newest first.
func (s *MemoryStore) filter(limit int, keep func(domain.Transaction) bool) []domain.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
