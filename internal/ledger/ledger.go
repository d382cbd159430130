// Package ledger records settlement requests and their status transitions,
// delegating durable storage to a Store.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
)

// Outcome says what ApplyTransition did with a delivered status.
type Outcome int

const (
	// Applied means the status was written.
	Applied Outcome = iota
	// Duplicate means the status was already recorded.
	Duplicate
	// Stale means the transition is not allowed from the recorded status.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	default:
		return "stale"
	}
}

// TransitionResult is returned by ApplyTransition.
type TransitionResult struct {
	Transaction domain.Transaction
	Previous    domain.TxStatus
	Outcome     Outcome
	// Balance is set when the transition moved the owner's balance.
	Balance *domain.BalanceChange
}

// Store is the durable side of the ledger.
type Store interface {
	CreateTransaction(ctx context.Context, tx domain.Transaction) error
	GetTransaction(ctx context.Context, id string) (domain.Transaction, error)
	// ApplyTransition atomically locks the transaction, detects duplicate
	// and stale deliveries, writes the new status and, on COMPLETED,
	// applies the signed amount to the owner's balance.
	ApplyTransition(ctx context.Context, id string, status domain.TxStatus, metadata json.RawMessage, at time.Time) (TransitionResult, error)
	GetBalance(ctx context.Context, identity domain.Identity) (int64, error)
	ListTransactions(ctx context.Context, identity domain.Identity, limit int) ([]domain.Transaction, error)
	FindRefundable(ctx context.Context, identity domain.Identity, amount int64, limit int) ([]domain.Transaction, error)
	MarkRefunded(ctx context.Context, id string, amount int64, at time.Time) (domain.Transaction, error)
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Allowed reports whether a transaction recorded as from may move to to.
// Failures are final, and a completed transaction may only move on to a
// refund.
func Allowed(from, to domain.TxStatus) bool {
	switch from {
	case domain.StatusPending:
		return to != domain.StatusPending
	case domain.StatusCompleted:
		return to == domain.StatusRefunded || to == domain.StatusRefundRequested
	case domain.StatusRefundRequested:
		return to == domain.StatusRefunded
	}
	return false
}

// Delta is the balance change a transition to status causes.
func Delta(tx domain.Transaction, status domain.TxStatus) int64 {
	if status == domain.StatusCompleted {
		return tx.SignedAmount()
	}
	return 0
}

// Ledger is the facade used by the services.
type Ledger struct {
	store Store
	clock domain.Clock
	log   *zap.Logger
}

func New(store Store, clock domain.Clock, log *zap.Logger) *Ledger {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{store: store, clock: clock, log: log.With(zap.String("component", "ledger"))}
}

// Register records a new PENDING transaction.
func (l *Ledger) Register(ctx context.Context, tx domain.Transaction) (domain.Transaction, error) {
	switch {
	case tx.ID == "":
		return domain.Transaction{}, domain.NewValidationError("id", "")
	case tx.Identity == "":
		return domain.Transaction{}, domain.NewValidationError("identity", "")
	case tx.Amount <= 0:
		return domain.Transaction{}, domain.NewValidationError("amount", "")
	case tx.Type != domain.TxPayIn && tx.Type != domain.TxPayOut:
		return domain.Transaction{}, domain.NewValidationError("type", "")
	}

	now := l.clock.Now()
	tx.Status = domain.StatusPending
	tx.CreatedAt = now
	tx.UpdatedAt = now
	if err := l.store.CreateTransaction(ctx, tx); err != nil {
		return domain.Transaction{}, fmt.Errorf("register transaction %s: %w", tx.ID, err)
	}
	return tx, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (domain.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// Transition applies a delivered status. Unknown ids surface as
// domain.ErrUnknownReference.
func (l *Ledger) Transition(ctx context.Context, id string, status domain.TxStatus, metadata json.RawMessage) (TransitionResult, error) {
	if !status.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: status %q", domain.ErrValidation, status)
	}
	res, err := l.store.ApplyTransition(ctx, id, status, metadata, l.clock.Now())
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition %s to %s: %w", id, status, err)
	}
	if res.Outcome == Stale {
		l.log.Warn("ignoring stale transition",
			zap.String("tx_id", id),
			zap.String("from", string(res.Previous)),
			zap.String("to", string(status)))
	}
	return res, nil
}

// Balance returns the identity's balance; an identity never seen has zero.
func (l *Ledger) Balance(ctx context.Context, identity domain.Identity) (int64, error) {
	b, err := l.store.GetBalance(ctx, identity)
	if errors.Is(err, domain.ErrUnknownReference) {
		return 0, nil
	}
	return b, err
}

func (l *Ledger) Recent(ctx context.Context, identity domain.Identity, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	return l.store.ListTransactions(ctx, identity, limit)
}

// Refundable lists completed incoming payments that have not been refunded,
// newest first. A positive amount restricts the result to that exact value.
func (l *Ledger) Refundable(ctx context.Context, identity domain.Identity, amount int64, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 5
	}
	return l.store.FindRefundable(ctx, identity, amount, limit)
}

// MarkRefunded flags a completed incoming payment as refund-requested. An
// amount of zero refunds it in full.
func (l *Ledger) MarkRefunded(ctx context.Context, id string, amount int64) (domain.Transaction, error) {
	tx, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if amount <= 0 {
		amount = tx.Amount
	}
	if amount > tx.Amount {
		return domain.Transaction{}, domain.NewValidationError("refund_amount", "")
	}
	return l.store.MarkRefunded(ctx, id, amount, l.clock.Now())
}

// Purge drops settled transactions last updated before cutoff.
func (l *Ledger) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := l.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge transactions: %w", err)
	}
	if n > 0 {
		l.log.Info("purged settled transactions", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

// RunPurge purges every interval, keeping retention worth of history,
// until ctx is done.
func (l *Ledger) RunPurge(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Purge(ctx, l.clock.Now().Add(-retention)); err != nil {
				l.log.Error("purge failed", zap.Error(err))
			}
		}
	}
}
