package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/gateway"
	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/models"
)

// TransferConfig bounds the payouts a TransferService accepts.
type TransferConfig struct {
	// Ceiling is the most the provider accepts in one transaction.
	Ceiling int64
	Minimum int64
	// CallbackURL is where the provider posts status changes.
	CallbackURL string
	// SubmitTimeout bounds each chunk submission and the recording of a
	// rejected or abandoned chunk.
	SubmitTimeout time.Duration
}

// SubmitResult describes a submitted transfer.
type SubmitResult struct {
	// Reference is the transaction id, or the group id of a split transfer.
	Reference string
	Chunks    []int64
	Accepted  int
	Rejected  int
}

// Split reports whether the transfer went out as a group.
func (r SubmitResult) Split() bool { return len(r.Chunks) > 1 }

type TransferService struct {
	ledger     *ledger.Ledger
	groups     *groups.Coordinator
	settlement Settlement
	reconciler *Reconciler
	cfg        TransferConfig
	newID      func() string
	log        *zap.Logger
}

func NewTransferService(l *ledger.Ledger, g *groups.Coordinator, s Settlement, r *Reconciler, cfg TransferConfig, log *zap.Logger) *TransferService {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TransferService{
		ledger:     l,
		groups:     g,
		settlement: s,
		reconciler: r,
		cfg:        cfg,
		newID:      uuid.NewString,
		log:        log.With(zap.String("component", "transfer")),
	}
}

// Ceiling is the largest single transaction the provider accepts.
func (s *TransferService) Ceiling() int64 { return s.cfg.Ceiling }

// Submit pays cmd.Amount out of the identity's balance to cmd.TargetKey,
// splitting it into chunks no larger than the ceiling. Every chunk is
// registered before any is submitted, so callbacks always find their
// transaction. A chunk the provider rejects is reconciled as an ERROR.
func (s *TransferService) Submit(ctx context.Context, identity domain.Identity, cmd domain.Command) (SubmitResult, error) {
	// 1. Validation
	if cmd.Amount < s.cfg.Minimum {
		return SubmitResult{}, &domain.ValidationError{
			Field:    "amount",
			Question: fmt.Sprintf("O valor mínimo para transferência é %s.", domain.FormatAmount(s.cfg.Minimum)),
			Cause:    domain.ErrBelowMinimum,
		}
	}
	if cmd.TargetKey == "" {
		return SubmitResult{}, domain.NewValidationError("target_key", "Para qual chave PIX você quer enviar?")
	}

	// 2. Funds check
	balance, err := s.ledger.Balance(ctx, identity)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("read balance: %w", err)
	}
	if balance < cmd.Amount {
		return SubmitResult{}, fmt.Errorf("balance %d below %d: %w", balance, cmd.Amount, domain.ErrInsufficientFunds)
	}

	// 3. Split
	chunks, err := domain.SplitAmount(cmd.Amount, s.cfg.Ceiling)
	if err != nil {
		return SubmitResult{}, err
	}
	ref := s.newID()
	ids := chunkIDs(ref, len(chunks))
	groupID := ""
	if len(chunks) > 1 {
		groupID = ref
		_, _, err := s.groups.Create(groupID, identity, cmd.Amount, len(chunks), domain.GroupMeta{
			DestinationKey: cmd.TargetKey,
			KeyType:        cmd.KeyType,
			ReceiverName:   cmd.ReceiverName,
			ChunkIDs:       ids,
		})
		if err != nil {
			return SubmitResult{}, fmt.Errorf("create transfer group: %w", err)
		}
	}

	// 4. Registration
	for i, amount := range chunks {
		_, err := s.ledger.Register(ctx, domain.Transaction{
			ID:             ids[i],
			Identity:       identity,
			Type:           domain.TxPayOut,
			Amount:         amount,
			GroupID:        groupID,
			DestinationKey: cmd.TargetKey,
			KeyType:        cmd.KeyType,
			ReceiverName:   cmd.ReceiverName,
		})
		if err != nil {
			s.abandon(ctx, ids[:i], groupID)
			return SubmitResult{}, err
		}
	}

	// 5. Submission
	res := SubmitResult{Reference: ref, Chunks: chunks}
	for i, amount := range chunks {
		if err := s.submit(ctx, ids[i], amount, cmd); err != nil {
			res.Rejected++
			s.log.Error("chunk rejected",
				zap.String("identity", string(identity)),
				zap.String("tx_id", ids[i]),
				zap.String("group_id", groupID),
				zap.Error(err))
			s.reject(ctx, ids[i], amount, err)
			continue
		}
		res.Accepted++
	}

	s.log.Info("transfer submitted",
		zap.String("identity", string(identity)),
		zap.String("reference", ref),
		zap.Int64("amount", cmd.Amount),
		zap.Int("chunks", len(chunks)),
		zap.Int("accepted", res.Accepted),
		zap.Int("rejected", res.Rejected))
	return res, nil
}

func (s *TransferService) submit(ctx context.Context, id string, amount int64, cmd domain.Command) error {
	// Once the caller's deadline has passed the remaining chunks are failed
	// without reaching the provider.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("submit %s: %w", id, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()
	return s.settlement.Submit(ctx, gateway.SubmitRequest{
		TxID:           id,
		Amount:         amount,
		DestinationKey: cmd.TargetKey,
		KeyType:        cmd.KeyType,
		CallbackURL:    s.cfg.CallbackURL,
	})
}

// reject runs a provider rejection through the same path as an ERROR
// callback so the chunk's group still resolves exactly once. The caller's
// deadline may be the cause, so the record and its notification run on a
// detached context of their own.
func (s *TransferService) reject(ctx context.Context, id string, amount int64, cause error) {
	ctx, cancel := s.detached(ctx)
	defer cancel()
	raw, _ := json.Marshal(map[string]string{"source": "submit", "reason": cause.Error()})
	err := s.reconciler.Reconcile(ctx, models.SettlementCallback{
		ID:     id,
		Status: domain.StatusError,
		Amount: decimal.New(amount, -2),
		Raw:    raw,
	})
	if err != nil {
		s.log.Error("recording rejection failed", zap.String("tx_id", id), zap.Error(err))
	}
}

// abandon cancels chunks registered before a later registration failed.
// Nothing was submitted, so nobody is notified. This is the one ledger
// transition that does not go through the Reconciler: no provider outcome
// exists for these chunks.
func (s *TransferService) abandon(ctx context.Context, ids []string, groupID string) {
	ctx, cancel := s.detached(ctx)
	defer cancel()
	for _, id := range ids {
		if _, err := s.ledger.Transition(ctx, id, domain.StatusCanceled, nil); err != nil && !errors.Is(err, domain.ErrUnknownReference) {
			s.log.Error("abandoning chunk failed", zap.String("tx_id", id), zap.Error(err))
		}
	}
	if groupID != "" {
		s.groups.Release(groupID)
	}
}

func (s *TransferService) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.SubmitTimeout)
}

func chunkIDs(ref string, n int) []string {
	if n == 1 {
		return []string{ref}
	}
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s_%d", ref, i+1)
	}
	return ids
}
