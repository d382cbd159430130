package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/groups"
	"github.com/punchamoorthee/chatpay/internal/ledger"
	"github.com/punchamoorthee/chatpay/internal/metrics"
	"github.com/punchamoorthee/chatpay/internal/models"
)

// Reconciler applies settlement callbacks to the ledger and tells the user
// about the outcome. Callbacks arrive at least once and in any order.
type Reconciler struct {
	ledger *ledger.Ledger
	groups *groups.Coordinator
	notify *Notifier
	log    *zap.Logger
}

func NewReconciler(l *ledger.Ledger, g *groups.Coordinator, n *Notifier, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{ledger: l, groups: g, notify: n, log: log.With(zap.String("component", "reconciler"))}
}

// Reconcile processes one callback. Unknown transactions, duplicate
// deliveries and stale statuses are dropped without an error; any other
// failure is logged and returned.
func (r *Reconciler) Reconcile(ctx context.Context, cb models.SettlementCallback) (err error) {
	log := r.log.With(zap.String("tx_id", cb.ID), zap.String("status", string(cb.Status)))
	defer func() {
		if p := recover(); p != nil {
			log.Error("callback processing panicked", zap.Any("panic", p))
			metrics.SettlementCallbacks.WithLabelValues(string(cb.Status), "error").Inc()
			err = fmt.Errorf("reconcile %s: panic: %v", cb.ID, p)
		}
	}()

	if cb.ID == "" {
		log.Info("dropping callback without transaction id")
		metrics.SettlementCallbacks.WithLabelValues(string(cb.Status), "unknown").Inc()
		return nil
	}

	res, err := r.ledger.Transition(ctx, cb.ID, cb.Status, cb.Raw)
	switch {
	case errors.Is(err, domain.ErrUnknownReference):
		log.Info("dropping callback for unknown transaction")
		metrics.SettlementCallbacks.WithLabelValues(string(cb.Status), "unknown").Inc()
		return nil
	case err != nil:
		log.Error("applying callback failed", zap.Error(err))
		metrics.SettlementCallbacks.WithLabelValues(string(cb.Status), "error").Inc()
		return err
	}

	metrics.SettlementCallbacks.WithLabelValues(string(cb.Status), res.Outcome.String()).Inc()
	if res.Outcome != ledger.Applied {
		log.Debug("callback changed nothing", zap.Stringer("outcome", res.Outcome))
		return nil
	}

	tx := res.Transaction
	if res.Balance != nil {
		log.Info("balance updated",
			zap.String("identity", string(tx.Identity)),
			zap.Int64("before", res.Balance.Before),
			zap.Int64("after", res.Balance.After))
	}

	if tx.GroupID != "" && tx.Status.Terminal() {
		if r.reportToGroup(ctx, tx, log) {
			return nil
		}
	}

	if tx.Status.Terminal() || tx.Status == domain.StatusRefunded {
		r.notify.Transaction(ctx, tx, cb)
	}
	return nil
}

// reportToGroup forwards a chunk outcome. It reports false when the group
// is no longer tracked, in which case the chunk is announced on its own.
func (r *Reconciler) reportToGroup(ctx context.Context, tx domain.Transaction, log *zap.Logger) bool {
	log = log.With(zap.String("group_id", tx.GroupID))

	var (
		rep groups.Report
		err error
	)
	if tx.Status == domain.StatusCompleted {
		rep, err = r.groups.ReportComplete(tx.GroupID, tx.Amount, tx.ID)
	} else {
		rep, err = r.groups.ReportFailed(tx.GroupID, tx.Amount, tx.ID)
	}
	if err != nil {
		log.Warn("group not tracked, notifying chunk on its own", zap.Error(err))
		return false
	}
	if rep.Duplicate || !rep.Terminal {
		log.Debug("chunk recorded",
			zap.Int("completed", rep.Snapshot.CompletedCount),
			zap.Int("failed", rep.Snapshot.FailedCount),
			zap.Int("chunks", rep.Snapshot.ChunkCount))
		return true
	}

	log.Info("transfer group resolved",
		zap.String("group_status", string(rep.Snapshot.Status)),
		zap.Int64("completed_amount", rep.Snapshot.CompletedAmount),
		zap.Int64("failed_amount", rep.Snapshot.FailedAmount))
	metrics.TransferGroups.WithLabelValues(string(rep.Snapshot.Status)).Inc()
	r.notify.Group(ctx, rep.Snapshot)
	r.groups.Release(tx.GroupID)
	return true
}
