package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/chatpay/internal/domain"
	"github.com/punchamoorthee/chatpay/internal/ledger"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS identities (
		identity   TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		identity        TEXT NOT NULL REFERENCES identities (identity),
		type            TEXT NOT NULL,
		amount          BIGINT NOT NULL CHECK (amount > 0),
		status          TEXT NOT NULL,
		group_id        TEXT NOT NULL DEFAULT '',
		destination_key TEXT NOT NULL DEFAULT '',
		key_type        TEXT NOT NULL DEFAULT '',
		receiver_name   TEXT NOT NULL DEFAULT '',
		refunded        BOOLEAN NOT NULL DEFAULT false,
		refund_amount   BIGINT NOT NULL DEFAULT 0,
		metadata        JSONB,
		balance_before  BIGINT,
		balance_after   BIGINT,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS transactions_identity_created_idx ON transactions (identity, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS transactions_group_idx ON transactions (group_id) WHERE group_id <> ''`,
	`CREATE TABLE IF NOT EXISTS contacts (
		identity   TEXT NOT NULL,
		lookup     TEXT NOT NULL,
		name       TEXT NOT NULL,
		key        TEXT NOT NULL,
		key_type   TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (identity, lookup)
	)`,
}

const txColumns = `id, identity, type, amount, status, group_id, destination_key, key_type,
	receiver_name, refunded, refund_amount, metadata, created_at, updated_at`

// Store is the Postgres ledger.Store.
type Store struct {
	Db *pgxpool.Pool
}

func NewStore(ctx context.Context, connString string) (*Store, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Store{Db: pool}, nil
}

func (s *Store) Close() {
	s.Db.Close()
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// SeedIdentities bulk-loads identities that do not exist yet and reports
// how many rows were copied.
func (s *Store) SeedIdentities(ctx context.Context, balances map[domain.Identity]int64) (int64, error) {
	rows := make([][]any, 0, len(balances))
	now := time.Now()
	for id, balance := range balances {
		var exists bool
		err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM identities WHERE identity = $1)", string(id)).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("check identity %s: %w", id, err)
		}
		if !exists {
			rows = append(rows, []any{string(id), balance, now})
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := s.Db.CopyFrom(ctx,
		pgx.Identifier{"identities"},
		[]string{"identity", "balance", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("bulk insert failed: %w", err)
	}
	return n, nil
}

// CreateTransaction inserts tx, creating its owner on first sight.
func (s *Store) CreateTransaction(ctx context.Context, tx domain.Transaction) error {
	dbTx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer dbTx.Rollback(ctx)

	_, err = dbTx.Exec(ctx,
		"INSERT INTO identities (identity) VALUES ($1) ON CONFLICT (identity) DO NOTHING",
		string(tx.Identity))
	if err != nil {
		return fmt.Errorf("identity upsert failed: %w", err)
	}

	_, err = dbTx.Exec(ctx,
		`INSERT INTO transactions (id, identity, type, amount, status, group_id, destination_key, key_type,
			receiver_name, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		tx.ID, string(tx.Identity), string(tx.Type), tx.Amount, string(tx.Status), tx.GroupID,
		tx.DestinationKey, string(tx.KeyType), tx.ReceiverName, rawJSON(tx.Metadata), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("transaction %s: %w", tx.ID, domain.ErrConcurrencyConflict)
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}

	if err = dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	row := s.Db.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1", id)
	tx, err := scanTransaction(row)
	if err != nil {
		return domain.Transaction{}, notFound(err, "transaction", id)
	}
	return tx, nil
}

// ApplyTransition runs the duplicate check, the status write and the
// balance delta in one database transaction holding the row lock, so two
// deliveries of the same callback serialize and only one moves the balance.
func (s *Store) ApplyTransition(ctx context.Context, id string, status domain.TxStatus, metadata json.RawMessage, at time.Time) (ledger.TransitionResult, error) {
	dbTx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return ledger.TransitionResult{}, fmt.Errorf("tx begin failed: %w", err)
	}
	defer dbTx.Rollback(ctx)

	row := dbTx.QueryRow(ctx, "SELECT "+txColumns+" FROM transactions WHERE id = $1 FOR UPDATE", id)
	tx, err := scanTransaction(row)
	if err != nil {
		return ledger.TransitionResult{}, notFound(err, "transaction", id)
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
		var after int64
		err = dbTx.QueryRow(ctx,
			"UPDATE identities SET balance = balance + $1 WHERE identity = $2 RETURNING balance",
			delta, string(tx.Identity),
		).Scan(&after)
		if err != nil {
			return ledger.TransitionResult{}, fmt.Errorf("balance update failed: %w", err)
		}
		res.Balance = &domain.BalanceChange{Before: after - delta, After: after}

		_, err = dbTx.Exec(ctx,
			"UPDATE transactions SET balance_before = $1, balance_after = $2 WHERE id = $3",
			res.Balance.Before, res.Balance.After, id)
		if err != nil {
			return ledger.TransitionResult{}, fmt.Errorf("balance snapshot failed: %w", err)
		}
	}

	_, err = dbTx.Exec(ctx,
		"UPDATE transactions SET status = $1, updated_at = $2, metadata = COALESCE($3, metadata) WHERE id = $4",
		string(status), at, rawJSON(metadata), id)
	if err != nil {
		return ledger.TransitionResult{}, fmt.Errorf("status update failed: %w", err)
	}

	if err = dbTx.Commit(ctx); err != nil {
		return ledger.TransitionResult{}, fmt.Errorf("tx commit failed: %w", err)
	}

	tx.Status = status
	tx.UpdatedAt = at
	if len(metadata) > 0 {
		tx.Metadata = metadata
	}
	res.Transaction = tx
	res.Outcome = ledger.Applied
	return res, nil
}

func (s *Store) GetBalance(ctx context.Context, identity domain.Identity) (int64, error) {
	var balance int64
	err := s.Db.QueryRow(ctx, "SELECT balance FROM identities WHERE identity = $1", string(identity)).Scan(&balance)
	if err != nil {
		return 0, notFound(err, "identity", string(identity))
	}
	return balance, nil
}

func (s *Store) ListTransactions(ctx context.Context, identity domain.Identity, limit int) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT "+txColumns+" FROM transactions WHERE identity = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		string(identity), limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return collectTransactions(rows)
}

func (s *Store) FindRefundable(ctx context.Context, identity domain.Identity, amount int64, limit int) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+txColumns+` FROM transactions
		WHERE identity = $1 AND type = $2 AND status = $3 AND NOT refunded
			AND ($4::bigint <= 0 OR amount = $4::bigint)
		ORDER BY created_at DESC, id DESC LIMIT $5`,
		string(identity), string(domain.TxPayIn), string(domain.StatusCompleted), amount, limit)
	if err != nil {
		return nil, fmt.Errorf("find refundable: %w", err)
	}
	return collectTransactions(rows)
}

func (s *Store) MarkRefunded(ctx context.Context, id string, amount int64, at time.Time) (domain.Transaction, error) {
	row := s.Db.QueryRow(ctx,
		`UPDATE transactions SET refunded = true, refund_amount = $2, status = $3, updated_at = $4
		WHERE id = $1 AND type = $5 AND status = $6 AND NOT refunded
		RETURNING `+txColumns,
		id, amount, string(domain.StatusRefundRequested), at, string(domain.TxPayIn), string(domain.StatusCompleted))
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("mark refunded: %w", err)
	}
	if _, err := s.GetTransaction(ctx, id); err != nil {
		return domain.Transaction{}, err
	}
	return domain.Transaction{}, fmt.Errorf("transaction %s is not refundable: %w", id, domain.ErrConcurrencyConflict)
}

func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.Db.Exec(ctx,
		"DELETE FROM transactions WHERE status <> $1 AND updated_at < $2",
		string(domain.StatusPending), cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tx                    domain.Transaction
		identity, typ, status string
		keyType               string
		metadata              []byte
	)
	err := row.Scan(&tx.ID, &identity, &typ, &tx.Amount, &status, &tx.GroupID, &tx.DestinationKey, &keyType,
		&tx.ReceiverName, &tx.Refunded, &tx.RefundAmount, &metadata, &tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.Identity = domain.Identity(identity)
	tx.Type = domain.TxType(typ)
	tx.Status = domain.TxStatus(status)
	tx.KeyType = domain.KeyType(keyType)
	if len(metadata) > 0 {
		tx.Metadata = json.RawMessage(metadata)
	}
	return tx, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Transaction, error) {
		return scanTransaction(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan transactions: %w", err)
	}
	return txs, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrUnknownReference)
	}
	return fmt.Errorf("load %s %s: %w", what, id, err)
}

func rawJSON(m json.RawMessage) []byte {
	if len(m) == 0 {
		return nil
	}
	return []byte(m)
}
