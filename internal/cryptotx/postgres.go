package cryptotx

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// PostgresStore implementa Store sobre crypto_transactions.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ Store = (*PostgresStore)(nil)

// Create serializa saques da mesma conta com um advisory lock de transação,
// assim contagem e inserção não correm entre si.
func (p *PostgresStore) Create(ctx context.Context, t Transaction, maxPending int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t.Type == Withdrawal && maxPending > 0 {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "crypto-withdrawal:"+t.AccountID); err != nil {
			return fmt.Errorf("lock account withdrawals: %w", err)
		}
		var n int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM crypto_transactions
			WHERE account_id=$1 AND type=$2 AND state=$3`,
			t.AccountID, string(Withdrawal), string(Pending)).Scan(&n); err != nil {
			return fmt.Errorf("count pending withdrawals: %w", err)
		}
		if n >= maxPending {
			return errs.New("cryptotx.create", errs.KindThrottleExceeded, "too many pending withdrawals")
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO crypto_transactions (id, account_id, type, asset, crypto_amount, conversion_rate,
			usd_amount, rate_stale, rate_source, state, wallet_id, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14)`,
		t.ID, t.AccountID, string(t.Type), t.Asset, t.CryptoAmount, t.ConversionRate,
		t.USDAmount, t.RateStale, t.RateSource, string(t.State), t.WalletID, t.Version,
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return errs.New("cryptotx.create", errs.KindNotFound, "account "+t.AccountID+" not found")
		}
		return fmt.Errorf("insert crypto transaction: %w", err)
	}
	return tx.Commit()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (Transaction, error) {
	t, err := scanTx(p.db.QueryRowContext(ctx, selectTx+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Transaction{}, errs.New("cryptotx.get", errs.KindNotFound, "transaction "+id+" not found")
	}
	if err != nil {
		return Transaction{}, fmt.Errorf("select crypto transaction: %w", err)
	}
	return t, nil
}

func (p *PostgresStore) Update(ctx context.Context, t Transaction, expectedVersion int64) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE crypto_transactions
		SET conversion_rate=$3, usd_amount=$4, rate_stale=$5, rate_source=$6, state=$7,
			resolved_by=$8, reason=$9, external_ref=$10, approval_attempt=$11, version=$12,
			updated_at=$13, resolved_at=$14
		WHERE id=$1 AND version=$2`,
		t.ID, expectedVersion, t.ConversionRate, t.USDAmount, t.RateStale, t.RateSource, string(t.State),
		t.ResolvedBy, t.Reason, t.ExternalRef, t.ApprovalAttempt, t.Version, t.UpdatedAt, t.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update crypto transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (p *PostgresStore) ListPending(ctx context.Context, createdBefore time.Time) ([]Transaction, error) {
	query := selectTx + ` WHERE state=$1`
	args := []any{string(Pending)}
	if !createdBefore.IsZero() {
		query += ` AND created_at < $2`
		args = append(args, createdBefore)
	}
	rows, err := p.db.QueryContext(ctx, query+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending crypto transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const selectTx = `
	SELECT id, account_id, type, asset, crypto_amount, conversion_rate, usd_amount, rate_stale,
		rate_source, state, COALESCE(wallet_id,''), resolved_by, reason, external_ref, approval_attempt,
		version, created_at, updated_at, resolved_at
	FROM crypto_transactions`

type scanner interface {
	Scan(dest ...any) error
}

func scanTx(row scanner) (Transaction, error) {
	var (
		t          Transaction
		typ, state string
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&t.ID, &t.AccountID, &typ, &t.Asset, &t.CryptoAmount, &t.ConversionRate,
		&t.USDAmount, &t.RateStale, &t.RateSource, &state, &t.WalletID, &t.ResolvedBy, &t.Reason,
		&t.ExternalRef, &t.ApprovalAttempt, &t.Version, &t.CreatedAt, &t.UpdatedAt, &resolvedAt); err != nil {
		return Transaction{}, err
	}
	t.Type = Type(typ)
	t.State = State(state)
	if resolvedAt.Valid {
		v := resolvedAt.Time
		t.ResolvedAt = &v
	}
	return t, nil
}
