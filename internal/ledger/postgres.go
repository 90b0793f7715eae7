package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// PostgresStore implementa Store sobre as tabelas accounts e ledger_entries.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ Store = (*PostgresStore)(nil)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// Open cria a conta se não existir e retorna seu estado atual.
func (p *PostgresStore) Open(ctx context.Context, accountID string) (Account, error) {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO accounts (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, accountID); err != nil {
		return Account{}, fmt.Errorf("open account: %w", err)
	}
	return p.Account(ctx, accountID)
}

func (p *PostgresStore) Account(ctx context.Context, accountID string) (Account, error) {
	var a Account
	err := p.db.QueryRowContext(ctx,
		`SELECT id, balance, seq, created_at, updated_at FROM accounts WHERE id=$1`, accountID,
	).Scan(&a.ID, &a.Balance, &a.Seq, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, errs.New("ledger.account", errs.KindNotFound, "account "+accountID+" not found")
	}
	if err != nil {
		return Account{}, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// Apply executa idempotência, update condicional e lançamento no diário numa só transação.
// O saldo nunca é lido e depois escrito: o UPDATE carrega a guarda balance + delta >= 0,
// e o lock de linha que ele adquire serializa as mutações da mesma conta.
func (p *PostgresStore) Apply(ctx context.Context, m Mutation) (Entry, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, err
	}
	defer tx.Rollback()

	// Idempotência: a chave de operação já foi aplicada?
	existing, err := scanEntry(tx.QueryRowContext(ctx, selectEntryByOpKey, m.OpKey))
	if err == nil {
		existing.Replayed = true
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("select entry by op key: %w", err)
	}

	var (
		balance decimal.Decimal
		seq     int64
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1::numeric, seq = seq + 1, updated_at = NOW()
		WHERE id = $2 AND balance + $1::numeric >= 0
		RETURNING balance, seq`,
		m.delta(), m.AccountID,
	).Scan(&balance, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, p.explainNoRows(ctx, tx, m)
	}
	if err != nil {
		return Entry{}, classify("update balance", err)
	}

	var e Entry
	err = tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (account_id, seq, kind, amount, balance_after, op_key)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		m.AccountID, seq, string(m.Kind), m.Amount, balance, m.OpKey,
	).Scan(&e.CreatedAt)
	if err != nil {
		return Entry{}, classify("insert ledger entry", err)
	}

	if err = tx.Commit(); err != nil {
		return Entry{}, classify("commit", err)
	}

	e.AccountID = m.AccountID
	e.Seq = seq
	e.Kind = m.Kind
	e.Amount = m.Amount
	e.BalanceAfter = balance
	e.OpKey = m.OpKey
	return e, nil
}

// explainNoRows distingue conta inexistente de saldo insuficiente.
func (p *PostgresStore) explainNoRows(ctx context.Context, tx *sql.Tx, m Mutation) error {
	var balance decimal.Decimal
	err := tx.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE id=$1`, m.AccountID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New("ledger.apply", errs.KindNotFound, "account "+m.AccountID+" not found")
	}
	if err != nil {
		return fmt.Errorf("select balance: %w", err)
	}
	return errs.New("ledger.apply", errs.KindInsufficientFunds,
		"balance "+balance.StringFixed(2)+" < "+m.Amount.StringFixed(2))
}

func (p *PostgresStore) Entries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if _, err := p.Account(ctx, accountID); err != nil {
		return nil, err
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT account_id, seq, kind, amount, balance_after, op_key, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Lookup(ctx context.Context, opKey string) (Entry, bool, error) {
	e, err := scanEntry(p.db.QueryRowContext(ctx, selectEntryByOpKey, opKey))
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("select entry by op key: %w", err)
	}
	return e, true, nil
}

const selectEntryByOpKey = `
	SELECT account_id, seq, kind, amount, balance_after, op_key, created_at
	FROM ledger_entries WHERE op_key = $1`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e    Entry
		kind string
	)
	if err := row.Scan(&e.AccountID, &e.Seq, &kind, &e.Amount, &e.BalanceAfter, &e.OpKey, &e.CreatedAt); err != nil {
		return Entry{}, err
	}
	e.Kind = EntryKind(kind)
	return e, nil
}

// classify converte corridas conhecidas do Postgres em ErrRetry.
func classify(what string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return fmt.Errorf("%s: %w (%s)", what, ErrRetry, pqErr.Code)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}
