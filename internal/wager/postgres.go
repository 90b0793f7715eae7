package wager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/radieske/sportsbook-ledger/internal/errs"
)

// PostgresStore implementa Store sobre odds, parlays e wager_legs.
type PostgresStore struct{ db *sql.DB }

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) UpsertOdd(ctx context.Context, o Odd) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO odds (id, market_id, value, updated_at)
		VALUES ($1,$2,$3,NOW())
		ON CONFLICT (id) DO UPDATE
		SET market_id = EXCLUDED.market_id, value = EXCLUDED.value, updated_at = NOW()`,
		o.ID, o.MarketID, o.Value)
	if err != nil {
		return fmt.Errorf("upsert odd: %w", err)
	}
	return nil
}

func (p *PostgresStore) Odd(ctx context.Context, id string) (Odd, error) {
	var o Odd
	err := p.db.QueryRowContext(ctx, `
		SELECT id, market_id, value, bets, total_staked, updated_at FROM odds WHERE id=$1`, id,
	).Scan(&o.ID, &o.MarketID, &o.Value, &o.Bets, &o.TotalStaked, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Odd{}, errs.New("wager.odd", errs.KindNotFound, "odd "+id+" not found")
	}
	if err != nil {
		return Odd{}, fmt.Errorf("select odd: %w", err)
	}
	return o, nil
}

func (p *PostgresStore) CreateParlay(ctx context.Context, pr Parlay, legs []Leg) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO parlays (id, account_id, total_stake, combined_odds, potential_payout,
			realized_payout, legs, won, lost, pending, state, result, version, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		pr.ID, pr.AccountID, pr.TotalStake, pr.CombinedOdds, pr.PotentialPayout,
		pr.RealizedPayout, pr.Legs, pr.Won, pr.Lost, pr.Pending, string(pr.State), string(pr.Result),
		pr.Version, pr.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert parlay: %w", err)
	}

	for _, l := range legs {
		res, err := tx.ExecContext(ctx, `
			UPDATE odds SET bets = bets + 1, total_staked = total_staked + $2
			WHERE id = $1`, l.OddID, l.Stake)
		if err != nil {
			return fmt.Errorf("update odd exposure: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errs.New("wager.create_parlay", errs.KindInvalidOdd, "odd "+l.OddID+" not found")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO wager_legs (id, parlay_id, account_id, odd_id, position, bet_type, stake,
				odd_value, potential_payout, state, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			l.ID, l.ParlayID, l.AccountID, l.OddID, l.Position, l.BetType, l.Stake,
			l.OddValue, l.PotentialPayout, string(l.State), l.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert leg: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Parlay(ctx context.Context, id string) (Parlay, []Leg, error) {
	var (
		pr            Parlay
		state, result string
		settledAt     sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT id, account_id, total_stake, combined_odds, potential_payout, realized_payout,
			legs, won, lost, pending, state, result, version, created_at, settled_at
		FROM parlays WHERE id=$1`, id,
	).Scan(&pr.ID, &pr.AccountID, &pr.TotalStake, &pr.CombinedOdds, &pr.PotentialPayout,
		&pr.RealizedPayout, &pr.Legs, &pr.Won, &pr.Lost, &pr.Pending, &state, &result,
		&pr.Version, &pr.CreatedAt, &settledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Parlay{}, nil, errs.New("wager.parlay", errs.KindNotFound, "parlay "+id+" not found")
	}
	if err != nil {
		return Parlay{}, nil, fmt.Errorf("select parlay: %w", err)
	}
	pr.State = ParlayState(state)
	pr.Result = Result(result)
	pr.SettledAt = timePtr(settledAt)

	legs, err := p.queryLegs(ctx, selectLegs+` WHERE parlay_id=$1 ORDER BY position`, id)
	if err != nil {
		return Parlay{}, nil, err
	}
	for _, l := range legs {
		pr.LegIDs = append(pr.LegIDs, l.ID)
	}
	return pr, legs, nil
}

func (p *PostgresStore) Leg(ctx context.Context, id string) (Leg, error) {
	l, err := scanLeg(p.db.QueryRowContext(ctx, selectLegs+` WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Leg{}, errs.New("wager.leg", errs.KindNotFound, "leg "+id+" not found")
	}
	if err != nil {
		return Leg{}, fmt.Errorf("select leg: %w", err)
	}
	return l, nil
}

func (p *PostgresStore) LegsByOdd(ctx context.Context, oddID string) ([]Leg, error) {
	return p.queryLegs(ctx, selectLegs+` WHERE odd_id=$1 ORDER BY created_at`, oddID)
}

// SaveSettlement usa a versão como compare-and-set do agregado.
func (p *PostgresStore) SaveSettlement(ctx context.Context, pr Parlay, leg Leg, expectedVersion int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE parlays
		SET total_stake=$3, combined_odds=$4, potential_payout=$5, realized_payout=$6,
			legs=$7, won=$8, lost=$9, pending=$10, state=$11, result=$12,
			version=$13, settled_at=$14
		WHERE id=$1 AND version=$2`,
		pr.ID, expectedVersion, pr.TotalStake, pr.CombinedOdds, pr.PotentialPayout, pr.RealizedPayout,
		pr.Legs, pr.Won, pr.Lost, pr.Pending, string(pr.State), string(pr.Result),
		pr.Version, pr.SettledAt)
	if err != nil {
		return classify("update parlay", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE wager_legs SET state=$2, settled_at=$3 WHERE id=$1`,
		leg.ID, string(leg.State), leg.SettledAt); err != nil {
		return classify("update leg", err)
	}
	if err = tx.Commit(); err != nil {
		return classify("commit settlement", err)
	}
	return nil
}

const selectLegs = `
	SELECT id, parlay_id, account_id, odd_id, position, bet_type, stake, odd_value,
		potential_payout, state, created_at, settled_at
	FROM wager_legs`

type scanner interface {
	Scan(dest ...any) error
}

func scanLeg(row scanner) (Leg, error) {
	var (
		l         Leg
		state     string
		settledAt sql.NullTime
	)
	if err := row.Scan(&l.ID, &l.ParlayID, &l.AccountID, &l.OddID, &l.Position, &l.BetType,
		&l.Stake, &l.OddValue, &l.PotentialPayout, &state, &l.CreatedAt, &settledAt); err != nil {
		return Leg{}, err
	}
	l.State = LegState(state)
	l.SettledAt = timePtr(settledAt)
	return l, nil
}

func (p *PostgresStore) queryLegs(ctx context.Context, query string, arg any) ([]Leg, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select legs: %w", err)
	}
	defer rows.Close()

	var out []Leg
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// classify trata falhas de serialização como perda do compare-and-set.
func classify(what string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == "40001" || pqErr.Code == "40P01") {
		return fmt.Errorf("%s: %w (%s)", what, ErrVersionConflict, pqErr.Code)
	}
	return fmt.Errorf("%s: %w", what, err)
}
