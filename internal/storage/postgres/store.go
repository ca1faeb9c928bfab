package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangekeeper/internal/model"
)

// Store provides Postgres persistence for cycle history.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordCycle writes one cycle row plus a row per observed position.
func (s *Store) RecordCycle(ctx context.Context, snapshot model.CycleSnapshot) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO cycles (
			cycle, observed_at, actions, tx_hashes, created_at
		) VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (cycle)
		DO UPDATE SET
			observed_at = EXCLUDED.observed_at,
			actions = EXCLUDED.actions,
			tx_hashes = EXCLUDED.tx_hashes
	`,
		int64(snapshot.Cycle),
		snapshot.Timestamp,
		snapshot.Actions,
		snapshot.TxHashes,
	)

	for _, p := range snapshot.Positions {
		batch.Queue(`
			INSERT INTO position_snapshots (
				cycle, token_id, pool_address, tick_lower, tick_upper, liquidity,
				current_tick, in_range, percent_out, staked, earned, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
			ON CONFLICT (cycle, token_id)
			DO UPDATE SET
				pool_address = EXCLUDED.pool_address,
				tick_lower = EXCLUDED.tick_lower,
				tick_upper = EXCLUDED.tick_upper,
				liquidity = EXCLUDED.liquidity,
				current_tick = EXCLUDED.current_tick,
				in_range = EXCLUDED.in_range,
				percent_out = EXCLUDED.percent_out,
				staked = EXCLUDED.staked,
				earned = EXCLUDED.earned
		`,
			int64(snapshot.Cycle),
			p.TokenID,
			p.Pool,
			p.TickLower,
			p.TickUpper,
			p.Liquidity,
			p.CurrentTick,
			p.InRange,
			p.PercentOut,
			p.Staked,
			p.Earned,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < len(snapshot.Positions)+1; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// CycleHistory returns stored cycles observed at or after since, oldest
// first.
func (s *Store) CycleHistory(ctx context.Context, since time.Time) ([]model.CycleRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT cycle, observed_at, actions, tx_hashes
		FROM cycles
		WHERE observed_at >= $1
		ORDER BY cycle
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	var records []model.CycleRecord
	for rows.Next() {
		var rec model.CycleRecord
		var cycle int64
		if err := rows.Scan(&cycle, &rec.ObservedAt, &rec.Actions, &rec.TxHashes); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		rec.Cycle = uint64(cycle)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PositionHistory returns stored position observations at or after since,
// oldest first.
func (s *Store) PositionHistory(ctx context.Context, since time.Time) ([]model.PositionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.cycle, c.observed_at, p.token_id, p.pool_address,
		       p.tick_lower, p.tick_upper, p.liquidity, p.current_tick,
		       p.in_range, p.percent_out, p.staked, p.earned
		FROM position_snapshots p
		JOIN cycles c ON c.cycle = p.cycle
		WHERE c.observed_at >= $1
		ORDER BY p.cycle, p.token_id
	`, since)
	if err != nil {
		return nil, fmt.Errorf("query position snapshots: %w", err)
	}
	defer rows.Close()

	var records []model.PositionRecord
	for rows.Next() {
		var rec model.PositionRecord
		var cycle int64
		if err := rows.Scan(&cycle, &rec.ObservedAt,
			&rec.Position.TokenID, &rec.Position.Pool,
			&rec.Position.TickLower, &rec.Position.TickUpper,
			&rec.Position.Liquidity, &rec.Position.CurrentTick,
			&rec.Position.InRange, &rec.Position.PercentOut,
			&rec.Position.Staked, &rec.Position.Earned,
		); err != nil {
			return nil, fmt.Errorf("scan position snapshot: %w", err)
		}
		rec.Cycle = uint64(cycle)
		records = append(records, rec)
	}
	return records, rows.Err()
}
