package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

const snapshotSelectCols = `pair_key, venue_id, network, price, volume_usd, observed_at`

func scanSnapshotRows(rows pgx.Rows) ([]domain.VenuePriceSnapshot, error) {
	var snaps []domain.VenuePriceSnapshot
	for rows.Next() {
		var s domain.VenuePriceSnapshot
		if err := rows.Scan(
			&s.PairKey, &s.VenueID, &s.Network,
			&s.Price, &s.VolumeUSD, &s.Timestamp,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// UpsertBatch writes snapshots using pgx Batch. A later observation for the
// same (pair, venue, network) replaces the earlier row.
func (s *SnapshotStore) UpsertBatch(ctx context.Context, snaps []domain.VenuePriceSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO venue_price_snapshots (
			pair_key, venue_id, network, price, volume_usd, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (pair_key, venue_id, network) DO UPDATE SET
			price = EXCLUDED.price,
			volume_usd = EXCLUDED.volume_usd,
			observed_at = EXCLUDED.observed_at`

	for _, snap := range snaps {
		batch.Queue(query,
			snap.PairKey, snap.VenueID, snap.Network,
			snap.Price, snap.VolumeUSD, snap.Timestamp,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range snaps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: upsert snapshot batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListByPair returns the snapshots for one pair, newest first.
func (s *SnapshotStore) ListByPair(ctx context.Context, pairKey string, opts domain.ListOpts) ([]domain.VenuePriceSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + ` FROM venue_price_snapshots WHERE pair_key = $1`
	args := []any{pairKey}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND observed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY observed_at DESC, venue_id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots by pair: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshotRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan snapshots by pair: %w", err)
	}
	return snaps, nil
}

// ListPairs returns the distinct pair keys with stored snapshots, most
// recently observed first.
func (s *SnapshotStore) ListPairs(ctx context.Context, opts domain.ListOpts) ([]string, error) {
	query := `
		SELECT pair_key FROM venue_price_snapshots
		GROUP BY pair_key
		ORDER BY MAX(observed_at) DESC`
	args := []any{}
	argIdx := 1

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshot pairs: %w", err)
	}
	defer rows.Close()

	var pairs []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("postgres: scan snapshot pair: %w", err)
		}
		pairs = append(pairs, key)
	}
	return pairs, rows.Err()
}

// ListBefore returns all snapshots observed strictly before the given time,
// oldest first, for archiving.
func (s *SnapshotStore) ListBefore(ctx context.Context, before time.Time) ([]domain.VenuePriceSnapshot, error) {
	query := `SELECT ` + snapshotSelectCols + `
		FROM venue_price_snapshots WHERE observed_at < $1 ORDER BY observed_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list snapshots before: %w", err)
	}
	defer rows.Close()
	return scanSnapshotRows(rows)
}

// DeleteBefore deletes snapshots observed before the given time and returns
// the number deleted.
func (s *SnapshotStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM venue_price_snapshots WHERE observed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete snapshots before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.SnapshotStore = (*SnapshotStore)(nil)
