package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given
// connection pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

const opportunitySelectCols = `id, pair_key, comparison_type,
	buy_venue, buy_price, sell_venue, sell_price,
	gross_gap_pct, trading_fee_pct, slippage_pct, gas_fee_pct,
	net_profit_pct, liquidity_usd, analyzed, executed, detected_at`

func scanOpportunityRows(rows pgx.Rows) ([]domain.ArbitrageOpportunity, error) {
	var opps []domain.ArbitrageOpportunity
	for rows.Next() {
		var o domain.ArbitrageOpportunity
		var typ string
		if err := rows.Scan(
			&o.ID, &o.PairKey, &typ,
			&o.BuyVenue, &o.BuyPrice, &o.SellVenue, &o.SellPrice,
			&o.GrossGapPct, &o.Fees.TradingFeePct, &o.Fees.SlippagePct, &o.Fees.GasFeePct,
			&o.NetProfitPct, &o.LiquidityUSD, &o.Analyzed, &o.Executed, &o.DetectedAt,
		); err != nil {
			return nil, err
		}
		o.Type = domain.ComparisonType(typ)
		opps = append(opps, o)
	}
	return opps, rows.Err()
}

// InsertBatch inserts opportunities using pgx Batch. Re-inserting an ID is a
// no-op via ON CONFLICT DO NOTHING.
func (s *OpportunityStore) InsertBatch(ctx context.Context, opps []domain.ArbitrageOpportunity) error {
	if len(opps) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO arbitrage_opportunities (
			id, pair_key, comparison_type,
			buy_venue, buy_price, sell_venue, sell_price,
			gross_gap_pct, trading_fee_pct, slippage_pct, gas_fee_pct,
			net_profit_pct, liquidity_usd, analyzed, executed, detected_at
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7,
			$8, $9, $10, $11,
			$12, $13, $14, $15, $16
		) ON CONFLICT (id) DO NOTHING`

	for _, o := range opps {
		batch.Queue(query,
			o.ID, o.PairKey, string(o.Type),
			o.BuyVenue, o.BuyPrice, o.SellVenue, o.SellPrice,
			o.GrossGapPct, o.Fees.TradingFeePct, o.Fees.SlippagePct, o.Fees.GasFeePct,
			o.NetProfitPct, o.LiquidityUSD, o.Analyzed, o.Executed, o.DetectedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range opps {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert opportunity batch item %d: %w", i, err)
		}
	}
	return nil
}

// MarkAnalyzed flags one opportunity as analyzed. It returns
// domain.ErrNotFound when the ID does not exist.
func (s *OpportunityStore) MarkAnalyzed(ctx context.Context, id string) error {
	return s.markFlag(ctx, id, "analyzed")
}

// MarkExecuted flags one opportunity as executed. It returns
// domain.ErrNotFound when the ID does not exist.
func (s *OpportunityStore) MarkExecuted(ctx context.Context, id string) error {
	return s.markFlag(ctx, id, "executed")
}

func (s *OpportunityStore) markFlag(ctx context.Context, id, column string) error {
	// column is a constant chosen by the callers above, never user input.
	query := fmt.Sprintf(
		`UPDATE arbitrage_opportunities SET %s = TRUE WHERE id = $1`, column)
	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: mark %s %s: %w", column, id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListRecent returns the most recently detected opportunities.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.ArbitrageOpportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + opportunitySelectCols + `
		FROM arbitrage_opportunities ORDER BY detected_at DESC LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent opportunities: %w", err)
	}
	return opps, nil
}

// ListByPair returns opportunities for one pair, newest first.
func (s *OpportunityStore) ListByPair(ctx context.Context, pairKey string, opts domain.ListOpts) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM arbitrage_opportunities WHERE pair_key = $1`
	args := []any{pairKey}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND detected_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}

	query += " ORDER BY detected_at DESC"

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
		return nil, fmt.Errorf("postgres: list opportunities by pair: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities by pair: %w", err)
	}
	return opps, nil
}

// ListBefore returns all opportunities detected strictly before the given
// time, oldest first, for archiving.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunitySelectCols + `
		FROM arbitrage_opportunities WHERE detected_at < $1 ORDER BY detected_at ASC`
	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before: %w", err)
	}
	defer rows.Close()
	return scanOpportunityRows(rows)
}

// DeleteBefore deletes opportunities detected before the given time and
// returns the number deleted.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM arbitrage_opportunities WHERE detected_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Get returns one opportunity by ID, or domain.ErrNotFound.
func (s *OpportunityStore) Get(ctx context.Context, id string) (domain.ArbitrageOpportunity, error) {
	query := `SELECT ` + opportunitySelectCols + ` FROM arbitrage_opportunities WHERE id = $1`
	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return domain.ArbitrageOpportunity{}, fmt.Errorf("postgres: scan opportunity %s: %w", id, err)
	}
	if len(opps) == 0 {
		return domain.ArbitrageOpportunity{}, domain.ErrNotFound
	}
	return opps[0], nil
}

// Compile-time interface check.
var _ domain.OpportunityStore = (*OpportunityStore)(nil)
