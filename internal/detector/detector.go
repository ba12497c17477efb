// Package detector performs the all-pairs price comparison and fee-adjusted
// profit scoring for one trading pair across venues.
package detector

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// Config holds the fee model and filter parameters.
type Config struct {
	// TradingFeePct is the fixed trading fee per leg, in percent.
	TradingFeePct float64
	// SlippageGapFraction is the slippage estimate as a fraction of the
	// gross gap (default 0.1).
	SlippageGapFraction float64
	// MinLiquidityUSD is the liquidity floor below which opportunities are
	// discarded.
	MinLiquidityUSD float64
}

// Detector scores price gaps between venue quotes of a single pair.
type Detector struct {
	cfg    Config
	gas    domain.GasEstimator
	logger *slog.Logger
}

// New creates a detector with the given fee model and gas estimator.
func New(cfg Config, gas domain.GasEstimator, logger *slog.Logger) *Detector {
	if cfg.SlippageGapFraction == 0 {
		cfg.SlippageGapFraction = 0.1
	}
	return &Detector{
		cfg:    cfg,
		gas:    gas,
		logger: logger.With(slog.String("component", "detector")),
	}
}

// Detect runs three comparison passes over the pair's quotes — within
// centralized venues, within decentralized venues, and every centralized ×
// decentralized combination — and returns the viable opportunities sorted by
// descending net profit (stable: equal profits keep discovery order).
//
// For each venue pair the gross gap is |a−b| / min(a,b) × 100 and the cheaper
// leg is the buy side. Gaps below thresholdPct are skipped before any fee
// computation. An opportunity is emitted only when net profit is strictly
// positive and liquidityUSD meets the configured floor.
func (d *Detector) Detect(
	ctx context.Context,
	pairKey string,
	quotes []domain.VenueQuote,
	thresholdPct float64,
	liquidityUSD float64,
) []domain.ArbitrageOpportunity {
	var cex, dex []domain.VenueQuote
	for _, q := range quotes {
		if q.Price <= 0 {
			continue
		}
		if q.Kind == domain.VenueDecentralized {
			dex = append(dex, q)
		} else {
			cex = append(cex, q)
		}
	}

	var opps []domain.ArbitrageOpportunity
	opps = append(opps, d.compareWithin(ctx, pairKey, cex, domain.CompareCEXCEX, thresholdPct, liquidityUSD)...)
	opps = append(opps, d.compareWithin(ctx, pairKey, dex, domain.CompareDEXDEX, thresholdPct, liquidityUSD)...)
	opps = append(opps, d.compareAcross(ctx, pairKey, cex, dex, thresholdPct, liquidityUSD)...)

	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].NetProfitPct > opps[j].NetProfitPct
	})
	return opps
}

// compareWithin scans every unordered pair inside one venue category.
func (d *Detector) compareWithin(
	ctx context.Context,
	pairKey string,
	quotes []domain.VenueQuote,
	typ domain.ComparisonType,
	thresholdPct, liquidityUSD float64,
) []domain.ArbitrageOpportunity {
	var opps []domain.ArbitrageOpportunity
	for i := 0; i < len(quotes); i++ {
		for j := i + 1; j < len(quotes); j++ {
			if opp, ok := d.score(ctx, pairKey, typ, quotes[i], quotes[j], thresholdPct, liquidityUSD); ok {
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// compareAcross scans every centralized × decentralized combination.
func (d *Detector) compareAcross(
	ctx context.Context,
	pairKey string,
	cex, dex []domain.VenueQuote,
	thresholdPct, liquidityUSD float64,
) []domain.ArbitrageOpportunity {
	var opps []domain.ArbitrageOpportunity
	for _, c := range cex {
		for _, x := range dex {
			if opp, ok := d.score(ctx, pairKey, domain.CompareCEXDEX, c, x, thresholdPct, liquidityUSD); ok {
				opps = append(opps, opp)
			}
		}
	}
	return opps
}

// score computes the gross gap between two quotes and, when it clears the
// threshold, the fee-adjusted net profit. Sub-threshold gaps, non-positive
// net profit, and insufficient liquidity are normal filtering outcomes, not
// errors.
func (d *Detector) score(
	ctx context.Context,
	pairKey string,
	typ domain.ComparisonType,
	a, b domain.VenueQuote,
	thresholdPct, liquidityUSD float64,
) (domain.ArbitrageOpportunity, bool) {
	buy, sell := a, b
	if b.Price < a.Price {
		buy, sell = b, a
	}
	if buy.Price <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}

	gapPct := (sell.Price - buy.Price) / buy.Price * 100
	if gapPct < thresholdPct {
		return domain.ArbitrageOpportunity{}, false
	}

	fees := domain.FeeBreakdown{
		TradingFeePct: d.cfg.TradingFeePct * 2, // both legs
		SlippagePct:   gapPct * d.cfg.SlippageGapFraction,
		GasFeePct:     d.gasFor(ctx, buy) + d.gasFor(ctx, sell),
	}

	netProfit := gapPct - fees.Total()
	if netProfit <= 0 {
		return domain.ArbitrageOpportunity{}, false
	}
	if liquidityUSD < d.cfg.MinLiquidityUSD {
		d.logger.DebugContext(ctx, "opportunity below liquidity floor",
			slog.String("pair", pairKey),
			slog.Float64("liquidity_usd", liquidityUSD),
			slog.Float64("floor_usd", d.cfg.MinLiquidityUSD),
		)
		return domain.ArbitrageOpportunity{}, false
	}

	opp := domain.ArbitrageOpportunity{
		ID:           uuid.Must(uuid.NewRandom()).String(),
		PairKey:      pairKey,
		Type:         typ,
		BuyVenue:     buy.VenueID,
		BuyPrice:     buy.Price,
		SellVenue:    sell.VenueID,
		SellPrice:    sell.Price,
		GrossGapPct:  gapPct,
		Fees:         fees,
		NetProfitPct: netProfit,
		LiquidityUSD: liquidityUSD,
		DetectedAt:   time.Now().UTC(),
	}

	d.logger.DebugContext(ctx, "opportunity detected",
		slog.String("pair", pairKey),
		slog.String("type", string(typ)),
		slog.String("buy", buy.VenueID),
		slog.String("sell", sell.VenueID),
		slog.Float64("gap_pct", gapPct),
		slog.Float64("net_profit_pct", netProfit),
	)
	return opp, true
}

// gasFor returns the chain-gas estimate for one leg, zero for centralized
// legs. Estimator failures degrade to zero rather than dropping the
// comparison.
func (d *Detector) gasFor(ctx context.Context, q domain.VenueQuote) float64 {
	if q.Kind != domain.VenueDecentralized || d.gas == nil {
		return 0
	}
	pct, err := d.gas.Estimate(ctx, q.Chain)
	if err != nil {
		d.logger.WarnContext(ctx, "gas estimate failed",
			slog.String("chain", q.Chain),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return pct
}
