// Package gasfee estimates the on-chain cost of a swap leg as a percentage of
// trade notional, using each chain's JSON-RPC gas price via go-ethereum.
package gasfee

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/arbscan/internal/domain"
)

// ChainParams holds the per-chain inputs for converting a gas quote into a
// percent-of-notional figure.
type ChainParams struct {
	RPCURL    string
	NativeUSD float64 // approximate USD price of the chain's native token
}

// Config tunes the estimator.
type Config struct {
	Chains             map[string]ChainParams
	AssumedNotionalUSD float64
	GasUnitsPerSwap    uint64
	CacheTTL           time.Duration
	// FallbackPct is returned when a chain is unknown or its RPC fails.
	FallbackPct float64
}

// rpcClient is the slice of an RPC client the estimator uses.
type rpcClient interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	Close()
}

func dialEthclient(ctx context.Context, rpcURL string) (rpcClient, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

// Estimator implements domain.GasEstimator. Gas prices are fetched lazily per
// chain and cached for a short TTL so repeated detections in one cycle do not
// hammer the RPC endpoints.
type Estimator struct {
	cfg    Config
	logger *slog.Logger
	dial   func(ctx context.Context, rpcURL string) (rpcClient, error)

	mu      sync.Mutex
	clients map[string]rpcClient
	cache   map[string]cachedEstimate
}

type cachedEstimate struct {
	pct     float64
	fetched time.Time
}

// New creates a gas-fee estimator for the configured chains.
func New(cfg Config, logger *slog.Logger) *Estimator {
	if cfg.GasUnitsPerSwap == 0 {
		cfg.GasUnitsPerSwap = 180_000
	}
	if cfg.AssumedNotionalUSD <= 0 {
		cfg.AssumedNotionalUSD = 10_000
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 2 * time.Minute
	}
	return &Estimator{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "gas_estimator")),
		dial:    dialEthclient,
		clients: make(map[string]rpcClient),
		cache:   make(map[string]cachedEstimate),
	}
}

// Estimate returns the estimated gas cost of one swap on the given chain, in
// percent of the assumed trade notional. Unknown chains and RPC failures fall
// back to the configured flat percentage rather than failing the detection.
func (e *Estimator) Estimate(ctx context.Context, chain string) (float64, error) {
	e.mu.Lock()
	if hit, ok := e.cache[chain]; ok && time.Since(hit.fetched) < e.cfg.CacheTTL {
		e.mu.Unlock()
		return hit.pct, nil
	}
	e.mu.Unlock()

	params, ok := e.cfg.Chains[chain]
	if !ok || params.RPCURL == "" || params.NativeUSD <= 0 {
		return e.cfg.FallbackPct, nil
	}

	pct, err := e.fetch(ctx, chain, params)
	if err != nil {
		e.logger.WarnContext(ctx, "gas price fetch failed, using fallback",
			slog.String("chain", chain),
			slog.String("error", err.Error()),
		)
		return e.cfg.FallbackPct, nil
	}

	e.mu.Lock()
	e.cache[chain] = cachedEstimate{pct: pct, fetched: time.Now()}
	e.mu.Unlock()

	return pct, nil
}

// fetch queries the chain's suggested gas price and converts it:
//
//	costUSD = gasUnits * gasPriceWei / 1e18 * nativeUSD
//	pct     = costUSD / assumedNotionalUSD * 100
func (e *Estimator) fetch(ctx context.Context, chain string, params ChainParams) (float64, error) {
	client, err := e.client(ctx, chain, params.RPCURL)
	if err != nil {
		return 0, err
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		// Close and drop the client so the next call re-dials.
		e.mu.Lock()
		if c, ok := e.clients[chain]; ok {
			c.Close()
			delete(e.clients, chain)
		}
		e.mu.Unlock()
		return 0, fmt.Errorf("gasfee: suggest gas price %s: %w", chain, err)
	}

	costWei := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(e.cfg.GasUnitsPerSwap))
	costNative, _ := new(big.Float).Quo(
		new(big.Float).SetInt(costWei),
		big.NewFloat(1e18),
	).Float64()

	costUSD := costNative * params.NativeUSD
	return costUSD / e.cfg.AssumedNotionalUSD * 100, nil
}

// client returns the cached RPC client for a chain, dialing on first use.
func (e *Estimator) client(ctx context.Context, chain, rpcURL string) (rpcClient, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[chain]; ok {
		return c, nil
	}
	c, err := e.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("gasfee: dial %s: %w", chain, err)
	}
	e.clients[chain] = c
	return c, nil
}

// Close releases all RPC connections.
func (e *Estimator) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for chain, c := range e.clients {
		c.Close()
		delete(e.clients, chain)
	}
}

// Compile-time interface check.
var _ domain.GasEstimator = (*Estimator)(nil)
