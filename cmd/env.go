package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/correlate"
	"github.com/sells-group/hunter-cli/internal/fetcher"
	"github.com/sells-group/hunter-cli/internal/ingest"
	"github.com/sells-group/hunter-cli/internal/metrics"
	"github.com/sells-group/hunter-cli/internal/normalize"
	"github.com/sells-group/hunter-cli/internal/resilience"
	"github.com/sells-group/hunter-cli/internal/store"
)

// hunterEnv holds the store and services shared by the ingest, correlate
// and serve commands.
type hunterEnv struct {
	Store    store.Store
	Ingestor *ingest.Ingestor
	Service  *correlate.Service
	Metrics  *metrics.Metrics
	Location *time.Location
}

// Close releases resources held by the environment.
func (e *hunterEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initStore opens the configured store backend.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "hunter.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// ingestConfig maps the ingest config section onto ingest.Config.
func ingestConfig() ingest.Config {
	c := cfg.Ingest
	return ingest.Config{
		ChunkSize:            c.ChunkSize,
		ErrorCeiling:         c.ErrorCeiling,
		MinRowsForCeiling:    c.MinRowsForCeiling,
		MaxConcurrentFiles:   c.MaxConcurrentFiles,
		MaxReportedFailures:  c.MaxReportedFailures,
		MaxChunkWritesPerSec: c.MaxChunkWritesPerSec,
		Retry:                resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs),
	}
}

// correlateOptions maps the correlate config section onto correlate.Options.
func correlateOptions() correlate.Options {
	return correlate.Options{
		MinOccurrences:           cfg.Correlate.MinOccurrences,
		AttributeCounterpartCell: cfg.Correlate.AttributeCounterpartCell,
		ConfidenceSaturation:     cfg.Correlate.ConfidenceSaturation,
	}
}

// initEnv validates the config for mode, opens and migrates the store, and
// wires the ingestor and correlation service. reg may be nil. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string, reg prometheus.Registerer) (*hunterEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	set, err := normalize.LoadMappings(cfg.Ingest.MappingsPath)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var m *metrics.Metrics
	if reg != nil {
		m = metrics.New(reg)
	}

	opener := fetcher.NewOpener(
		fetcher.FTPOptions{Timeout: time.Duration(cfg.FTP.TimeoutSecs) * time.Second},
		fetcher.HTTPOptions{},
	)

	breakerCfg := resilience.FromCircuitConfig(cfg.Ingest.Breaker.FailureThreshold, cfg.Ingest.Breaker.ResetTimeoutSecs)
	breakerCfg.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("store circuit changed state",
			zap.String("component", "ingest"),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	breaker := resilience.NewCircuitBreaker(breakerCfg)

	ing := ingest.New(st, normalize.New(set, normalize.WithLocation(loc)), ingestConfig(),
		ingest.WithOpener(opener),
		ingest.WithCircuitBreaker(breaker),
		ingest.WithMetrics(m),
	)
	engine := correlate.NewEngine(st, correlateOptions(), correlate.WithMetrics(m))

	return &hunterEnv{
		Store:    st,
		Ingestor: ing,
		Service:  correlate.NewService(engine),
		Metrics:  m,
		Location: loc,
	}, nil
}
