// Package scheduler runs the periodic preservation sweeps: resealing
// chains before their tokens lapse, demoting aged documents to colder
// storage tiers, applying retention expiry actions and re-verifying chain
// integrity. Each sweep is batch-oriented; a failing item is recorded and
// skipped, never fatal to the sweep.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/evidentia/platform/internal/retention"
	"github.com/evidentia/platform/internal/shared/logger"
	"github.com/evidentia/platform/internal/shared/types"
)

// ChainSweeper runs the chain maintenance batches.
type ChainSweeper interface {
	ResealDueChains(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error)
	ReverifyChains(ctx context.Context, verifiedBefore time.Time, limit int) (*types.BatchResult, error)
}

// TierMigrator demotes aged documents to colder tiers.
type TierMigrator interface {
	MigrateTiers(ctx context.Context, now time.Time, limit int) (*types.BatchResult, error)
}

// ExpiryProcessor applies retention expiry actions.
type ExpiryProcessor interface {
	ProcessExpiryActions(ctx context.Context, store retention.ExpiryStore, now time.Time, limit int) (*retention.ExpiryReport, error)
}

// Config holds the sweep intervals and batch sizing.
type Config struct {
	ResealInterval    time.Duration
	MigrationInterval time.Duration
	ExpiryInterval    time.Duration
	ReverifyInterval  time.Duration

	// ReverifyAge is how stale a chain's last verification may get before
	// the periodic sweep picks it up again.
	ReverifyAge time.Duration

	// BatchLimit caps the number of items one sweep run processes.
	BatchLimit int
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		ResealInterval:    time.Hour,
		MigrationInterval: 6 * time.Hour,
		ExpiryInterval:    24 * time.Hour,
		ReverifyInterval:  12 * time.Hour,
		ReverifyAge:       30 * 24 * time.Hour,
		BatchLimit:        100,
	}
}

// Scheduler owns the background sweep loops.
type Scheduler struct {
	chains  ChainSweeper
	tiers   TierMigrator
	expiry  ExpiryProcessor
	store   retention.ExpiryStore
	cfg     Config
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// New creates a scheduler. Zero-valued config fields are filled from
// DefaultConfig.
func New(chains ChainSweeper, tiers TierMigrator, expiry ExpiryProcessor, store retention.ExpiryStore, cfg Config) *Scheduler {
	defaults := DefaultConfig()
	if cfg.ResealInterval <= 0 {
		cfg.ResealInterval = defaults.ResealInterval
	}
	if cfg.MigrationInterval <= 0 {
		cfg.MigrationInterval = defaults.MigrationInterval
	}
	if cfg.ExpiryInterval <= 0 {
		cfg.ExpiryInterval = defaults.ExpiryInterval
	}
	if cfg.ReverifyInterval <= 0 {
		cfg.ReverifyInterval = defaults.ReverifyInterval
	}
	if cfg.ReverifyAge <= 0 {
		cfg.ReverifyAge = defaults.ReverifyAge
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaults.BatchLimit
	}

	return &Scheduler{
		chains: chains,
		tiers:  tiers,
		expiry: expiry,
		store:  store,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start launches one loop per sweep. It returns immediately; Stop blocks
// until all loops have drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.loop(ctx, "reseal", s.cfg.ResealInterval, s.runReseal)
	s.loop(ctx, "tier_migration", s.cfg.MigrationInterval, s.runMigration)
	s.loop(ctx, "retention_expiry", s.cfg.ExpiryInterval, s.runExpiry)
	s.loop(ctx, "chain_reverify", s.cfg.ReverifyInterval, s.runReverify)
}

// Stop halts all sweep loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				started := time.Now()
				run(ctx)
				logger.L().Debugw("sweep finished",
					"sweep", name,
					"duration", time.Since(started),
				)
			}
		}
	}()
}

func (s *Scheduler) runReseal(ctx context.Context) {
	result, err := s.chains.ResealDueChains(ctx, time.Now().UTC(), s.cfg.BatchLimit)
	s.report("reseal", result, err)
}

func (s *Scheduler) runMigration(ctx context.Context) {
	result, err := s.tiers.MigrateTiers(ctx, time.Now().UTC(), s.cfg.BatchLimit)
	s.report("tier_migration", result, err)
}

func (s *Scheduler) runExpiry(ctx context.Context) {
	report, err := s.expiry.ProcessExpiryActions(ctx, s.store, time.Now().UTC(), s.cfg.BatchLimit)
	if err != nil {
		logger.L().Errorw("retention expiry sweep failed", "error", err)
		return
	}
	if report.Processed > 0 || len(report.Errors) > 0 {
		logger.L().Infow("retention expiry sweep",
			"processed", report.Processed,
			"archived", report.Archived,
			"deleted", report.Deleted,
			"extended", report.Extended,
			"notified", report.Notified,
			"failed", len(report.Errors),
		)
	}
}

func (s *Scheduler) runReverify(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.ReverifyAge)
	result, err := s.chains.ReverifyChains(ctx, cutoff, s.cfg.BatchLimit)
	s.report("chain_reverify", result, err)
}

func (s *Scheduler) report(sweep string, result *types.BatchResult, err error) {
	if err != nil {
		logger.L().Errorw("sweep failed", "sweep", sweep, "error", err)
		return
	}
	if result.Total > 0 {
		logger.L().Infow("sweep finished",
			"sweep", sweep,
			"total", result.Total,
			"processed", result.Processed,
			"failed", result.Failed,
		)
	}
}
