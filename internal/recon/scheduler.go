package recon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"execution-core/internal/audit"
	"execution-core/internal/ledger"
	"execution-core/internal/schema"
)

// Fetcher obtains the external snapshot from the venue collaborator.
type Fetcher interface {
	Fetch(ctx context.Context) (ExternalSnapshot, error)
}

// SchedulerConfig controls the periodic reconciliation job.
type SchedulerConfig struct {
	Interval  time.Duration
	TopN      int
	SessionID string
}

// Scheduler runs reconciliation out-of-band on a ticker. Each run reads a
// consistent ledger snapshot, fetches the external snapshot and emits the
// summary to the audit log. It never competes with the pipeline for write
// locks.
type Scheduler struct {
	cfg      SchedulerConfig
	engine   *Engine
	log      *audit.Log
	fetcher  Fetcher
	snapshot func() ledger.Snapshot
}

// NewScheduler creates a reconciliation scheduler. The snapshot function
// must return a point-in-time copy of ledger state.
func NewScheduler(cfg SchedulerConfig, engine *Engine, log *audit.Log, fetcher Fetcher, snapshot func() ledger.Snapshot) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	return &Scheduler{
		cfg:      cfg,
		engine:   engine,
		log:      log,
		fetcher:  fetcher,
		snapshot: snapshot,
	}
}

// Run loops until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			summary, err := s.RunOnce(ctx)
			if err != nil {
				logs.Errorf("reconciliation run, err: %+v", err)
				continue
			}
			if summary.HasFail || summary.HasCritical {
				logs.Warnf("reconciliation run %s: %d diffs, max severity %s",
					summary.RunID, summary.TotalDiffs, summary.MaxSeverity)
			}
		}
	}
}

// RunOnce executes a single reconciliation pass and emits the result.
func (s *Scheduler) RunOnce(ctx context.Context) (schema.ReconSummary, error) {
	external, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return schema.ReconSummary{}, err
	}
	diffs, err := s.engine.Reconcile(s.snapshot(), external)
	if err != nil {
		return schema.ReconSummary{}, err
	}
	summary := s.engine.CreateSummary(uuid.NewString(), s.cfg.SessionID, diffs, s.cfg.TopN)
	if err := s.log.AppendReconSummary(summary); err != nil {
		return schema.ReconSummary{}, err
	}
	return summary, nil
}
