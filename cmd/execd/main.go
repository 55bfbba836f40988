package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"execution-core/internal/archive"
	"execution-core/internal/audit"
	"execution-core/internal/bus"
	"execution-core/internal/ledger"
	"execution-core/internal/obs"
	"execution-core/internal/ops"
	"execution-core/internal/pipeline"
	"execution-core/internal/recon"
	"execution-core/internal/recorder"
	"execution-core/internal/risk"
	"execution-core/internal/schema"
	"execution-core/internal/venue"
	"execution-core/pkg/conn"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

// riskRef lets a config reload swap the risk hook under a running
// orchestrator.
type riskRef struct {
	v atomic.Value
}

func newRiskRef(hook risk.Hook) *riskRef {
	ref := &riskRef{}
	ref.v.Store(hook)
	return ref
}

func (r *riskRef) Evaluate(ctx context.Context, intent schema.OrderIntent) risk.Decision {
	return r.v.Load().(risk.Hook).Evaluate(ctx, intent)
}

func (r *riskRef) Update(hook risk.Hook) {
	r.v.Store(hook)
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	snapshotPath := flag.String("snapshot-path", "", "Position snapshot output (default: <wal-dir>/positions.json)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed: %+v", err)
		os.Exit(1)
	}

	if err := run(*configPath, *configReload, *snapshotPath, loaded); err != nil {
		logs.Errorf("execd failed: %+v", err)
		os.Exit(1)
	}
}

func run(configPath string, configReload time.Duration, snapshotPath string, loaded ops.Loaded) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	if loaded.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Profiling.ApplicationName,
			ServerAddress:   loaded.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	metrics := obs.NewMetrics()

	auditLog := audit.NewLog()
	writer, err := recorder.NewWriter(loaded.Recorder)
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
		return err
	}
	auditLog.AddSink(writer.Sink(func(err error) {
		metrics.IncQueueDrop()
		logs.Warnf("audit wal drop, err: %+v", err)
	}))

	group, groupCtx := errgroup.WithContext(ctx)

	var (
		queue    *bus.Queue
		pgClient *conn.Client
	)
	if loaded.Archive.Enabled {
		pgClient, err = conn.New(loaded.Archive.Conn)
		if err != nil {
			return err
		}
		defer pgClient.Close()
		archiver, err := archive.NewArchiver(pgClient, loaded.Archive.BatchSize, loaded.Archive.FlushInterval)
		if err != nil {
			return err
		}
		queue = bus.NewQueue(loaded.BusQueue)
		auditLog.AddSink(queue.Sink(func(err error) {
			metrics.IncQueueDrop()
			logs.Warnf("archive queue drop, err: %+v", err)
		}))
		group.Go(func() error {
			archiver.Run(groupCtx, queue)
			return nil
		})
	}

	orders := ledger.NewOrderLedger()
	positions := ledger.NewPositionLedger(loaded.Registry, loaded.InitialCash)

	venues := venue.NewRegistry()
	paper := venue.NewPaper(loaded.Registry)
	paper.SetFeeBps(loaded.Venue.FeeBps)
	for symbolID, price := range loaded.Venue.MarkPrices {
		paper.SetMarkPrice(symbolID, price)
	}
	venues.Register(schema.ExecutionModePaper, paper)
	venues.Register(schema.ExecutionModeShadow, venue.NewShadow())
	chaos, err := venue.NewChaos(paper, loaded.Venue.Chaos)
	if err != nil {
		return err
	}
	venues.Register(schema.ExecutionModeTestnet, chaos)

	hook := newRiskRef(risk.NewEngine(loaded.Risk, loaded.Registry, positions))

	orchestrator, err := pipeline.NewOrchestrator(loaded.Pipeline, pipeline.Deps{
		Registry:  loaded.Registry,
		Orders:    orders,
		Positions: positions,
		Audit:     auditLog,
		Risk:      hook,
		Venues:    venues,
		Metrics:   metrics,
	})
	if err != nil {
		return err
	}

	runtime := newRuntimeConfig(loaded)
	if configPath != "" && configReload > 0 {
		group.Go(func() error {
			watchConfig(groupCtx, configPath, configReload, func(next ops.Loaded) {
				runtime.Update(next)
				hook.Update(risk.NewEngine(next.Risk, next.Registry, positions))
			})
			return nil
		})
	}

	if loaded.ExternalSnapshot != "" {
		engine := recon.NewEngine(loaded.Registry, loaded.Thresholds)
		scheduler := recon.NewScheduler(loaded.Scheduler, engine, auditLog,
			fileFetcher{path: loaded.ExternalSnapshot},
			func() ledger.Snapshot { return positions.Snapshot(auditLog.LastSeq()) },
		)
		group.Go(func() error {
			if err := scheduler.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		publishIntents(groupCtx, orchestrator, runtime)
		return nil
	})

	err = group.Wait()

	if queue != nil {
		queue.Close()
	}
	err = multierr.Append(err, writer.Close())

	outPath := snapshotPath
	if outPath == "" {
		outPath = filepath.Join(loaded.Recorder.Dir, "positions.json")
	}
	err = multierr.Append(err, ledger.WriteSnapshot(outPath, positions.Snapshot(auditLog.LastSeq())))

	snapshot := metrics.Snapshot()
	logs.Infof("metrics: stages=%v reasons=%v pipeline=%+v dispatch_retries=%d queue_drops=%d",
		snapshot.StageCounts, snapshot.ReasonCounts, snapshot.PipelineLatency, snapshot.DispatchRetries, snapshot.QueueDrops)
	return err
}

// publishIntents drives the configured demo intents through the pipeline.
// Each repeat bumps the nonce so repeats are distinct decisions rather
// than idempotent duplicates.
func publishIntents(ctx context.Context, orchestrator *pipeline.Orchestrator, runtime *runtimeConfig) {
	for _, spec := range runtime.Load().Intents {
		for i := 0; i < spec.Repeat; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}
			intent := spec.Intent
			intent.Nonce += uint64(i)
			result := orchestrator.SubmitIntent(ctx, intent)
			if result.Success {
				logs.Infof("order %s %s filled=%d state=%s",
					result.Order.ClientOrderID, result.Order.Side, result.Order.FilledQty, result.Order.State)
			} else {
				logs.Warnf("order %s failed reason=%s detail=%s",
					result.Order.ClientOrderID, result.Reason, result.ReasonDetail)
			}
			if spec.Interval > 0 && i < spec.Repeat-1 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(spec.Interval):
				}
			}
		}
	}
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logs.Warnf("config stat failed: %+v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				logs.Warnf("config reload failed: %+v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			logs.Infof("config reloaded: %s", path)
		}
	}
}

// fileFetcher reads the external snapshot from disk on every run so an
// operator can drop a fresh venue export without restarting.
type fileFetcher struct {
	path string
}

func (f fileFetcher) Fetch(_ context.Context) (recon.ExternalSnapshot, error) {
	return recon.ReadExternalSnapshot(f.path)
}
