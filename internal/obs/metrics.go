package obs

import (
	"sync"
	"sync/atomic"
	"time"

	"execution-core/internal/schema"
)

// Stage indexes the pipeline stages for counters and latency tracking.
type Stage int

const (
	StageIntake Stage = iota
	StageValidate
	StageRisk
	StageRoute
	StageDispatch
	StageEvent
	StagePostTrade
	StageHandoff

	stageCount
)

func (s Stage) String() string {
	switch s {
	case StageIntake:
		return "intake"
	case StageValidate:
		return "validate"
	case StageRisk:
		return "risk"
	case StageRoute:
		return "route"
	case StageDispatch:
		return "dispatch"
	case StageEvent:
		return "event"
	case StagePostTrade:
		return "post_trade"
	case StageHandoff:
		return "handoff"
	default:
		return "unknown"
	}
}

// Metrics collects lightweight counters and latency stats for the
// pipeline.
type Metrics struct {
	stageCounts     [stageCount]uint64
	stageLatency    [stageCount]LatencyStats
	pipelineLatency LatencyStats
	dispatchRetries uint64
	queueDrops      uint64

	mu           sync.Mutex
	reasonCounts map[schema.ReasonCode]uint64
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	StageCounts     map[string]uint64
	StageLatency    map[string]LatencySnapshot
	ReasonCounts    map[schema.ReasonCode]uint64
	PipelineLatency LatencySnapshot
	DispatchRetries uint64
	QueueDrops      uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{reasonCounts: make(map[schema.ReasonCode]uint64)}
}

// ObserveStage records one traversal of a stage and its latency.
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil || stage < 0 || stage >= stageCount {
		return
	}
	atomic.AddUint64(&m.stageCounts[stage], 1)
	m.stageLatency[stage].Observe(d)
}

// ObservePipeline records end-to-end pipeline latency.
func (m *Metrics) ObservePipeline(d time.Duration) {
	if m == nil {
		return
	}
	m.pipelineLatency.Observe(d)
}

// IncReason increments the failure counter for a reason code.
func (m *Metrics) IncReason(code schema.ReasonCode) {
	if m == nil || code == schema.ReasonNone {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reasonCounts[code]++
}

// IncDispatchRetry records one dispatch retry attempt.
func (m *Metrics) IncDispatchRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.dispatchRetries, 1)
}

// IncQueueDrop records an archive queue drop.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	stageCounts := make(map[string]uint64)
	stageLatency := make(map[string]LatencySnapshot)
	for i := Stage(0); i < stageCount; i++ {
		if v := atomic.LoadUint64(&m.stageCounts[i]); v > 0 {
			stageCounts[i.String()] = v
			stageLatency[i.String()] = m.stageLatency[i].Snapshot()
		}
	}
	reasons := make(map[schema.ReasonCode]uint64)
	m.mu.Lock()
	for code, count := range m.reasonCounts {
		reasons[code] = count
	}
	m.mu.Unlock()
	return Snapshot{
		StageCounts:     stageCounts,
		StageLatency:    stageLatency,
		ReasonCounts:    reasons,
		PipelineLatency: m.pipelineLatency.Snapshot(),
		DispatchRetries: atomic.LoadUint64(&m.dispatchRetries),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
