package emma

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/emmalab/fogsim/internal/config"
	"github.com/emmalab/fogsim/internal/metrics"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
)

// RunResult summarizes one completed simulation run.
type RunResult struct {
	ID          string
	Profile     string
	Seed        uint64
	SimulatedMs float64
	Duration    time.Duration

	// MessageCounts maps message type to number sent. Filled when the run
	// records history.
	MessageCounts map[string]int

	// TracePath is the CSV trace written for this run, empty when tracing
	// is off.
	TracePath string
}

// Runner executes scenario runs for a configuration profile, optionally in
// batches with per-run seeds, traces, and metrics.
type Runner struct {
	manager *config.Manager
	metrics *metrics.Metrics
}

// NewRunner creates a runner. Metrics may be nil.
func NewRunner(manager *config.Manager, m *metrics.Metrics) *Runner {
	return &Runner{manager: manager, metrics: m}
}

// Run executes a single run for the profile.
func (r *Runner) Run(profile string) (*RunResult, error) {
	cfg := r.manager.Get(profile)
	return r.runOne(cfg, profile, cfg.Scenario.Seed)
}

// RunBatch executes the scenario batchSize times with consecutive seeds.
// The batch size is capped by the profile's limit; a canceled context stops
// between runs and returns the results so far.
func (r *Runner) RunBatch(ctx context.Context, profile string, batchSize int) ([]*RunResult, error) {
	cfg := r.manager.Get(profile)

	if limit := cfg.Simulation.MaxBatchSize; limit > 0 && batchSize > limit {
		return nil, fmt.Errorf("batch size %d exceeds profile limit of %d", batchSize, limit)
	}

	results := make([]*RunResult, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result, err := r.runOne(cfg, profile, cfg.Scenario.Seed+uint64(i))
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *Runner) runOne(cfg *config.Config, profile string, seed uint64) (result *RunResult, err error) {
	runID := uuid.New().String()
	start := time.Now()
	defer func() {
		if r.metrics != nil {
			r.metrics.RecordRun(err == nil, time.Since(start).Seconds())
		}
	}()

	env := sim.NewEnvironment(seed)
	topo, err := BuildTopology(cfg, env.Rand())
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}

	proto := protocol.New(env, topo)
	proto.EnableAck = cfg.Scenario.EnableAck
	if cfg.Trace.History {
		proto.EnableHistory()
	}
	if r.metrics != nil {
		proto.AddSink(&metricsSink{metrics: r.metrics})
	}

	var tracePath string
	if cfg.Trace.Path != "" {
		if mkErr := os.MkdirAll(cfg.Trace.Path, 0o755); mkErr != nil {
			return nil, fmt.Errorf("run %s: %w", runID, mkErr)
		}
		tracePath = filepath.Join(cfg.Trace.Path, "trace_"+runID+".csv")
		f, createErr := os.Create(tracePath)
		if createErr != nil {
			return nil, fmt.Errorf("run %s: %w", runID, createErr)
		}
		defer f.Close()

		sink, sinkErr := protocol.NewCSVSink(f)
		if sinkErr != nil {
			return nil, fmt.Errorf("run %s: %w", runID, sinkErr)
		}
		defer func() {
			if flushErr := sink.Flush(); err == nil {
				err = flushErr
			}
		}()
		proto.AddSink(sink)
	}

	log.WithFields(map[string]any{
		"run":     runID,
		"profile": profile,
		"seed":    seed,
	}).Info("starting run")

	scenario := NewScenario(env, topo, proto, cfg.Scenario)
	scenario.Run()

	result = &RunResult{
		ID:          runID,
		Profile:     profile,
		Seed:        seed,
		SimulatedMs: env.Now(),
		Duration:    time.Since(start),
		TracePath:   tracePath,
	}
	if cfg.Trace.History {
		result.MessageCounts = countByKind(proto.History())
	}

	log.WithFields(map[string]any{
		"run":       runID,
		"simulated": result.SimulatedMs,
		"took":      result.Duration,
	}).Info("run complete")
	return result, nil
}

func countByKind(history []protocol.Message) map[string]int {
	counts := make(map[string]int, len(history))
	for _, m := range history {
		counts[m.Kind().String()]++
	}
	return counts
}

// metricsSink feeds sent messages into the Prometheus metrics.
type metricsSink struct {
	metrics *metrics.Metrics
}

func (s *metricsSink) Record(m protocol.Message) {
	s.metrics.RecordMessage(m.Kind().String(), int(m.Size()))
	if pub, ok := m.(*protocol.Pub); ok {
		s.metrics.RecordPubLatency(pub.E2ELatency)
	}
}
