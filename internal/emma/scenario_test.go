package emma

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmalab/fogsim/internal/config"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
)

func smallScenarioConfig() config.Config {
	cfg := config.Default()
	cfg.Scenario.ClientsPerGroup = 2
	cfg.Scenario.PublishIntervalMs = 1000
	cfg.Scenario.Minutes = 10
	cfg.Trace.History = true
	return cfg
}

func runScenario(t *testing.T, cfg config.Config) (*Scenario, map[string]int) {
	env := sim.NewEnvironment(cfg.Scenario.Seed)
	topo, err := BuildTopology(&cfg, env.Rand())
	require.NoError(t, err)

	proto := protocol.New(env, topo)
	proto.EnableAck = cfg.Scenario.EnableAck
	proto.EnableHistory()

	s := NewScenario(env, topo, proto, cfg.Scenario)
	s.Run()
	return s, countByKind(proto.History())
}

func TestScenarioRunsAllPhases(t *testing.T) {
	s, counts := runScenario(t, smallScenarioConfig())

	// four brokers spawn, the us-east one shuts down again
	assert.Len(t, s.Brokers().All(), 4)
	assert.Len(t, s.Brokers().Running(), 3)

	// three single clients plus two groups of two
	assert.Len(t, s.Clients().All(), 7)

	assert.Greater(t, counts["Sub"], 0)
	assert.Greater(t, counts["Pub"], 0)
	assert.Greater(t, counts["PubAck"], 0)
	assert.Greater(t, counts["ReconnectRequest"], 0, "broker shutdown reconnects its subscribers")
	assert.Greater(t, counts["Unsub"], 0, "the central client unsubscribes on shutdown")
	assert.Equal(t, 600_000.0, s.Now())
}

func TestScenarioShutDownBrokerHoldsNoSubscribers(t *testing.T) {
	s, _ := runScenario(t, smallScenarioConfig())

	for _, b := range s.Brokers().All() {
		if !b.Running() {
			assert.Equal(t, 0, b.TotalSubscribers())
		}
	}
	for _, c := range s.Clients().All() {
		if !c.Running() {
			continue
		}
		broker := s.Brokers().ByNode(c.Broker())
		require.NotNil(t, broker)
		assert.True(t, broker.Running(), "clients end up on running brokers")
	}
}

func TestScenarioDeterministicUnderFixedSeed(t *testing.T) {
	cfg := smallScenarioConfig()
	_, first := runScenario(t, cfg)
	_, second := runScenario(t, cfg)
	assert.Equal(t, first, second)
}

func TestRunnerBatch(t *testing.T) {
	cfg := smallScenarioConfig()
	cfg.Scenario.ClientsPerGroup = 1
	cfg.Scenario.Minutes = 3
	cfg.Trace.Path = t.TempDir()

	runner := NewRunner(config.NewManagerFromConfig(cfg), nil)
	results, err := runner.RunBatch(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NotEqual(t, results[0].ID, results[1].ID)
	assert.Equal(t, cfg.Scenario.Seed, results[0].Seed)
	assert.Equal(t, cfg.Scenario.Seed+1, results[1].Seed)

	for _, r := range results {
		assert.Equal(t, 180_000.0, r.SimulatedMs)
		assert.Greater(t, r.MessageCounts["Pub"], 0)

		info, err := os.Stat(r.TracePath)
		require.NoError(t, err)
		assert.Greater(t, info.Size(), int64(0))
	}
}

func TestRunnerBatchEnforcesLimit(t *testing.T) {
	cfg := smallScenarioConfig()
	cfg.Simulation.MaxBatchSize = 2

	runner := NewRunner(config.NewManagerFromConfig(cfg), nil)
	_, err := runner.RunBatch(context.Background(), "", 3)
	assert.ErrorContains(t, err, "exceeds profile limit")
}

func TestRunnerStopsOnCanceledContext(t *testing.T) {
	cfg := smallScenarioConfig()
	runner := NewRunner(config.NewManagerFromConfig(cfg), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := runner.RunBatch(ctx, "", 2)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
