package config

import (
	"os"
	"sync"

	"gopkg.in/yaml.v2"
)

// ProfilesConfig holds named configuration overrides.
type ProfilesConfig struct {
	Profiles map[string]Config `yaml:"profiles"`
}

// Manager resolves the effective configuration for a profile by merging its
// overrides on top of the base configuration.
type Manager struct {
	base     *Config
	profiles map[string]Config
	mu       sync.RWMutex
}

// NewManager loads the base config and the optional profiles file. A
// missing profiles file just means no profiles.
func NewManager(basePath, profilesPath string) (*Manager, error) {
	base, err := Load(basePath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(profilesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manager{base: base, profiles: make(map[string]Config)}, nil
		}
		return nil, err
	}
	defer f.Close()

	var pc ProfilesConfig
	if err := yaml.NewDecoder(f).Decode(&pc); err != nil {
		return nil, err
	}

	return &Manager{base: base, profiles: pc.Profiles}, nil
}

// NewManagerFromConfig wraps an in-memory configuration without profiles.
func NewManagerFromConfig(base Config) *Manager {
	return &Manager{base: &base, profiles: make(map[string]Config)}
}

// Get returns the effective config for a profile. Zero-valued override
// sections keep the base values; an unknown profile returns the base.
func (m *Manager) Get(profile string) *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	effective := *m.base

	override, ok := m.profiles[profile]
	if !ok {
		return &effective
	}

	if len(override.Scenario.Regions) > 0 {
		effective.Scenario.Regions = override.Scenario.Regions
	}
	if override.Scenario.ClientsPerGroup != 0 {
		effective.Scenario.ClientsPerGroup = override.Scenario.ClientsPerGroup
	}
	if override.Scenario.PublishersPerClient != 0 {
		effective.Scenario.PublishersPerClient = override.Scenario.PublishersPerClient
	}
	if override.Scenario.PublishIntervalMs != 0 {
		effective.Scenario.PublishIntervalMs = override.Scenario.PublishIntervalMs
	}
	if override.Scenario.ActionIntervalMin != 0 {
		effective.Scenario.ActionIntervalMin = override.Scenario.ActionIntervalMin
	}
	if override.Scenario.Minutes != 0 {
		effective.Scenario.Minutes = override.Scenario.Minutes
	}
	if override.Scenario.Seed != 0 {
		effective.Scenario.Seed = override.Scenario.Seed
	}
	// booleans merge as-is: profiles state them explicitly
	effective.Scenario.Vivaldi = effective.Scenario.Vivaldi || override.Scenario.Vivaldi
	effective.Scenario.EnableAck = effective.Scenario.EnableAck || override.Scenario.EnableAck
	effective.Scenario.PingAllBrokers = effective.Scenario.PingAllBrokers || override.Scenario.PingAllBrokers
	effective.Scenario.QoSMonitoring = effective.Scenario.QoSMonitoring || override.Scenario.QoSMonitoring

	if override.Trace.Path != "" {
		effective.Trace = override.Trace
	}
	if override.Inet.Source != "" {
		effective.Inet = override.Inet
	}
	if override.Metrics.Addr != "" {
		effective.Metrics = override.Metrics
	}
	if override.Simulation.MaxBatchSize != 0 {
		effective.Simulation = override.Simulation
	}

	return &effective
}
