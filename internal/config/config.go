// Package config loads simulator configuration from YAML, with named
// profile overrides merged on top of a base configuration.
package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Scenario   ScenarioConfig   `yaml:"scenario"`
	Trace      TraceConfig      `yaml:"trace"`
	Inet       InetConfig       `yaml:"inet"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// ScenarioConfig parameterizes one EMMA scenario run.
type ScenarioConfig struct {
	Regions             []string `yaml:"regions"`
	ClientsPerGroup     int      `yaml:"clients_per_group"`
	PublishersPerClient int      `yaml:"publishers_per_client"`
	PublishIntervalMs   float64  `yaml:"publish_interval_ms"`
	ActionIntervalMin   int      `yaml:"action_interval_min"`
	Minutes             int      `yaml:"minutes"`
	Vivaldi             bool     `yaml:"vivaldi"`
	EnableAck           bool     `yaml:"enable_ack"`
	PingAllBrokers      bool     `yaml:"ping_all_brokers"`
	QoSMonitoring       bool     `yaml:"qos_monitoring"`
	Seed                uint64   `yaml:"seed"`
}

type TraceConfig struct {
	Path    string `yaml:"path"`
	History bool   `yaml:"history"`
}

// InetConfig selects the stored latency dataset backing the inter-region
// topology. An empty source falls back to built-in latencies.
type InetConfig struct {
	Source string `yaml:"source"`
	Dir    string `yaml:"dir"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type SimulationConfig struct {
	MaxBatchSize int `yaml:"max_batch_size"`
}

// Default returns the configuration of the reference EMMA experiment:
// three regions, ten clients per group, one publisher per client.
func Default() Config {
	return Config{
		Scenario: ScenarioConfig{
			Regions: []string{
				"internet_eu-west-1",
				"internet_eu-central-1",
				"internet_us-east-1",
			},
			ClientsPerGroup:     10,
			PublishersPerClient: 1,
			PublishIntervalMs:   100,
			ActionIntervalMin:   1,
			Minutes:             10,
			EnableAck:           true,
			Seed:                1,
		},
		Simulation: SimulationConfig{MaxBatchSize: 20},
	}
}

// Load reads a configuration file. Fields absent from the file keep their
// defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
