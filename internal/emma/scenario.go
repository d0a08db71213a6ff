package emma

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/blocks"
	"github.com/emmalab/fogsim/internal/config"
	"github.com/emmalab/fogsim/internal/inet"
	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
	"github.com/emmalab/fogsim/internal/topology"
)

// builtinRegionLatencies approximates inter-region one-way latencies in
// milliseconds for runs without a stored dataset, derived from public
// cloud measurements.
var builtinRegionLatencies = map[[2]string]float64{
	{"internet_eu-west-1", "internet_eu-central-1"}: 12.5,
	{"internet_eu-west-1", "internet_us-east-1"}:    37.8,
	{"internet_eu-central-1", "internet_us-east-1"}: 44.5,
}

const defaultRegionLatency = 50.0

// BuildTopology creates the inter-region backbone for a scenario: either
// the stored dataset named in the config, or built-in latencies between the
// configured regions.
func BuildTopology(cfg *config.Config, rng *rand.Rand) (*topology.Topology, error) {
	topo := topology.New(rng)
	if cfg.Inet.Source != "" {
		if err := inet.LoadLatest(topo, cfg.Inet.Source, cfg.Inet.Dir); err != nil {
			return nil, err
		}
		return topo, nil
	}

	regions := cfg.Scenario.Regions
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			lat, ok := builtinRegionLatencies[[2]string{regions[i], regions[j]}]
			if !ok {
				lat, ok = builtinRegionLatencies[[2]string{regions[j], regions[i]}]
			}
			if !ok {
				lat = defaultRegionLatency
			}
			topo.AddLatencyEdge(netem.Relay(regions[i]), netem.Relay(regions[j]), lat)
			topo.AddLatencyEdge(netem.Relay(regions[j]), netem.Relay(regions[i]), lat)
		}
	}
	return topo, nil
}

// Scenario drives the EMMA experiment over simulated time: brokers and
// client groups appear region by region, a broker shuts down again, and the
// coordinator keeps reassigning clients throughout.
type Scenario struct {
	cfg   config.ScenarioConfig
	env   *sim.Environment
	topo  *topology.Topology
	proto *protocol.Protocol
	namer *blocks.Namer

	brokers     *BrokerList
	clients     *ClientList
	coordinator *CoordinatorProcess
}

// NewScenario sets up the scenario over a prebuilt inter-region topology
// and schedules the orchestration process. Run drives it to the horizon.
func NewScenario(env *sim.Environment, topo *topology.Topology, proto *protocol.Protocol, cfg config.ScenarioConfig) *Scenario {
	s := &Scenario{
		cfg:     cfg,
		env:     env,
		topo:    topo,
		proto:   proto,
		namer:   blocks.NewNamer(),
		brokers: NewBrokerList(),
		clients: NewClientList(),
	}
	env.Process("scenario", s.orchestrate)
	return s
}

// Brokers returns the broker membership.
func (s *Scenario) Brokers() *BrokerList { return s.brokers }

// Clients returns the spawned clients.
func (s *Scenario) Clients() *ClientList { return s.clients }

// Protocol returns the protocol the scenario communicates over.
func (s *Scenario) Protocol() *protocol.Protocol { return s.proto }

// Now returns the current virtual time in milliseconds.
func (s *Scenario) Now() float64 { return s.env.Now() }

// region returns the i-th configured region, wrapping around for scenarios
// with fewer regions than the reference experiment.
func (s *Scenario) region(i int) string {
	return s.cfg.Regions[i%len(s.cfg.Regions)]
}

// SpawnBroker materializes a broker host uplinked to the region and starts
// its processes.
func (s *Scenario) SpawnBroker(region string) (*BrokerProcess, error) {
	name := s.namer.Next(region + "_broker")
	node := netem.NewNode(name)
	host := blocks.NewHost(node, netem.Relay(region))
	if err := host.Materialize(s.topo); err != nil {
		return nil, err
	}

	bp := NewBrokerProcess(s.env, s.proto, node, s.brokers, s.cfg.Vivaldi, s.env.Rand())
	s.env.Process(name, bp.Run)
	s.env.Process(name+" pub", bp.RunPubLoop)
	if s.cfg.Vivaldi {
		s.env.Process(name+" ping", func(p *sim.Proc) error {
			return bp.PingAll(p, s.brokers.RunningNodes)
		})
	}
	s.brokers.Add(bp)
	log.Infof("%-8.1f spawned broker %s", s.env.Now(), name)
	return bp, nil
}

// SpawnClient materializes a client host in the region, subscribes it to
// the topic, and starts the requested number of publishers.
func (s *Scenario) SpawnClient(region, topic string, publishers int) (*ClientProcess, error) {
	name := s.namer.Next(region + "_client")
	node := netem.NewNode(name)
	host := blocks.NewHost(node, netem.Relay(region))
	if err := host.Materialize(s.topo); err != nil {
		return nil, err
	}

	initial := s.brokers.All()[0].node
	cp := NewClientProcess(s.env, s.proto, node, initial, s.cfg.Vivaldi, s.env.Rand())
	s.env.Process(name, cp.Run)
	s.env.Process(name+" sub", func(p *sim.Proc) error {
		return cp.Subscribe(p, topic)
	})
	for i := 0; i < publishers; i++ {
		s.env.Process(fmt.Sprintf("%s publisher %d", name, i), func(p *sim.Proc) error {
			return cp.RunPublisher(p, topic, s.cfg.PublishIntervalMs)
		})
	}
	if s.cfg.Vivaldi {
		s.env.Process(name+" ping", cp.RunPingLoop)
	} else if s.cfg.PingAllBrokers {
		s.env.Process(name+" ping", func(p *sim.Proc) error {
			return cp.PingAll(p, s.brokers.RunningNodes)
		})
	}
	s.clients.Add(cp)
	return cp, nil
}

// SpawnClientGroup spawns a group of clients subscribed to the region's own
// topic.
func (s *Scenario) SpawnClientGroup(region string) error {
	for i := 0; i < s.cfg.ClientsPerGroup; i++ {
		if _, err := s.SpawnClient(region, region, s.cfg.PublishersPerClient); err != nil {
			return err
		}
	}
	return nil
}

// SpawnCoordinator attaches the coordinator to the home region and starts
// its reassignment sweep, plus QoS monitoring when configured.
func (s *Scenario) SpawnCoordinator() error {
	node := netem.NewNode("coordinator")
	if err := s.topo.AddConnection(netem.NewConnection(node, netem.Relay(s.region(1)), 0)); err != nil {
		return err
	}
	s.coordinator = NewCoordinatorProcess(s.env, s.topo, s.proto, node, s.clients, s.brokers, s.cfg.Vivaldi)
	s.env.Process("coordinator", s.coordinator.Run)
	if s.cfg.QoSMonitoring {
		s.env.Process("coordinator monitor", s.coordinator.RunMonitor)
	}
	return nil
}

func (s *Scenario) pause(p *sim.Proc) error {
	return p.Sleep(float64(s.cfg.ActionIntervalMin) * 60_000)
}

// orchestrate is the scenario timeline. Phase numbering follows the
// reference experiment: the global topic first, then client groups and
// brokers region by region, finally a client and a broker disappearing.
func (s *Scenario) orchestrate(p *sim.Proc) error {
	log.Infof("%-8.1f [0] spawn coordinator and initial broker", s.env.Now())
	if err := s.SpawnCoordinator(); err != nil {
		return err
	}
	if _, err := s.SpawnBroker(s.region(1)); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [1] topic global: publishers west and east, subscriber central", s.env.Now())
	if _, err := s.SpawnClient(s.region(0), "global", 1); err != nil {
		return err
	}
	centralClient, err := s.SpawnClient(s.region(1), "global", 0)
	if err != nil {
		return err
	}
	if _, err := s.SpawnClient(s.region(2), "global", 1); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [2] client group appears in %s", s.env.Now(), s.region(2))
	if err := s.SpawnClientGroup(s.region(2)); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [3] broker spawns in %s", s.env.Now(), s.region(0))
	if _, err := s.SpawnBroker(s.region(0)); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [4] client group appears in %s", s.env.Now(), s.region(0))
	if err := s.SpawnClientGroup(s.region(0)); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [5] broker spawns in %s", s.env.Now(), s.region(2))
	eastBroker, err := s.SpawnBroker(s.region(2))
	if err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [6] broker spawns in %s", s.env.Now(), s.region(0))
	if _, err := s.SpawnBroker(s.region(0)); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [7] subscriber to topic global disappears in %s", s.env.Now(), s.region(1))
	if err := centralClient.Shutdown(p); err != nil {
		return err
	}
	if err := s.pause(p); err != nil {
		return err
	}

	log.Infof("%-8.1f [8] broker shuts down in %s", s.env.Now(), s.region(2))
	return eastBroker.Shutdown(p)
}

// Run advances the simulation minute by minute up to the configured
// horizon, logging progress.
func (s *Scenario) Run() {
	minutes := s.cfg.Minutes
	if minutes == 0 {
		minutes = s.cfg.ActionIntervalMin * 10
	}
	for i := 1; i <= minutes; i++ {
		s.env.Run(float64(i) * 60_000)
		log.WithFields(map[string]any{
			"minute":  i,
			"brokers": len(s.brokers.Running()),
			"clients": len(s.clients.All()),
		}).Debug("scenario progress")
	}
}
