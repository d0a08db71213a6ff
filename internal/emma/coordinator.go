package emma

import (
	"math"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
	"github.com/emmalab/fogsim/internal/topology"
)

const (
	coordinatorInterval = 15_000 // ms
	reconnectHysteresis = 0.1
)

// latencyGroupBounds partitions broker latencies into quality groups, in
// milliseconds. Brokers within the same group are considered equally close.
var latencyGroupBounds = []float64{0, 2, 5, 10, 20, 50, 100, 200, 500, 1000, math.Inf(1)}

// ClientList is the growing set of clients a coordinator supervises.
type ClientList struct {
	procs []*ClientProcess
}

func NewClientList() *ClientList {
	return &ClientList{}
}

func (l *ClientList) Add(c *ClientProcess) {
	l.procs = append(l.procs, c)
}

// All returns every client in spawn order.
func (l *ClientList) All() []*ClientProcess {
	return l.procs
}

// CoordinatorProcess periodically reassigns clients to brokers: each cycle
// it finds the brokers in a client's lowest latency group and moves the
// client to the least loaded one, unless hysteresis says the improvement is
// too small to be worth the migration.
type CoordinatorProcess struct {
	env     *sim.Environment
	topo    *topology.Topology
	proto   *protocol.Protocol
	node    *netem.Node
	clients *ClientList
	brokers *BrokerList

	// useCoordinates switches candidate selection to Vivaldi coordinate
	// distances; the optimal broker reported alongside is always computed
	// from sampled latencies.
	useCoordinates bool
}

// NewCoordinatorProcess creates a coordinator on node. The node must be
// connected to the topology before the process first runs.
func NewCoordinatorProcess(env *sim.Environment, topo *topology.Topology, proto *protocol.Protocol,
	node *netem.Node, clients *ClientList, brokers *BrokerList, useCoordinates bool) *CoordinatorProcess {
	return &CoordinatorProcess{
		env:            env,
		topo:           topo,
		proto:          proto,
		node:           node,
		clients:        clients,
		brokers:        brokers,
		useCoordinates: useCoordinates,
	}
}

// Node returns the node the coordinator communicates from.
func (c *CoordinatorProcess) Node() *netem.Node { return c.node }

// Run sweeps all clients every interval, issuing reconnects.
func (c *CoordinatorProcess) Run(p *sim.Proc) error {
	for {
		if err := c.sweep(p); err != nil {
			return err
		}
		if err := p.Sleep(coordinatorInterval); err != nil {
			return err
		}
	}
}

// sweep evaluates one reassignment round. An empty lowest latency group
// ends the round early.
func (c *CoordinatorProcess) sweep(p *sim.Proc) error {
	for _, client := range c.clients.All() {
		if !client.Running() {
			continue
		}
		current := c.brokers.ByNode(client.Broker())

		optimalGroup, err := c.lowestLatencyGroup(client.Node(), false)
		if err != nil {
			return err
		}
		possibleGroup := optimalGroup
		if c.useCoordinates {
			possibleGroup, err = c.lowestLatencyGroup(client.Node(), true)
			if err != nil {
				return err
			}
		}
		if len(possibleGroup) == 0 {
			break
		}

		newBroker := leastLoaded(possibleGroup)
		optimal := leastLoaded(optimalGroup)
		if newBroker == current {
			continue
		}
		if containsBroker(possibleGroup, current) {
			var groupTotal int
			for _, b := range possibleGroup {
				groupTotal += b.TotalSubscribers()
			}
			delta := reconnectHysteresis * float64(groupTotal)
			if float64(newBroker.TotalSubscribers())+delta >= float64(current.TotalSubscribers()) {
				continue
			}
		}

		req := &protocol.ReconnectRequest{NewBroker: newBroker.node}
		if optimal != nil {
			req.OptimalBroker = optimal.node
		}
		if _, err := c.proto.Send(c.node, client.Node(), req); err != nil {
			return err
		}
		if c.proto.EnableAck {
			if _, err := c.proto.Receive(p, c.node, protocol.KindReconnectAck); err != nil {
				return err
			}
		}
	}
	return nil
}

// lowestLatencyGroup returns the running brokers in the first non-empty
// latency group relative to the node, preserving broker list order.
func (c *CoordinatorProcess) lowestLatencyGroup(node *netem.Node, useCoordinates bool) ([]*BrokerProcess, error) {
	running := c.brokers.Running()
	latencies := make([]float64, len(running))
	for i, b := range running {
		lat, err := c.topo.Latency(node, b.node, useCoordinates)
		if err != nil {
			return nil, err
		}
		latencies[i] = lat
	}

	for g := 0; g < len(latencyGroupBounds)-1; g++ {
		low, high := latencyGroupBounds[g], latencyGroupBounds[g+1]
		var group []*BrokerProcess
		for i, b := range running {
			if latencies[i] >= low && latencies[i] < high {
				group = append(group, b)
			}
		}
		if len(group) > 0 {
			return group, nil
		}
	}
	return nil, nil
}

// RunMonitor polls QoS measurements: every interval, each client reports
// its average RTT to every running broker.
func (c *CoordinatorProcess) RunMonitor(p *sim.Proc) error {
	for {
		for _, client := range c.clients.All() {
			if !client.Running() {
				continue
			}
			for _, broker := range c.brokers.Running() {
				req := &protocol.QoSRequest{Target: broker.node}
				if _, err := c.proto.Send(c.node, client.Node(), req); err != nil {
					return err
				}
				m, err := c.proto.Receive(p, c.node, protocol.KindQoSResponse)
				if err != nil {
					return err
				}
				log.Debugf("%-8.1f qos %s -> %s: %.2fms", c.env.Now(),
					client.Node(), broker.node, m.(*protocol.QoSResponse).AvgRTT)
			}
		}
		if err := p.Sleep(coordinatorInterval); err != nil {
			return err
		}
	}
}

// leastLoaded returns the broker with the fewest total subscribers, first
// wins on ties.
func leastLoaded(brokers []*BrokerProcess) *BrokerProcess {
	var best *BrokerProcess
	for _, b := range brokers {
		if best == nil || b.TotalSubscribers() < best.TotalSubscribers() {
			best = b
		}
	}
	return best
}

func containsBroker(brokers []*BrokerProcess, b *BrokerProcess) bool {
	for _, other := range brokers {
		if other == b {
			return true
		}
	}
	return false
}
