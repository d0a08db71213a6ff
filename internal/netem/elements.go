// Package netem models the elements of an emulated network: compute nodes,
// bandwidth links, connections between them, routes, and TCP-like flows
// competing for link capacity under max-min fairness.
package netem

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/latency"
)

var (
	// ErrInvalidTopology marks structurally invalid network input, such as a
	// direct node-to-node connection or a route without hops.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrUnsetCoordinate is returned when a distance is requested from a
	// node that has no coordinate assigned.
	ErrUnsetCoordinate = errors.New("coordinate not set")

	// ErrZeroGoodput is fatal to a flow whose allocation collapses to zero.
	ErrZeroGoodput = errors.New("zero goodput")
)

// Vertex is an element of the topology graph: a compute *Node, a *Link
// carrying bandwidth, or a transparent Relay such as a switch or router.
type Vertex interface {
	isVertex()
}

// Relay is a helper vertex, e.g. a switch or router, that is counted in
// paths but contributes neither latency nor bandwidth.
type Relay string

func (Relay) isVertex() {}

func (r Relay) String() string { return string(r) }

// Coordinate is a synthetic network position supporting latency estimation.
type Coordinate interface {
	DistanceTo(other Coordinate) (float64, error)
}

// Capacity describes a node's compute resources.
type Capacity struct {
	CPUMillis int64 // CPU capacity in millicores
	Memory    int64 // memory in bytes
}

// DefaultCapacity is one core and one GiB of memory.
var DefaultCapacity = Capacity{CPUMillis: 1000, Memory: 1 << 30}

func (c Capacity) String() string {
	return fmt.Sprintf("Capacity(CPU: %d Memory: %d)", c.CPUMillis, c.Memory)
}

// Node is a machine in the network that can run compute tasks and exchange
// data with other nodes. Only Coordinate mutates after creation.
type Node struct {
	Name       string
	Capacity   Capacity
	Arch       string
	Labels     map[string]string
	Coordinate Coordinate
}

// NewNode creates a node with default capacity and architecture.
func NewNode(name string) *Node {
	return &Node{
		Name:     name,
		Capacity: DefaultCapacity,
		Arch:     "x86",
		Labels:   make(map[string]string),
	}
}

func (*Node) isVertex() {}

func (n *Node) String() string { return n.Name }

// DistanceTo estimates the RTT to other from the nodes' coordinates.
func (n *Node) DistanceTo(other *Node) (float64, error) {
	if n.Coordinate == nil {
		return 0, fmt.Errorf("%w: node %s", ErrUnsetCoordinate, n.Name)
	}
	if other.Coordinate == nil {
		return 0, fmt.Errorf("%w: node %s", ErrUnsetCoordinate, other.Name)
	}
	return n.Coordinate.DistanceTo(other.Coordinate)
}

// Connection is an edge in the topology. It represents a physical network
// connection, like a cable or the wireless association to an access point.
// One-way latency comes from LatencyDist when set, the Latency constant
// otherwise.
type Connection struct {
	Source      Vertex
	Target      Vertex
	Latency     float64 // milliseconds
	LatencyDist *latency.Dist
}

// NewConnection creates a constant-latency connection.
func NewConnection(source, target Vertex, latencyMs float64) *Connection {
	return &Connection{Source: source, Target: target, Latency: latencyMs}
}

// NewDistConnection creates a connection whose latency is sampled from dist.
func NewDistConnection(source, target Vertex, dist *latency.Dist) *Connection {
	return &Connection{Source: source, Target: target, LatencyDist: dist}
}

// SampleLatency draws one latency value in milliseconds.
func (c *Connection) SampleLatency(rng *rand.Rand) float64 {
	if c.LatencyDist != nil {
		return c.LatencyDist.Sample(rng)
	}
	return c.Latency
}

// ModeLatency returns the deterministic modal latency in milliseconds.
func (c *Connection) ModeLatency() float64 {
	if c.LatencyDist != nil {
		return c.LatencyDist.Mode()
	}
	return c.Latency
}

// MeanLatency returns the expected latency in milliseconds.
func (c *Connection) MeanLatency() float64 {
	if c.LatencyDist != nil {
		return c.LatencyDist.Mean()
	}
	return c.Latency
}

// Link is a network element with nominal bandwidth in MBit/s. Its allocation
// state is owned by the flow scheduler: which flows hold how much bandwidth,
// and how much a new or growing flow could claim.
type Link struct {
	Bandwidth float64
	Tags      map[string]string

	allocation     map[*Flow]float64
	flows          []*Flow // insertion order, drives deterministic rebalancing
	numFlows       int
	maxAllocatable float64
}

// NewLink creates a link. Bandwidth must be positive; a zero-bandwidth link
// starves every flow crossing it.
func NewLink(bandwidth float64, tags map[string]string) *Link {
	if tags == nil {
		tags = make(map[string]string)
	}
	return &Link{
		Bandwidth:      bandwidth,
		Tags:           tags,
		allocation:     make(map[*Flow]float64),
		maxAllocatable: bandwidth,
	}
}

func (*Link) isVertex() {}

func (l *Link) String() string { return fmt.Sprintf("Link(%p)%v", l, l.Tags) }

// NumFlows returns the number of flows currently crossing the link.
func (l *Link) NumFlows() int { return l.numFlows }

// MaxAllocatable returns the bandwidth a flow could currently claim.
func (l *Link) MaxAllocatable() float64 { return l.maxAllocatable }

// Allocation returns the bandwidth allocated to f on this link.
func (l *Link) Allocation(f *Flow) (float64, bool) {
	bw, ok := l.allocation[f]
	return bw, ok
}

// TotalAllocated sums the bandwidth allocated to all flows on the link.
func (l *Link) TotalAllocated() float64 {
	var total float64
	for _, f := range l.flows {
		total += l.allocation[f]
	}
	return total
}

// recalculateMaxAllocatable derives how much bandwidth a single flow may
// claim: flows below their fair share keep what they have, the rest compete
// for the remainder.
func (l *Link) recalculateMaxAllocatable() {
	if l.numFlows == 0 {
		l.maxAllocatable = l.Bandwidth
		return
	}

	fairPerFlow := l.Bandwidth / float64(l.numFlows)

	var reservedSum float64
	var reserved int
	for _, f := range l.flows {
		bw, ok := l.allocation[f]
		if ok && bw < fairPerFlow {
			reservedSum += bw
			reserved++
		}
	}

	allocatable := l.Bandwidth - reservedSum
	allocatablePerFlow := allocatable
	if competing := l.numFlows - reserved; competing > 0 {
		allocatablePerFlow = allocatable / float64(competing)
	}

	if fairPerFlow > allocatablePerFlow {
		l.maxAllocatable = fairPerFlow
	} else {
		l.maxAllocatable = allocatablePerFlow
	}
}

const goodputFactor = 0.97 // rough estimate of goodput (~ TCP overhead)

// GoodputBps returns the TCP goodput for a flow on this link in bytes per
// second, 0 if the flow holds no allocation here.
func (l *Link) GoodputBps(f *Flow) float64 {
	allocated, ok := l.allocation[f]
	if !ok {
		return 0
	}
	return allocated * 125000 * goodputFactor
}

func (l *Link) addFlow(f *Flow) {
	l.flows = append(l.flows, f)
	l.numFlows++
	l.recalculateMaxAllocatable()
}

func (l *Link) removeFlow(f *Flow) {
	for i, other := range l.flows {
		if other == f {
			l.flows = append(l.flows[:i], l.flows[i+1:]...)
			break
		}
	}
	l.numFlows--
	delete(l.allocation, f)
	l.recalculateMaxAllocatable()
}

// Route is a path between two nodes. Hops is the sub-sequence of Path
// vertices that are links; RTT is twice the one-way latency sum in
// milliseconds.
type Route struct {
	Source      *Node
	Destination *Node
	Path        []Vertex
	Hops        []*Link
	RTT         float64
}

// NewRoute builds a route from a path, extracting the link hops.
func NewRoute(source, destination *Node, path []Vertex, rtt float64) *Route {
	r := &Route{Source: source, Destination: destination, Path: path, RTT: rtt}
	for _, v := range path {
		if l, ok := v.(*Link); ok {
			r.Hops = append(r.Hops, l)
		}
	}
	return r
}

// Copy returns a shallow copy sharing path and hops.
func (r *Route) Copy() *Route {
	return &Route{
		Source:      r.Source,
		Destination: r.Destination,
		Path:        r.Path,
		Hops:        r.Hops,
		RTT:         r.RTT,
	}
}

func (r *Route) String() string {
	return fmt.Sprintf("Route[%s ->%v-> %s (rtt=%.2f)]", r.Source, r.Hops, r.Destination, r.RTT)
}
