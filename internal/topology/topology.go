// Package topology maintains the network graph of a simulation: a typed
// directed multigraph of compute nodes, bandwidth links, and relays, with
// shortest-path routing, latency sampling, and a route cache.
package topology

import (
	"errors"
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/graph/multi"

	"github.com/emmalab/fogsim/internal/netem"
)

// ErrNoRoute is returned when no path exists between two vertices.
var ErrNoRoute = errors.New("no route")

// Cell is a composable building block that materializes nodes and links
// into a topology.
type Cell interface {
	Materialize(t *Topology) error
}

type routeKey struct {
	source      *netem.Node
	destination *netem.Node
}

type edgeKey struct {
	u, v int64
}

// edgeData is the payload of a single graph line: either a connection whose
// latency may be sampled, or a constant one-way latency from a dataset.
type edgeData struct {
	conn    *netem.Connection
	latency float64
}

// Topology is the network graph. Vertices are added implicitly with their
// first connection. Routes are cached per (source, destination) pair, so the
// graph should be fully built before routing starts.
type Topology struct {
	graph    *multi.DirectedGraph
	ids      map[netem.Vertex]int64
	vertices map[int64]netem.Vertex
	order    []netem.Vertex

	// adjacency in insertion order, which keeps path tie-breaking stable
	// across runs
	adj     map[int64][]int64
	adjSeen map[edgeKey]bool

	lines      map[int64]*edgeData
	routeCache map[routeKey]*netem.Route
	rng        *rand.Rand
}

// New creates an empty topology. The rand source drives latency sampling.
func New(rng *rand.Rand) *Topology {
	return &Topology{
		graph:      multi.NewDirectedGraph(),
		ids:        make(map[netem.Vertex]int64),
		vertices:   make(map[int64]netem.Vertex),
		adj:        make(map[int64][]int64),
		adjSeen:    make(map[edgeKey]bool),
		lines:      make(map[int64]*edgeData),
		routeCache: make(map[routeKey]*netem.Route),
		rng:        rng,
	}
}

// AddVertex ensures v is part of the graph.
func (t *Topology) AddVertex(v netem.Vertex) {
	if _, ok := t.ids[v]; ok {
		return
	}
	n := t.graph.NewNode()
	t.graph.AddNode(n)
	t.ids[v] = n.ID()
	t.vertices[n.ID()] = v
	t.order = append(t.order, v)
}

/// AddConnection adds an undirected connection: two directed edges sharing
// the connection object. Direct node-to-node connections are invalid, nodes
// attach to links or relays.
func (t *Topology) AddConnection(conn *netem.Connection) error {
	return t.addConnection(conn, false)
}

// AddDirectedConnection adds a connection in one direction only, e.g. for
// asymmetric up/down links.
func (t *Topology) AddDirectedConnection(conn *netem.Connection) error {
	return t.addConnection(conn, true)
}

func (t *Topology) addConnection(conn *netem.Connection, directed bool) error {
	if _, src := conn.Source.(*netem.Node); src {
		if _, dst := conn.Target.(*netem.Node); dst {
			return fmt.Errorf("%w: direct connection between nodes %s and %s",
				netem.ErrInvalidTopology, conn.Source, conn.Target)
		}
	}
	t.addEdge(conn.Source, conn.Target, &edgeData{conn: conn})
	if !directed {
		t.addEdge(conn.Target, conn.Source, &edgeData{conn: conn})
	}
	return nil
}

// AddLatencyEdge adds a directed edge with a constant one-way latency in
// milliseconds. Internet latency datasets attach their measurements this way.
func (t *Topology) AddLatencyEdge(source, target netem.Vertex, latencyMs float64) {
	t.addEdge(source, target, &edgeData{latency: latencyMs})
}

func (t *Topology) addEdge(source, target netem.Vertex, data *edgeData) {
	t.AddVertex(source)
	t.AddVertex(target)
	uid, vid := t.ids[source], t.ids[target]

	line := t.graph.NewLine(t.graph.Node(uid), t.graph.Node(vid))
	t.graph.SetLine(line)
	t.lines[line.ID()] = data

	if k := (edgeKey{uid, vid}); !t.adjSeen[k] {
		t.adjSeen[k] = true
		t.adj[uid] = append(t.adj[uid], vid)
	}
}

// Add materializes a cell into the topology.
func (t *Topology) Add(c Cell) error {
	return c.Materialize(t)
}

// Vertices returns all vertices in insertion order.
func (t *Topology) Vertices() []netem.Vertex {
	return append([]netem.Vertex(nil), t.order...)
}

// Nodes returns all compute nodes in insertion order.
func (t *Topology) Nodes() []*netem.Node {
	var nodes []*netem.Node
	for _, v := range t.order {
		if n, ok := v.(*netem.Node); ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// Links returns all links in insertion order.
func (t *Topology) Links() []*netem.Link {
	var links []*netem.Link
	for _, v := range t.order {
		if l, ok := v.(*netem.Link); ok {
			links = append(links, l)
		}
	}
	return links
}

// FindNode returns the node with the given name, nil if absent.
func (t *Topology) FindNode(name string) *netem.Node {
	for _, v := range t.order {
		if n, ok := v.(*netem.Node); ok && n.Name == name {
			return n
		}
	}
	return nil
}

// Path returns the hop-count shortest path between two vertices, including
// both endpoints. Ties resolve to the first-inserted neighbor.
func (t *Topology) Path(source, destination netem.Vertex) ([]netem.Vertex, error) {
	srcID, ok := t.ids[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown vertex %v", ErrNoRoute, source)
	}
	dstID, ok := t.ids[destination]
	if !ok {
		return nil, fmt.Errorf("%w: unknown vertex %v", ErrNoRoute, destination)
	}

	prev := map[int64]int64{srcID: srcID}
	queue := []int64{srcID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == dstID {
			break
		}
		for _, next := range t.adj[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			queue = append(queue, next)
		}
	}
	if _, ok := prev[dstID]; !ok {
		return nil, fmt.Errorf("%w: %v -> %v", ErrNoRoute, source, destination)
	}

	var rev []int64
	for cur := dstID; ; cur = prev[cur] {
		rev = append(rev, cur)
		if cur == srcID {
			break
		}
	}
	path := make([]netem.Vertex, len(rev))
	for i, id := range rev {
		path[len(rev)-1-i] = t.vertices[id]
	}
	return path, nil
}

// Route returns the route between two nodes with a freshly sampled RTT.
// The underlying path comes from the route cache.
func (t *Topology) Route(source, destination *netem.Node) (*netem.Route, error) {
	return t.route(source, destination, false)
}

// RouteMode returns the cached route with the modal RTT of its latency
// distributions. Callers share the cached object and must not mutate it.
func (t *Topology) RouteMode(source, destination *netem.Node) (*netem.Route, error) {
	return t.route(source, destination, true)
}

func (t *Topology) route(source, destination *netem.Node, useMode bool) (*netem.Route, error) {
	k := routeKey{source, destination}
	cached, ok := t.routeCache[k]
	if !ok {
		path, err := t.Path(source, destination)
		if err != nil {
			return nil, err
		}
		cached = netem.NewRoute(source, destination, path, 0)
		t.updateRTT(cached, true)
		t.routeCache[k] = cached
	}

	if useMode {
		return cached, nil
	}
	route := cached.Copy()
	t.updateRTT(route, false)
	return route, nil
}

// Rand exposes the topology's random source so that cells and samplers
// draw from the same deterministic stream.
func (t *Topology) Rand() *rand.Rand {
	return t.rng
}

// Latency returns the one-way latency between two nodes in milliseconds,
// either predicted from their coordinates or sampled along the routed path.
func (t *Topology) Latency(source, destination *netem.Node, useCoordinates bool) (float64, error) {
	if useCoordinates {
		return source.DistanceTo(destination)
	}
	r, err := t.Route(source, destination)
	if err != nil {
		return 0, err
	}
	return r.RTT / 2, nil
}

func (t *Topology) updateRTT(r *netem.Route, useMode bool) {
	var oneWay float64
	for i := 0; i < len(r.Path)-1; i++ {
		data, ok := t.edgeBetween(r.Path[i], r.Path[i+1])
		if !ok {
			continue
		}
		switch {
		case data.conn != nil && useMode:
			oneWay += data.conn.ModeLatency()
		case data.conn != nil:
			oneWay += data.conn.SampleLatency(t.rng)
		default:
			oneWay += data.latency
		}
	}
	r.RTT = oneWay * 2
}

// edgeBetween resolves the payload of the edge u->v. Parallel edges resolve
// to the first inserted line.
func (t *Topology) edgeBetween(u, v netem.Vertex) (*edgeData, bool) {
	uid, uok := t.ids[u]
	vid, vok := t.ids[v]
	if !uok || !vok {
		return nil, false
	}
	lines := t.graph.Lines(uid, vid)
	best := int64(-1)
	for lines.Next() {
		if id := lines.Line().ID(); best < 0 || id < best {
			best = id
		}
	}
	if best < 0 {
		return nil, false
	}
	return t.lines[best], true
}
