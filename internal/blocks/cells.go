package blocks

import (
	"fmt"

	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/latency"
	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/topology"
)

// defaultNamer names cells whose owner did not inject a namer.
var defaultNamer = NewNamer()

const defaultHostBandwidth = 1000 // MBit/s

// Host attaches a single node to the topology through its own access link.
// The node reaches the link over a LAN-latency connection; the link uplinks
// to the backhaul vertex when one is set.
type Host struct {
	Node          *netem.Node
	Backhaul      netem.Vertex
	LinkBandwidth float64
	LatencyDist   *latency.Dist

	// Link is populated by Materialize.
	Link *netem.Link
}

// NewHost creates a host with a 1 GBit/s access link and LAN latency.
func NewHost(node *netem.Node, backhaul netem.Vertex) *Host {
	return &Host{
		Node:          node,
		Backhaul:      backhaul,
		LinkBandwidth: defaultHostBandwidth,
		LatencyDist:   latency.Lan,
	}
}

func (h *Host) Materialize(t *topology.Topology) error {
	h.Link = netem.NewLink(h.LinkBandwidth, map[string]string{
		"name": "link_" + h.Node.Name,
		"type": "node",
	})
	if err := t.AddConnection(netem.NewDistConnection(h.Node, h.Link, h.LatencyDist)); err != nil {
		return err
	}
	if h.Backhaul != nil {
		return t.AddConnection(netem.NewConnection(h.Link, h.Backhaul, 0))
	}
	return nil
}

func (h *Host) String() string {
	return fmt.Sprintf("Host[node=%s] -> %v", h.Node, h.Backhaul)
}

// UpDownLink is an asymmetric uplink to a backhaul: separate links for the
// up and down direction, with the access latency applied on both.
type UpDownLink struct {
	BandwidthDown float64
	BandwidthUp   float64
	Backhaul      netem.Vertex
	LatencyDist   *latency.Dist
}

func NewUpDownLink(down, up float64, backhaul netem.Vertex, dist *latency.Dist) *UpDownLink {
	return &UpDownLink{BandwidthDown: down, BandwidthUp: up, Backhaul: backhaul, LatencyDist: dist}
}

// MobileConnection models a mobile ISP uplink: 125 MBit/s down, 25 up.
func MobileConnection(backhaul netem.Vertex) *UpDownLink {
	return NewUpDownLink(125, 25, backhaul, latency.MobileISP)
}

// BusinessISPConnection models a business ISP uplink: 500 MBit/s down, 50 up.
func BusinessISPConnection(backhaul netem.Vertex) *UpDownLink {
	return NewUpDownLink(500, 50, backhaul, latency.BusinessISP)
}

// FiberToExchange models a symmetric 1 GBit/s fiber uplink.
func FiberToExchange(backhaul netem.Vertex) *UpDownLink {
	return NewUpDownLink(1000, 1000, backhaul, latency.Lan)
}

// materializeUplink wires a cell's local vertex to its backhaul. An
// *UpDownLink backhaul becomes four directed connections through dedicated
// up and down links; a plain vertex becomes one undirected connection with
// the given latency distribution (constant zero when nil).
func materializeUplink(t *topology.Topology, local netem.Vertex, name string, backhaul Backhaul, dist *latency.Dist) error {
	switch b := backhaul.(type) {
	case nil:
		return nil
	case *UpDownLink:
		up := netem.NewLink(b.BandwidthUp, map[string]string{"type": "uplink", "name": "up_" + name})
		down := netem.NewLink(b.BandwidthDown, map[string]string{"type": "downlink", "name": "down_" + name})

		if err := t.AddDirectedConnection(netem.NewDistConnection(local, up, b.LatencyDist)); err != nil {
			return err
		}
		if err := t.AddDirectedConnection(netem.NewConnection(down, local, 0)); err != nil {
			return err
		}
		if err := t.AddDirectedConnection(netem.NewDistConnection(b.Backhaul, down, b.LatencyDist)); err != nil {
			return err
		}
		return t.AddDirectedConnection(netem.NewConnection(up, b.Backhaul, 0))
	case netem.Vertex:
		conn := netem.NewConnection(local, b, 0)
		conn.LatencyDist = dist
		return t.AddConnection(conn)
	default:
		return fmt.Errorf("%w: unsupported backhaul %T", netem.ErrInvalidTopology, backhaul)
	}
}

// LANCell is a group of members behind a common switch. Members attach to
// the switch; the switch uplinks to the backhaul.
type LANCell struct {
	Members  []Member
	Backhaul Backhaul
	Namer    *Namer

	name string
	sw   netem.Relay
}

func NewLANCell(members []Member, backhaul Backhaul) *LANCell {
	return &LANCell{Members: members, Backhaul: backhaul}
}

func (c *LANCell) setBackhaul(b Backhaul) { c.Backhaul = b }

// Switch returns the cell's switch relay, valid after Materialize.
func (c *LANCell) Switch() netem.Relay { return c.sw }

func (c *LANCell) namer() *Namer {
	if c.Namer != nil {
		return c.Namer
	}
	return defaultNamer
}

func (c *LANCell) Materialize(t *topology.Topology) error {
	c.name = c.namer().Next("lan")
	c.sw = netem.Relay("switch_" + c.name)

	for _, m := range c.Members {
		if err := materializeMember(t, m, c.sw); err != nil {
			return err
		}
	}
	return materializeUplink(t, c.sw, c.name, c.Backhaul, latency.Lan)
}

// IoTComputeBox is a LAN cell of edge devices, e.g. SBCs behind one switch.
type IoTComputeBox = LANCell

const defaultSharedBandwidth = 300 // MBit/s

// SharedLinkCell is a group of members contending for one shared medium,
// e.g. hosts on the same WiFi. Members attach directly to the shared link.
type SharedLinkCell struct {
	Members         []Member
	SharedBandwidth float64
	Backhaul        Backhaul
	Namer           *Namer

	name string
	link *netem.Link
}

func NewSharedLinkCell(members []Member, backhaul Backhaul) *SharedLinkCell {
	return &SharedLinkCell{Members: members, SharedBandwidth: defaultSharedBandwidth, Backhaul: backhaul}
}

func (c *SharedLinkCell) setBackhaul(b Backhaul) { c.Backhaul = b }

// Link returns the shared link, valid after Materialize.
func (c *SharedLinkCell) Link() *netem.Link { return c.link }

func (c *SharedLinkCell) namer() *Namer {
	if c.Namer != nil {
		return c.Namer
	}
	return defaultNamer
}

func (c *SharedLinkCell) Materialize(t *topology.Topology) error {
	c.name = c.namer().Next("shared")
	c.link = netem.NewLink(c.SharedBandwidth, map[string]string{"name": c.name, "type": "shared"})

	for _, m := range c.Members {
		if err := materializeMember(t, m, c.link); err != nil {
			return err
		}
	}
	return materializeUplink(t, c.link, c.name, c.Backhaul, nil)
}

// Cloudlet is an edge data center: racks of servers, each rack a LAN cell
// behind the cloudlet switch.
type Cloudlet struct {
	ServersPerRack int
	Racks          int
	Backhaul       Backhaul
	Namer          *Namer
}

func NewCloudlet(serversPerRack, racks int, backhaul Backhaul) *Cloudlet {
	return &Cloudlet{ServersPerRack: serversPerRack, Racks: racks, Backhaul: backhaul}
}

func (c *Cloudlet) setBackhaul(b Backhaul) { c.Backhaul = b }

func (c *Cloudlet) namer() *Namer {
	if c.Namer != nil {
		return c.Namer
	}
	return defaultNamer
}

func (c *Cloudlet) Materialize(t *topology.Topology) error {
	namer := c.namer()
	name := namer.Next("cloudlet")
	sw := netem.Relay("switch_" + name)
	factory := NewNodeFactory(namer)

	for r := 0; r < c.Racks; r++ {
		servers := make([]Member, c.ServersPerRack)
		for i := range servers {
			servers[i] = factory.Server()
		}
		rack := NewLANCell(servers, sw)
		rack.Namer = namer
		if err := rack.Materialize(t); err != nil {
			return err
		}
	}
	return materializeUplink(t, sw, name, c.Backhaul, latency.Lan)
}

// GeoCell stamps out a geographic distribution of cells: Size areas, each
// with a population drawn from Density, each member built from that
// population count.
type GeoCell struct {
	Size    int
	Density func(rng *rand.Rand) int
	Members []func(n int) Member
}

func NewGeoCell(size int, density func(rng *rand.Rand) int, members ...func(n int) Member) *GeoCell {
	return &GeoCell{Size: size, Density: density, Members: members}
}

func (g *GeoCell) Materialize(t *topology.Topology) error {
	for i := 0; i < g.Size; i++ {
		n := g.Density(t.Rand())
		for _, build := range g.Members {
			if err := materializeMember(t, build(n), nil); err != nil {
				return err
			}
		}
	}
	return nil
}
