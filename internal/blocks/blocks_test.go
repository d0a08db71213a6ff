package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/topology"
)

func newTestTopology() *topology.Topology {
	return topology.New(rand.New(rand.NewSource(1)))
}

func TestNamerSequence(t *testing.T) {
	n := NewNamer()
	assert.Equal(t, "rpi3_0", n.Next("rpi3"))
	assert.Equal(t, "rpi3_1", n.Next("rpi3"))
	assert.Equal(t, "lan_0", n.Next("lan"))
	assert.Equal(t, "rpi3_2", n.Next("rpi3"))
}

func TestNodeFactoryProfiles(t *testing.T) {
	f := NewNodeFactory(NewNamer())

	rpi := f.RPi3()
	assert.Equal(t, "rpi3_0", rpi.Name)
	assert.Equal(t, int64(4000), rpi.Capacity.CPUMillis)
	assert.Equal(t, "arm32", rpi.Arch)
	assert.Equal(t, "sbc", rpi.Labels[LabelType])

	tx2 := f.TX2()
	assert.Equal(t, "pascal", tx2.Labels[LabelGPU])
	assert.Equal(t, "10", tx2.Labels[LabelCUDA])

	coral := f.Coral()
	assert.Equal(t, "edgetpu", coral.Labels[LabelTPU])

	server := f.Server()
	assert.Equal(t, int64(88_000), server.Capacity.CPUMillis)
}

func TestHostMaterialize(t *testing.T) {
	topo := newTestTopology()
	node := netem.NewNode("client_0")
	backhaul := netem.Relay("internet")

	host := NewHost(node, backhaul)
	require.NoError(t, host.Materialize(topo))

	require.NotNil(t, host.Link)
	assert.Equal(t, "link_client_0", host.Link.Tags["name"])
	assert.Equal(t, float64(defaultHostBandwidth), host.Link.Bandwidth)

	path, err := topo.Path(node, backhaul)
	require.NoError(t, err)
	assert.Equal(t, []netem.Vertex{node, host.Link, backhaul}, path)
}

func TestHostWithoutBackhaulIsIsolated(t *testing.T) {
	topo := newTestTopology()
	a := NewHost(netem.NewNode("a"), nil)
	b := NewHost(netem.NewNode("b"), nil)
	require.NoError(t, a.Materialize(topo))
	require.NoError(t, b.Materialize(topo))

	_, err := topo.Path(a.Node, b.Node)
	assert.ErrorIs(t, err, topology.ErrNoRoute)
}

func TestLANCellConnectsMembersThroughSwitch(t *testing.T) {
	topo := newTestTopology()
	a := netem.NewNode("a")
	b := netem.NewNode("b")

	cell := NewLANCell([]Member{a, b}, nil)
	cell.Namer = NewNamer()
	require.NoError(t, topo.Add(cell))

	assert.Equal(t, netem.Relay("switch_lan_0"), cell.Switch())

	path, err := topo.Path(a, b)
	require.NoError(t, err)
	assert.Len(t, path, 5, "node, link, switch, link, node")
	assert.Contains(t, path, cell.Switch())
}

func TestLANCellUplinksToBackhaul(t *testing.T) {
	topo := newTestTopology()
	a := netem.NewNode("a")
	internet := netem.Relay("internet")

	cell := NewLANCell([]Member{a}, internet)
	cell.Namer = NewNamer()
	require.NoError(t, topo.Add(cell))

	path, err := topo.Path(a, internet)
	require.NoError(t, err)
	assert.Contains(t, path, cell.Switch())
}

func TestLANCellUpDownLinkIsAsymmetric(t *testing.T) {
	topo := newTestTopology()
	a := netem.NewNode("a")
	internet := netem.Relay("internet")

	cell := NewLANCell([]Member{a}, BusinessISPConnection(internet))
	cell.Namer = NewNamer()
	require.NoError(t, topo.Add(cell))

	up, err := topo.Path(a, internet)
	require.NoError(t, err)
	down, err := topo.Path(internet, a)
	require.NoError(t, err)

	var upLink, downLink *netem.Link
	for _, v := range up {
		if l, ok := v.(*netem.Link); ok && l.Tags["type"] == "uplink" {
			upLink = l
		}
	}
	for _, v := range down {
		if l, ok := v.(*netem.Link); ok && l.Tags["type"] == "downlink" {
			downLink = l
		}
	}
	require.NotNil(t, upLink, "upstream path crosses the uplink")
	require.NotNil(t, downLink, "downstream path crosses the downlink")
	assert.Equal(t, 50.0, upLink.Bandwidth)
	assert.Equal(t, 500.0, downLink.Bandwidth)
}

func TestSharedLinkCellMembersShareOneLink(t *testing.T) {
	topo := newTestTopology()
	a := netem.NewNode("a")
	b := netem.NewNode("b")
	internet := netem.Relay("internet")

	cell := NewSharedLinkCell([]Member{a, b}, internet)
	cell.Namer = NewNamer()
	require.NoError(t, topo.Add(cell))

	require.NotNil(t, cell.Link())
	assert.Equal(t, 300.0, cell.Link().Bandwidth)
	assert.Equal(t, "shared", cell.Link().Tags["type"])

	pathA, err := topo.Path(a, internet)
	require.NoError(t, err)
	pathB, err := topo.Path(b, internet)
	require.NoError(t, err)
	assert.Contains(t, pathA, netem.Vertex(cell.Link()))
	assert.Contains(t, pathB, netem.Vertex(cell.Link()))
}

func TestNestedCellsInheritBackhaul(t *testing.T) {
	topo := newTestTopology()
	namer := NewNamer()
	f := NewNodeFactory(namer)

	inner := NewLANCell([]Member{f.RPi3(), f.RPi3()}, nil)
	inner.Namer = namer
	outer := NewLANCell([]Member{inner}, nil)
	outer.Namer = namer
	require.NoError(t, topo.Add(outer))

	// outer materializes first, so inner is lan_1 uplinked to switch_lan_0
	assert.Equal(t, netem.Relay("switch_lan_0"), outer.Switch())
	assert.Equal(t, netem.Relay("switch_lan_1"), inner.Switch())

	path, err := topo.Path(topo.FindNode("rpi3_0"), outer.Switch())
	require.NoError(t, err)
	assert.Contains(t, path, inner.Switch())
}

func TestCloudletBuildsRacksOfServers(t *testing.T) {
	topo := newTestTopology()
	internet := netem.Relay("internet")

	cloudlet := NewCloudlet(5, 2, internet)
	cloudlet.Namer = NewNamer()
	require.NoError(t, topo.Add(cloudlet))

	nodes := topo.Nodes()
	assert.Len(t, nodes, 10)
	for _, n := range nodes {
		assert.Equal(t, "server", n.Labels[LabelType])
	}

	path, err := topo.Path(nodes[0], internet)
	require.NoError(t, err)
	assert.Contains(t, path, netem.Relay("switch_cloudlet_0"))

	// servers in different racks route through the cloudlet switch
	path, err = topo.Path(nodes[0], nodes[9])
	require.NoError(t, err)
	assert.Contains(t, path, netem.Relay("switch_cloudlet_0"))
}

func TestGeoCellStampsAreas(t *testing.T) {
	topo := newTestTopology()
	namer := NewNamer()
	f := NewNodeFactory(namer)

	geo := NewGeoCell(3,
		func(*rand.Rand) int { return 2 },
		func(n int) Member {
			members := make([]Member, n)
			for i := range members {
				members[i] = f.RPi4()
			}
			cell := NewLANCell(members, nil)
			cell.Namer = namer
			return cell
		})
	require.NoError(t, topo.Add(geo))

	assert.Len(t, topo.Nodes(), 6)
}

func TestMaterializeMemberFactoryFunc(t *testing.T) {
	topo := newTestTopology()
	namer := NewNamer()
	f := NewNodeFactory(namer)

	cell := NewLANCell([]Member{f.NUC, []Member{f.RPi4, f.RPi4}}, nil)
	cell.Namer = namer
	require.NoError(t, topo.Add(cell))

	assert.Len(t, topo.Nodes(), 3)
	assert.NotNil(t, topo.FindNode("nuc_0"))
	assert.NotNil(t, topo.FindNode("rpi4_1"))
}

func TestMaterializeMemberRejectsUnknownType(t *testing.T) {
	topo := newTestTopology()
	cell := NewLANCell([]Member{42}, nil)
	cell.Namer = NewNamer()

	err := topo.Add(cell)
	assert.ErrorIs(t, err, netem.ErrInvalidTopology)
}
