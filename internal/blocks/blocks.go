// Package blocks provides composable building blocks for edge network
// topologies: hardware node profiles, hosts, LAN and shared-uplink cells,
// cloudlets and geographic distributions. Cells are materialized into a
// topology.Topology and wire nodes through links so that flows crossing
// them compete for bandwidth.
package blocks

import (
	"fmt"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/topology"
)

// Node labels attached by the factory, following the convention
// <domain>/<key>. Capabilities describe accelerators.
const (
	LabelType  = "fogsim.emmalab.io/type"
	LabelModel = "fogsim.emmalab.io/model"
	LabelCUDA  = "fogsim.emmalab.io/capabilities/cuda"
	LabelGPU   = "fogsim.emmalab.io/capabilities/gpu"
	LabelTPU   = "fogsim.emmalab.io/capabilities/tpu"
)

// Namer hands out sequential names per kind, e.g. rpi3_0, rpi3_1, lan_0.
// Each scenario owns its namer, so identical runs name identically.
type Namer struct {
	counters map[string]int
}

func NewNamer() *Namer {
	return &Namer{counters: make(map[string]int)}
}

// Next returns the next name for the kind and advances its counter.
func (n *Namer) Next(kind string) string {
	i := n.counters[kind]
	n.counters[kind]++
	return fmt.Sprintf("%s_%d", kind, i)
}

// Member is anything a composite cell can contain: a *netem.Node, a node
// factory func() *netem.Node, a topology.Cell, or a []Member of those.
type Member = any

// Backhaul is what a cell uplinks to: either a plain netem.Vertex it
// attaches to directly, or an *UpDownLink describing an asymmetric uplink.
type Backhaul = any

type backhaulSetter interface {
	setBackhaul(b Backhaul)
}

func materializeMember(t *topology.Topology, m Member, backhaul Backhaul) error {
	switch v := m.(type) {
	case *netem.Node:
		host := NewHost(v, nil)
		return materializeHost(t, host, backhaul)
	case func() *netem.Node:
		host := NewHost(v(), nil)
		return materializeHost(t, host, backhaul)
	case []Member:
		for _, elem := range v {
			if err := materializeMember(t, elem, backhaul); err != nil {
				return err
			}
		}
		return nil
	case topology.Cell:
		if backhaul != nil {
			if s, ok := v.(backhaulSetter); ok {
				s.setBackhaul(backhaul)
			}
		}
		return v.Materialize(t)
	default:
		return fmt.Errorf("%w: unsupported cell member %T", netem.ErrInvalidTopology, m)
	}
}

func materializeHost(t *topology.Topology, h *Host, backhaul Backhaul) error {
	if backhaul != nil {
		vertex, ok := backhaul.(netem.Vertex)
		if !ok {
			return fmt.Errorf("%w: host %s needs a vertex backhaul, got %T",
				netem.ErrInvalidTopology, h.Node, backhaul)
		}
		h.Backhaul = vertex
	}
	return h.Materialize(t)
}
