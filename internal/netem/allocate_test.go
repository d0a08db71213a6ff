package netem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lanRoute(name string, hops ...*Link) *Route {
	src := NewNode(name + "-src")
	dst := NewNode(name + "-dst")
	path := make([]Vertex, 0, len(hops))
	for _, h := range hops {
		path = append(path, h)
	}
	return NewRoute(src, dst, path, 2)
}

func TestSingleFlowGetsFullBandwidth(t *testing.T) {
	link := NewLink(100, nil)
	f := &Flow{Size: 1000, Route: lanRoute("a", link)}

	AddAndRebalance(f)

	bw, ok := link.Allocation(f)
	require.True(t, ok)
	assert.Equal(t, 100.0, bw)
	assert.Equal(t, 1, link.NumFlows())
	assert.Equal(t, 100.0, link.MaxAllocatable())
}

func TestMaxMinFairnessAcrossSharedLinks(t *testing.T) {
	// Classic max-min setup: flowA uses only the narrow link, flowB crosses
	// both, flowC uses only the wide link. The wide link's slack must go to
	// flowC instead of being split evenly.
	narrow := NewLink(10, nil)
	wide := NewLink(20, nil)

	flowA := &Flow{Size: 1000, Route: lanRoute("a", narrow)}
	flowB := &Flow{Size: 1000, Route: lanRoute("b", narrow, wide)}
	flowC := &Flow{Size: 1000, Route: lanRoute("c", wide)}

	AddAndRebalance(flowA)
	AddAndRebalance(flowB)
	AddAndRebalance(flowC)

	allocA, _ := narrow.Allocation(flowA)
	allocB1, _ := narrow.Allocation(flowB)
	allocB2, _ := wide.Allocation(flowB)
	allocC, _ := wide.Allocation(flowC)

	assert.InDelta(t, 5, allocA, 1e-9)
	assert.InDelta(t, 5, allocB1, 1e-9)
	assert.InDelta(t, 5, allocB2, 1e-9)
	assert.InDelta(t, 15, allocC, 1e-9)

	assert.LessOrEqual(t, narrow.TotalAllocated(), narrow.Bandwidth+1e-9)
	assert.LessOrEqual(t, wide.TotalAllocated(), wide.Bandwidth+1e-9)
	assert.Equal(t, 2, narrow.NumFlows())
	assert.Equal(t, 2, wide.NumFlows())
}

func TestRemoveRedistributesBandwidth(t *testing.T) {
	narrow := NewLink(10, nil)
	wide := NewLink(20, nil)

	flowA := &Flow{Size: 1000, Route: lanRoute("a", narrow)}
	flowB := &Flow{Size: 1000, Route: lanRoute("b", narrow, wide)}
	flowC := &Flow{Size: 1000, Route: lanRoute("c", wide)}

	AddAndRebalance(flowA)
	AddAndRebalance(flowB)
	AddAndRebalance(flowC)

	RemoveAndRebalance(flowB)

	_, ok := narrow.Allocation(flowB)
	assert.False(t, ok, "removed flow must not keep an allocation")
	_, ok = wide.Allocation(flowB)
	assert.False(t, ok)

	allocA, _ := narrow.Allocation(flowA)
	allocC, _ := wide.Allocation(flowC)
	assert.InDelta(t, 10, allocA, 1e-9, "flowA should reclaim the narrow link")
	assert.InDelta(t, 20, allocC, 1e-9, "flowC should reclaim the wide link")
	assert.Equal(t, 1, narrow.NumFlows())
	assert.Equal(t, 1, wide.NumFlows())
}

func TestRemoveLastFlowRestoresLink(t *testing.T) {
	link := NewLink(100, nil)
	f := &Flow{Size: 1000, Route: lanRoute("a", link)}

	AddAndRebalance(f)
	RemoveAndRebalance(f)

	assert.Equal(t, 0, link.NumFlows())
	assert.Equal(t, 100.0, link.MaxAllocatable())
	assert.Zero(t, link.TotalAllocated())
}

func TestCollectSubnetIsTransitive(t *testing.T) {
	l1 := NewLink(10, nil)
	l2 := NewLink(10, nil)
	l3 := NewLink(10, nil)

	// flowA -- l1 -- flowB -- l2 -- flowC; l3 is unrelated.
	flowA := &Flow{Size: 1, Route: lanRoute("a", l1)}
	flowB := &Flow{Size: 1, Route: lanRoute("b", l1, l2)}
	flowC := &Flow{Size: 1, Route: lanRoute("c", l2)}
	flowD := &Flow{Size: 1, Route: lanRoute("d", l3)}

	AddAndRebalance(flowA)
	AddAndRebalance(flowB)
	AddAndRebalance(flowC)
	AddAndRebalance(flowD)

	flows, links := collectSubnet(flowA)

	require.Equal(t, []*Flow{flowA, flowB, flowC}, flows)
	require.Equal(t, []*Link{l1, l2}, links)
	assert.NotContains(t, flows, flowD)
}

func TestGoodputIsBottleneckOfRoute(t *testing.T) {
	fast := NewLink(100, nil)
	slow := NewLink(10, nil)

	f := &Flow{Size: 1000, Route: lanRoute("a", fast, slow)}
	AddAndRebalance(f)

	assert.InDelta(t, 10*125000*0.97, f.Goodput(), 1e-6)
}
