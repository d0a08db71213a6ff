package netem

import "math"

// AddAndRebalance registers the flow on all hops of its route and
// redistributes bandwidth in the affected subnet. Flows whose allocation
// changed are interrupted with their new bandwidth as cause.
func AddAndRebalance(f *Flow) {
	affected, _ := collectSubnet(f)
	for _, l := range f.Route.Hops {
		l.addFlow(f)
	}
	rebalance(f, affected)
}

// RemoveAndRebalance deallocates the flow from all hops of its route and
// redistributes the freed bandwidth among the remaining flows of the subnet.
func RemoveAndRebalance(f *Flow) {
	affected, _ := collectSubnet(f)
	remaining := make([]*Flow, 0, len(affected))
	for _, other := range affected {
		if other != f {
			remaining = append(remaining, other)
		}
	}
	for _, l := range f.Route.Hops {
		l.removeFlow(f)
	}
	rebalance(f, remaining)
}

// collectSubnet walks the flow/link graph reachable from f and returns the
// flows and links that share bandwidth with it, directly or transitively.
// Order is deterministic: breadth-first, links in hop order, flows in link
// insertion order, f itself first.
func collectSubnet(f *Flow) ([]*Flow, []*Link) {
	var flows []*Flow
	var links []*Link
	seenFlow := make(map[*Flow]bool)
	seenLink := make(map[*Link]bool)

	queue := []*Flow{f}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if seenFlow[cur] {
			continue
		}
		seenFlow[cur] = true
		flows = append(flows, cur)

		for _, l := range cur.Route.Hops {
			if seenLink[l] {
				continue
			}
			seenLink[l] = true
			links = append(links, l)
			queue = append(queue, l.flows...)
		}
	}
	return flows, links
}

// rebalance assigns every affected flow its bottleneck bandwidth, most
// constrained flow first, then interrupts the flows whose allocation changed
// so they recompute their transmission time. The triggering flow handles its
// own state and is never interrupted.
func rebalance(trigger *Flow, affected []*Flow) {
	remaining := append([]*Flow(nil), affected...)

	var changed []*Flow
	newBw := make(map[*Flow]float64)

	for len(remaining) > 0 {
		best := 0
		bestBn := bottleneck(remaining[0])
		for i := 1; i < len(remaining); i++ {
			if bn := bottleneck(remaining[i]); bn < bestBn {
				best, bestBn = i, bn
			}
		}
		f := remaining[best]
		remaining = append(remaining[:best], remaining[best+1:]...)

		request := bestBn
		for _, l := range f.Route.Hops {
			if cur, ok := l.allocation[f]; ok && cur == request {
				continue
			}
			if _, seen := newBw[f]; !seen {
				changed = append(changed, f)
			}
			newBw[f] = request
			l.allocation[f] = request
			l.recalculateMaxAllocatable()
		}
	}

	for _, f := range changed {
		if f == trigger {
			continue
		}
		if f.Proc == nil || !f.Proc.Alive() {
			continue
		}
		f.Proc.Interrupt(newBw[f])
	}
}

// bottleneck returns the most bandwidth the flow could claim, limited by the
// tightest hop on its route.
func bottleneck(f *Flow) float64 {
	bn := math.Inf(1)
	for _, l := range f.Route.Hops {
		if l.maxAllocatable < bn {
			bn = l.maxAllocatable
		}
	}
	return bn
}
