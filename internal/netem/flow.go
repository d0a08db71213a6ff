package netem

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/emmalab/fogsim/internal/sim"
)

var log = logrus.WithField("component", "netem")

// Flow is a TCP-like data transfer across a route. Its goodput is the
// bottleneck allocation over the route's hops; rebalancing interrupts the
// flow so it can recompute its remaining transmission time.
type Flow struct {
	Size  int64 // bytes
	Route *Route
	Sent  float64 // bytes
	Proc  *sim.Proc

	env *sim.Environment
}

// NewFlow creates a flow of size bytes over route. Start launches it.
func NewFlow(env *sim.Environment, size int64, route *Route) *Flow {
	return &Flow{Size: size, Route: route, env: env}
}

// Start launches the flow as a simulation process and returns it. The
// process joins the network after a connection handshake, transmits until
// Size bytes are sent, and releases its allocation on exit.
func (f *Flow) Start() *sim.Proc {
	f.Proc = f.env.Process(fmt.Sprintf("flow %s -> %s", f.Route.Source, f.Route.Destination), f.run)
	return f.Proc
}

// Establish performs only the connection handshake, sleeping for 1.5 times
// the route RTT. Interrupts resume the handshake with the remaining time.
func (f *Flow) Establish(p *sim.Proc) error {
	remaining := f.Route.RTT * 1.5 / 1000
	for remaining > 0 {
		started := p.Env().Now()
		err := p.Sleep(remaining)
		if err == nil {
			return nil
		}
		if _, ok := sim.AsInterrupt(err); !ok {
			return err
		}
		remaining -= p.Env().Now() - started
	}
	return nil
}

func (f *Flow) run(p *sim.Proc) error {
	if len(f.Route.Hops) == 0 {
		return fmt.Errorf("%w: flow %s -> %s has no hops", ErrInvalidTopology, f.Route.Source, f.Route.Destination)
	}

	// TCP-like handshake before any bandwidth is claimed. An interrupt here
	// aborts the flow without touching allocations.
	connectionTime := f.Route.RTT * 1.5 / 1000
	if connectionTime > 0 {
		if err := p.Sleep(connectionTime); err != nil {
			return err
		}
	}

	AddAndRebalance(f)
	defer RemoveAndRebalance(f)

	env := p.Env()
	for {
		goodput := f.Goodput()
		if goodput <= 0 {
			return fmt.Errorf("%w: flow %s -> %s", ErrZeroGoodput, f.Route.Source, f.Route.Destination)
		}
		remaining := float64(f.Size) - f.Sent
		transmission := remaining / goodput
		log.Debugf("%-5.4f sending %d bytes %s -> %s at %.0f bytes/sec (eta %.4fs)",
			env.Now(), f.Size, f.Route.Source, f.Route.Destination, goodput, transmission)

		started := env.Now()
		err := p.Sleep(transmission)
		if err == nil {
			f.Sent = float64(f.Size)
			break
		}
		intr, ok := sim.AsInterrupt(err)
		if !ok {
			return err
		}
		f.Sent += goodput * (env.Now() - started)
		if f.Sent >= float64(f.Size) {
			break
		}
		log.Debugf("%-5.4f flow %s -> %s rebalanced (%v), %.0f/%d bytes sent",
			env.Now(), f.Route.Source, f.Route.Destination, intr.Cause, f.Sent, f.Size)
	}
	return nil
}

// Goodput returns the current end-to-end goodput in bytes per second, the
// minimum over the route's hops.
func (f *Flow) Goodput() float64 {
	goodput := math.Inf(1)
	for _, hop := range f.Route.Hops {
		if g := hop.GoodputBps(f); g < goodput {
			goodput = g
		}
	}
	return goodput
}
