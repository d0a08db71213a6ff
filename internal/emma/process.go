// Package emma implements the EMMA publish/subscribe broker overlay as
// cooperative simulation processes: brokers forwarding publications across
// a peer overlay, clients subscribing and publishing through their selected
// broker, and a coordinator reassigning clients to latency-optimal brokers.
// A scenario driver orchestrates the processes over a prebuilt topology.
package emma

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
	"github.com/emmalab/fogsim/internal/vivaldi"
)

var log = logrus.WithField("component", "emma")

// ErrUnexpectedMessage is fatal to a process that receives a message kind it
// has no handler for.
var ErrUnexpectedMessage = errors.New("unexpected message")

const (
	pingsPerNode     = 5
	pingAllInterval  = 15_000 // ms
	pingLoopInterval = 30_000 // ms
)

// handler processes one received message on the owning process's goroutine.
type handler func(p *sim.Proc, m protocol.Message) error

// NodeProcess is the shared base of broker, client, and coordinator
// processes: a message loop dispatching to a handler table, with optional
// Vivaldi coordinate maintenance from observed message latencies.
type NodeProcess struct {
	env      *sim.Environment
	proto    *protocol.Protocol
	node     *netem.Node
	handlers map[protocol.Kind]handler
	running  bool
	vivaldi  bool
	rng      *rand.Rand

	// pongClaims counts ping sweeps currently awaiting Pong replies; while
	// positive the main loop leaves Pongs to those sweeps.
	pongClaims int
}

func newNodeProcess(env *sim.Environment, proto *protocol.Protocol, node *netem.Node, useVivaldi bool, rng *rand.Rand) *NodeProcess {
	return &NodeProcess{
		env:      env,
		proto:    proto,
		node:     node,
		handlers: make(map[protocol.Kind]handler),
		running:  true,
		vivaldi:  useVivaldi,
		rng:      rng,
	}
}

// Node returns the node this process runs on.
func (n *NodeProcess) Node() *netem.Node { return n.node }

// Running reports whether the process has not yet been shut down.
func (n *NodeProcess) Running() bool { return n.running }

// Run is the main message loop. It receives any handled kind plus the
// defaults (Ping, Pong, Shutdown), dispatches, and terminates on Shutdown.
func (n *NodeProcess) Run(p *sim.Proc) error {
	if n.vivaldi && n.node.Coordinate == nil {
		n.node.Coordinate = vivaldi.New()
	}
	for n.running {
		m, err := n.proto.ReceiveFunc(p, n.node, n.matchesLoop)
		if err != nil {
			return err
		}
		if err := n.observe(m); err != nil {
			return err
		}
		switch msg := m.(type) {
		case *protocol.Shutdown:
			n.running = false
		case *protocol.Ping:
			if err := n.send(msg.Source, &protocol.Pong{PingLatency: msg.Latency}); err != nil {
				return err
			}
		case *protocol.Pong:
			// coordinate update only, done in observe
		default:
			h, ok := n.handlers[m.Kind()]
			if !ok {
				return fmt.Errorf("%w: %s received %s", ErrUnexpectedMessage, n.node, m.Kind())
			}
			if err := h(p, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// matchesLoop selects the messages the main loop consumes: handled kinds
// plus the defaults. Pongs are left alone while a ping sweep claims them.
func (n *NodeProcess) matchesLoop(m protocol.Message) bool {
	switch m.Kind() {
	case protocol.KindShutdown, protocol.KindPing:
		return true
	case protocol.KindPong:
		return n.pongClaims == 0
	}
	_, ok := n.handlers[m.Kind()]
	return ok
}

// observe feeds the message's latency into the local Vivaldi coordinate when
// the sender has one.
func (n *NodeProcess) observe(m protocol.Message) error {
	if !n.vivaldi {
		return nil
	}
	src := m.Env().Source
	if _, ok := src.Coordinate.(*vivaldi.Coordinate); !ok {
		return nil
	}
	return vivaldi.Execute(n.node, src, 2*m.Env().Latency, n.rng)
}

func (n *NodeProcess) send(destination *netem.Node, m protocol.Message) error {
	_, err := n.proto.Send(n.node, destination, m)
	return err
}

func (n *NodeProcess) receive(p *sim.Proc, kinds ...protocol.Kind) (protocol.Message, error) {
	return n.proto.Receive(p, n.node, kinds...)
}

// PingAll repeatedly pings every node returned by getNodes, sweeping once
// per interval while the process is running.
func (n *NodeProcess) PingAll(p *sim.Proc, getNodes func() []*netem.Node) error {
	for n.running {
		if err := n.pingNodes(p, getNodes()); err != nil {
			return err
		}
		if err := p.Sleep(pingAllInterval); err != nil {
			return err
		}
	}
	return nil
}

// pingNodes sends pingsPerNode pings to each node, awaiting every Pong. The
// Pongs feed the Vivaldi coordinate when enabled.
func (n *NodeProcess) pingNodes(p *sim.Proc, nodes []*netem.Node) error {
	n.pongClaims++
	defer func() { n.pongClaims-- }()

	for _, target := range nodes {
		if target == n.node {
			continue
		}
		for i := 0; i < pingsPerNode; i++ {
			if err := n.send(target, &protocol.Ping{}); err != nil {
				return err
			}
			m, err := n.receive(p, protocol.KindPong)
			if err != nil {
				return err
			}
			if err := n.observe(m); err != nil {
				return err
			}
		}
	}
	return nil
}

// Shutdown delivers a Shutdown message to the process's own node,
// terminating the main loop once it arrives. A second shutdown is absorbed
// by the already-false running flag.
func (n *NodeProcess) Shutdown() error {
	return n.send(n.node, &protocol.Shutdown{})
}
