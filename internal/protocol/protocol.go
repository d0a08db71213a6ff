package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/sim"
	"github.com/emmalab/fogsim/internal/topology"
)

var log = logrus.WithField("component", "protocol")

// TraceSink observes every message as it is sent, after stamping.
type TraceSink interface {
	Record(m Message)
}

// Protocol delivers messages between nodes over a topology. Every node gets
// a lazily created mailbox; a send computes the one-way latency of the
// routed path and spawns a delivery process that puts the message into the
// destination's mailbox after that latency has passed.
//
// Virtual time is interpreted as milliseconds.
type Protocol struct {
	// EnableAck makes node processes exchange acknowledgement messages for
	// subscriptions, publications, and reconnects.
	EnableAck bool

	env    *sim.Environment
	topo   *topology.Topology
	stores map[*netem.Node]*sim.Store

	history       []Message
	recordHistory bool
	sinks         []TraceSink
}

// New creates a protocol over the environment and topology.
func New(env *sim.Environment, topo *topology.Topology) *Protocol {
	return &Protocol{
		env:    env,
		topo:   topo,
		stores: make(map[*netem.Node]*sim.Store),
	}
}

// Store returns the mailbox of the node, creating it on first use. Mailboxes
// persist for the lifetime of the protocol.
func (p *Protocol) Store(node *netem.Node) *sim.Store {
	s, ok := p.stores[node]
	if !ok {
		s = p.env.NewStore()
		p.stores[node] = s
	}
	return s
}

// EnableHistory keeps every sent message in memory for post-run analysis.
func (p *Protocol) EnableHistory() {
	p.recordHistory = true
}

// History returns the sent messages in send order. Empty unless
// EnableHistory was called.
func (p *Protocol) History() []Message {
	return p.history
}

// AddSink registers a trace sink invoked synchronously on every send.
func (p *Protocol) AddSink(s TraceSink) {
	p.sinks = append(p.sinks, s)
}

// Send stamps the message envelope and schedules its delivery into the
// destination's mailbox after the one-way latency between the nodes. It
// returns the stamped latency in milliseconds.
func (p *Protocol) Send(source, destination *netem.Node, m Message) (float64, error) {
	lat, err := p.topo.Latency(source, destination, false)
	if err != nil {
		return 0, fmt.Errorf("sending %s from %s to %s: %w", m.Kind(), source, destination, err)
	}

	env := m.Env()
	env.Source = source
	env.Destination = destination
	env.Timestamp = p.env.Now()
	env.Latency = lat

	switch msg := m.(type) {
	case *Pub:
		if msg.FirstSent == 0 {
			msg.FirstSent = p.env.Now()
		}
		msg.E2ELatency += lat
	case *Pong:
		msg.RTT = msg.PingLatency + lat
	}

	if p.recordHistory {
		p.history = append(p.history, m)
	}
	for _, sink := range p.sinks {
		sink.Record(m)
	}

	log.Debugf("%-8.1f %s %s -> %s (%.2fms)", p.env.Now(), m.Kind(), source, destination, lat)

	store := p.Store(destination)
	p.env.Process(fmt.Sprintf("deliver %s %s -> %s", m.Kind(), source, destination),
		func(proc *sim.Proc) error {
			if err := proc.Sleep(lat); err != nil {
				return err
			}
			store.Put(m)
			return nil
		})
	return lat, nil
}

// Receive blocks proc until the node's mailbox holds a message of one of
// the given kinds. An empty kind list matches any message. Non-matching
// messages stay buffered for other receivers.
func (p *Protocol) Receive(proc *sim.Proc, node *netem.Node, kinds ...Kind) (Message, error) {
	item, err := p.Store(node).Get(proc, matchKinds(kinds))
	if err != nil {
		return nil, err
	}
	return item.(Message), nil
}

// ReceiveFunc blocks proc until the node's mailbox holds a message matched
// by pred. The predicate is re-evaluated against every arriving message, so
// it may consult mutable state.
func (p *Protocol) ReceiveFunc(proc *sim.Proc, node *netem.Node, pred func(Message) bool) (Message, error) {
	item, err := p.Store(node).Get(proc, func(item any) bool {
		m, ok := item.(Message)
		return ok && pred(m)
	})
	if err != nil {
		return nil, err
	}
	return item.(Message), nil
}

func matchKinds(kinds []Kind) func(any) bool {
	if len(kinds) == 0 {
		return nil
	}
	return func(item any) bool {
		m, ok := item.(Message)
		if !ok {
			return false
		}
		for _, k := range kinds {
			if m.Kind() == k {
				return true
			}
		}
		return false
	}
}
