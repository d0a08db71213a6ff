package emma

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
)

const (
	qosPings          = 10
	qosPingSpacing    = 250 // ms
	brokersPerRequest = 5
)

// ClientProcess is a pub/sub client attached to one selected broker. It
// subscribes to topics, runs publishers, and migrates its subscriptions when
// the coordinator or a shutting-down broker requests a reconnect.
type ClientProcess struct {
	*NodeProcess

	broker        *netem.Node
	subscriptions []string // insertion order
	subscribed    map[string]bool
}

// NewClientProcess creates a client on node, initially connected to broker.
func NewClientProcess(env *sim.Environment, proto *protocol.Protocol, node, broker *netem.Node, useVivaldi bool, rng *rand.Rand) *ClientProcess {
	c := &ClientProcess{
		NodeProcess: newNodeProcess(env, proto, node, useVivaldi, rng),
		broker:      broker,
		subscribed:  make(map[string]bool),
	}
	c.handlers[protocol.KindReconnectRequest] = c.handleReconnect
	c.handlers[protocol.KindQoSRequest] = c.handleQoS
	c.handlers[protocol.KindPub] = c.handlePub
	return c
}

// Broker returns the currently selected broker node.
func (c *ClientProcess) Broker() *netem.Node { return c.broker }

// Subscriptions returns the subscribed topics in subscription order.
func (c *ClientProcess) Subscriptions() []string {
	return append([]string(nil), c.subscriptions...)
}

// Subscribe adds the topic and registers it with the selected broker,
// awaiting the SubAck when acknowledgements are enabled.
func (c *ClientProcess) Subscribe(p *sim.Proc, topic string) error {
	if !c.subscribed[topic] {
		c.subscribed[topic] = true
		c.subscriptions = append(c.subscriptions, topic)
	}
	if err := c.send(c.broker, &protocol.Sub{Topic: topic}); err != nil {
		return err
	}
	if c.proto.EnableAck {
		if _, err := c.receive(p, protocol.KindSubAck); err != nil {
			return err
		}
	}
	return nil
}

// RunPublisher publishes to the topic every interval milliseconds, through
// whichever broker is currently selected.
func (c *ClientProcess) RunPublisher(p *sim.Proc, topic string, interval float64) error {
	for c.running {
		pub := &protocol.Pub{
			Topic: topic,
			Data:  strconv.FormatFloat(c.env.Now(), 'f', -1, 64),
		}
		if err := c.send(c.broker, pub); err != nil {
			return err
		}
		if c.proto.EnableAck {
			if _, err := c.receive(p, protocol.KindPubAck); err != nil {
				return err
			}
		}
		if err := p.Sleep(interval); err != nil {
			return err
		}
	}
	return nil
}

// RunPingLoop alternates between pinging a random and the closest broker
// sample, pausing between sweeps. Each sweep feeds the Vivaldi coordinate.
func (c *ClientProcess) RunPingLoop(p *sim.Proc) error {
	for c.running {
		if err := c.pingRandom(p); err != nil {
			return err
		}
		if err := p.Sleep(pingLoopInterval); err != nil {
			return err
		}
		if err := c.pingClosest(p); err != nil {
			return err
		}
		if err := p.Sleep(pingLoopInterval); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClientProcess) pingRandom(p *sim.Proc) error {
	if err := c.send(c.broker, &protocol.FindRandomBrokersRequest{}); err != nil {
		return err
	}
	m, err := c.receive(p, protocol.KindFindRandomBrokersResponse)
	if err != nil {
		return err
	}
	brokers := m.(*protocol.FindRandomBrokersResponse).Brokers
	return c.pingNodes(p, firstN(brokers, brokersPerRequest))
}

func (c *ClientProcess) pingClosest(p *sim.Proc) error {
	if err := c.send(c.broker, &protocol.FindClosestBrokersRequest{}); err != nil {
		return err
	}
	m, err := c.receive(p, protocol.KindFindClosestBrokersResponse)
	if err != nil {
		return err
	}
	brokers := m.(*protocol.FindClosestBrokersResponse).Brokers
	return c.pingNodes(p, firstN(brokers, brokersPerRequest))
}

// handleReconnect migrates every subscription from the selected broker to
// the requested one. All Subs and Unsubs are emitted before the handler
// yields; the acknowledgements are then awaited when enabled, and the
// requester gets a ReconnectAck.
func (c *ClientProcess) handleReconnect(p *sim.Proc, m protocol.Message) error {
	req := m.(*protocol.ReconnectRequest)
	old := c.broker

	for _, topic := range c.subscriptions {
		if err := c.send(req.NewBroker, &protocol.Sub{Topic: topic}); err != nil {
			return err
		}
		if err := c.send(old, &protocol.Unsub{Topic: topic}); err != nil {
			return err
		}
	}
	c.broker = req.NewBroker

	if c.proto.EnableAck {
		for range c.subscriptions {
			if _, err := c.receive(p, protocol.KindSubAck); err != nil {
				return err
			}
			if _, err := c.receive(p, protocol.KindUnsubAck); err != nil {
				return err
			}
		}
		if err := c.send(req.Source, &protocol.ReconnectAck{}); err != nil {
			return err
		}
	}

	log.Debugf("%-8.1f %s reconnected %s -> %s", c.env.Now(), c.node, old, c.broker)
	return nil
}

// handleQoS spawns a sub-process that measures the average RTT to the
// requested target and reports it back.
func (c *ClientProcess) handleQoS(p *sim.Proc, m protocol.Message) error {
	req := m.(*protocol.QoSRequest)
	c.pongClaims++
	c.env.Process(fmt.Sprintf("%s qos %s", c.node, req.Target), func(sp *sim.Proc) error {
		defer func() { c.pongClaims-- }()

		var total float64
		for i := 0; i < qosPings; i++ {
			if err := c.send(req.Target, &protocol.Ping{}); err != nil {
				return err
			}
			reply, err := c.receive(sp, protocol.KindPong)
			if err != nil {
				return err
			}
			if err := c.observe(reply); err != nil {
				return err
			}
			total += reply.(*protocol.Pong).RTT
			if err := sp.Sleep(qosPingSpacing); err != nil {
				return err
			}
		}
		return c.send(req.Source, &protocol.QoSResponse{AvgRTT: total / qosPings})
	})
	return nil
}

func (c *ClientProcess) handlePub(p *sim.Proc, m protocol.Message) error {
	if c.proto.EnableAck {
		return c.send(m.Env().Source, &protocol.PubAck{})
	}
	return nil
}

// Shutdown unsubscribes from every topic, awaiting the UnsubAcks when
// enabled, then terminates the message loop.
func (c *ClientProcess) Shutdown(p *sim.Proc) error {
	for _, topic := range c.subscriptions {
		if err := c.send(c.broker, &protocol.Unsub{Topic: topic}); err != nil {
			return err
		}
	}
	if c.proto.EnableAck {
		for range c.subscriptions {
			if _, err := c.receive(p, protocol.KindUnsubAck); err != nil {
				return err
			}
		}
	}
	return c.NodeProcess.Shutdown()
}

func (c *ClientProcess) String() string {
	return fmt.Sprintf("ClientProcess(node=%s, broker=%s)", c.node, c.broker)
}

func firstN(nodes []*netem.Node, n int) []*netem.Node {
	if len(nodes) <= n {
		return nodes
	}
	return nodes[:n]
}
