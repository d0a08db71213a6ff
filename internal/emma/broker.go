package emma

import (
	"fmt"
	"sort"

	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/protocol"
	"github.com/emmalab/fogsim/internal/sim"
)

// BrokerList is the shared broker membership of one overlay. Brokers answer
// Find*BrokersRequests from it and the coordinator iterates it; the scenario
// appends as brokers spawn. Insertion order is stable, which keeps random
// and closest selections reproducible under a fixed seed.
type BrokerList struct {
	procs []*BrokerProcess
}

func NewBrokerList() *BrokerList {
	return &BrokerList{}
}

// Add appends a broker to the membership.
func (l *BrokerList) Add(b *BrokerProcess) {
	l.procs = append(l.procs, b)
}

// All returns every broker ever added, running or not.
func (l *BrokerList) All() []*BrokerProcess {
	return l.procs
}

// Running returns the brokers that have not been shut down.
func (l *BrokerList) Running() []*BrokerProcess {
	var out []*BrokerProcess
	for _, b := range l.procs {
		if b.running {
			out = append(out, b)
		}
	}
	return out
}

// RunningNodes returns the nodes of the running brokers.
func (l *BrokerList) RunningNodes() []*netem.Node {
	var out []*netem.Node
	for _, b := range l.Running() {
		out = append(out, b.node)
	}
	return out
}

// ByNode resolves the broker process running on the node, nil if unknown.
func (l *BrokerList) ByNode(node *netem.Node) *BrokerProcess {
	for _, b := range l.procs {
		if b.node == node {
			return b
		}
	}
	return nil
}

// BrokerProcess is one broker of the overlay. It tracks per-topic
// subscriber sets and forwards publications to local subscribers and to
// peer brokers that have subscribers of the topic, using the message's hops
// list to prevent forwarding loops.
type BrokerProcess struct {
	*NodeProcess

	peers       *BrokerList
	topics      []string // insertion order
	subscribers map[string][]*netem.Node
}

// NewBrokerProcess creates a broker on node, joined to the peer list.
func NewBrokerProcess(env *sim.Environment, proto *protocol.Protocol, node *netem.Node, peers *BrokerList, useVivaldi bool, rng *rand.Rand) *BrokerProcess {
	b := &BrokerProcess{
		NodeProcess: newNodeProcess(env, proto, node, useVivaldi, rng),
		peers:       peers,
		subscribers: make(map[string][]*netem.Node),
	}
	b.handlers[protocol.KindFindRandomBrokersRequest] = b.handleRandomBrokers
	b.handlers[protocol.KindFindClosestBrokersRequest] = b.handleClosestBrokers
	b.handlers[protocol.KindSub] = b.handleSubscribe
	b.handlers[protocol.KindUnsub] = b.handleUnsubscribe
	return b
}

// Subscribers returns the subscriber nodes of the topic in subscription
// order.
func (b *BrokerProcess) Subscribers(topic string) []*netem.Node {
	return append([]*netem.Node(nil), b.subscribers[topic]...)
}

// TotalSubscribers counts distinct subscriber nodes across all topics.
func (b *BrokerProcess) TotalSubscribers() int {
	return len(b.allSubscribers())
}

// allSubscribers returns the union of all per-topic subscriber sets in
// first-subscription order.
func (b *BrokerProcess) allSubscribers() []*netem.Node {
	seen := make(map[*netem.Node]bool)
	var out []*netem.Node
	for _, topic := range b.topics {
		for _, node := range b.subscribers[topic] {
			if !seen[node] {
				seen[node] = true
				out = append(out, node)
			}
		}
	}
	return out
}

func (b *BrokerProcess) handleRandomBrokers(p *sim.Proc, m protocol.Message) error {
	all := b.peers.All()
	picks := make([]*netem.Node, 0, brokersPerRequest)
	for i := 0; i < brokersPerRequest; i++ {
		picks = append(picks, all[b.rng.Intn(len(all))].node)
	}
	return b.send(m.Env().Source, &protocol.FindRandomBrokersResponse{Brokers: picks})
}

func (b *BrokerProcess) handleClosestBrokers(p *sim.Proc, m protocol.Message) error {
	src := m.Env().Source
	all := b.peers.All()

	type entry struct {
		node *netem.Node
		dist float64
	}
	entries := make([]entry, 0, len(all))
	for _, peer := range all {
		d, err := src.DistanceTo(peer.node)
		if err != nil {
			return err
		}
		entries = append(entries, entry{peer.node, d})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].dist < entries[j].dist })

	picks := make([]*netem.Node, 0, brokersPerRequest)
	for _, e := range entries {
		if len(picks) == brokersPerRequest {
			break
		}
		picks = append(picks, e.node)
	}
	return b.send(src, &protocol.FindClosestBrokersResponse{Brokers: picks})
}

func (b *BrokerProcess) handleSubscribe(p *sim.Proc, m protocol.Message) error {
	sub := m.(*protocol.Sub)
	b.addSubscriber(sub.Topic, sub.Source)
	if b.proto.EnableAck {
		return b.send(sub.Source, &protocol.SubAck{})
	}
	return nil
}

func (b *BrokerProcess) handleUnsubscribe(p *sim.Proc, m protocol.Message) error {
	unsub := m.(*protocol.Unsub)
	b.removeSubscriber(unsub.Topic, unsub.Source)
	if b.proto.EnableAck {
		return b.send(unsub.Source, &protocol.UnsubAck{})
	}
	return nil
}

func (b *BrokerProcess) addSubscriber(topic string, node *netem.Node) {
	if _, ok := b.subscribers[topic]; !ok {
		b.topics = append(b.topics, topic)
	}
	for _, existing := range b.subscribers[topic] {
		if existing == node {
			return
		}
	}
	b.subscribers[topic] = append(b.subscribers[topic], node)
}

func (b *BrokerProcess) removeSubscriber(topic string, node *netem.Node) {
	subs := b.subscribers[topic]
	for i, existing := range subs {
		if existing == node {
			b.subscribers[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// RunPubLoop receives and forwards publications. It runs alongside the main
// message loop so publication fan-outs do not block subscription
// management. PubAcks for earlier fan-outs are absorbed here.
func (b *BrokerProcess) RunPubLoop(p *sim.Proc) error {
	for b.running {
		m, err := b.receive(p, protocol.KindPub, protocol.KindPubAck)
		if err != nil {
			return err
		}
		pub, ok := m.(*protocol.Pub)
		if !ok {
			continue
		}
		if err := b.handlePublish(p, pub); err != nil {
			return err
		}
	}
	return nil
}

// handlePublish forwards a publication to every local subscriber of its
// topic except the sender, and to every peer broker that is not yet in the
// message's hops list and has at least one subscriber of the topic. The
// broker appends itself to the hops before forwarding, so no broker is
// visited twice. The acks of the forwarded copies are not awaited here:
// two brokers forwarding to each other would stall each other's pub loops,
// so RunPubLoop absorbs them as they arrive.
func (b *BrokerProcess) handlePublish(p *sim.Proc, m *protocol.Pub) error {
	if b.proto.EnableAck {
		if err := b.send(m.Source, &protocol.PubAck{}); err != nil {
			return err
		}
	}

	msg := m.Clone()
	msg.Hops = append(msg.Hops, b.node)

	for _, dst := range b.subscribers[msg.Topic] {
		if dst == m.Source {
			continue
		}
		if err := b.send(dst, msg.Clone()); err != nil {
			return err
		}
	}
	for _, peer := range b.peers.All() {
		if peer == b || containsNode(msg.Hops, peer.node) {
			continue
		}
		if len(peer.subscribers[msg.Topic]) == 0 {
			continue
		}
		if err := b.send(peer.node, msg.Clone()); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown reconnects every current subscriber to a randomly chosen running
// broker, awaits the ReconnectAcks when acknowledgements are enabled, then
// terminates the message loops. The subscription migrations triggered by
// the reconnects are still served by this broker's main loop while the acks
// are pending.
func (b *BrokerProcess) Shutdown(p *sim.Proc) error {
	var replacements []*BrokerProcess
	for _, peer := range b.peers.Running() {
		if peer != b {
			replacements = append(replacements, peer)
		}
	}

	acksExpected := 0
	for _, node := range b.allSubscribers() {
		if len(replacements) == 0 {
			break
		}
		choice := replacements[b.rng.Intn(len(replacements))]
		if err := b.send(node, &protocol.ReconnectRequest{NewBroker: choice.node}); err != nil {
			return err
		}
		acksExpected++
	}
	if b.proto.EnableAck {
		for i := 0; i < acksExpected; i++ {
			if _, err := b.receive(p, protocol.KindReconnectAck); err != nil {
				return err
			}
		}
	}
	return b.NodeProcess.Shutdown()
}

func (b *BrokerProcess) String() string {
	return fmt.Sprintf("BrokerProcess(node=%s)", b.node)
}

func containsNode(nodes []*netem.Node, node *netem.Node) bool {
	for _, n := range nodes {
		if n == node {
			return true
		}
	}
	return false
}
