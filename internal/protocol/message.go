// Package protocol implements the messaging layer of the simulation: a
// closed catalog of typed messages, per-node mailboxes, and latency-aware
// delivery over the topology. Messages sent between nodes arrive after the
// one-way latency of the routed path, in send order per (source,
// destination) pair.
package protocol

import (
	"github.com/emmalab/fogsim/internal/netem"
)

// Kind identifies a message type in the catalog.
type Kind int

const (
	KindPing Kind = iota
	KindPong
	KindSub
	KindSubAck
	KindUnsub
	KindUnsubAck
	KindPub
	KindPubAck
	KindFindRandomBrokersRequest
	KindFindRandomBrokersResponse
	KindFindClosestBrokersRequest
	KindFindClosestBrokersResponse
	KindReconnectRequest
	KindReconnectAck
	KindQoSRequest
	KindQoSResponse
	KindShutdown
)

// String returns the kind name as it appears in message traces.
func (k Kind) String() string {
	switch k {
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindSub:
		return "Sub"
	case KindSubAck:
		return "SubAck"
	case KindUnsub:
		return "Unsub"
	case KindUnsubAck:
		return "UnsubAck"
	case KindPub:
		return "Pub"
	case KindPubAck:
		return "PubAck"
	case KindFindRandomBrokersRequest:
		return "FindRandomBrokersRequest"
	case KindFindRandomBrokersResponse:
		return "FindRandomBrokersResponse"
	case KindFindClosestBrokersRequest:
		return "FindClosestBrokersRequest"
	case KindFindClosestBrokersResponse:
		return "FindClosestBrokersResponse"
	case KindReconnectRequest:
		return "ReconnectRequest"
	case KindReconnectAck:
		return "ReconnectAck"
	case KindQoSRequest:
		return "QoSRequest"
	case KindQoSResponse:
		return "QoSResponse"
	case KindShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// Envelope carries the delivery metadata shared by all messages. The
// protocol stamps it on send; handlers read it on receipt.
type Envelope struct {
	Source      *netem.Node
	Destination *netem.Node
	Timestamp   float64 // virtual time of the send, milliseconds
	Latency     float64 // one-way delivery latency, milliseconds
}

func (e *Envelope) Env() *Envelope { return e }

// Message is one item of the closed message catalog. Size is the simulated
// wire size in bytes; Management marks control-plane traffic.
type Message interface {
	Kind() Kind
	Size() int64
	Management() bool
	Env() *Envelope
}

const ackSize = 5 // empty fixed-layout message: kind tag plus flags

// Ping probes a peer, which answers with a Pong.
type Ping struct {
	Envelope
}

func (*Ping) Kind() Kind       { return KindPing }
func (*Ping) Size() int64      { return 5 }
func (*Ping) Management() bool { return true }

// Pong answers a Ping. PingLatency is the one-way latency of the triggering
// Ping; RTT is filled in on send as PingLatency plus the Pong's own latency.
type Pong struct {
	Envelope
	PingLatency float64
	RTT         float64
}

func (*Pong) Kind() Kind       { return KindPong }
func (*Pong) Size() int64      { return 5 }
func (*Pong) Management() bool { return true }

// Sub subscribes the sender to a topic on the receiving broker.
type Sub struct {
	Envelope
	Topic string
}

func (*Sub) Kind() Kind       { return KindSub }
func (m *Sub) Size() int64    { return 5 + int64(len(m.Topic)) }
func (*Sub) Management() bool { return false }

// SubAck confirms a subscription.
type SubAck struct {
	Envelope
}

func (*SubAck) Kind() Kind       { return KindSubAck }
func (*SubAck) Size() int64      { return ackSize }
func (*SubAck) Management() bool { return false }

// Unsub removes the sender's subscription to a topic.
type Unsub struct {
	Envelope
	Topic string
}

func (*Unsub) Kind() Kind       { return KindUnsub }
func (m *Unsub) Size() int64    { return 5 + int64(len(m.Topic)) }
func (*Unsub) Management() bool { return false }

// UnsubAck confirms an unsubscription.
type UnsubAck struct {
	Envelope
}

func (*UnsubAck) Kind() Kind       { return KindUnsubAck }
func (*UnsubAck) Size() int64      { return ackSize }
func (*UnsubAck) Management() bool { return false }

// Pub is an application publication on a topic. Hops records the brokers the
// message passed through and prevents forwarding loops; E2ELatency
// accumulates the delivery latency over every hop since FirstSent.
type Pub struct {
	Envelope
	Topic      string
	Data       string
	Hops       []*netem.Node
	FirstSent  float64
	E2ELatency float64
}

func (*Pub) Kind() Kind       { return KindPub }
func (m *Pub) Size() int64    { return 10 + int64(len(m.Topic)) }
func (*Pub) Management() bool { return false }

// Clone returns a copy for forwarding. The hops slice is copied so brokers
// forwarding in parallel do not share backing arrays.
func (m *Pub) Clone() *Pub {
	clone := *m
	clone.Hops = append([]*netem.Node(nil), m.Hops...)
	return &clone
}

// PubAck confirms receipt of a publication.
type PubAck struct {
	Envelope
}

func (*PubAck) Kind() Kind       { return KindPubAck }
func (*PubAck) Size() int64      { return ackSize }
func (*PubAck) Management() bool { return false }

// FindRandomBrokersRequest asks a broker for a uniform sample of its peers.
type FindRandomBrokersRequest struct {
	Envelope
}

func (*FindRandomBrokersRequest) Kind() Kind       { return KindFindRandomBrokersRequest }
func (*FindRandomBrokersRequest) Size() int64      { return 5 }
func (*FindRandomBrokersRequest) Management() bool { return true }

// FindRandomBrokersResponse carries the sampled broker nodes.
type FindRandomBrokersResponse struct {
	Envelope
	Brokers []*netem.Node
}

func (*FindRandomBrokersResponse) Kind() Kind       { return KindFindRandomBrokersResponse }
func (m *FindRandomBrokersResponse) Size() int64    { return 1 + 5*int64(len(m.Brokers)) }
func (*FindRandomBrokersResponse) Management() bool { return true }

// FindClosestBrokersRequest asks a broker for the peers closest to the
// sender in coordinate space.
type FindClosestBrokersRequest struct {
	Envelope
}

func (*FindClosestBrokersRequest) Kind() Kind       { return KindFindClosestBrokersRequest }
func (*FindClosestBrokersRequest) Size() int64      { return 5 }
func (*FindClosestBrokersRequest) Management() bool { return true }

// FindClosestBrokersResponse carries the closest broker nodes.
type FindClosestBrokersResponse struct {
	Envelope
	Brokers []*netem.Node
}

func (*FindClosestBrokersResponse) Kind() Kind       { return KindFindClosestBrokersResponse }
func (m *FindClosestBrokersResponse) Size() int64    { return 1 + 5*int64(len(m.Brokers)) }
func (*FindClosestBrokersResponse) Management() bool { return true }

// ReconnectRequest tells a client to migrate its subscriptions to NewBroker.
// OptimalBroker is the latency-optimal choice for evaluation purposes and
// may be nil when a shutting-down broker picks a replacement at random.
type ReconnectRequest struct {
	Envelope
	NewBroker     *netem.Node
	OptimalBroker *netem.Node
}

func (*ReconnectRequest) Kind() Kind       { return KindReconnectRequest }
func (*ReconnectRequest) Size() int64      { return 47 }
func (*ReconnectRequest) Management() bool { return true }

// ReconnectAck confirms a completed reconnect.
type ReconnectAck struct {
	Envelope
}

func (*ReconnectAck) Kind() Kind       { return KindReconnectAck }
func (*ReconnectAck) Size() int64      { return 47 }
func (*ReconnectAck) Management() bool { return true }

// QoSRequest asks a client to measure its round-trip time to Target.
type QoSRequest struct {
	Envelope
	Target *netem.Node
}

func (*QoSRequest) Kind() Kind       { return KindQoSRequest }
func (*QoSRequest) Size() int64      { return 13 }
func (*QoSRequest) Management() bool { return true }

// QoSResponse reports the measured average round-trip time in milliseconds.
type QoSResponse struct {
	Envelope
	AvgRTT float64
}

func (*QoSResponse) Kind() Kind       { return KindQoSResponse }
func (*QoSResponse) Size() int64      { return 9 }
func (*QoSResponse) Management() bool { return true }

// Shutdown terminates the receiving process's message loop.
type Shutdown struct {
	Envelope
}

func (*Shutdown) Kind() Kind       { return KindShutdown }
func (*Shutdown) Size() int64      { return 5 }
func (*Shutdown) Management() bool { return true }
