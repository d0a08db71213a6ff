package protocol

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/emmalab/fogsim/internal/netem"
	"github.com/emmalab/fogsim/internal/sim"
	"github.com/emmalab/fogsim/internal/topology"
)

// twoNodeTopology wires a and b through one switch with a constant one-way
// latency of 5ms per edge, so a->b takes 10ms one way.
func twoNodeTopology(t *testing.T) (*topology.Topology, *netem.Node, *netem.Node) {
	t.Helper()
	topo := topology.New(rand.New(rand.NewSource(1)))
	a := netem.NewNode("a")
	b := netem.NewNode("b")
	sw := netem.Relay("switch")
	require.NoError(t, topo.AddConnection(netem.NewConnection(a, sw, 5)))
	require.NoError(t, topo.AddConnection(netem.NewConnection(sw, b, 5)))
	return topo, a, b
}

func TestSendStampsEnvelope(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	env.Process("sender", func(p *sim.Proc) error {
		if err := p.Sleep(100); err != nil {
			return err
		}
		_, err := proto.Send(a, b, &Ping{})
		return err
	})
	env.RunAll()

	require.Equal(t, 1, proto.Store(b).Len())
	msg := proto.Store(b).Items()[0].(Message)
	assert.Equal(t, a, msg.Env().Source)
	assert.Equal(t, b, msg.Env().Destination)
	assert.Equal(t, 100.0, msg.Env().Timestamp)
	assert.Equal(t, 10.0, msg.Env().Latency)
}

func TestDeliveryTakesOneWayLatency(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	var received float64
	env.Process("receiver", func(p *sim.Proc) error {
		_, err := proto.Receive(p, b)
		received = p.Env().Now()
		return err
	})
	env.Process("sender", func(p *sim.Proc) error {
		_, err := proto.Send(a, b, &Ping{})
		return err
	})
	env.RunAll()

	assert.Equal(t, 10.0, received)
}

func TestSendOrderPreservedPerPair(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	var topics []string
	env.Process("sender", func(p *sim.Proc) error {
		for _, topic := range []string{"one", "two", "three"} {
			if _, err := proto.Send(a, b, &Sub{Topic: topic}); err != nil {
				return err
			}
		}
		return nil
	})
	env.Process("receiver", func(p *sim.Proc) error {
		for i := 0; i < 3; i++ {
			m, err := proto.Receive(p, b, KindSub)
			if err != nil {
				return err
			}
			topics = append(topics, m.(*Sub).Topic)
		}
		return nil
	})
	env.RunAll()

	assert.Equal(t, []string{"one", "two", "three"}, topics)
}

func TestPubAccumulatesE2ELatency(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	pub := &Pub{Topic: "sensor"}
	env.Process("sender", func(p *sim.Proc) error {
		if err := p.Sleep(7); err != nil {
			return err
		}
		if _, err := proto.Send(a, b, pub); err != nil {
			return err
		}
		// forward the same message onwards, as a broker would
		_, err := proto.Send(b, a, pub)
		return err
	})
	env.RunAll()

	assert.Equal(t, 20.0, pub.E2ELatency)
	assert.Equal(t, 7.0, pub.FirstSent, "FirstSent pins the original send time")
}

func TestPongRTT(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	pong := &Pong{PingLatency: 10}
	env.Process("sender", func(p *sim.Proc) error {
		_, err := proto.Send(b, a, pong)
		return err
	})
	env.RunAll()

	assert.Equal(t, 20.0, pong.RTT)
}

func TestReceiveFiltersByKind(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	var got Message
	env.Process("sender", func(p *sim.Proc) error {
		if _, err := proto.Send(a, b, &Ping{}); err != nil {
			return err
		}
		_, err := proto.Send(a, b, &SubAck{})
		return err
	})
	env.Process("receiver", func(p *sim.Proc) error {
		m, err := proto.Receive(p, b, KindSubAck)
		got = m
		return err
	})
	env.RunAll()

	require.NotNil(t, got)
	assert.Equal(t, KindSubAck, got.Kind())
	// the skipped Ping stays buffered for another receiver
	require.Equal(t, 1, proto.Store(b).Len())
	assert.Equal(t, KindPing, proto.Store(b).Items()[0].(Message).Kind())
}

func TestHistoryRecordsSends(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)
	proto.EnableHistory()

	env.Process("sender", func(p *sim.Proc) error {
		if _, err := proto.Send(a, b, &Ping{}); err != nil {
			return err
		}
		_, err := proto.Send(a, b, &Sub{Topic: "x"})
		return err
	})
	env.RunAll()

	require.Len(t, proto.History(), 2)
	assert.Equal(t, KindPing, proto.History()[0].Kind())
	assert.Equal(t, KindSub, proto.History()[1].Kind())
}

func TestMessageSizes(t *testing.T) {
	tests := []struct {
		msg  Message
		size int64
	}{
		{&Ping{}, 5},
		{&Pong{}, 5},
		{&Shutdown{}, 5},
		{&SubAck{}, 5},
		{&UnsubAck{}, 5},
		{&PubAck{}, 5},
		{&Sub{Topic: "sensor"}, 11},
		{&Unsub{Topic: "sensor"}, 11},
		{&Pub{Topic: "sensor"}, 16},
		{&FindRandomBrokersRequest{}, 5},
		{&FindClosestBrokersRequest{}, 5},
		{&FindRandomBrokersResponse{Brokers: make([]*netem.Node, 3)}, 16},
		{&FindClosestBrokersResponse{Brokers: make([]*netem.Node, 5)}, 26},
		{&ReconnectRequest{}, 47},
		{&ReconnectAck{}, 47},
		{&QoSRequest{}, 13},
		{&QoSResponse{}, 9},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.size, tt.msg.Size(), tt.msg.Kind().String())
	}
}

func TestManagementFlags(t *testing.T) {
	dataPlane := []Message{
		&Sub{}, &SubAck{}, &Unsub{}, &UnsubAck{}, &Pub{}, &PubAck{},
	}
	for _, m := range dataPlane {
		assert.False(t, m.Management(), m.Kind().String())
	}
	controlPlane := []Message{
		&Ping{}, &Pong{}, &FindRandomBrokersRequest{}, &FindRandomBrokersResponse{},
		&FindClosestBrokersRequest{}, &FindClosestBrokersResponse{},
		&ReconnectRequest{}, &ReconnectAck{}, &QoSRequest{}, &QoSResponse{}, &Shutdown{},
	}
	for _, m := range controlPlane {
		assert.True(t, m.Management(), m.Kind().String())
	}
}

func TestCSVSink(t *testing.T) {
	env := sim.NewEnvironment(1)
	topo, a, b := twoNodeTopology(t)
	proto := New(env, topo)

	var buf bytes.Buffer
	sink, err := NewCSVSink(&buf)
	require.NoError(t, err)
	proto.AddSink(sink)

	env.Process("sender", func(p *sim.Proc) error {
		if _, err := proto.Send(a, b, &Pub{Topic: "sensor", Data: "42"}); err != nil {
			return err
		}
		_, err := proto.Send(a, b, &ReconnectRequest{NewBroker: b, OptimalBroker: a})
		return err
	})
	env.RunAll()
	require.NoError(t, sink.Flush())

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, traceHeader, rows[0])

	pub := rows[1]
	assert.Equal(t, "Pub", pub[1])
	assert.Equal(t, "a", pub[2])
	assert.Equal(t, "b", pub[3])
	assert.Equal(t, "10", pub[4])
	assert.Equal(t, "16", pub[5])
	assert.Equal(t, "false", pub[6])
	assert.Equal(t, "sensor", pub[7])
	assert.Equal(t, "", pub[8])
	assert.Equal(t, "42", pub[10])
	assert.Equal(t, "10", pub[11])

	rec := rows[2]
	assert.Equal(t, "ReconnectRequest", rec[1])
	assert.Equal(t, "true", rec[6])
	assert.Equal(t, "b", rec[8])
	assert.Equal(t, "a", rec[9])
	assert.Equal(t, "", rec[10])
	assert.Equal(t, "", rec[11])
}
