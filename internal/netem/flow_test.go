package netem

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emmalab/fogsim/internal/sim"
)

func watchCompletion(env *sim.Environment, name string, target *sim.Proc, at *float64) {
	env.Process(name, func(p *sim.Proc) error {
		if err := p.Join(target); err != nil {
			return err
		}
		*at = p.Env().Now()
		return nil
	})
}

func TestFlowCompletionOverLan(t *testing.T) {
	env := sim.NewEnvironment(1)
	link := NewLink(100, nil)
	route := lanRoute("lan", link) // rtt 2ms

	f := NewFlow(env, 1250000, route)
	proc := f.Start()

	var done float64
	watchCompletion(env, "watch", proc, &done)

	env.RunAll()

	require.NoError(t, proc.Err())
	// 1.5 * 2ms handshake plus 1,250,000 bytes at 100 MBit/s goodput.
	expected := 0.003 + 1250000.0/(100*125000*0.97)
	assert.InDelta(t, expected, done, 1e-9)
	assert.Equal(t, float64(f.Size), f.Sent)
	assert.Equal(t, 0, link.NumFlows())
	assert.Equal(t, 100.0, link.MaxAllocatable())
}

func TestConcurrentFlowsShareLinkEqually(t *testing.T) {
	env := sim.NewEnvironment(1)
	link := NewLink(100, nil)

	f1 := NewFlow(env, 1250000, lanRoute("one", link))
	f2 := NewFlow(env, 1250000, lanRoute("two", link))
	p1 := f1.Start()
	p2 := f2.Start()

	var done1, done2 float64
	watchCompletion(env, "watch1", p1, &done1)
	watchCompletion(env, "watch2", p2, &done2)

	env.RunAll()

	require.NoError(t, p1.Err())
	require.NoError(t, p2.Err())
	assert.InDelta(t, done1, done2, 1e-6, "equal flows over one link must finish together")

	expected := 0.003 + 1250000.0/(50*125000*0.97)
	assert.InDelta(t, expected, done1, 1e-6)
	assert.Equal(t, 0, link.NumFlows())
	assert.Equal(t, float64(f1.Size), f1.Sent)
	assert.Equal(t, float64(f2.Size), f2.Sent)
}

func TestRebalanceInterruptsChangedFlows(t *testing.T) {
	env := sim.NewEnvironment(1)
	link := NewLink(100, nil)

	var cause any
	first := &Flow{Size: 1, Route: lanRoute("first", link)}
	firstProc := env.Process("first", func(p *sim.Proc) error {
		AddAndRebalance(first)
		err := p.Sleep(1000)
		if intr, ok := sim.AsInterrupt(err); ok {
			cause = intr.Cause
		}
		return nil
	})
	first.Proc = firstProc

	second := &Flow{Size: 1, Route: lanRoute("second", link)}
	env.Process("second", func(p *sim.Proc) error {
		if err := p.Sleep(1); err != nil {
			return err
		}
		AddAndRebalance(second)
		return nil
	})

	env.Run(10)

	require.Equal(t, 50.0, cause, "interrupt cause carries the new allocation")
}

func TestFlowWithoutHopsFails(t *testing.T) {
	env := sim.NewEnvironment(1)
	route := NewRoute(NewNode("a"), NewNode("b"), []Vertex{Relay("switch")}, 1)

	f := NewFlow(env, 1000, route)
	proc := f.Start()
	env.RunAll()

	require.Error(t, proc.Err())
	assert.True(t, errors.Is(proc.Err(), ErrInvalidTopology))
}

func TestZeroGoodputIsFatal(t *testing.T) {
	env := sim.NewEnvironment(1)
	link := NewLink(0, nil)

	f := NewFlow(env, 1000, lanRoute("dead", link))
	proc := f.Start()
	env.RunAll()

	require.Error(t, proc.Err())
	assert.True(t, errors.Is(proc.Err(), ErrZeroGoodput))
	assert.Equal(t, 0, link.NumFlows(), "failed flow must release its registration")
}

func TestHandshakeInterruptAbortsFlow(t *testing.T) {
	env := sim.NewEnvironment(1)
	link := NewLink(100, nil)

	f := NewFlow(env, 1250000, lanRoute("aborted", link))
	proc := f.Start()

	env.Process("killer", func(p *sim.Proc) error {
		if err := p.Sleep(0.001); err != nil {
			return err
		}
		proc.Interrupt("cancelled")
		return nil
	})
	env.RunAll()

	assert.False(t, proc.Alive())
	intr, ok := sim.AsInterrupt(proc.Err())
	require.True(t, ok)
	assert.Equal(t, "cancelled", intr.Cause)
	assert.Equal(t, 0, link.NumFlows(), "no allocation may exist before the handshake finishes")
	assert.Zero(t, f.Sent)
}

func TestEstablishResumesAfterInterrupt(t *testing.T) {
	env := sim.NewEnvironment(1)
	route := NewRoute(NewNode("a"), NewNode("b"), []Vertex{NewLink(100, nil)}, 200)

	f := NewFlow(env, 1, route)

	var done float64
	proc := env.Process("establish", func(p *sim.Proc) error {
		if err := f.Establish(p); err != nil {
			return err
		}
		done = p.Env().Now()
		return nil
	})
	env.Process("interrupter", func(p *sim.Proc) error {
		if err := p.Sleep(0.1); err != nil {
			return err
		}
		proc.Interrupt("poke")
		return nil
	})
	env.RunAll()

	require.NoError(t, proc.Err())
	assert.InDelta(t, 0.3, done, 1e-9, "handshake continues with the remaining time")
}
