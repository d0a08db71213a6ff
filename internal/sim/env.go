// Package sim implements a single-threaded cooperative discrete-event
// simulation kernel: a virtual clock, suspendable processes, interrupts, and
// filterable FIFO stores.
//
// Exactly one process runs at any moment. A process suspends only at its
// blocking operations (Sleep, Get, Join); between suspensions it runs
// atomically with respect to all other processes. Events scheduled for the
// same virtual time fire in schedule order, except interrupts, which jump
// ahead of normal events at the same time.
//
// Virtual time carries no fixed unit; callers pick one per simulation.
package sim

import (
	"container/heap"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/rand"
)

var log = logrus.WithField("component", "sim")

const (
	prioUrgent = iota // interrupts
	prioNormal
)

// event is a scheduled resumption of a process.
type event struct {
	time     float64
	prio     int
	seq      int64
	proc     *Proc
	val      any        // value delivered on resume, e.g. a store item
	intr     *Interrupt // non-nil when resuming with an interrupt
	canceled bool
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.time != b.time {
		return a.time < b.time
	}
	if a.prio != b.prio {
		return a.prio < b.prio
	}
	return a.seq < b.seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}

// Environment owns the virtual clock, the event queue, and the seeded random
// source shared by everything in one simulation run.
type Environment struct {
	now     float64
	queue   eventQueue
	seq     int64
	procSeq int64
	rng     *rand.Rand
	current *Proc

	// yielded is signalled by the running process when it parks or exits,
	// handing control back to the scheduler.
	yielded chan struct{}
}

// NewEnvironment creates an environment with a deterministic random source.
func NewEnvironment(seed uint64) *Environment {
	env := &Environment{
		rng:     rand.New(rand.NewSource(seed)),
		yielded: make(chan struct{}),
	}
	heap.Init(&env.queue)
	return env
}

// Now returns the current virtual time.
func (env *Environment) Now() float64 { return env.now }

// Rand returns the simulation's random source.
func (env *Environment) Rand() *rand.Rand { return env.rng }

func (env *Environment) schedule(at float64, prio int, p *Proc, val any, intr *Interrupt) *event {
	env.seq++
	ev := &event{time: at, prio: prio, seq: env.seq, proc: p, val: val, intr: intr}
	heap.Push(&env.queue, ev)
	return ev
}

// step executes the next pending event. It reports false once the queue is
// drained.
func (env *Environment) step() bool {
	for env.queue.Len() > 0 {
		ev := heap.Pop(&env.queue).(*event)
		if ev.canceled {
			continue
		}
		env.now = ev.time
		p := ev.proc
		p.pending = nil
		p.claimed = nil
		p.claimedStore = nil
		env.current = p
		p.resume <- resumeMsg{val: ev.val, intr: ev.intr}
		<-env.yielded
		env.current = nil
		return true
	}
	return false
}

// Run executes all events strictly before until, then advances the clock to
// until. Processes still waiting when Run returns stay suspended and can be
// driven further by subsequent Run calls.
func (env *Environment) Run(until float64) {
	for env.queue.Len() > 0 {
		top := env.queue[0]
		if top.canceled {
			heap.Pop(&env.queue)
			continue
		}
		if top.time >= until {
			break
		}
		env.step()
	}
	if until > env.now {
		env.now = until
	}
}

// RunAll drains the event queue completely.
func (env *Environment) RunAll() {
	for env.step() {
	}
}

// Pending returns the number of scheduled events, cancelled ones included.
func (env *Environment) Pending() int { return env.queue.Len() }

type resumeMsg struct {
	val  any
	intr *Interrupt
}

// Interrupt is the resumption value delivered to a process whose pending
// wait was cancelled via Proc.Interrupt. It satisfies error so blocking
// operations can surface it directly.
type Interrupt struct {
	Cause any
}

func (i *Interrupt) Error() string {
	return fmt.Sprintf("interrupt: %v", i.Cause)
}

// AsInterrupt unwraps err as an *Interrupt if it is one.
func AsInterrupt(err error) (*Interrupt, bool) {
	if in, ok := err.(*Interrupt); ok {
		return in, true
	}
	return nil, false
}

// Proc is a cooperative simulation process. All its methods must be called
// either from the process itself or, for Interrupt, from whatever goroutine
// currently drives the simulation.
type Proc struct {
	env  *Environment
	name string
	id   int64

	// resume carries the scheduler-to-process handoff. Capacity 1: the
	// scheduler never sends twice without an intervening park.
	resume chan resumeMsg

	// wait state, at most one of these is set while parked
	pending      *event
	joinTarget   *Proc
	getStore     *Store
	claimed      any    // store item claimed but not yet delivered
	claimedStore *Store

	alive   bool
	err     error
	joiners []*Proc
}

// Process spawns fn as a new process whose first execution happens at the
// current virtual time, after already scheduled same-time events.
func (env *Environment) Process(name string, fn func(p *Proc) error) *Proc {
	env.procSeq++
	p := &Proc{
		env:    env,
		name:   name,
		id:     env.procSeq,
		resume: make(chan resumeMsg, 1),
		alive:  true,
	}
	p.pending = env.schedule(env.now, prioNormal, p, nil, nil)

	go func() {
		<-p.resume // start signal
		err := fn(p)
		p.alive = false
		p.err = err
		if err != nil {
			if _, ok := AsInterrupt(err); !ok {
				log.WithError(err).Errorf("process %s failed at t=%v", p.name, env.now)
			}
		}
		for _, j := range p.joiners {
			j.joinTarget = nil
			j.pending = env.schedule(env.now, prioNormal, j, nil, nil)
		}
		p.joiners = nil
		env.yielded <- struct{}{}
	}()

	return p
}

// Env returns the environment the process runs in.
func (p *Proc) Env() *Environment { return p.env }

// Name returns the process name.
func (p *Proc) Name() string { return p.name }

// Alive reports whether the process function has not yet returned.
func (p *Proc) Alive() bool { return p.alive }

// Err returns the error the process function exited with, if any.
func (p *Proc) Err() error { return p.err }

// park hands control to the scheduler and blocks until resumed.
func (p *Proc) park() resumeMsg {
	p.env.yielded <- struct{}{}
	return <-p.resume
}

// Sleep suspends the process for d units of virtual time. It returns an
// *Interrupt error when the timeout is cancelled by an interrupt.
func (p *Proc) Sleep(d float64) error {
	if d < 0 {
		return fmt.Errorf("negative delay: %v", d)
	}
	p.pending = p.env.schedule(p.env.now+d, prioNormal, p, nil, nil)
	r := p.park()
	if r.intr != nil {
		return r.intr
	}
	return nil
}

// Join suspends the process until other has exited. Joining a process that
// already exited returns immediately. The target's own error is not
// propagated; inspect other.Err if needed.
func (p *Proc) Join(other *Proc) error {
	if !other.alive {
		return nil
	}
	p.joinTarget = other
	other.joiners = append(other.joiners, p)
	r := p.park()
	if r.intr != nil {
		return r.intr
	}
	return nil
}

// JoinAll waits for every given process in order.
func (p *Proc) JoinAll(procs ...*Proc) error {
	for _, other := range procs {
		if err := p.Join(other); err != nil {
			return err
		}
	}
	return nil
}

// Interrupt cancels p's pending wait and schedules an immediate resumption
// carrying cause, ahead of normal events at the current time. It reports
// whether the interrupt was delivered; dead processes and the currently
// running process are not interruptible.
func (p *Proc) Interrupt(cause any) bool {
	env := p.env
	if !p.alive || p == env.current {
		return false
	}
	switch {
	case p.pending != nil:
		p.pending.canceled = true
		p.pending = nil
		if p.claimed != nil {
			// hand the claimed item back so no message is lost
			p.claimedStore.unshift(p.claimed)
			p.claimed = nil
			p.claimedStore = nil
		}
	case p.getStore != nil:
		p.getStore.removeWaiter(p)
		p.getStore = nil
	case p.joinTarget != nil:
		p.joinTarget.removeJoiner(p)
		p.joinTarget = nil
	default:
		return false
	}
	p.pending = env.schedule(env.now, prioUrgent, p, nil, &Interrupt{Cause: cause})
	return true
}

func (p *Proc) removeJoiner(j *Proc) {
	for i, other := range p.joiners {
		if other == j {
			p.joiners = append(p.joiners[:i], p.joiners[i+1:]...)
			return
		}
	}
}
