package sim

// Store is an unbounded FIFO of items with filtered retrieval. Put never
// blocks; Get suspends the calling process until a matching item is
// available. A Get with a predicate skips over non-matching items without
// removing them.
type Store struct {
	env     *Environment
	items   []any
	waiters []*waiter
}

type waiter struct {
	proc *Proc
	pred func(any) bool
}

// NewStore creates an empty store bound to the environment.
func (env *Environment) NewStore() *Store {
	return &Store{env: env}
}

// Len returns the number of buffered items.
func (s *Store) Len() int { return len(s.items) }

// Items returns a copy of the buffered items in FIFO order.
func (s *Store) Items() []any {
	out := make([]any, len(s.items))
	copy(out, s.items)
	return out
}

// Put appends an item. If a process is waiting on a matching Get, the oldest
// such waiter claims the item and is resumed at the current virtual time.
func (s *Store) Put(item any) {
	for i, w := range s.waiters {
		if w.pred != nil && !w.pred(item) {
			continue
		}
		s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
		s.deliver(w.proc, item)
		return
	}
	s.items = append(s.items, item)
}

// Get returns the oldest item satisfying pred, suspending until one arrives.
// A nil predicate matches any item. Returns an *Interrupt error when the
// wait is cancelled.
func (s *Store) Get(p *Proc, pred func(any) bool) (any, error) {
	for i, item := range s.items {
		if pred != nil && !pred(item) {
			continue
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		s.deliver(p, item)
		r := p.park()
		if r.intr != nil {
			return nil, r.intr
		}
		return r.val, nil
	}

	s.waiters = append(s.waiters, &waiter{proc: p, pred: pred})
	p.getStore = s
	r := p.park()
	if r.intr != nil {
		return nil, r.intr
	}
	return r.val, nil
}

// deliver schedules the resumption of p with a claimed item. The claim is
// recorded so an interrupt arriving before delivery can hand the item back.
func (s *Store) deliver(p *Proc, item any) {
	p.getStore = nil
	p.claimed = item
	p.claimedStore = s
	p.pending = s.env.schedule(s.env.now, prioNormal, p, item, nil)
}

func (s *Store) removeWaiter(p *Proc) {
	for i, w := range s.waiters {
		if w.proc == p {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Store) unshift(item any) {
	s.items = append([]any{item}, s.items...)
}
