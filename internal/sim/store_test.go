package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuffered(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()
	store.Put("first")
	store.Put("second")

	var got []any
	env.Process("consumer", func(p *Proc) error {
		for i := 0; i < 2; i++ {
			item, err := store.Get(p, nil)
			if err != nil {
				return err
			}
			got = append(got, item)
		}
		return nil
	})

	env.RunAll()
	assert.Equal(t, []any{"first", "second"}, got)
	assert.Equal(t, 0, store.Len())
}

func TestGetBlocksUntilPut(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()

	var receivedAt float64
	env.Process("consumer", func(p *Proc) error {
		item, err := store.Get(p, nil)
		if err != nil {
			return err
		}
		assert.Equal(t, 42, item)
		receivedAt = env.Now()
		return nil
	})

	env.Process("producer", func(p *Proc) error {
		if err := p.Sleep(7); err != nil {
			return err
		}
		store.Put(42)
		return nil
	})

	env.RunAll()
	assert.Equal(t, 7.0, receivedAt)
}

func TestFilteredGetSkipsWithoutRemoving(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()
	store.Put("apple")
	store.Put("banana")
	store.Put("cherry")

	env.Process("picky", func(p *Proc) error {
		item, err := store.Get(p, func(v any) bool { return v == "banana" })
		if err != nil {
			return err
		}
		assert.Equal(t, "banana", item)
		return nil
	})

	env.RunAll()
	// non-matching items stay, in order
	assert.Equal(t, []any{"apple", "cherry"}, store.Items())
}

func TestPutWakesOldestMatchingWaiter(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()

	var winner string
	mk := func(name string, want any) {
		env.Process(name, func(p *Proc) error {
			_, err := store.Get(p, func(v any) bool { return v == want })
			if err != nil {
				return err
			}
			winner = name
			return nil
		})
	}
	mk("wrong-filter", "x")
	mk("older", "y")
	mk("newer", "y")

	env.Process("producer", func(p *Proc) error {
		if err := p.Sleep(1); err != nil {
			return err
		}
		store.Put("y")
		return nil
	})

	env.Run(2)
	assert.Equal(t, "older", winner)
}

func TestInterruptWaiter(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()

	waiterDone := false
	waiting := env.Process("waiting", func(p *Proc) error {
		_, err := store.Get(p, nil)
		_, ok := AsInterrupt(err)
		require.True(t, ok)
		waiterDone = true
		return nil
	})

	env.Process("canceller", func(p *Proc) error {
		if err := p.Sleep(3); err != nil {
			return err
		}
		assert.True(t, waiting.Interrupt("give up"))
		return nil
	})

	env.RunAll()
	assert.True(t, waiterDone)

	// the cancelled waiter must not consume later puts
	store.Put("later")
	assert.Equal(t, 1, store.Len())
}

func TestInterruptReturnsClaimedItem(t *testing.T) {
	env := NewEnvironment(1)
	store := env.NewStore()
	store.Put("precious")

	claimer := env.Process("claimer", func(p *Proc) error {
		if err := p.Sleep(1); err != nil {
			return err
		}
		_, err := store.Get(p, nil)
		_, ok := AsInterrupt(err)
		require.True(t, ok)
		return nil
	})

	// scheduled after claimer at t=1, so it runs between the claim and the
	// delivery event
	env.Process("interrupter", func(p *Proc) error {
		if err := p.Sleep(1); err != nil {
			return err
		}
		claimer.Interrupt(nil)
		return nil
	})

	env.RunAll()
	// the claimed item went back into the store
	assert.Equal(t, []any{"precious"}, store.Items())
}
