package utils

import (
	"context"
	"errors"
	"sync"
)

// ErrBarrierBroken is returned to waiters of a generation that was reset
// before every party arrived.
var ErrBarrierBroken = errors.New("barrier broken")

// barrierGen is one round of the barrier. Exactly one of its channels is
// closed when the round ends.
type barrierGen struct {
	tripped chan struct{}
	broken  chan struct{}
}

func newBarrierGen() *barrierGen {
	return &barrierGen{
		tripped: make(chan struct{}),
		broken:  make(chan struct{}),
	}
}

// Barrier is a reusable rendezvous point for a fixed number of parties.
// A round trips when all parties are waiting at the same time; Reset ends
// the current round early and every waiter gets ErrBarrierBroken.
//
// Every Reset also advances an epoch. A party reads the epoch before it
// checks whatever condition sends it to the barrier and hands it to Wait, so
// a Reset that lands between the check and the wait is not lost.
type Barrier struct {
	mu      sync.Mutex
	parties int
	waiting int
	epoch   uint64
	gen     *barrierGen
}

// NewBarrier creates a Barrier for the given number of parties.
func NewBarrier(parties int) *Barrier {
	if parties < 1 {
		parties = 1
	}
	return &Barrier{parties: parties, gen: newBarrierGen()}
}

// Parties returns the number of parties required to trip the barrier.
func (b *Barrier) Parties() int {
	return b.parties
}

// Waiting returns how many parties are currently parked.
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.waiting
}

// Epoch returns the current reset epoch.
func (b *Barrier) Epoch() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.epoch
}

// Wait parks the caller until the round trips (nil), is reset
// (ErrBarrierBroken) or ctx is done (ctx.Err()). If the barrier was reset
// since epoch was read, Wait returns ErrBarrierBroken at once. A caller
// leaving through ctx withdraws from the round without breaking it.
func (b *Barrier) Wait(ctx context.Context, epoch uint64) error {
	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		return ErrBarrierBroken
	}
	g := b.gen
	b.waiting++
	if b.waiting == b.parties {
		close(g.tripped)
		b.next()
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	select {
	case <-g.tripped:
		return nil
	case <-g.broken:
		return ErrBarrierBroken
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.gen == g {
			b.waiting--
			return ctx.Err()
		}
		// The round ended while we were leaving.
		select {
		case <-g.tripped:
			return nil
		default:
			return ErrBarrierBroken
		}
	}
}

// Reset advances the epoch and breaks the current round if anyone is
// waiting in it.
func (b *Barrier) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.epoch++
	if b.waiting == 0 {
		return
	}
	close(b.gen.broken)
	b.next()
}

// next must be called with mu held.
func (b *Barrier) next() {
	b.gen = newBarrierGen()
	b.waiting = 0
}
