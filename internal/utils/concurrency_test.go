package utils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestBarrierTripsWhenAllPartiesArrive(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBarrier(3)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = b.Wait(ctx, b.Epoch())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 0, b.Waiting())
}

func TestBarrierResetBreaksWaiters(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBarrier(2)

	done := make(chan error, 1)
	go func() { done <- b.Wait(context.Background(), b.Epoch()) }()
	require.Eventually(t, func() bool { return b.Waiting() == 1 }, time.Second, time.Millisecond)

	b.Reset()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrBarrierBroken)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released by Reset")
	}
	assert.Equal(t, 0, b.Waiting())
}

func TestBarrierStaleEpochIsBroken(t *testing.T) {
	b := NewBarrier(2)
	epoch := b.Epoch()
	b.Reset()
	assert.NotEqual(t, epoch, b.Epoch())

	err := b.Wait(context.Background(), epoch)
	assert.True(t, errors.Is(err, ErrBarrierBroken))
	assert.Equal(t, 0, b.Waiting(), "a stale waiter must not join the round")
}

func TestBarrierContextWithdrawsWithoutBreaking(t *testing.T) {
	defer goleak.VerifyNone(t)
	b := NewBarrier(2)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx, b.Epoch())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, b.Waiting())

	// The round is still usable.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Wait(context.Background(), b.Epoch()))
		}()
	}
	wg.Wait()
}
