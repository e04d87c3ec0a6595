package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_SettlesOnce(t *testing.T) {
	// Given a pending future
	f := newFuture[int]()
	_, ok, _ := f.Result()
	assert.False(t, ok)
	assert.False(t, f.Settled())

	// When it is resolved and then rejected
	require.NoError(t, f.resolve(7))
	err := f.reject(errors.New("late"))

	// Then the second settlement is refused and the first outcome stands
	assert.ErrorIs(t, err, ErrAlreadySettled)
	v, ok, err := f.Result()
	assert.True(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestFuture_WaitHonoursContext(t *testing.T) {
	f := newFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Settled())
}

func TestFuture_WaitReturnsOutcome(t *testing.T) {
	f := newFuture[string]()
	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = f.resolve("ciao")
	}()

	v, err := f.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "ciao", v)
	select {
	case <-f.Done():
	default:
		t.Fatal("done channel not closed")
	}
}

func TestFuture_Constructors(t *testing.T) {
	ok := Resolved(3)
	v, settled, err := ok.Result()
	assert.True(t, settled)
	assert.NoError(t, err)
	assert.Equal(t, 3, v)

	failed := Rejected[int](ErrClosed)
	_, settled, err = failed.Result()
	assert.True(t, settled)
	assert.ErrorIs(t, err, ErrClosed)
}
