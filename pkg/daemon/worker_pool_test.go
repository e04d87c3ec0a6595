package daemon

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaneisley/patience-gate/pkg/logging"
)

func TestWorkerPool_HandlesConnections(t *testing.T) {
	// Given a started pool that echoes one line back
	var handled atomic.Int32
	pool := NewWorkerPool(3, func(ctx context.Context, conn net.Conn, workerID int) {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(conn, buf); err == nil {
			conn.Write(buf)
		}
		handled.Add(1)
	}, logging.Nop())
	pool.Start()
	defer pool.Stop()

	// When several connections are submitted
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		server, client := net.Pipe()
		require.True(t, pool.SubmitConnection(server))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer client.Close()
			client.Write([]byte("hello"))
			reply := make([]byte, 5)
			_, err := io.ReadFull(client, reply)
			assert.NoError(t, err)
			assert.Equal(t, "hello", string(reply))
		}()
	}
	wg.Wait()

	// Then every connection was served
	require.Eventually(t, func() bool { return handled.Load() == 5 }, time.Second, time.Millisecond)
	stats := pool.GetStats()
	assert.Equal(t, 3, stats.Workers)
	assert.Equal(t, 6, stats.QueueCapacity)
	assert.True(t, stats.Started)
}

func TestWorkerPool_RejectsWhenNotRunning(t *testing.T) {
	pool := NewWorkerPool(1, func(context.Context, net.Conn, int) {}, logging.Nop())

	server, client := net.Pipe()
	defer client.Close()
	assert.False(t, pool.SubmitConnection(server))

	pool.Start()
	pool.Stop()
	pool.Stop() // idempotent

	server2, client2 := net.Pipe()
	defer client2.Close()
	assert.False(t, pool.SubmitConnection(server2))
	assert.False(t, pool.GetStats().Started)
}

func TestWorkerPool_RejectsWhenQueueFull(t *testing.T) {
	// Given one busy worker and a queue of two
	release := make(chan struct{})
	pool := NewWorkerPool(1, func(ctx context.Context, conn net.Conn, workerID int) {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}, logging.Nop())
	pool.Start()
	defer pool.Stop()
	defer close(release)

	var clients []net.Conn
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	submit := func() bool {
		server, client := net.Pipe()
		clients = append(clients, client)
		return pool.SubmitConnection(server)
	}

	require.True(t, submit())
	require.Eventually(t, func() bool { return pool.GetStats().QueueLength == 0 }, time.Second, time.Millisecond)
	require.True(t, submit())
	require.True(t, submit())

	// Then the next connection is turned away
	assert.False(t, submit())
}

func TestWorkerPool_RecoversHandlerPanic(t *testing.T) {
	var calls atomic.Int32
	pool := NewWorkerPool(1, func(ctx context.Context, conn net.Conn, workerID int) {
		if calls.Add(1) == 1 {
			panic("bad handler")
		}
	}, logging.Nop())
	pool.Start()
	defer pool.Stop()

	for i := 0; i < 2; i++ {
		server, client := net.Pipe()
		defer client.Close()
		require.True(t, pool.SubmitConnection(server))
	}

	// the worker survives the panic and serves the next connection
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
}
