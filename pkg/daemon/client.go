package daemon

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/shaneisley/patience-gate/pkg/backoff"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

// RemoteError is an error reported by the daemon
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "daemon: " + e.Message
}

// Client talks to a running daemon over its Unix socket. Calls are serialised
// on one connection.
type Client struct {
	socketPath        string
	connectionTimeout time.Duration
	clientName        string
	dialAttempts      int
	dialBackoff       backoff.Strategy

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// NewClient creates a client for the daemon at socketPath
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath:        socketPath,
		connectionTimeout: 5 * time.Second,
		clientName:        "patience-gate-cli",
		dialAttempts:      3,
		dialBackoff:       backoff.NewExponential(50*time.Millisecond, 2.0, 500*time.Millisecond),
	}
}

// SetDialRetry sets how many times a refused dial is attempted and the wait between tries
func (c *Client) SetDialRetry(attempts int, strategy backoff.Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialAttempts = max(1, attempts)
	c.dialBackoff = strategy
}

// dialLocked dials the socket, retrying while the daemon may still be starting
func (c *Client) dialLocked(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.connectionTimeout}
	var lastErr error
	for attempt := 1; attempt <= c.dialAttempts; attempt++ {
		conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if attempt == c.dialAttempts || c.dialBackoff == nil {
			break
		}

		timer := time.NewTimer(c.dialBackoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// connectLocked dials and handshakes if not already connected
func (c *Client) connectLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	conn, err := c.dialLocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to daemon at %s: %w", c.socketPath, err)
	}
	c.conn = conn
	c.reader = bufio.NewReader(conn)

	response, err := c.roundTripLocked(ctx, HandshakeRequest{
		Type:    TypeHandshake,
		Version: ProtocolVersion,
		Client:  c.clientName,
	})
	if err != nil {
		c.closeLocked()
		return fmt.Errorf("handshake failed: %w", err)
	}
	if hs, ok := response.(HandshakeResponse); !ok || hs.Status != "ok" {
		c.closeLocked()
		return fmt.Errorf("handshake rejected by daemon")
	}
	return nil
}

// roundTripLocked writes one request and reads one response
func (c *Client) roundTripLocked(ctx context.Context, request Message) (Message, error) {
	data, err := EncodeMessage(request)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	c.conn.SetDeadline(deadline)

	// unblock the read if ctx is cancelled without a deadline
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := c.conn.Write(data); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	response, err := DecodeMessage(line)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if e, ok := response.(ErrorResponse); ok {
		return nil, &RemoteError{Message: e.Error}
	}
	return response, nil
}

// call connects on demand and drops the connection after transport errors
func (c *Client) call(ctx context.Context, request Message) (Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(ctx); err != nil {
		return nil, err
	}
	response, err := c.roundTripLocked(ctx, request)
	if err != nil {
		if _, remote := err.(*RemoteError); !remote {
			c.closeLocked()
		}
		return nil, err
	}
	return response, nil
}

// Translate asks the daemon to translate req
func (c *Client) Translate(ctx context.Context, req translate.Request) (*translate.Response, error) {
	response, err := c.call(ctx, TranslateRequest{Type: TypeTranslate, Request: req})
	if err != nil {
		return nil, err
	}
	result, ok := response.(TranslateResult)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %q", response.GetType())
	}
	return &result.Response, nil
}

// Stats fetches a daemon snapshot
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	response, err := c.call(ctx, StatsRequest{Type: TypeStats})
	if err != nil {
		return nil, err
	}
	stats, ok := response.(StatsResponse)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %q", response.GetType())
	}
	return &stats, nil
}

// Close closes the client connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.reader = nil
	return err
}
