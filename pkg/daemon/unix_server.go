package daemon

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/translate"
)

const (
	// DefaultConnectionTimeout is how long a connection may sit idle between messages
	DefaultConnectionTimeout = 30 * time.Second
	// SocketPermissions defines the file permissions for the Unix socket
	SocketPermissions = 0600
)

// Backend answers the requests carried by the socket protocol
type Backend interface {
	Translate(ctx context.Context, req translate.Request) (*translate.Response, error)
	Stats(ctx context.Context) StatsResponse
}

// UnixServer serves the line-delimited JSON protocol on a Unix domain socket
type UnixServer struct {
	socketPath        string
	backend           Backend
	pool              *WorkerPool
	logger            *logging.Logger
	connectionTimeout time.Duration

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	acceptWg sync.WaitGroup
}

// NewUnixServer creates a server whose connections are handled by workers goroutines
func NewUnixServer(socketPath string, backend Backend, workers int, logger *logging.Logger) *UnixServer {
	s := &UnixServer{
		socketPath:        socketPath,
		backend:           backend,
		logger:            logger,
		connectionTimeout: DefaultConnectionTimeout,
	}
	s.pool = NewWorkerPool(workers, s.handleConnection, logger.WithComponent("worker_pool"))
	return s
}

// SetConnectionTimeout sets the idle timeout between messages
func (s *UnixServer) SetConnectionTimeout(timeout time.Duration) {
	s.connectionTimeout = timeout
}

// Pool returns the connection worker pool
func (s *UnixServer) Pool() *WorkerPool {
	return s.pool
}

// Start listens on the socket and begins accepting connections
func (s *UnixServer) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = listener

	if err := os.Chmod(s.socketPath, SocketPermissions); err != nil {
		s.listener.Close()
		return err
	}

	s.pool.Start()
	s.acceptWg.Add(1)
	go s.acceptConnections()

	s.logger.Info("unix socket server listening", "socket", s.socketPath)
	return nil
}

// Stop closes the listener, drains the workers and removes the socket file
func (s *UnixServer) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.acceptWg.Wait()
	s.pool.Stop()

	if removeErr := os.Remove(s.socketPath); removeErr != nil && !os.IsNotExist(removeErr) {
		if err == nil {
			err = removeErr
		}
	}
	return err
}

func (s *UnixServer) acceptConnections() {
	defer s.acceptWg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("error accepting connection", "error", err)
			continue
		}
		s.pool.SubmitConnection(conn)
	}
}

// handleConnection answers messages until the peer hangs up or goes idle
func (s *UnixServer) handleConnection(ctx context.Context, conn net.Conn, workerID int) {
	reader := bufio.NewReader(conn)

	for {
		if ctx.Err() != nil {
			return
		}
		if s.connectionTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.connectionTimeout))
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if len(bytes.TrimSpace(line)) == 0 {
				return
			}
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		response := s.handleMessage(ctx, line)
		data, encErr := EncodeMessage(response)
		if encErr != nil {
			s.logger.LogError("encode_response", encErr, "worker_id", workerID)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if _, writeErr := conn.Write(data); writeErr != nil {
			s.logger.Debug("client went away", "worker_id", workerID, "error", writeErr)
			return
		}
		if err != nil {
			// last line arrived without a trailing newline
			return
		}
	}
}

// handleMessage decodes one request and produces its response
func (s *UnixServer) handleMessage(ctx context.Context, line []byte) Message {
	msg, err := DecodeMessage(line)
	if err != nil {
		return ErrorResponse{Type: TypeError, Error: err.Error()}
	}

	switch m := msg.(type) {
	case HandshakeRequest:
		if m.Version != "" && m.Version != ProtocolVersion {
			return ErrorResponse{Type: TypeError, Error: "unsupported protocol version: " + m.Version}
		}
		s.logger.Debug("handshake", "client", m.Client)
		return HandshakeResponse{Type: TypeHandshakeResponse, Status: "ok", Version: ProtocolVersion}

	case TranslateRequest:
		resp, err := s.backend.Translate(ctx, m.Request)
		if err != nil {
			return ErrorResponse{Type: TypeError, ID: m.ID, Error: err.Error()}
		}
		return TranslateResult{Type: TypeTranslateResult, ID: m.ID, Response: *resp}

	case StatsRequest:
		return s.backend.Stats(ctx)

	default:
		return ErrorResponse{Type: TypeError, Error: "unexpected message type: " + msg.GetType()}
	}
}
