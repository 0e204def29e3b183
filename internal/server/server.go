// Package server runs the TCP connection loop: one goroutine per accepted
// connection, bounded by a worker semaphore, parsing and executing command
// frames until the peer disconnects.
package server

import (
	"bufio"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/epochdb/epochdb/internal/command"
	"github.com/epochdb/epochdb/internal/epocherr"
	"github.com/epochdb/epochdb/internal/protocol"
)

// Server accepts connections on a TCP listener and dispatches each one's
// command frames to an Executor.
type Server struct {
	listener net.Listener
	executor *command.Executor
	logger   *zap.Logger

	sem chan struct{}
	wg  sync.WaitGroup
}

// New binds addr and returns a Server ready to Serve. workers bounds how
// many connections are actively being served at once — the idiomatic
// substitute for a fixed-size worker-thread pool.
func New(addr string, executor *command.Executor, workers int, logger *zap.Logger) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &epocherr.IOError{Err: err}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		listener: listener,
		executor: executor,
		logger:   logger,
		sem:      make(chan struct{}, workers),
	}, nil
}

// Addr returns the address the server is listening on.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve blocks accepting connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}

		s.sem <- struct{}{}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Close stops accepting new connections and waits for every connection
// handler to return. It does not close open connections, so it returns only
// once each connected client has disconnected.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) handle(conn net.Conn) {
	defer func() {
		<-s.sem
		s.wg.Done()
		_ = conn.Close()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	for {
		args, err := protocol.ReadCommand(r)
		if err != nil {
			if _, disconnected := err.(*epocherr.ClientDisconnectedError); disconnected {
				return
			}
			_ = protocol.WriteError(w, err.Error())
			if err := w.Flush(); err != nil {
				s.logger.Warn("failed flushing reply", zap.Error(err))
				return
			}
			// AboveSizeLimitError is the only ReadCommand error the wire is
			// guaranteed to have resynced after (the oversized element's
			// bytes are discarded, not buffered); every other framing error
			// leaves the stream at an indeterminate position, so those
			// still close the connection even though the error table calls
			// InvalidCommand recoverable in the unknown-command case — that
			// case is handled inside Execute below without ever reaching
			// here.
			if _, oversized := err.(*epocherr.AboveSizeLimitError); oversized {
				continue
			}
			return
		}

		if err := s.executor.Execute(args, w); err != nil {
			s.logger.Warn("failed writing reply", zap.Error(err))
			return
		}
		if err := w.Flush(); err != nil {
			s.logger.Warn("failed flushing reply", zap.Error(err))
			return
		}
	}
}
