// Package server implements the TCP chat server: the Connection Actor
// (Conn) and the central Hub, wired together by Server.
//
// Concurrency overview
// --------------------
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Listener goroutine                                      │
//	│  Accepts TCP connections; spawns a Conn.Serve goroutine  │
//	│  per accepted socket.                                    │
//	└───────────────────┬─────────────────────────────────────┘
//	                    │  register / inbound / closed events
//	                    ▼
//	┌─────────────────────────────────────────────────────────┐
//	│  Hub goroutine                                           │
//	│  Owns the user table and room table; dispatches          │
//	│  commands and fans out replies.                          │
//	└─────────────────────────────────────────────────────────┘
//
// Adapted from internal/server/server.go, whose Server also owned a
// worker pool and an on-disk Store — both dropped here since persistence
// is out of scope.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

// Server accepts TCP connections and hands each one to a Hub.
type Server struct {
	hub      *Hub
	listener net.Listener
	logger   *log.Logger
	trace    bool

	shuttingDown atomic.Bool
	wg           sync.WaitGroup
}

// New creates a Server backed by a freshly started Hub.
func New(logger *log.Logger, trace bool) *Server {
	h := NewHub(logger, trace)
	return &Server{hub: h, logger: logger, trace: trace}
}

// ListenAndServe starts the Hub and accepts connections on addr until
// Shutdown is called or a fatal accept error occurs.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Printf("[server] listening on %s", addr)

	go s.hub.Run()

	ctx := context.Background()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if s.shuttingDown.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, socket net.Conn) {
	c := NewConn(socket, s.hub, s.logger, s.trace)
	c.Serve(ctx)
}

// Shutdown stops accepting new connections, tears down every live
// session, and waits for their Conn.Serve goroutines to drain.
func (s *Server) Shutdown() {
	s.shuttingDown.Store(true)
	if s.listener != nil {
		s.listener.Close()
	}
	s.hub.Stop()
	s.wg.Wait()
}
