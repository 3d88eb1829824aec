// Package eppserver is a scripted RFC 5734 peer for tests.
package eppserver

import (
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/danmuck/eppctl/internal/protocol/frame"
	"golang.org/x/sync/errgroup"
)

// Reply returns the response payload for the index-th (0-based) request.
// ok=false drops the connection without replying.
type Reply func(index int, request []byte) (response []byte, ok bool)

// Ack replies "<ack/>" to every request.
func Ack(int, []byte) ([]byte, bool) {
	return []byte("<ack/>"), true
}

type Config struct {
	// Greeting is framed and sent on accept. Nil sends nothing.
	Greeting []byte
	// RawGreeting is written verbatim instead of Greeting, then the conn is closed.
	RawGreeting []byte
	Reply       Reply
	TLS         *tls.Config
}

type Server struct {
	cfg   Config
	ln    net.Listener
	group errgroup.Group

	mu       sync.Mutex
	conns    []net.Conn
	requests [][]byte
	accepted int
	closed   bool
}

func Start(t testing.TB, cfg Config) *Server {
	t.Helper()
	if cfg.Reply == nil {
		cfg.Reply = Ack
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if cfg.TLS != nil {
		ln = tls.NewListener(ln, cfg.TLS)
	}
	s := &Server{cfg: cfg, ln: ln}
	s.group.Go(s.acceptLoop)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.ln.Addr().String())
	return host
}

func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.ln.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Requests returns a copy of every payload received so far.
func (s *Server) Requests() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) Accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := append([]net.Conn(nil), s.conns...)
	s.mu.Unlock()

	_ = s.ln.Close()
	for _, c := range conns {
		_ = c.Close()
	}
	return s.group.Wait()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		s.conns = append(s.conns, conn)
		s.accepted++
		s.mu.Unlock()
		s.group.Go(func() error {
			s.handle(conn)
			return nil
		})
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()

	if s.cfg.RawGreeting != nil {
		_, _ = conn.Write(s.cfg.RawGreeting)
		return
	}
	if s.cfg.Greeting != nil {
		if err := frame.WriteFrame(conn, s.cfg.Greeting, frame.DefaultLimits()); err != nil {
			return
		}
	}
	for i := 0; ; i++ {
		req, err := frame.ReadFrame(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		s.mu.Lock()
		s.requests = append(s.requests, req)
		s.mu.Unlock()

		resp, ok := s.cfg.Reply(i, req)
		if !ok {
			return
		}
		if err := frame.WriteFrame(conn, resp, frame.DefaultLimits()); err != nil {
			return
		}
	}
}
