package session

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	// ErrConnection is matched by every dial, handshake and stream failure.
	ErrConnection = errors.New("session: connection error")

	ErrConnect   = fmt.Errorf("%w: connect", ErrConnection)
	ErrHandshake = fmt.Errorf("%w: tls handshake", ErrConnection)
	ErrClosed    = fmt.Errorf("%w: connection closed", ErrConnection)
)

type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Conn is one EPP byte stream, plain TCP or TLS.
//
// Read passes a clean io.EOF through unwrapped so io.ReadFull can report
// truncation; every other stream error wraps ErrConnection, and TLS alerts
// that arrive after the handshake (a TLS 1.3 server rejecting the client
// certificate) wrap ErrHandshake. Any read or write error closes the Conn.
// Close may be called concurrently with a blocked Read or Write.
type Conn struct {
	raw          net.Conn
	addr         string
	tls          bool
	readTimeout  time.Duration
	writeTimeout time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	closeErr  error
}

// Dial opens one connection. There is no retry; callers own the returned Conn.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	addr := cfg.Address()

	var tlsCfg *tls.Config
	if cfg.TLS.Enabled {
		var err error
		tlsCfg, err = cfg.clientTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
		}
	}

	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConnect, addr, err)
	}
	c := &Conn{
		raw:          rawConn,
		addr:         addr,
		readTimeout:  cfg.ReadTimeout,
		writeTimeout: cfg.WriteTimeout,
	}
	c.state.Store(int32(StateOpen))
	if !cfg.TLS.Enabled {
		log.Debug().Str("addr", addr).Bool("tls", false).Msg("session.Dial connected")
		return c, nil
	}

	tlsConn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrHandshake, addr, err)
	}
	c.raw = tlsConn
	c.tls = true
	state := tlsConn.ConnectionState()
	log.Debug().
		Str("addr", addr).
		Bool("tls", true).
		Str("version", TLSVersionName(state.Version)).
		Str("cipher", tls.CipherSuiteName(state.CipherSuite)).
		Msg("session.Dial connected")
	return c, nil
}

func (c *Conn) Addr() string { return c.addr }

func (c *Conn) TLS() bool { return c.tls }

func (c *Conn) State() State { return State(c.state.Load()) }

func (c *Conn) Read(p []byte) (int, error) {
	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	if c.readTimeout > 0 {
		_ = c.raw.SetReadDeadline(time.Now().Add(c.readTimeout))
	}
	n, err := c.raw.Read(p)
	if err == nil {
		return n, nil
	}
	c.fail()
	if errors.Is(err, io.EOF) {
		return n, io.EOF
	}
	return n, c.streamError("read", err)
}

func (c *Conn) Write(p []byte) (int, error) {
	if c.State() != StateOpen {
		return 0, ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	n, err := c.raw.Write(p)
	if err != nil {
		c.fail()
		return n, c.streamError("write", err)
	}
	return n, nil
}

// ReadExact blocks until n bytes arrive. A stream that ends first returns the
// bytes it did deliver with io.EOF (none) or io.ErrUnexpectedEOF (some),
// unwrapped, so the frame codec can classify it.
func (c *Conn) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := io.ReadFull(c, buf)
	return buf[:got], err
}

// WriteAll writes every byte of b or fails.
func (c *Conn) WriteAll(b []byte) error {
	for len(b) > 0 {
		n, err := c.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			c.fail()
			return fmt.Errorf("%w: write %s: %w", ErrConnection, c.addr, io.ErrShortWrite)
		}
		b = b[n:]
	}
	return nil
}

// Close releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if c.raw != nil {
			c.closeErr = c.raw.Close()
		}
		log.Debug().Str("addr", c.addr).Msg("session.Conn closed")
	})
	return c.closeErr
}

func (c *Conn) fail() {
	_ = c.Close()
}

func (c *Conn) streamError(op string, err error) error {
	if c.tls && isTLSAlert(err) {
		return fmt.Errorf("%w: %s %s: %w", ErrHandshake, op, c.addr, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ErrConnection, op, c.addr, err)
}

// isTLSAlert matches alerts sent by the peer (crypto/tls reports them as a
// *net.OpError with Op "remote error") and local certificate or record failures.
func isTLSAlert(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "remote error" {
		return true
	}
	var alert tls.AlertError
	if errors.As(err, &alert) {
		return true
	}
	var verifyErr *tls.CertificateVerificationError
	if errors.As(err, &verifyErr) {
		return true
	}
	var recordErr tls.RecordHeaderError
	return errors.As(err, &recordErr)
}
