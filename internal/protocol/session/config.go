package session

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultPort is the IANA-assigned EPP port.
const DefaultPort = 700

// TLSConfig defines client transport security.
type TLSConfig struct {
	Enabled bool
	// Version pins the protocol version ("1.2", "TLSv1_3", ...). Empty negotiates.
	Version string
	// CertFile may hold both certificate and key when KeyFile is empty.
	CertFile   string
	KeyFile    string
	CAFile     string
	ServerName string
	// Verify checks the server chain against CAFile, or the system roots when
	// CAFile is empty.
	Verify bool
}

// Config defines one connection attempt.
type Config struct {
	Host             string
	Port             int
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// Zero read/write timeouts block indefinitely.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLS          TLSConfig
}

// DefaultConfig returns TLS-on defaults against localhost.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             DefaultPort,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		TLS: TLSConfig{
			Enabled: true,
		},
	}
}

// WithDefaults fills unset dial fields with DefaultConfig values.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	c.Host = strings.TrimSpace(c.Host)
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	return c
}

// Address returns host:port suitable for net.Dial.
func (c Config) Address() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}
