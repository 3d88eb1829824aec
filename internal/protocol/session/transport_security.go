package session

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
)

var (
	ErrAddressRequired     = errors.New("session: host required")
	ErrInvalidPort         = errors.New("session: invalid port")
	ErrTLSRequired         = errors.New("session: tls required")
	ErrTLSCertFileRequired = errors.New("session: tls cert file required")
	ErrInvalidTLSVersion   = errors.New("session: invalid tls version")
	ErrCAWithoutVerify     = errors.New("session: tls ca file set without verify")
)

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}

// ParseTLSVersion maps "1.2", "TLSv1_2", "tls1.2" and similar spellings to a
// crypto/tls version constant. Empty, "tls", "sslv23" and the negotiating
// PROTOCOL_TLS, PROTOCOL_TLS_CLIENT and PROTOCOL_SSLv23 names return 0.
func ParseTLSVersion(raw string) (uint16, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch v {
	case "", "tls", "sslv23", "auto", "protocol_tls", "protocol_tls_client", "protocol_sslv23":
		return 0, nil
	}
	v = strings.TrimPrefix(v, "protocol_")
	v = strings.TrimPrefix(v, "tls")
	v = strings.TrimPrefix(v, "v")
	v = strings.ReplaceAll(v, "_", ".")
	if v == "" {
		return 0, nil
	}
	if v == "1" {
		v = "1.0"
	}
	if ver, ok := tlsVersions[v]; ok {
		return ver, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidTLSVersion, raw)
}

// TLSVersionName is the inverse of ParseTLSVersion for log output.
func TLSVersionName(ver uint16) string {
	for name, v := range tlsVersions {
		if v == ver {
			return "TLSv" + name
		}
	}
	return fmt.Sprintf("0x%04x", ver)
}

func (c Config) ValidateClientTransport() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrAddressRequired
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	hasTLSMaterial := strings.TrimSpace(c.TLS.CertFile) != "" ||
		strings.TrimSpace(c.TLS.KeyFile) != "" ||
		strings.TrimSpace(c.TLS.CAFile) != ""
	if hasTLSMaterial && !c.TLS.Enabled {
		return ErrTLSRequired
	}
	if strings.TrimSpace(c.TLS.KeyFile) != "" && strings.TrimSpace(c.TLS.CertFile) == "" {
		return ErrTLSCertFileRequired
	}
	if strings.TrimSpace(c.TLS.CAFile) != "" && !c.TLS.Verify {
		return ErrCAWithoutVerify
	}
	if _, err := ParseTLSVersion(c.TLS.Version); err != nil {
		return err
	}
	return nil
}

func (c Config) clientTLSConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !c.TLS.Verify,
	}

	ver, err := ParseTLSVersion(c.TLS.Version)
	if err != nil {
		return nil, err
	}
	if ver != 0 {
		cfg.MinVersion = ver
		cfg.MaxVersion = ver
	}

	serverName := strings.TrimSpace(c.TLS.ServerName)
	if serverName == "" {
		serverName = strings.TrimSpace(c.Host)
	}
	cfg.ServerName = serverName

	if caPath := strings.TrimSpace(c.TLS.CAFile); caPath != "" {
		caPEM, err := os.ReadFile(caPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if ok := pool.AppendCertsFromPEM(caPEM); !ok {
			return nil, fmt.Errorf("session: parse tls ca bundle: %s", caPath)
		}
		cfg.RootCAs = pool
	}

	if certPath := strings.TrimSpace(c.TLS.CertFile); certPath != "" {
		cert, err := loadClientCertificate(certPath, strings.TrimSpace(c.TLS.KeyFile))
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// loadClientCertificate accepts a separate key file or one PEM bundle holding both blocks.
func loadClientCertificate(certPath, keyPath string) (tls.Certificate, error) {
	if keyPath != "" {
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("session: load client certificate %s: %w", certPath, err)
		}
		return cert, nil
	}
	bundle, err := os.ReadFile(certPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("session: read client certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(bundle, bundle)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("session: load client certificate %s: %w", certPath, err)
	}
	return cert, nil
}
