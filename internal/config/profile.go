package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/eppctl/internal/client"
	"github.com/danmuck/eppctl/internal/template"
)

// Profile is one registry profile file. Unset keys keep the base config values.
type Profile struct {
	Host             string            `toml:"host"`
	Port             int               `toml:"port"`
	TLS              bool              `toml:"tls"`
	TLSVersion       string            `toml:"tls_version"`
	Cert             string            `toml:"cert"`
	Key              string            `toml:"key"`
	CA               string            `toml:"ca"`
	ServerName       string            `toml:"server_name"`
	Verify           bool              `toml:"verify"`
	NoGreeting       bool              `toml:"no_greeting"`
	ConnectTimeout   string            `toml:"connect_timeout"`
	HandshakeTimeout string            `toml:"handshake_timeout"`
	ReadTimeout      string            `toml:"read_timeout"`
	WriteTimeout     string            `toml:"write_timeout"`
	CLTRID           bool              `toml:"cltrid"`
	CLTRIDPrefix     string            `toml:"cltrid_prefix"`
	MaxFrameBytes    uint64            `toml:"max_frame_bytes"`
	Define           map[string]string `toml:"define"`
}

// LoadProfile overlays the profile at path onto cfg. Relative certificate
// paths resolve against the profile's directory.
func LoadProfile(path string, cfg client.Config) (client.Config, template.Substitutions, error) {
	var raw Profile
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, template.Substitutions{}, fmt.Errorf("load profile: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return client.Config{}, template.Substitutions{}, fmt.Errorf("load profile: unknown key %q", undecoded[0].String())
	}
	base := filepath.Dir(path)

	if meta.IsDefined("host") {
		cfg.Session.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Session.Port = raw.Port
	}
	if meta.IsDefined("tls") {
		cfg.Session.TLS.Enabled = raw.TLS
	}
	if meta.IsDefined("tls_version") {
		cfg.Session.TLS.Version = strings.TrimSpace(raw.TLSVersion)
	}
	if meta.IsDefined("cert") {
		cfg.Session.TLS.CertFile = resolvePath(base, raw.Cert)
	}
	if meta.IsDefined("key") {
		cfg.Session.TLS.KeyFile = resolvePath(base, raw.Key)
	}
	if meta.IsDefined("ca") {
		cfg.Session.TLS.CAFile = resolvePath(base, raw.CA)
	}
	if meta.IsDefined("server_name") {
		cfg.Session.TLS.ServerName = strings.TrimSpace(raw.ServerName)
	}
	if meta.IsDefined("verify") {
		cfg.Session.TLS.Verify = raw.Verify
	}
	if meta.IsDefined("no_greeting") {
		cfg.SkipGreeting = raw.NoGreeting
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.Session.HandshakeTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return client.Config{}, template.Substitutions{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("cltrid") {
		cfg.TransactionIDs = raw.CLTRID
	}
	if meta.IsDefined("cltrid_prefix") {
		cfg.TransactionIDPrefix = strings.TrimSpace(raw.CLTRIDPrefix)
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Limits.MaxPayloadBytes = raw.MaxFrameBytes
	}

	return cfg, profileDefines(raw.Define), nil
}

func profileDefines(in map[string]string) template.Substitutions {
	names := make([]string, 0, len(in))
	for name := range in {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]template.Var, 0, len(names))
	for _, name := range names {
		vars = append(vars, template.Var{Name: name, Value: in[name]})
	}
	return template.NewSubstitutions(vars...)
}

func resolvePath(base, p string) string {
	p = strings.TrimSpace(p)
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
