package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes ProfileTemplate to path. An existing file is kept
// unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("profile already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(ProfileTemplate), 0o600)
}

const ProfileTemplate = `# eppctl registry profile. Flags given on the command line win.
host = "epp.registry.test"
port = 700
tls = true
# tls_version = "1.2"
cert = "registrar.pem"
# key = "registrar.key"
# ca = "registry-ca.pem" (requires verify = true)
verify = false
no_greeting = false
connect_timeout = "10s"
read_timeout = "30s"
write_timeout = "30s"
cltrid = true
cltrid_prefix = "EPPCTL"

[define]
# DOMAIN = "example.co.za"
`
