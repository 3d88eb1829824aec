package client

import (
	"github.com/danmuck/eppctl/internal/protocol/frame"
	"github.com/danmuck/eppctl/internal/protocol/session"
	"github.com/danmuck/eppctl/internal/template"
)

// Config is built once per invocation and read-only afterwards.
type Config struct {
	Session session.Config
	Limits  frame.Limits

	// SkipGreeting does not wait for the server greeting frame.
	SkipGreeting bool
	// DryRun renders templates without any network I/O.
	DryRun bool
	// Verbose hands the greeting to the Observer.
	Verbose bool

	// TransactionIDs fills __CLTRID__ markers in live mode.
	TransactionIDs      bool
	TransactionIDPrefix string
}

func DefaultConfig() Config {
	return Config{
		Session:             session.DefaultConfig(),
		Limits:              frame.DefaultLimits(),
		TransactionIDs:      true,
		TransactionIDPrefix: template.DefaultTransactionIDPrefix,
	}
}
