package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/eppctl/internal/client"
	"github.com/danmuck/eppctl/internal/config"
	"github.com/danmuck/eppctl/internal/logging"
	"github.com/danmuck/eppctl/internal/observability"
	"github.com/danmuck/eppctl/internal/protocol/session"
	"github.com/danmuck/eppctl/internal/template"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errNoInput = errors.New("no template files given and standard input is a terminal")

type options struct {
	configPath   string
	host         string
	port         int
	cert         string
	key          string
	ca           string
	serverName   string
	verify       bool
	noSSL        bool
	tlsVersion   string
	verbose      bool
	noGreeting   bool
	testing      bool
	defines      []string
	timeout      time.Duration
	noCLTRID     bool
	cltridPrefix string
	metricsFile  string
	logFile      string
}

const longHelp = `Send EPP (RFC 5734) commands to a registry and print the responses.

The commands are XML documents read from the files given on the command line,
in order, or from standard input when no files are given. Every %(NAME)s in a
document is replaced with the value given by -d NAME=VALUE, and every
__CLTRID__ with a unique client transaction id.`

const examples = `  eppctl --host=epp.registry.test login.xml create_host.xml create_domain.xml
  cat create_domain.xml | eppctl --host=epp.registry.test -p 3121 -d DOMAIN=example.co.za
  eppctl -t -d DOMAIN=example.co.za create_domain.xml`

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "eppctl [flags] [files...]",
		Short:         "EPP transport client",
		Long:          longHelp,
		Example:       examples,
		Version:       version,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExchange(cmd, opts, args, stdin, stdout, stderr)
		},
	}
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})
	bindFlags(cmd, opts)
	return cmd
}

func bindFlags(cmd *cobra.Command, opts *options) {
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "", "TOML registry profile")
	f.StringVar(&opts.host, "host", "127.0.0.1", "host to connect to")
	f.StringVar(&opts.host, "ip", "127.0.0.1", "alias for --host")
	f.IntVarP(&opts.port, "port", "p", session.DefaultPort, "port to connect to")
	f.StringVarP(&opts.cert, "cert", "c", "", "client certificate PEM (may also hold the key)")
	f.StringVar(&opts.key, "key", "", "client private key PEM when not bundled with --cert")
	f.StringVar(&opts.ca, "ca", "", "CA bundle used with --verify")
	f.StringVar(&opts.serverName, "server-name", "", "TLS server name (default: --host)")
	f.BoolVar(&opts.verify, "verify", false, "verify the server certificate")
	f.BoolVar(&opts.noSSL, "nossl", false, "do not use TLS")
	f.StringVar(&opts.tlsVersion, "tls-version", "", "pin the TLS version (1.0, 1.1, 1.2, 1.3)")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "show the server greeting and debug logging")
	f.BoolVar(&opts.noGreeting, "ng", false, "do not wait for a server greeting")
	f.BoolVarP(&opts.testing, "testing", "t", false, "do not connect; print the completed templates")
	f.StringArrayVarP(&opts.defines, "define", "d", nil, "NAME=VALUE replacing %(NAME)s in templates (repeatable)")
	f.DurationVar(&opts.timeout, "timeout", 0, "socket read/write timeout (0 waits forever)")
	f.BoolVar(&opts.noCLTRID, "no-cltrid", false, "leave __CLTRID__ markers untouched")
	f.StringVar(&opts.cltridPrefix, "cltrid-prefix", template.DefaultTransactionIDPrefix, "prefix for generated client transaction ids")
	f.StringVar(&opts.metricsFile, "metrics-file", "", "write run metrics in Prometheus textfile format")
	f.StringVar(&opts.logFile, "log-file", "", "also write logs to this file (rotated)")
}

func runExchange(cmd *cobra.Command, opts *options, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	logging.ConfigureRuntime(stderr, opts.verbose, opts.logFile)
	defer func() { _ = logging.Close() }()

	cfg, subs, err := buildConfig(cmd, opts)
	if err != nil {
		return err
	}

	source, err := resolveSource(args, stdin)
	if err != nil {
		if errors.Is(err, errNoInput) {
			_ = cmd.Help()
		}
		return err
	}
	templates, err := source.Load()
	if err != nil {
		return err
	}

	printer := client.NewPrinter(stdout)
	driverOpts := []client.Option{}
	var metrics *observability.Metrics
	if opts.metricsFile != "" {
		metrics = observability.NewMetrics(cfg.Session.Host)
		driverOpts = append(driverOpts, client.WithMetrics(metrics))
	}

	log.Debug().
		Str("addr", cfg.Session.Address()).
		Bool("tls", cfg.Session.TLS.Enabled).
		Bool("dry_run", cfg.DryRun).
		Int("templates", len(templates)).
		Int("defines", subs.Len()).
		Msg("eppctl run")

	summary, runErr := client.NewDriver(cfg, printer, driverOpts...).Run(cmd.Context(), templates, subs)
	if runErr != nil {
		log.Debug().Err(runErr).Int("completed", summary.Completed).Int("templates", summary.Templates).Msg("eppctl run aborted")
	}

	if metrics != nil {
		metrics.RunFinished(time.Now(), runErr)
		if err := metrics.WriteTextfile(opts.metricsFile); err != nil {
			log.Warn().Err(err).Str("path", opts.metricsFile).Msg("eppctl metrics write")
		}
	}

	if runErr != nil {
		return runErr
	}
	if printer.Err != nil {
		return fmt.Errorf("write output: %w", printer.Err)
	}
	return nil
}

// buildConfig layers defaults, the optional profile, then explicitly set flags.
func buildConfig(cmd *cobra.Command, opts *options) (client.Config, template.Substitutions, error) {
	cfg := client.DefaultConfig()
	subs := template.Substitutions{}
	if path := strings.TrimSpace(opts.configPath); path != "" {
		var err error
		cfg, subs, err = config.LoadProfile(path, cfg)
		if err != nil {
			return client.Config{}, template.Substitutions{}, usageError{err: err}
		}
	}

	flags := cmd.Flags()
	if flags.Changed("host") || flags.Changed("ip") {
		cfg.Session.Host = strings.TrimSpace(opts.host)
	}
	if flags.Changed("port") {
		cfg.Session.Port = opts.port
	}
	if flags.Changed("cert") {
		cfg.Session.TLS.CertFile = opts.cert
	}
	if flags.Changed("key") {
		cfg.Session.TLS.KeyFile = opts.key
	}
	if flags.Changed("ca") {
		cfg.Session.TLS.CAFile = opts.ca
	}
	if flags.Changed("server-name") {
		cfg.Session.TLS.ServerName = opts.serverName
	}
	if flags.Changed("verify") {
		cfg.Session.TLS.Verify = opts.verify
	}
	if flags.Changed("nossl") {
		cfg.Session.TLS.Enabled = !opts.noSSL
	}
	if flags.Changed("tls-version") {
		cfg.Session.TLS.Version = opts.tlsVersion
	}
	if flags.Changed("ng") {
		cfg.SkipGreeting = opts.noGreeting
	}
	if flags.Changed("timeout") {
		cfg.Session.ReadTimeout = opts.timeout
		cfg.Session.WriteTimeout = opts.timeout
	}
	if flags.Changed("no-cltrid") {
		cfg.TransactionIDs = !opts.noCLTRID
	}
	if flags.Changed("cltrid-prefix") {
		cfg.TransactionIDPrefix = opts.cltridPrefix
	}
	cfg.Verbose = opts.verbose
	cfg.DryRun = opts.testing

	defined, err := template.ParseDefines(opts.defines)
	if err != nil {
		return client.Config{}, template.Substitutions{}, err
	}
	return cfg, subs.Merge(defined), nil
}

// resolveSource picks file arguments when present, otherwise standard input
// unless it is an interactive terminal.
func resolveSource(args []string, stdin io.Reader) (template.Source, error) {
	if len(args) > 0 {
		return template.FileListSource{Paths: args, SearchDirs: searchDirs()}, nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return nil, usageError{err: errNoInput}
	}
	if stdin == nil {
		return nil, usageError{err: errNoInput}
	}
	return template.StdinSource{Reader: stdin}, nil
}

func searchDirs() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return []string{filepath.Dir(exe)}
}
