package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	EnvLogLevel     = "EPPCTL_LOG_LEVEL"
	EnvLogTimestamp = "EPPCTL_LOG_TIMESTAMP"
	EnvLogNoColor   = "EPPCTL_LOG_NOCOLOR"
	EnvLogFile      = "EPPCTL_LOG_FILE"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

// Config describes one logger setup. Console output always goes to stderr;
// stdout is reserved for EPP documents.
type Config struct {
	Level     zerolog.Level
	Timestamp bool
	NoColor   bool
	File      string
	Console   io.Writer
}

var (
	configureOnce sync.Once

	fileMu      sync.Mutex
	file        *lumberjack.Logger
	consoleOnly io.Writer = os.Stderr
)

// ConfigureRuntime installs the CLI logger. verbose raises the level to debug;
// environment overrides still win.
func ConfigureRuntime(console io.Writer, verbose bool, file string) zerolog.Logger {
	cfg := defaultConfig(ProfileRuntime)
	cfg.Console = console
	if verbose {
		cfg.Level = zerolog.DebugLevel
	}
	if strings.TrimSpace(file) != "" {
		cfg.File = strings.TrimSpace(file)
	}
	applyEnvOverrides(&cfg)
	return Apply(cfg)
}

func ConfigureTests() {
	configureOnce.Do(func() {
		cfg := defaultConfig(ProfileTest)
		applyEnvOverrides(&cfg)
		Apply(cfg)
	})
}

// Apply installs cfg as the global zerolog logger. A log file opened by an
// earlier Apply is closed.
func Apply(cfg Config) zerolog.Logger {
	console := cfg.Console
	if console == nil {
		console = os.Stderr
	}
	var out io.Writer = zerolog.ConsoleWriter{
		Out:        console,
		NoColor:    cfg.NoColor,
		TimeFormat: time.RFC3339,
		PartsExclude: func() []string {
			if cfg.Timestamp {
				return nil
			}
			return []string{zerolog.TimestampFieldName}
		}(),
	}
	consoleOut := out
	var rotated *lumberjack.Logger
	if cfg.File != "" {
		rotated = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
		}
		out = zerolog.MultiLevelWriter(out, rotated)
	}
	_ = swapFile(rotated, consoleOut)

	ctx := zerolog.New(out).Level(cfg.Level).With().Str("app", "eppctl")
	if cfg.Timestamp || cfg.File != "" {
		ctx = ctx.Timestamp()
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// Close releases the log file, if any. Later log lines go to the console only.
func Close() error {
	fileMu.Lock()
	f := file
	file = nil
	console := consoleOnly
	fileMu.Unlock()
	if f == nil {
		return nil
	}
	log.Logger = log.Logger.Output(console)
	return f.Close()
}

func swapFile(next *lumberjack.Logger, console io.Writer) error {
	fileMu.Lock()
	prev := file
	file = next
	consoleOnly = console
	fileMu.Unlock()
	if prev == nil {
		return nil
	}
	return prev.Close()
}

func defaultConfig(profile Profile) Config {
	switch profile {
	case ProfileTest:
		return Config{Level: zerolog.DebugLevel, Timestamp: false, NoColor: true}
	default:
		return Config{Level: zerolog.InfoLevel, Timestamp: true}
	}
}

func applyEnvOverrides(cfg *Config) {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
		cfg.Timestamp = v
	}
	if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
		cfg.NoColor = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.File = v
	}
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
