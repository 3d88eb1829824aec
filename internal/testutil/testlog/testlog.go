package testlog

import (
	"testing"

	"github.com/danmuck/eppctl/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures debug-level test logging once and tags the test name.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
}
