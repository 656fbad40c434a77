package blockmux

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewConsoleLogger builds a pretty-printed zerolog.Logger for local runs
// and examples. Services that already own a logger should build their own
// zerolog.Logger and pass it to WithLogger instead.
func NewConsoleLogger(level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	return zerolog.New(output).With().Timestamp().Str("component", "blockmux").Logger()
}
