// Package log configures the zerolog logger shared by every nexus
// component. Components obtain a logger scoped to their name and attach it
// to a request context via pkg/appctx; handlers then log through
// appctx.GetLogger so every line carries the ambient trace id, tenant and
// subject fields without threading a logger argument everywhere.
package log

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Out is the log output writer; overridden in tests to capture output.
var Out io.Writer = os.Stderr

// Mode selects the encoding: "dev" prints a human console format, anything
// else (e.g. "prod") prints structured JSON.
var Mode = "dev"

// New returns a logger scoped to component, e.g. "rebac", "cas", "rpc".
func New(component string) zerolog.Logger {
	zl := zerolog.New(output()).With().
		Str("component", component).
		Int("pid", os.Getpid()).
		Timestamp().
		Logger()
	return zl
}

func output() io.Writer {
	if Mode == "" || Mode == "dev" {
		return zerolog.ConsoleWriter{Out: Out}
	}
	return Out
}
