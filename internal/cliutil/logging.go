// Package cliutil holds the small ambient pieces the CLI driver needs
// that aren't part of the engine's domain model: logging setup (§6).
package cliutil

import (
	"os"

	"gopkg.in/op/go-logging.v1"
)

// Log is the singleton logger instance, named after this binary the way
// the teacher names its own singleton after its own binary.
var Log = logging.MustGetLogger("forge")

// Re-exports of the levels --verbose/-v/-V/--quiet select among.
const (
	CRITICAL = logging.CRITICAL
	ERROR    = logging.ERROR
	WARNING  = logging.WARNING
	NOTICE   = logging.NOTICE
	INFO     = logging.INFO
	DEBUG    = logging.DEBUG
)

// InitLogging installs a stderr backend at level, formatted the way the
// teacher's cli.InitLogging formats its own (time, level, message).
func InitLogging(level logging.Level) {
	format := logging.MustStringFormatter("%{time:15:04:05.000} %{level:7s}: %{message}")
	backend := logging.NewBackendFormatter(logging.NewLogBackend(os.Stderr, "", 0), format)
	leveled := logging.AddModuleLevel(backend)
	leveled.SetLevel(level, "")
	logging.SetBackend(leveled)
}

// VerbosityToLevel maps the --verbose/-v/-V count (0-5) onto a go-logging
// Level, mirroring the teacher's own Verbosity-to-Level mapping.
func VerbosityToLevel(n int) logging.Level {
	switch {
	case n <= 0:
		return WARNING
	case n == 1:
		return NOTICE
	case n == 2:
		return INFO
	default:
		return DEBUG
	}
}
