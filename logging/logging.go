// Package logging constructs the leveled loggers passed to the storage
// bridge and the library manager.
package logging

import "github.com/mborders/logmatic"

// New returns a logger at the given level. Levels follow logmatic:
// TRACE, DEBUG, INFO, WARN, ERROR, FATAL.
func New(level logmatic.LogLevel) *logmatic.Logger {
	l := logmatic.NewLogger()
	l.SetLevel(level)
	l.ExitOnFatal = false
	return l
}

// Default returns an INFO-level logger.
func Default() *logmatic.Logger {
	return New(logmatic.INFO)
}

// Quiet returns an ERROR-level logger, used by read-only CLI commands so
// informational chatter does not pollute parseable output.
func Quiet() *logmatic.Logger {
	return New(logmatic.ERROR)
}
