// Package applog provides one structured logger per subsystem.
package applog

import (
	"os"

	"github.com/charmbracelet/log"
)

// New returns a logger tagged with component so every line it emits
// can be traced back to the subsystem that produced it.
func New(component string) *log.Logger {
	l := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Level:           defaultLevel,
	})
	return l.WithPrefix(component)
}

// SetGlobalLevel adjusts verbosity for every logger created afterwards
// via New. Loggers already created keep their own level until changed
// directly.
var defaultLevel = log.InfoLevel

func SetGlobalLevel(l log.Level) {
	defaultLevel = l
	log.SetLevel(l)
}

func init() {
	log.SetLevel(defaultLevel)
}
