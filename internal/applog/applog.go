// Package applog centralizes logger construction so every component derives
// its logging.Logger the same way instead of building logrus fields ad hoc.
package applog

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/coreruntime/janusd/pkg/logging"
)

// Options controls the root logger's behavior.
type Options struct {
	// Verbose enables debug-level logging.
	Verbose bool
	// JSON switches the formatter to JSON output.
	JSON bool
}

var root = logrus.New()

// Configure sets the root logger's level and formatter. It should be called
// once, early in process startup, before any component logger is created.
func Configure(opts Options) {
	if opts.Verbose {
		root.SetLevel(logrus.DebugLevel)
	} else {
		root.SetLevel(logrus.InfoLevel)
	}
	if opts.JSON {
		root.SetFormatter(&logrus.JSONFormatter{})
	}
	if level := os.Getenv("JANUSD_LOG_LEVEL"); level != "" {
		if lvl, err := logrus.ParseLevel(level); err == nil {
			root.SetLevel(lvl)
		}
	}
}

// New returns a component-scoped Logger backed by the shared root logrus
// instance. Call Configure before the first New if non-default verbosity or
// formatting is required.
func New(component string) logging.Logger {
	return logging.NewLogrusAdapterFromEntry(root.WithField("component", component))
}
