// Package zlog provides zibai's four named log sinks: process, debug,
// access, and error. Each is an independently leveled logrus.Entry over its
// own logrus.Logger, mirroring logger.py's four named
// logging.Logger instances (zibai, zibai.debug, zibai.access, zibai.error)
// and its LOGGING_CONFIG. Structured fields (the full environment plus
// status/bytes_sent/duration_ms) are passed as logrus.Fields, the idiomatic
// analogue of the original's `extra=environ` records.
package zlog

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Sinks bundles the four named loggers. It is assembled once per process
// and threaded through the worker/supervisor/handler packages as an
// explicit *Sinks (the connection handler holds it in its Sinks field)
// rather than through package-level globals.
type Sinks struct {
	Process *logrus.Entry
	Debug   *logrus.Entry
	Access  *logrus.Entry
	Error   *logrus.Entry
}

// Options configures sink construction.
type Options struct {
	Debug         bool
	NoAccessLog   bool
	ProcessWriter io.Writer
	ErrorWriter   io.Writer
}

// New builds the four sinks, each on its own logrus.Logger. Process, debug,
// and access write to the same output (ProcessWriter, default stdout); error
// writes to ErrorWriter (default stderr).
func New(opts Options) *Sinks {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.ProcessWriter != nil {
		base.SetOutput(opts.ProcessWriter)
	} else {
		base.SetOutput(os.Stdout)
	}
	base.SetLevel(logrus.InfoLevel)

	errBase := logrus.New()
	errBase.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if opts.ErrorWriter != nil {
		errBase.SetOutput(opts.ErrorWriter)
	} else {
		errBase.SetOutput(os.Stderr)
	}
	errBase.SetLevel(logrus.ErrorLevel)

	debugLevel := logrus.InfoLevel
	if opts.Debug {
		debugLevel = logrus.DebugLevel
	}
	debugLogger := logrus.New()
	debugLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	debugLogger.SetOutput(base.Out)
	debugLogger.SetLevel(debugLevel)

	accessLevel := logrus.InfoLevel
	if opts.NoAccessLog {
		accessLevel = logrus.WarnLevel
	}
	accessLogger := logrus.New()
	accessLogger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	accessLogger.SetOutput(base.Out)
	accessLogger.SetLevel(accessLevel)

	return &Sinks{
		Process: logrus.NewEntry(base),
		Debug:   logrus.NewEntry(debugLogger),
		Access:  logrus.NewEntry(accessLogger),
		Error:   logrus.NewEntry(errBase),
	}
}

// LogHTTP emits one access or error record for a completed exchange,
// mirroring logger.py's log_http: status >= 500 goes to the error sink,
// everything else to access.
func (s *Sinks) LogHTTP(fields logrus.Fields, method, path, protocol string, status int) {
	msg := method + " " + path + " " + protocol
	if status >= 500 {
		s.Error.WithFields(fields).WithField("status", status).Error(msg)
	} else {
		s.Access.WithFields(fields).WithField("status", status).Info(msg)
	}
}
