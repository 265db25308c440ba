// Package diag wires the daemon's operational logging. It replaces the
// teacher's flag-gated *log.Logger debug/error pair (jacobsa-fuse/debug.go)
// with leveled, structured logging via logrus, while keeping the same split:
// an error channel that is always on, and a verbose channel gated by an
// explicit option.
package diag

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Subsystem names used as the base logger's "subsystem" field across the
// daemon. Kept as constants so log call sites and tests agree on spelling.
const (
	SubsystemBootstrap  = "bootstrap"
	SubsystemReactor    = "reactor"
	SubsystemProtocol   = "protocol"
	SubsystemDispatcher = "dispatcher"
	SubsystemSinkNative = "sink.native"
	SubsystemSinkFile   = "sink.file"
)

// New builds the root logger. debug gates logrus.DebugLevel (mirroring the
// teacher's fEnableDebug); logrus.ErrorLevel and above are always emitted.
func New(debug bool) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if debug {
		l.SetLevel(logrus.DebugLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return l
}

// For returns the per-subsystem entry used at every call site, so fields
// like fd/pid/sink are attached structurally rather than interpolated into
// a format string.
func For(l *logrus.Logger, subsystem string) *logrus.Entry {
	return l.WithField("subsystem", subsystem)
}
