// Package config holds the daemon's bootstrap configuration and the
// mechanism for acquiring its listening socket by name. Per spec.md section
// 1, CLI flags and configuration files are external collaborators; Config
// is populated by whatever process embeds this daemon, not parsed from
// argv.
package config

import (
	"github.com/bord81/notcatd/internal/sink"
)

// Config is the daemon's sole configuration surface.
type Config struct {
	// SocketName is the LISTEN_FDNAMES name the init supervisor assigns
	// the daemon's pre-bound listening socket.
	SocketName string

	// SinkDir, PerFileCap, Generations configure the rotating-file sink.
	SinkDir     string
	PerFileCap  int64
	Generations int

	// Debug gates verbose (logrus.DebugLevel) daemon diagnostics.
	Debug bool
}

// Default returns the configuration described in spec.md's external
// interfaces and filesystem layout sections.
func Default() Config {
	return Config{
		SocketName:  "notcat_socket",
		SinkDir:     sink.DefaultDir,
		PerFileCap:  sink.DefaultPerFileCap,
		Generations: sink.DefaultGenerations,
	}
}
