// Command notcatd is the logging daemon: it accepts concurrent local
// clients over a preconfigured UNIX-domain socket, decodes their framed log
// records, and fans them out to the native-log and rotating-file sinks.
//
// Bootstrap wires the pipeline, protocol handler, reactor, and dispatcher,
// then blocks until both the reactor and dispatcher have exited, mirroring
// jacobsa-fuse/mounted_file_system.go's Mount/Join shape: construct,
// spawn background goroutines, block on their completion.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudflare/tableflip"
	"github.com/jacobsa/timeutil"
	"github.com/sirupsen/logrus"

	"github.com/bord81/notcatd/internal/config"
	"github.com/bord81/notcatd/internal/diag"
	"github.com/bord81/notcatd/internal/dispatch"
	"github.com/bord81/notcatd/internal/pipeline"
	"github.com/bord81/notcatd/internal/protocol"
	"github.com/bord81/notcatd/internal/reactor"
	"github.com/bord81/notcatd/internal/sink"
)

// shutdownGracePeriod bounds how long the bootstrap waits for the reactor
// to finish tearing down after a shutdown is requested, before giving up on
// a graceful exit and logging a warning instead of blocking forever.
const shutdownGracePeriod = 5 * time.Second

// sinkFileOrdinal and sinkNativeOrdinal are the bit positions assigned at
// bootstrap, per the end-to-end scenarios in the spec (mask 0b011 reaches
// both the file and native sinks).
const (
	sinkFileOrdinal   uint8 = 1 << 0
	sinkNativeOrdinal uint8 = 1 << 1
)

func main() {
	cfg := config.Default()
	logger := diag.New(cfg.Debug)
	bootLog := diag.For(logger, diag.SubsystemBootstrap)

	if err := run(cfg, logger, bootLog); err != nil {
		bootLog.WithError(err).Error("fatal startup error")
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logrus.Logger, bootLog *logrus.Entry) error {
	upg, err := tableflip.New(tableflip.Options{})
	if err != nil {
		return fmt.Errorf("bootstrap: tableflip: %w", err)
	}
	defer upg.Stop()

	go watchSIGHUP(upg, bootLog)
	go watchTermSignals(upg, bootLog)

	listenerFD, err := config.ListenerFD(cfg.SocketName)
	if err != nil {
		return fmt.Errorf("bootstrap: acquiring listener: %w", err)
	}

	pipe := pipeline.New()
	handler := protocol.New(pipe)

	react, err := reactor.New(listenerFD, handler, pipe, diag.For(logger, diag.SubsystemReactor))
	if err != nil {
		return fmt.Errorf("bootstrap: reactor init: %w", err)
	}

	disp := dispatch.New(pipe, buildSinks(cfg, logger), diag.For(logger, diag.SubsystemDispatcher))

	reactorDone := make(chan error, 1)
	go func() { reactorDone <- react.Run() }()

	dispatcherDone := make(chan struct{})
	go func() { disp.Run(); close(dispatcherDone) }()

	if err := upg.Ready(); err != nil {
		return fmt.Errorf("bootstrap: tableflip ready: %w", err)
	}

	select {
	case <-upg.Exit():
		bootLog.Info("shutdown requested, stopping reactor")
		react.Stop()
		err, timedOut := reactor.WaitForExit(timeutil.RealClock(), reactorDone, shutdownGracePeriod)
		switch {
		case timedOut:
			bootLog.Warn("reactor did not stop within the graceful shutdown deadline")
			pipe.Close()
		case err != nil:
			bootLog.WithError(err).Warn("reactor returned an error on shutdown")
		}
	case err := <-reactorDone:
		if err != nil {
			bootLog.WithError(err).Error("reactor exited with a fatal I/O error")
		}
		pipe.Close()
	}

	<-dispatcherDone
	return nil
}

// buildSinks assigns ordinals and constructs the configured sink set in the
// fixed order the dispatcher fans records out in.
func buildSinks(cfg config.Config, logger *logrus.Logger) []sink.Sink {
	return []sink.Sink{
		sink.NewRotatingFile(sinkFileOrdinal, cfg.SinkDir, cfg.PerFileCap, cfg.Generations, diag.For(logger, diag.SubsystemSinkFile)),
		sink.NewNative(sinkNativeOrdinal, sink.NewLogrusWriter(diag.For(logger, diag.SubsystemSinkNative))),
	}
}

// watchSIGHUP triggers tableflip's upgrade protocol. The listening fd is
// never registered with the upgrader, so a child spawned by Upgrade does not
// inherit it; once the child signals readiness, Exit() closes and this
// generation drains and stops exactly as on SIGTERM/SIGINT.
func watchSIGHUP(upg *tableflip.Upgrader, log *logrus.Entry) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	for range sig {
		log.Info("received SIGHUP, starting graceful upgrade")
		if err := upg.Upgrade(); err != nil {
			log.WithError(err).Warn("upgrade failed")
		}
	}
}

// watchTermSignals gives the reactor the termination condition spec.md §9
// flags as missing: SIGTERM/SIGINT calls Stop() on the upgrader, which
// closes Exit() and lets run's select fall through to the reactor's
// control-fd shutdown path.
func watchTermSignals(upg *tableflip.Upgrader, log *logrus.Entry) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	<-sig
	log.Info("received termination signal, stopping")
	upg.Stop()
}
