// Package dispatch implements the output dispatcher: the single consumer
// thread that drains the pipeline and fans each record out to the sinks
// selected by its mask. Its drain-and-switch shape is grounded in
// jacobsa-fuse/fuseutil/file_system.go's ServeOps/handleOp loop (read one
// item, dispatch, repeat until the source is exhausted), adapted from a
// per-op-type type switch to a per-sink ordinal-masked fan-out.
package dispatch

import (
	"github.com/sirupsen/logrus"

	"github.com/bord81/notcatd/internal/pipeline"
	"github.com/bord81/notcatd/internal/sink"
)

// Dispatcher owns every sink for the lifetime of the daemon, after
// bootstrap hands over the sink list. Sink order is significant: records
// fan out in the order sinks were registered.
type Dispatcher struct {
	pipe  *pipeline.Pipeline
	sinks []sink.Sink
	log   *logrus.Entry
}

// New builds a Dispatcher over sinks, in the ordinal-list order they must
// be consulted in.
func New(pipe *pipeline.Pipeline, sinks []sink.Sink, log *logrus.Entry) *Dispatcher {
	return &Dispatcher{pipe: pipe, sinks: sinks, log: log}
}

// Run calls Init on every sink in order, then drains the pipeline until it
// is closed and empty. A sink whose Init fails is logged and left in the
// list: its sends become no-ops or errors depending on the sink's own
// internal state machine, but it never aborts the other sinks.
func (d *Dispatcher) Run() {
	for _, s := range d.sinks {
		if err := s.Init(); err != nil {
			d.log.WithError(err).WithField("ordinal", s.Ordinal()).Warn("sink init failed")
		}
	}

	for {
		rec, ok := d.pipe.Recv()
		if !ok {
			break
		}
		for _, s := range d.sinks {
			if rec.SinkMask&s.Ordinal() == 0 {
				continue
			}
			if err := s.SendMessage(rec); err != nil {
				d.log.WithError(err).WithField("ordinal", s.Ordinal()).Warn("sink send failed")
			}
		}
	}

	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			d.log.WithError(err).WithField("ordinal", s.Ordinal()).Warn("sink close failed")
		}
	}
}
