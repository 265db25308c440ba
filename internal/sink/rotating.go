package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/detailyang/go-fallocate/fallocate"
	"github.com/sirupsen/logrus"

	"github.com/bord81/notcatd/internal/wire"
)

// Defaults per the filesystem layout and capacity figures in the external
// interface and data model sections: a 5-generation ring, 20 MiB per file
// (the 100 MiB aggregate cap divided by the generation count), rooted at
// the platform's private notcat directory.
const (
	DefaultDir         = "/data/misc/notcat"
	DefaultGenerations = 5
	DefaultPerFileCap  = 20 * 1024 * 1024
)

// fileState is the rotating-file sink's state machine state.
type fileState int

const (
	stateStarting fileState = iota
	stateRunning
	stateStopping
	stateError
)

// RotatingFileSink appends lines to a size-capped ring of generations files
// `notcat.log.0 ... notcat.log.(N-1)`. Exactly one generation is open for
// append at a time; rotation either advances to the next unused generation
// or, once the ring is full, discards generation 0 and shifts every other
// generation down by one slot.
type RotatingFileSink struct {
	ordinal     uint8
	dir         string
	perFileCap  int64
	generations int
	log         *logrus.Entry

	state        fileState
	index        int
	file         *os.File
	currentBytes int64
}

// NewRotatingFile builds a RotatingFileSink in the Starting state. Call
// Init before SendMessage.
func NewRotatingFile(ordinal uint8, dir string, perFileCap int64, generations int, log *logrus.Entry) *RotatingFileSink {
	return &RotatingFileSink{
		ordinal:     ordinal,
		dir:         dir,
		perFileCap:  perFileCap,
		generations: generations,
		log:         log,
		state:       stateStarting,
	}
}

func (s *RotatingFileSink) Ordinal() uint8 { return s.ordinal }

func (s *RotatingFileSink) path(i int) string {
	return filepath.Join(s.dir, fmt.Sprintf("notcat.log.%d", i))
}

// Init finds the highest-indexed existing generation file and opens it for
// append, or creates generation 0 if none exists. The directory is created
// if missing; this daemon owns that responsibility (see the directory-
// creation design decision).
func (s *RotatingFileSink) Init() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.state = stateError
		return fmt.Errorf("sink.file: mkdir %s: %w", s.dir, err)
	}

	highest := -1
	for i := 0; i < s.generations; i++ {
		if _, err := os.Stat(s.path(i)); err == nil {
			highest = i
		}
	}

	var (
		f   *os.File
		sz  int64
		err error
	)
	if highest < 0 {
		f, err = s.createFresh(0)
		s.index = 0
	} else {
		f, sz, err = s.openExisting(highest)
		s.index = highest
	}
	if err != nil {
		s.state = stateError
		return err
	}

	s.file = f
	s.currentBytes = sz
	s.state = stateRunning
	return nil
}

func (s *RotatingFileSink) openExisting(i int) (*os.File, int64, error) {
	f, err := os.OpenFile(s.path(i), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, 0, fmt.Errorf("sink.file: open %s: %w", s.path(i), err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("sink.file: stat %s: %w", s.path(i), err)
	}
	return f, fi.Size(), nil
}

// createFresh creates generation i from scratch and preallocates it to the
// per-file cap, so the ring's on-disk footprint is a stable upper bound
// rather than a value that creeps up one write at a time.
func (s *RotatingFileSink) createFresh(i int) (*os.File, error) {
	f, err := os.OpenFile(s.path(i), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink.file: create %s: %w", s.path(i), err)
	}
	if err := fallocate.Fallocate(f, s.perFileCap); err != nil {
		s.log.WithError(err).WithField("path", s.path(i)).Warn("fallocate failed, continuing unpreallocated")
	}
	return f, nil
}

// SendMessage implements the Running/SendMessage row of the state table:
// rotate first if the new line would meet or exceed the per-file cap, then
// append and flush.
func (s *RotatingFileSink) SendMessage(r wire.Record) error {
	if s.state != stateRunning {
		return nil
	}

	line := formatLine(r)
	grow := int64(len(line)) + 1
	if s.currentBytes+grow >= s.perFileCap {
		if err := s.rotate(); err != nil {
			s.state = stateError
			return err
		}
	}

	line = append(line, '\n')
	if _, err := s.file.Write(line); err != nil {
		s.state = stateError
		return err
	}
	if err := s.file.Sync(); err != nil {
		s.state = stateError
		return err
	}
	s.currentBytes += grow
	return nil
}

// rotate implements the rotation rule: advance to the next generation while
// any remain, or discard the oldest and shift the ring down by one once
// generation N-1 is full.
func (s *RotatingFileSink) rotate() error {
	if err := s.file.Truncate(s.currentBytes); err != nil {
		return err
	}
	if err := s.file.Close(); err != nil {
		return err
	}

	if s.index < s.generations-1 {
		s.index++
		f, err := s.createFresh(s.index)
		if err != nil {
			return err
		}
		s.file = f
		s.currentBytes = 0
		return nil
	}

	if err := os.Remove(s.path(0)); err != nil && !os.IsNotExist(err) {
		return err
	}
	for i := 1; i < s.generations; i++ {
		if err := os.Rename(s.path(i), s.path(i-1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	f, err := s.createFresh(s.generations - 1)
	if err != nil {
		return err
	}
	s.file = f
	s.currentBytes = 0
	return nil
}

// Close flushes and truncates the active generation down to its actual
// written size, undoing the preallocation, then closes the handle.
func (s *RotatingFileSink) Close() error {
	if s.state != stateRunning {
		return nil
	}
	if err := s.file.Sync(); err != nil {
		s.state = stateError
		return err
	}
	if err := s.file.Truncate(s.currentBytes); err != nil {
		s.state = stateError
		return err
	}
	if err := s.file.Close(); err != nil {
		s.state = stateError
		return err
	}
	s.state = stateStopping
	return nil
}

// formatLine renders a record per the rotating-file line format:
// "[<pid>] <P> <year>-<mon>-<day> <HH>:<MM>:<SS>-<mmm> <message>".
func formatLine(r wire.Record) []byte {
	ts := r.Timestamp
	msg := strings.ToValidUTF8(string(r.Message), "�")
	return []byte(fmt.Sprintf("[%d] %s %04d-%02d-%02d %02d:%02d:%02d-%03d %s",
		r.PID, r.Priority.String(), ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute, ts.Second, ts.Millisecond, msg))
}
