package sink

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/bord81/notcatd/internal/wire"
)

// nativeLogTag is the fixed process tag every native-log record carries,
// per the external interface contract.
const nativeLogTag = "NotCat"

// Writer is the platform's native log write primitive, abstracted per
// spec.md's explicit non-goal ("the native platform log write primitive ...
// abstracted as a sink capability"). Production wires LogrusWriter, which
// routes through the same structured logger the rest of the daemon uses,
// since this binary has no access to the real platform liblog; a host
// embedding this daemon on the actual target platform supplies its own
// Writer.
type Writer interface {
	Write(priority int, tag, message string) error
}

// priorityToNative maps the decoder's internal Priority to the platform
// native-log priority integers from the external interface table
// (Unknown=0, Default=1, Verbose=2, Debug=3, Info=4, Warn=5, Error=6,
// Fatal=7, Silent=8). The named Priority values are Verbose..Fatal
// (DecodePriority itself yields only Verbose..Error), so Default/Silent never
// arise here; any other Priority value maps to Unknown.
func priorityToNative(p wire.Priority) int {
	switch p {
	case wire.Verbose:
		return 2
	case wire.Debug:
		return 3
	case wire.Info:
		return 4
	case wire.Warn:
		return 5
	case wire.Error:
		return 6
	case wire.Fatal:
		return 7
	default:
		return 0
	}
}

// NativeSink is stateless: it reformats a record and forwards it to Writer
// on every call.
type NativeSink struct {
	ordinal uint8
	writer  Writer
}

// NewNative builds a NativeSink assigned to ordinal, forwarding to w.
func NewNative(ordinal uint8, w Writer) *NativeSink {
	return &NativeSink{ordinal: ordinal, writer: w}
}

func (s *NativeSink) Ordinal() uint8 { return s.ordinal }

// Init is a no-op: the sink holds no resources of its own.
func (s *NativeSink) Init() error { return nil }

// Close is a no-op for the same reason.
func (s *NativeSink) Close() error { return nil }

// SendMessage applies the NUL-truncation rule, lossily decodes the
// remaining bytes as UTF-8, and forwards to the platform primitive.
func (s *NativeSink) SendMessage(r wire.Record) error {
	msg, ok := truncateAtNUL(r.Message)
	if !ok {
		return nil
	}
	text := strings.ToValidUTF8(string(msg), "�")
	return s.writer.Write(priorityToNative(r.Priority), nativeLogTag, text)
}

// LogrusWriter is the default Writer, used when no platform-specific
// primitive is supplied: it emits each record as a structured logrus entry
// under the sink.native subsystem.
type LogrusWriter struct {
	log *logrus.Entry
}

// NewLogrusWriter builds a Writer that logs through log.
func NewLogrusWriter(log *logrus.Entry) *LogrusWriter {
	return &LogrusWriter{log: log}
}

func (w *LogrusWriter) Write(priority int, tag, message string) error {
	w.log.WithFields(logrus.Fields{"priority": priority, "tag": tag}).Info(message)
	return nil
}
