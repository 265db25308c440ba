package wire

// Priority is the decoded, internal form of a frame's wire priority byte.
type Priority uint8

const (
	Verbose Priority = iota
	Debug
	Info
	Warn
	Error
	Fatal
)

// String renders the single-letter tag the rotating-file sink's line format
// uses ({V,D,I,W,E,U}).
func (p Priority) String() string {
	switch p {
	case Verbose:
		return "V"
	case Debug:
		return "D"
	case Info:
		return "I"
	case Warn:
		return "W"
	case Error:
		return "E"
	case Fatal:
		return "U"
	default:
		return "U"
	}
}

// DecodePriority maps a wire priority byte to a Priority. There is no wire
// encoding for Fatal; 0..4 map Verbose..Error and any other byte, including
// values that would otherwise mean Fatal, maps to Verbose. This asymmetry is
// intentional: see the priority mapping note in the protocol's design.
func DecodePriority(b uint8) Priority {
	switch b {
	case 0:
		return Verbose
	case 1:
		return Debug
	case 2:
		return Info
	case 3:
		return Warn
	case 4:
		return Error
	default:
		return Verbose
	}
}

// Record is a fully decoded log record, ready for dispatch to sinks.
type Record struct {
	PID       uint32
	SinkMask  uint8
	Priority  Priority
	Timestamp Timestamp
	Message   []byte
}
