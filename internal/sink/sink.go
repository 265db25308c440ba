// Package sink implements the dispatcher's output capabilities: the
// native-log sink and the rotating-file sink, behind a common interface the
// dispatcher drives uniformly. Sink polymorphism is a closed set known at
// compile time (see the design note on tagged-variant sinks), so a plain
// interface with two concrete implementations stands in for what the spec
// describes as a tagged variant.
package sink

import "github.com/bord81/notcatd/internal/wire"

// Sink is the common capability every output implements: init, accept a
// record, close. All three are synchronous from the dispatcher's point of
// view and must not block indefinitely.
type Sink interface {
	// Ordinal is this sink's assigned bit; a record is delivered to the
	// sink iff record.SinkMask&Ordinal() != 0.
	Ordinal() uint8
	Init() error
	SendMessage(r wire.Record) error
	Close() error
}

// truncateAtNUL applies the native-log sink's NUL-handling rule: a message
// whose first byte is NUL is dropped outright (ok=false); any other interior
// NUL truncates the message at that point; no NUL is a no-op. The
// rotating-file sink does not apply it and writes the message as received.
func truncateAtNUL(msg []byte) (trimmed []byte, ok bool) {
	idx := -1
	for i, b := range msg {
		if b == 0 {
			idx = i
			break
		}
	}
	switch {
	case idx == 0:
		return nil, false
	case idx > 0:
		return msg[:idx], true
	default:
		return msg, true
	}
}
