package protocol

import "github.com/bord81/notcatd/internal/wire"

// session is the decoder's per-fd state after a successful handshake. It is
// reactor-local: the protocol Handler runs only on the reactor goroutine, so
// no field here needs its own lock (the fd-to-session map's InvariantMutex
// covers the map itself, not the session contents).
type session struct {
	version  uint8
	pid      uint32
	sinkMask uint8

	// residual holds bytes left over after the last complete frame in a
	// prior ProcessBuffer call: a frame that straddles two reactor wakes
	// is reassembled here rather than dropped. This is the residual-
	// buffering fix called for as a SHOULD in the decoder's design notes;
	// the next ProcessBuffer call prepends residual to the new bytes
	// before parsing.
	residual []byte
}

// PID reports the session's client pid, exported for diagnostics and tests.
func (s *session) PID() uint32 { return s.pid }

func newSession(h wire.Handshake) *session {
	return &session{
		version:  h.Version,
		pid:      h.PID,
		sinkMask: h.SinkMask,
	}
}
