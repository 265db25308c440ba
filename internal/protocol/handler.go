// Package protocol implements the per-connection framing state machine:
// ProtocolHandler in spec terms, Handler here. It decodes the handshake and
// any number of message frames out of the byte slice handed to it by the
// reactor for a single wake, enqueuing each decoded record on the pipeline.
//
// The handler itself is reactor-local (spec.md §5: "the protocol decoder's
// hash table of sessions is strictly reactor-local"); the InvariantMutex
// below exists to re-check the session invariant on every lock and unlock,
// not for everyday contention, since there is none in steady state.
package protocol

import (
	"github.com/jacobsa/syncutil"

	"github.com/bord81/notcatd/internal/pipeline"
	"github.com/bord81/notcatd/internal/wire"
)

// Handler holds the fd-to-session table and decodes bytes into records.
type Handler struct {
	pipe *pipeline.Pipeline

	// FDOwned, if set, lets the invariant check confirm property P1's
	// corollary that every live session's fd is still one the reactor
	// owns. reactor.New sets it to the reactor's client-ownership table;
	// a Handler used without a reactor leaves it nil and the check is a
	// no-op.
	FDOwned func(fd int) bool

	mu       syncutil.InvariantMutex
	sessions map[int]*session // GUARDED_BY(mu)
}

// New builds a Handler that enqueues decoded records on pipe.
func New(pipe *pipeline.Pipeline) *Handler {
	h := &Handler{
		pipe:     pipe,
		sessions: make(map[int]*session),
	}
	h.mu = syncutil.NewInvariantMutex(h.checkInvariants)
	return h
}

// checkInvariants enforces P1's corollary that every live session's fd is
// still one the reactor owns. It does nothing while FDOwned is nil, which
// is the case until reactor.New wires it.
func (h *Handler) checkInvariants() {
	if h.FDOwned == nil {
		return
	}
	for fd := range h.sessions {
		if !h.FDOwned(fd) {
			panic("protocol: session survives for an fd the reactor no longer owns")
		}
	}
}

// ProcessBuffer decodes as many complete frames as bytes allows, in order,
// enqueuing a wire.Record for each. It corresponds to process_buffer in the
// design: on the first call for an fd it must see a full handshake; on every
// call thereafter it parses zero or more frames.
//
// Any leftover bytes after the last complete frame are retained on the
// session as a residual and prepended the next time this fd's bytes arrive,
// so a frame split across two reactor wakes is reassembled rather than
// rejected.
func (h *Handler) ProcessBuffer(fd int, buf []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[fd]

	data := buf
	if ok && len(sess.residual) > 0 {
		data = make([]byte, 0, len(sess.residual)+len(buf))
		data = append(data, sess.residual...)
		data = append(data, buf...)
		sess.residual = nil
	}

	cursor := 0
	if !ok {
		if len(data) < wire.HandshakeSize {
			return &Error{Kind: ErrIncorrectHeaderSize, Value: uint64(len(data))}
		}
		magic, hs := wire.DecodeHandshake(data[:wire.HandshakeSize])
		if magic != wire.Magic {
			return &Error{Kind: ErrIncorrectMagic, Value: uint64(magic)}
		}
		if hs.Version != wire.Version {
			return &Error{Kind: ErrIncorrectVersion, Value: uint64(hs.Version)}
		}
		sess = newSession(hs)
		h.sessions[fd] = sess
		cursor = wire.HandshakeSize
	}

	for cursor < len(data) {
		remaining := len(data) - cursor
		if remaining < wire.FrameHeaderSize {
			sess.residual = append([]byte(nil), data[cursor:]...)
			return &Error{Kind: ErrIncorrectMessageSize, Value: uint64(remaining)}
		}

		fh := wire.DecodeFrameHeader(data[cursor : cursor+wire.FrameHeaderSize])
		payloadStart := cursor + wire.FrameHeaderSize
		need := int(fh.MsgSize)
		if remaining-wire.FrameHeaderSize < need {
			sess.residual = append([]byte(nil), data[cursor:]...)
			return &Error{Kind: ErrIncorrectMessageSize, Value: uint64(remaining - wire.FrameHeaderSize)}
		}

		payload := data[payloadStart : payloadStart+need]
		rec := wire.Record{
			PID:       sess.pid,
			SinkMask:  sess.sinkMask,
			Priority:  wire.DecodePriority(fh.Priority),
			Timestamp: fh.Timestamp,
			Message:   append([]byte(nil), payload...),
		}
		if !h.pipe.Send(rec) {
			return &Error{Kind: ErrInternal}
		}
		cursor = payloadStart + need
	}

	return nil
}

// RemoveFD drops any session for fd. The reactor calls this synchronously
// before closing the fd, never after, so a recycled fd number can never
// inherit a stale session (see the session-map design note).
func (h *Handler) RemoveFD(fd int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, fd)
}

// HasSession reports whether fd currently has a handshaked session. Used by
// tests to assert P1 directly.
func (h *Handler) HasSession(fd int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[fd]
	return ok
}
