package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bord81/notcatd/internal/pipeline"
	"github.com/bord81/notcatd/internal/wire"
)

func handshakeBytes(t *testing.T, magic uint32, version uint8, pid uint32, mask uint8) []byte {
	t.Helper()
	return wire.EncodeHandshake(magic, wire.Handshake{Version: version, PID: pid, SinkMask: mask})
}

// TestScenarioSingleRecord is end-to-end scenario 1 from the spec.
func TestScenarioSingleRecord(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 3

	buf := append([]byte{}, handshakeBytes(t, wire.Magic, wire.Version, 42, 0b011)...)
	ts := wire.Timestamp{Year: 2024, Month: 1, Day: 1, Hour: 12, Minute: 30, Second: 45, Millisecond: 200}
	buf = append(buf, wire.EncodeFrame(2, ts, []byte("hello"))...)

	require.NoError(t, h.ProcessBuffer(fd, buf))
	require.Equal(t, 1, pipe.Len())

	rec, ok := pipe.TryRecv()
	require.True(t, ok)
	require.Equal(t, uint32(42), rec.PID)
	require.Equal(t, wire.Info, rec.Priority)
	require.Equal(t, []byte("hello"), rec.Message)
	require.Equal(t, uint8(0b011), rec.SinkMask)
}

// TestScenarioBadMagic is end-to-end scenario 2 / boundary B1.
func TestScenarioBadMagic(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)

	buf := handshakeBytes(t, 0xDEADBEEF, wire.Version, 1, 0)
	err := h.ProcessBuffer(7, buf)
	require.Error(t, err)

	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrIncorrectMagic, perr.Kind)
	require.Equal(t, uint64(0xDEADBEEF), perr.Value)
	require.True(t, perr.Fatal())
	require.False(t, h.HasSession(7))
	require.Equal(t, 0, pipe.Len())
}

// TestBadVersion is boundary B2.
func TestBadVersion(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)

	buf := handshakeBytes(t, wire.Magic, 2, 1, 0)
	err := h.ProcessBuffer(9, buf)
	require.Error(t, err)

	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrIncorrectVersion, perr.Kind)
	require.Equal(t, uint64(2), perr.Value)
	require.True(t, perr.Fatal())
}

// TestEmptyMessage is boundary B3.
func TestEmptyMessage(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 1

	buf := append([]byte{}, handshakeBytes(t, wire.Magic, wire.Version, 5, 1)...)
	buf = append(buf, wire.EncodeFrame(0, wire.Timestamp{}, nil)...)

	require.NoError(t, h.ProcessBuffer(fd, buf))
	rec, ok := pipe.TryRecv()
	require.True(t, ok)
	require.Empty(t, rec.Message)
}

// TestTwoFramesCoalesced is end-to-end scenario 3.
func TestTwoFramesCoalesced(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 2

	buf := append([]byte{}, handshakeBytes(t, wire.Magic, wire.Version, 1, 1)...)
	buf = append(buf, wire.EncodeFrame(0, wire.Timestamp{}, []byte("first"))...)
	buf = append(buf, wire.EncodeFrame(1, wire.Timestamp{}, []byte("second"))...)

	require.NoError(t, h.ProcessBuffer(fd, buf))
	require.Equal(t, 2, pipe.Len())

	r1, _ := pipe.TryRecv()
	r2, _ := pipe.TryRecv()
	require.Equal(t, []byte("first"), r1.Message)
	require.Equal(t, []byte("second"), r2.Message)
}

// TestClientDisconnectMidFrame is end-to-end scenario 6: a frame header
// declares more payload than is present and the connection never sends the
// rest. As the scenario expects, the decoder reports IncorrectMessageSize and no record is
// produced; residual buffering means the partial bytes are retained rather
// than lost, but nothing is emitted until the rest arrives (and in this
// scenario it never does; the reactor observes EOF instead).
func TestClientDisconnectMidFrame(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 4

	buf := append([]byte{}, handshakeBytes(t, wire.Magic, wire.Version, 1, 1)...)
	// Header declares msg_size=8 but only 4 payload bytes are present.
	frame := wire.EncodeFrame(2, wire.Timestamp{}, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	short := append([]byte{}, frame[:wire.FrameHeaderSize+4]...)
	buf = append(buf, short...)

	err := h.ProcessBuffer(fd, buf)
	require.Error(t, err)
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrIncorrectMessageSize, perr.Kind)
	require.False(t, perr.Fatal(), "session must survive an IncorrectMessageSize error")
	require.True(t, h.HasSession(fd))
	require.Equal(t, 0, pipe.Len())
}

// TestResidualBufferingAcrossWakes exercises the residual-buffer fix: a
// frame split across two ProcessBuffer calls (two reactor wakes) is still
// decoded once the rest arrives, rather than being permanently rejected.
func TestResidualBufferingAcrossWakes(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 6

	handshake := handshakeBytes(t, wire.Magic, wire.Version, 11, 1)
	frame := wire.EncodeFrame(1, wire.Timestamp{Year: 2025}, []byte("split-me"))

	part1 := append([]byte{}, handshake...)
	part1 = append(part1, frame[:wire.FrameHeaderSize+3]...)
	part2 := frame[wire.FrameHeaderSize+3:]

	err := h.ProcessBuffer(fd, part1)
	require.Error(t, err)
	perr := err.(*Error)
	require.Equal(t, ErrIncorrectMessageSize, perr.Kind)
	require.Equal(t, 0, pipe.Len())

	require.NoError(t, h.ProcessBuffer(fd, part2))
	rec, ok := pipe.TryRecv()
	require.True(t, ok)
	require.Equal(t, []byte("split-me"), rec.Message)
	require.Equal(t, wire.Debug, rec.Priority)
}

// TestRemoveFDEnforcesP1 checks the session-lifecycle invariant directly.
func TestRemoveFDEnforcesP1(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	const fd = 8

	require.NoError(t, h.ProcessBuffer(fd, handshakeBytes(t, wire.Magic, wire.Version, 1, 1)))
	require.True(t, h.HasSession(fd))

	h.RemoveFD(fd)
	require.False(t, h.HasSession(fd))

	// A recycled fd number must see a fresh handshake requirement, not an
	// inherited session.
	err := h.ProcessBuffer(fd, []byte{0x00, 0x00, 0x00, 0x00})
	perr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrIncorrectHeaderSize, perr.Kind)
}

// TestInternalErrorOnClosedPipeline checks that a gone receiver surfaces as
// ErrInternal, per the decoder's error taxonomy.
func TestInternalErrorOnClosedPipeline(t *testing.T) {
	pipe := pipeline.New()
	h := New(pipe)
	pipe.Close()

	buf := append([]byte{}, handshakeBytes(t, wire.Magic, wire.Version, 1, 1)...)
	buf = append(buf, wire.EncodeFrame(0, wire.Timestamp{}, nil)...)

	err := h.ProcessBuffer(1, buf)
	require.Error(t, err)
	perr := err.(*Error)
	require.Equal(t, ErrInternal, perr.Kind)
	require.False(t, perr.Fatal())
}
