package sink

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/bord81/notcatd/internal/wire"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l.WithField("subsystem", "sink.file.test")
}

func sampleRecord() wire.Record {
	return wire.Record{
		PID:       99,
		Priority:  wire.Info,
		Timestamp: wire.Timestamp{Year: 2024, Month: 1, Day: 2, Hour: 3, Minute: 4, Second: 5, Millisecond: 6},
		Message:   []byte("x"),
	}
}

func TestRotatingFileInitCreatesFirstGeneration(t *testing.T) {
	dir := t.TempDir()
	s := NewRotatingFile(1, dir, DefaultPerFileCap, DefaultGenerations, testLogger())
	require.NoError(t, s.Init())
	require.NoError(t, s.Close())

	_, err := os.Stat(filepath.Join(dir, "notcat.log.0"))
	require.NoError(t, err)
}

func TestRotatingFileAppendsLine(t *testing.T) {
	dir := t.TempDir()
	s := NewRotatingFile(1, dir, DefaultPerFileCap, DefaultGenerations, testLogger())
	require.NoError(t, s.Init())
	require.NoError(t, s.SendMessage(sampleRecord()))
	require.NoError(t, s.Close())

	b, err := os.ReadFile(filepath.Join(dir, "notcat.log.0"))
	require.NoError(t, err)
	require.Equal(t, "[99] I 2024-01-02 03:04:05-006 x\n", string(b))
}

// TestRotationAndRingWrap reproduces end-to-end scenario 5: with N=3
// generations sized to hold exactly two lines each, writing 10 lines
// discards the first four and leaves lines 5-6, 7-8, 9-10 in generations
// 0, 1, 2 respectively.
func TestRotationAndRingWrap(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord()
	lineLen := int64(len(formatLine(rec))) + 1 // +1 for the newline

	const generations = 3
	perFileCap := 3 * lineLen // two lines fit, a third triggers rotation

	s := NewRotatingFile(1, dir, perFileCap, generations, testLogger())
	require.NoError(t, s.Init())

	for i := 0; i < 10; i++ {
		require.NoError(t, s.SendMessage(rec))
	}
	require.NoError(t, s.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, generations, "exactly N generation files must exist (P5)")

	for i := 0; i < generations; i++ {
		b, err := os.ReadFile(filepath.Join(dir, filepath.Base(s.path(i))))
		require.NoError(t, err)
		lineCount := 0
		for _, c := range b {
			if c == '\n' {
				lineCount++
			}
		}
		require.Equal(t, 2, lineCount, "generation %d must hold exactly two lines", i)
	}
}

func TestRotatingFileResumesFromExistingGeneration(t *testing.T) {
	dir := t.TempDir()
	rec := sampleRecord()

	s1 := NewRotatingFile(1, dir, DefaultPerFileCap, DefaultGenerations, testLogger())
	require.NoError(t, s1.Init())
	require.NoError(t, s1.SendMessage(rec))
	require.NoError(t, s1.Close())

	s2 := NewRotatingFile(1, dir, DefaultPerFileCap, DefaultGenerations, testLogger())
	require.NoError(t, s2.Init())
	require.Equal(t, 0, s2.index, "must resume appending to the highest-indexed existing generation")
	require.NoError(t, s2.SendMessage(rec))
	require.NoError(t, s2.Close())

	b, err := os.ReadFile(filepath.Join(dir, "notcat.log.0"))
	require.NoError(t, err)
	require.Equal(t, 2, countLines(b))
}

func countLines(b []byte) int {
	n := 0
	for _, c := range b {
		if c == '\n' {
			n++
		}
	}
	return n
}

func TestRotatingFileSendMessageNoopWhenNotRunning(t *testing.T) {
	dir := t.TempDir()
	s := NewRotatingFile(1, dir, DefaultPerFileCap, DefaultGenerations, testLogger())
	// Not initialized: state is Starting, not Running.
	require.NoError(t, s.SendMessage(sampleRecord()))

	entries, err := os.ReadDir(dir)
	if err == nil {
		require.Empty(t, entries)
	}
}
