package rtpio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerSubstitutesSilenceWhenRingEmpty(t *testing.T) {
	rx, err := Dial("127.0.0.1:0", "127.0.0.1:1", 99)
	require.NoError(t, err)
	defer rx.Close()

	tx, err := Dial("127.0.0.1:0", rx.sock.LocalAddr().String(), 1234)
	require.NoError(t, err)
	defer tx.Close()

	silence := make([]byte, FrameBytes)
	for i := range silence {
		silence[i] = 0xFF
	}

	started := false
	sched := NewScheduler(tx, func() ([]byte, bool) { return nil, false }, silence, func() { started = true })

	require.NoError(t, sched.tick())
	require.False(t, started)

	got, err := rx.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, silence, got)
}

func TestSchedulerFiresOnStartOnceOnFirstRealFrame(t *testing.T) {
	rx, err := Dial("127.0.0.1:0", "127.0.0.1:1", 99)
	require.NoError(t, err)
	defer rx.Close()

	tx, err := Dial("127.0.0.1:0", rx.sock.LocalAddr().String(), 1234)
	require.NoError(t, err)
	defer tx.Close()

	silence := make([]byte, FrameBytes)
	for i := range silence {
		silence[i] = 0xFF
	}
	real := make([]byte, FrameBytes)
	real[0] = 0x01

	frames := [][]byte{real, real}
	idx := 0
	source := func() ([]byte, bool) {
		if idx >= len(frames) {
			return nil, false
		}
		f := frames[idx]
		idx++
		return f, true
	}

	startCount := 0
	sched := NewScheduler(tx, source, silence, func() { startCount++ })

	require.NoError(t, sched.tick())
	rx.sock.SetReadDeadline(timeNowPlus(100))
	_, err = rx.ReadFrame()
	require.NoError(t, err)

	require.NoError(t, sched.tick())
	rx.sock.SetReadDeadline(timeNowPlus(100))
	_, err = rx.ReadFrame()
	require.NoError(t, err)

	require.Equal(t, 1, startCount)
}

func timeNowPlus(ms int) (t time.Time) {
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}
