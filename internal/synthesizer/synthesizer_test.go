package synthesizer

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}

type fakeTTS struct {
	samplesPerCall int
	err            error
}

func (f *fakeTTS) SynthesizeStream(ctx context.Context, text, voice string, onChunk func([]float32) error) error {
	if f.err != nil {
		return f.err
	}
	chunk := make([]float32, f.samplesPerCall)
	for i := range chunk {
		chunk[i] = 0.5
	}
	return onChunk(chunk)
}
func (f *fakeTTS) Warm(ctx context.Context, phrase string) error { return nil }
func (f *fakeTTS) Name() string                                  { return "fake" }
func (f *fakeTTS) Close() error                                  { return nil }

func newBareSession(id int, rConn net.Conn, engine *fakeTTS) *Session {
	return &Session{
		id:    id,
		rConn: rConn,
		voice: "default",
		tts:   engine,
		log:   testLogger{},
		stop:  make(chan struct{}),
	}
}

func TestStreamReplySplitsIntoSubchunksAndEndsWithMarker(t *testing.T) {
	const callID = 401
	oapLn, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(OAPBasePort+callID))
	require.NoError(t, err)
	defer oapLn.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := oapLn.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	// 2.5 subchunks worth of samples in one synth call, to exercise both
	// the full-subchunk path and the final-partial-flush path.
	engine := &fakeTTS{samplesPerCall: SubchunkSamples*2 + SubchunkSamples/2}
	s := newBareSession(callID, nil, engine)

	s.streamReply("hello there")

	var oapConn net.Conn
	select {
	case oapConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("oap never accepted")
	}
	defer oapConn.Close()

	gotHello, err := wire.ReadHello(oapConn)
	require.NoError(t, err)
	require.Equal(t, callID, gotHello)

	r := bufio.NewReader(oapConn)
	var subchunks []wire.Subchunk
	for i := 0; i < 4; i++ {
		oapConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		sub, err := wire.ReadSubchunk(r)
		require.NoError(t, err)
		subchunks = append(subchunks, sub)
		if sub.IsEndOfUtterance() {
			break
		}
	}

	require.Len(t, subchunks, 4, "two full subchunks, one partial, then the end marker")
	require.Len(t, subchunks[0].Samples, SubchunkSamples)
	require.Len(t, subchunks[1].Samples, SubchunkSamples)
	require.Len(t, subchunks[2].Samples, SubchunkSamples/2)
	require.True(t, subchunks[3].IsEndOfUtterance())
}

func TestStreamReplyEmitsSilenceMarkerOnTTSError(t *testing.T) {
	const callID = 402
	oapLn, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(OAPBasePort+callID))
	require.NoError(t, err)
	defer oapLn.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := oapLn.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	engine := &fakeTTS{err: errSynthFailed}
	s := newBareSession(callID, nil, engine)
	s.streamReply("this will fail")

	var oapConn net.Conn
	select {
	case oapConn = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("oap never accepted")
	}
	defer oapConn.Close()

	_, err = wire.ReadHello(oapConn)
	require.NoError(t, err)

	r := bufio.NewReader(oapConn)
	oapConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	sub, err := wire.ReadSubchunk(r)
	require.NoError(t, err)
	require.True(t, sub.IsEndOfUtterance(), "a TTS error still emits the end-of-utterance marker, no audio")
}

func TestEnsureOAPConnReusesExistingConnectionAcrossUtterances(t *testing.T) {
	const callID = 403
	oapLn, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(OAPBasePort+callID))
	require.NoError(t, err)
	defer oapLn.Close()

	go func() {
		conn, err := oapLn.Accept()
		if err == nil {
			defer conn.Close()
			wire.ReadHello(conn)
			io := bufio.NewReader(conn)
			for {
				if _, err := wire.ReadSubchunk(io); err != nil {
					return
				}
			}
		}
	}()

	engine := &fakeTTS{samplesPerCall: SubchunkSamples / 2}
	s := newBareSession(callID, nil, engine)

	first, err := s.ensureOAPConn()
	require.NoError(t, err)
	second, err := s.ensureOAPConn()
	require.NoError(t, err)
	require.Same(t, first, second, "ensureOAPConn must reuse the connection, not redial per utterance")

	s.closeOAPConn()
}

var errSynthFailed = &synthError{"tts backend unavailable"}

type synthError struct{ msg string }

func (e *synthError) Error() string { return e.msg }
