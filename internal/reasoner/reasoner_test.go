package reasoner

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/chtugha/callfabric/pkg/engine/llm"
	"github.com/chtugha/callfabric/pkg/turn"
	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}

type fakeEngine struct {
	replyText string
	err       error
	calls     int
}

func (f *fakeEngine) Reply(ctx context.Context, systemPrompt string, history []llm.Turn, userText string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.replyText, nil
}
func (f *fakeEngine) Name() string { return "fake" }
func (f *fakeEngine) Close() error { return nil }

func newBareSession(t *testing.T, tConn, sConn net.Conn, engine *fakeEngine) *Session {
	t.Helper()
	return &Session{
		id:              1,
		tConn:           tConn,
		synthesizerAddr: "127.0.0.1:1", // unreachable; exercised only when a test forces a reconnect
		detector:        turn.NewDetector(),
		sConn:           sConn,
		systemPrompt:    llm.DefaultSystemPrompt,
		engine:          llm.NewSerialized(engine),
		log:             testLogger{},
		stop:            make(chan struct{}),
	}
}

func TestMaybeReplyRepliesImmediatelyOnPunctuation(t *testing.T) {
	sServer, sClient := net.Pipe()
	defer sServer.Close()
	defer sClient.Close()

	engine := &fakeEngine{replyText: "Sure, one moment."}
	s := newBareSession(t, nil, sClient, engine)

	s.detector.Append("Is that all?", time.Now())

	replyCh := make(chan string, 1)
	go func() {
		payload, err := wire.ReadFrame(sServer)
		if err == nil {
			replyCh <- string(payload)
		}
	}()

	s.maybeReply()

	select {
	case reply := <-replyCh:
		require.Equal(t, "Sure, one moment.", reply)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reply to reach synthesizer")
	}

	require.Equal(t, 1, engine.calls)
	require.Empty(t, s.detector.Buffer())
}

func TestMaybeReplyDoesNothingBeforeSilenceThreshold(t *testing.T) {
	engine := &fakeEngine{replyText: "hi"}
	s := newBareSession(t, nil, nil, engine)
	s.detector.SilenceThreshold = 1 * time.Hour

	s.detector.Append("just thinking out loud", time.Now())
	s.maybeReply()

	require.Equal(t, 0, engine.calls)
	require.Equal(t, "just thinking out loud", s.detector.Buffer())
}

func TestMaybeReplySkipsWhileHalfDuplexGateArmed(t *testing.T) {
	engine := &fakeEngine{replyText: "hi"}
	s := newBareSession(t, nil, nil, engine)

	s.detector.Append("Done?", time.Now())
	s.detector.ArmHalfDuplexGate(time.Now(), 1200) // long gate

	s.maybeReply()

	require.Equal(t, 0, engine.calls, "half-duplex gate should suppress reply generation")
}

func TestMaybeReplySkipsWhenSessionDisconnected(t *testing.T) {
	engine := &fakeEngine{replyText: "hi"}
	s := newBareSession(t, nil, nil, engine)
	s.detector.Append("Done?", time.Now())
	s.disconnected = true

	s.maybeReply()

	require.Equal(t, 0, engine.calls)
}

func TestOnDisconnectDiscardsBufferAndSendsBye(t *testing.T) {
	sServer, sClient := net.Pipe()
	defer sServer.Close()

	engine := &fakeEngine{replyText: "hi"}
	s := newBareSession(t, nil, sClient, engine)
	s.detector.Append("unfinished thought", time.Now())

	done := make(chan error, 1)
	go func() {
		_, err := wire.ReadFrame(sServer)
		done <- err
	}()

	s.onDisconnect()

	select {
	case err := <-done:
		require.ErrorIs(t, err, wire.ErrBye)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bye")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	require.True(t, s.disconnected)
	require.Empty(t, s.detector.Buffer())
}

func TestMaybeReplyDropsReplyWhenLLMErrors(t *testing.T) {
	sServer, sClient := net.Pipe()
	defer sServer.Close()
	defer sClient.Close()

	engine := &fakeEngine{err: errFake}
	s := newBareSession(t, nil, sClient, engine)
	s.detector.Append("Done?", time.Now())

	s.maybeReply()

	require.False(t, s.disconnected)
	require.Empty(t, s.detector.Buffer(), "buffer was already snapshotted before the LLM call failed")
}

func TestSendToSynthesizerDropsReplyWhenUnreachable(t *testing.T) {
	engine := &fakeEngine{replyText: "hi"}
	s := newBareSession(t, nil, nil, engine) // sConn nil, synthesizerAddr unreachable
	ok := s.sendToSynthesizer("a reply nobody will hear")
	require.False(t, ok)
}

var errFake = &fakeError{"llm backend unavailable"}

type fakeError struct{ msg string }

func (e *fakeError) Error() string { return e.msg }
