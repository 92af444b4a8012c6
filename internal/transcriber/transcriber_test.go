package transcriber

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Debug(string, ...interface{}) {}
func (testLogger) Info(string, ...interface{})  {}
func (testLogger) Warn(string, ...interface{})  {}
func (testLogger) Error(string, ...interface{}) {}

func newBareSession(t *testing.T, conn net.Conn) *Session {
	t.Helper()
	return &Session{
		id:    1,
		rConn: conn,
		log:   testLogger{},
		stop:  make(chan struct{}),
	}
}

func TestEmitSendsPostProcessedDeltaOverTheWire(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newBareSession(t, client)

	done := make(chan []byte, 1)
	go func() {
		payload, err := wire.ReadFrame(server)
		require.NoError(t, err)
		done <- payload
	}()

	s.emit("hello world")

	select {
	case payload := <-done:
		require.Equal(t, "Hello world", string(payload))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delta frame")
	}
}

func TestEmitSendsOnlyTheNewSuffixOnOverlappingChunks(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newBareSession(t, client)

	readOne := func() string {
		payload, err := wire.ReadFrame(server)
		require.NoError(t, err)
		return string(payload)
	}

	results := make(chan string, 2)
	go func() { results <- readOne() }()
	s.emit("hello world")
	require.Equal(t, "Hello world", <-results)

	go func() { results <- readOne() }()
	s.emit("hello world this is new")
	require.Equal(t, "this is new", <-results)
}

func TestEmitSkipsSendWhenNoNewText(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	s := newBareSession(t, client)

	readOne := make(chan string, 1)
	go func() {
		payload, err := wire.ReadFrame(server)
		if err == nil {
			readOne <- string(payload)
		}
	}()
	s.emit("hello world")
	require.Equal(t, "Hello world", <-readOne)

	// Repeating the same text produces an empty diff; nothing further
	// should arrive on the wire.
	s.emit("hello world")

	select {
	case payload := <-readOne:
		t.Fatalf("unexpected second frame: %q", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestEmitMarksDisconnectedOnWriteFailure(t *testing.T) {
	server, client := net.Pipe()
	server.Close() // force the write below to fail
	client.Close()

	s := newBareSession(t, client)
	s.emit("hello")

	s.mu.Lock()
	defer s.mu.Unlock()
	require.True(t, s.disconnected)
}

func TestStopSendsByeAndClosesConnection(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	s := newBareSession(t, client)

	done := make(chan error, 1)
	go func() {
		_, err := wire.ReadFrame(server)
		done <- err
	}()

	s.Stop()

	select {
	case err := <-done:
		require.ErrorIs(t, err, wire.ErrBye)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bye")
	}
}

func TestOnRegistrationEventIgnoresBye(t *testing.T) {
	c := NewComponent("127.0.0.1", "127.0.0.1:1", nil, testLogger{}, nil)
	c.onRegistrationEvent(registration.Event{CallID: 42, Bye: true})
	require.Equal(t, 0, c.sessions.Len())
}

func TestOnRegistrationEventCreatesSessionOnce(t *testing.T) {
	const callID = 7100

	rLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer rLn.Close()

	iapAddr := fmt.Sprintf("127.0.0.1:%d", IAPBasePort+callID)
	iapLn, err := net.Listen("tcp", iapAddr)
	require.NoError(t, err)
	defer iapLn.Close()

	rHello := make(chan int, 1)
	go func() {
		conn, err := rLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		id, err := wire.ReadHello(conn)
		if err == nil {
			rHello <- id
		}
	}()

	iapHello := make(chan int, 1)
	go func() {
		conn, err := iapLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		id, err := wire.ReadHello(conn)
		if err == nil {
			iapHello <- id
		}
	}()

	c := NewComponent("127.0.0.1", rLn.Addr().String(), nil, testLogger{}, nil)
	defer c.Shutdown()

	c.onRegistrationEvent(registration.Event{CallID: callID})
	c.onRegistrationEvent(registration.Event{CallID: callID}) // dedup: should just Touch

	require.Equal(t, 1, c.sessions.Len())

	select {
	case id := <-rHello:
		require.Equal(t, callID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for R hello")
	}
	select {
	case id := <-iapHello:
		require.Equal(t, callID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for IAP hello")
	}
}

func TestActivateDeactivateAreNoOps(t *testing.T) {
	c := NewComponent("127.0.0.1", "127.0.0.1:1", nil, testLogger{}, nil)
	require.NoError(t, c.Activate(1))
	require.NoError(t, c.Deactivate(1))
}
