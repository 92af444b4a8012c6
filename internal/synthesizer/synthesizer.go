// Package synthesizer implements the Synthesizer (S, §4.5): accept reply
// text from the Reasoner, stream it through a warmed TTS primitive as
// ~40ms subchunks, and forward those to the Outbound Audio Processor as
// soon as the first one is ready.
package synthesizer

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/engine/tts"
	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/session"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/google/uuid"
)

// ListenAddr is S's fixed-port acceptor for R's connections (§4.7).
const ListenAddr = ":8090"

// RegistrationListenAddr is where OAP announces per-call readiness
// (§4.6, §4.7).
const RegistrationListenAddr = ":13001"

// OAPBasePort is OAP's per-call listening port offset (9002+C, §6).
const OAPBasePort = 9002

// SubchunkSamples is ~40ms at 24kHz (§4.5).
const SubchunkSamples = 960

// Logger is the narrow logging seam this component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Session owns one call's reply stream: the inbound connection from R
// and the lazily-opened, kept-alive connection to OAP.
type Session struct {
	id int

	rConn net.Conn

	oapMu   sync.Mutex
	oapConn net.Conn
	chunkID uint32

	// oapReady reports whether OAP has REGISTERed readiness for this call;
	// ensureOAPConn waits on it before its first dial so S doesn't burn
	// DialWithRetry's attempt budget racing OAP's listener coming up.
	oapReady func() bool

	voice string
	tts   tts.Engine
	log   Logger
	tel   *telemetry.Telemetry

	stop chan struct{}
	wg   sync.WaitGroup
}

// Component owns the acceptor, registration listener, and session table
// driving S.
type Component struct {
	voice string
	tts   tts.Engine

	sessions *session.Table[*Session]
	listener net.Listener
	regLn    *registration.Listener

	mu       sync.Mutex
	oapReady map[int]bool
	live     map[int]*Session

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
}

// NewComponent builds a Synthesizer component.
func NewComponent(voice string, engine tts.Engine, log Logger, tel *telemetry.Telemetry) *Component {
	c := &Component{
		voice:    voice,
		tts:      engine,
		oapReady: make(map[int]bool),
		live:     make(map[int]*Session),
		log:      log,
		tel:      tel,
		stop:     make(chan struct{}),
	}
	c.sessions = session.NewTable[*Session](session.IdleTimeout, c.onExpire)
	return c
}

// Run warms the TTS engine, opens the fixed-port acceptor and the
// registration listener, and serves both until ctx is cancelled.
func (c *Component) Run(ctx context.Context) error {
	if err := tts.WarmUp(ctx, c.tts); err != nil {
		c.log.Warn("synthesizer: warm-up failed, continuing with a cold model", "err", err)
	}

	regLn, err := registration.Listen(RegistrationListenAddr)
	if err != nil {
		return fmt.Errorf("synthesizer: listen registration: %w", err)
	}
	c.regLn = regLn
	go regLn.Serve(ctx, c.onRegistrationEvent)

	ln, err := net.Listen("tcp", ListenAddr)
	if err != nil {
		regLn.Close()
		return fmt.Errorf("synthesizer: listen %s: %w", ListenAddr, err)
	}
	c.listener = ln

	c.sessions.RunReaper(5*time.Second, c.stop)

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		ln.Close()
		close(done)
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
				return nil
			default:
				return err
			}
		}
		go c.handleConn(conn)
	}
}

func (c *Component) onRegistrationEvent(ev registration.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ev.Bye {
		delete(c.oapReady, ev.CallID)
		return
	}
	c.oapReady[ev.CallID] = true
}

// isOAPReady reports whether OAP has registered readiness for callID.
func (c *Component) isOAPReady(callID int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oapReady[callID]
}

func (c *Component) handleConn(conn net.Conn) {
	callID, err := wire.ReadHello(conn)
	if err != nil {
		c.log.Warn("synthesizer: bad hello", "err", err)
		conn.Close()
		return
	}

	s, created := c.sessions.GetOrCreate(callID, func() *Session {
		return &Session{
			id:       callID,
			rConn:    conn,
			oapReady: func() bool { return c.isOAPReady(callID) },
			voice:    c.voice,
			tts:      c.tts,
			log:      c.log,
			tel:      c.tel,
			stop:     make(chan struct{}),
		}
	})
	if !created {
		c.log.Warn("synthesizer: duplicate hello for call, closing new connection", "call_id", callID)
		conn.Close()
		return
	}
	c.log.Info("synthesizer: session starting", "call_id", callID, "conn_id", uuid.NewString())

	c.mu.Lock()
	c.live[callID] = s
	c.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop()
}

func (c *Component) onExpire(callID int, s *Session) {
	c.mu.Lock()
	delete(c.live, callID)
	c.mu.Unlock()
	s.Stop()
}

// readLoop consumes reply texts from R until BYE or a read error, and
// streams each through TTS to OAP in turn.
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.rConn.Close()

	for {
		payload, err := wire.ReadFrame(s.rConn)
		if err != nil {
			s.closeOAPConn()
			return
		}
		s.streamReply(string(payload))
	}
}

// streamReply synthesizes text and forwards ~40ms subchunks to OAP as
// soon as each is ready, ending with a 0-length end-of-utterance marker.
func (s *Session) streamReply(text string) {
	conn, err := s.ensureOAPConn()
	if err != nil {
		s.log.Warn("synthesizer: oap unreachable, dropping utterance", "call_id", s.id, "err", err)
		return
	}

	var pending []float32
	onChunk := func(samples []float32) error {
		pending = append(pending, samples...)
		for len(pending) >= SubchunkSamples {
			if err := s.writeSubchunk(conn, pending[:SubchunkSamples]); err != nil {
				return err
			}
			pending = pending[SubchunkSamples:]
		}
		return nil
	}

	err = s.tts.SynthesizeStream(context.Background(), text, s.voice, onChunk)
	if err != nil {
		s.log.Warn("synthesizer: tts error, emitting silence end-marker", "call_id", s.id, "err", err)
		s.writeEndOfUtterance(conn)
		return
	}

	if len(pending) > 0 {
		if err := s.writeSubchunk(conn, pending); err != nil {
			s.log.Warn("synthesizer: oap write failed mid-utterance", "call_id", s.id, "err", err)
			return
		}
	}
	s.writeEndOfUtterance(conn)
}

func (s *Session) writeSubchunk(conn net.Conn, samples []float32) error {
	s.chunkID++
	cp := make([]float32, len(samples))
	copy(cp, samples)
	return wire.WriteSubchunk(conn, wire.Subchunk{
		SampleRate: tts.SampleRate,
		ChunkID:    s.chunkID,
		Samples:    cp,
	})
}

func (s *Session) writeEndOfUtterance(conn net.Conn) {
	s.chunkID++
	if err := wire.WriteSubchunk(conn, wire.Subchunk{SampleRate: tts.SampleRate, ChunkID: s.chunkID}); err != nil {
		s.log.Warn("synthesizer: failed to write end-of-utterance marker", "call_id", s.id, "err", err)
	}
}

// ensureOAPConn lazily opens the connection to OAP on the first reply
// text for this call, with the shared retry policy, and keeps it open
// across utterances until BYE (§4.5).
func (s *Session) ensureOAPConn() (net.Conn, error) {
	s.oapMu.Lock()
	defer s.oapMu.Unlock()

	if s.oapConn != nil {
		return s.oapConn, nil
	}

	s.awaitOAPReady()

	addr := fmt.Sprintf("127.0.0.1:%d", OAPBasePort+s.id)
	conn, err := registration.DialWithRetry(addr, s.log)
	if err != nil {
		return nil, err
	}
	if err := wire.WriteHello(conn, s.id); err != nil {
		conn.Close()
		return nil, err
	}
	s.oapConn = conn
	return conn, nil
}

// awaitOAPReady gives OAP's REGISTER a short head start before the first
// dial attempt, so S doesn't spend DialWithRetry's fixed attempt budget
// racing OAP's per-call listener coming up (§4.5/§4.7).
func (s *Session) awaitOAPReady() {
	if s.oapReady == nil || s.oapReady() {
		return
	}
	const attempts = 10
	for i := 0; i < attempts; i++ {
		select {
		case <-s.stop:
			return
		case <-time.After(100 * time.Millisecond):
		}
		if s.oapReady() {
			return
		}
	}
}

func (s *Session) closeOAPConn() {
	s.oapMu.Lock()
	defer s.oapMu.Unlock()
	if s.oapConn != nil {
		wire.WriteBye(s.oapConn)
		s.oapConn.Close()
		s.oapConn = nil
	}
}

// Stop tears down the session's threads and connections.
func (s *Session) Stop() {
	close(s.stop)
	s.rConn.Close()
	s.wg.Wait()
	s.closeOAPConn()
}

// Shutdown stops all active sessions and both listeners.
func (c *Component) Shutdown() error {
	close(c.stop)
	if c.listener != nil {
		c.listener.Close()
	}
	if c.regLn != nil {
		c.regLn.Close()
	}

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.live))
	for _, s := range c.live {
		sessions = append(sessions, s)
	}
	c.live = make(map[int]*Session)
	c.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	return nil
}

// Activate is a no-op: sessions are created by R's HELLO connection.
func (c *Component) Activate(callID int) error {
	c.log.Debug("synthesizer: activate is a no-op, sessions follow R's hello", "call_id", callID)
	return nil
}

// Deactivate is likewise a no-op: a session ends on BYE/idle timeout.
func (c *Component) Deactivate(callID int) error {
	c.log.Debug("synthesizer: deactivate is a no-op, sessions follow bye/idle", "call_id", callID)
	return nil
}
