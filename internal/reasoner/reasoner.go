// Package reasoner implements the Reasoner (R, §4.4): decide when a
// caller's utterance is complete, generate a bounded reply via a warmed
// LLM primitive, and enforce half-duplex turn-taking while streaming
// replies on to the Synthesizer.
package reasoner

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/engine/llm"
	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/session"
	"github.com/chtugha/callfabric/pkg/store"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/chtugha/callfabric/pkg/turn"
	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/google/uuid"
)

// ListenAddr is R's fixed-port acceptor for T's eager connections (§4.7).
const ListenAddr = ":8083"

// TickInterval governs how often a session's silence rule is re-checked
// absent any new text delta from T.
const TickInterval = 100 * time.Millisecond

// Logger is the narrow logging seam this component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Session owns one call's turn detector, conversation state, and its
// eagerly-opened connection to the Synthesizer.
type Session struct {
	id int

	tConn net.Conn

	synthesizerAddr string

	mu           sync.Mutex
	detector     *turn.Detector
	history      []llm.Turn
	sConn        net.Conn
	disconnected bool

	systemPrompt string
	engine       *llm.Serialized
	store        *store.Store
	log          Logger
	tel          *telemetry.Telemetry

	stop chan struct{}
	wg   sync.WaitGroup
}

// Component owns the fixed-port acceptor and session table driving R.
type Component struct {
	synthesizerAddr string
	systemPrompt    string

	engine   *llm.Serialized
	store    *store.Store
	sessions *session.Table[*Session]
	listener net.Listener

	mu   sync.Mutex
	live map[int]*Session

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
}

// NewComponent builds a Reasoner component. synthesizerAddr is S's
// fixed-port acceptor (host:8090, §4.7).
func NewComponent(synthesizerAddr, systemPrompt string, engine *llm.Serialized, st *store.Store, log Logger, tel *telemetry.Telemetry) *Component {
	if systemPrompt == "" {
		systemPrompt = llm.DefaultSystemPrompt
	}
	c := &Component{
		synthesizerAddr: synthesizerAddr,
		systemPrompt:    systemPrompt,
		engine:          engine,
		store:           st,
		live:            make(map[int]*Session),
		log:             log,
		tel:             tel,
		stop:            make(chan struct{}),
	}
	c.sessions = session.NewTable[*Session](session.IdleTimeout, c.onExpire)
	return c
}

// Run opens R's fixed-port acceptor and accepts connections until ctx is
// cancelled.
func (c *Component) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ListenAddr)
	if err != nil {
		return fmt.Errorf("reasoner: listen %s: %w", ListenAddr, err)
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

// handleConn reads HELLO off a freshly-accepted T connection and starts
// its session.
func (c *Component) handleConn(conn net.Conn) {
	callID, err := wire.ReadHello(conn)
	if err != nil {
		c.log.Warn("reasoner: bad hello", "err", err)
		conn.Close()
		return
	}

	s, created := c.sessions.GetOrCreate(callID, func() *Session { return c.newSession(callID, conn) })
	if !created {
		c.log.Warn("reasoner: duplicate hello for call, closing new connection", "call_id", callID)
		conn.Close()
		return
	}

	s.wg.Add(2)
	go s.readLoop()
	go s.tickLoop()
}

// newSession eagerly opens R's connection to S, then builds the session.
func (c *Component) newSession(callID int, tConn net.Conn) *Session {
	connID := uuid.NewString()
	c.log.Info("reasoner: session starting", "call_id", callID, "conn_id", connID)

	s := &Session{
		id:              callID,
		tConn:           tConn,
		synthesizerAddr: c.synthesizerAddr,
		detector:        turn.NewDetector(),
		systemPrompt:    c.systemPrompt,
		engine:          c.engine,
		store:           c.store,
		log:             c.log,
		tel:             c.tel,
		stop:            make(chan struct{}),
	}

	if c.store != nil {
		if err := c.store.StartCall(callID, "", time.Now()); err != nil {
			c.log.Warn("reasoner: start call record failed", "call_id", callID, "err", err)
		}
	}

	sConn, err := registration.DialWithRetry(c.synthesizerAddr, c.log)
	if err != nil {
		c.log.Error("reasoner: could not reach synthesizer eagerly, will retry per-reply", "call_id", callID, "err", err)
	} else {
		wire.WriteHello(sConn, callID)
		s.sConn = sConn
	}

	c.mu.Lock()
	c.live[callID] = s
	c.mu.Unlock()

	return s
}

func (c *Component) onExpire(callID int, s *Session) {
	c.mu.Lock()
	delete(c.live, callID)
	c.mu.Unlock()
	s.Stop()
}

// readLoop consumes text deltas from T until BYE or a read error, which
// is treated as the cancellation signal (§4.4).
func (s *Session) readLoop() {
	defer s.wg.Done()
	defer s.tConn.Close()

	for {
		payload, err := wire.ReadFrame(s.tConn)
		if err != nil {
			s.onDisconnect()
			return
		}

		s.mu.Lock()
		s.detector.Append(string(payload), time.Now())
		s.mu.Unlock()

		s.maybeReply()
	}
}

// tickLoop re-checks the silence rule on a fixed cadence, since a
// silence-only turn boundary has no triggering event from T.
func (s *Session) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.maybeReply()
		}
	}
}

// onDisconnect marks the session cancelled and discards any buffered
// text without generating a reply (§4.4).
func (s *Session) onDisconnect() {
	s.mu.Lock()
	s.disconnected = true
	s.detector.Discard()
	conn := s.sConn
	s.mu.Unlock()

	if conn != nil {
		wire.WriteBye(conn)
	}
}

// maybeReply runs the turn detector and, if a reply is due, generates and
// sends it.
func (s *Session) maybeReply() {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	if !s.detector.ReplyDue(time.Now()) {
		s.mu.Unlock()
		return
	}
	userText := s.detector.Snapshot()
	history := append([]llm.Turn(nil), s.history...)
	s.mu.Unlock()

	if userText == "" {
		return
	}

	reply, err := s.engine.Reply(context.Background(), s.systemPrompt, history, userText)
	if err != nil {
		s.log.Warn("reasoner: llm error, skipping this turn", "call_id", s.id, "err", err)
		return
	}
	reply = trimReply(reply)

	// Re-check the session has not been cancelled while the LLM ran.
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return
	}
	s.detector.ArmHalfDuplexGate(time.Now(), len(reply))
	s.history = append(s.history, llm.Turn{Role: "user", Content: userText}, llm.Turn{Role: "assistant", Content: reply})
	s.mu.Unlock()

	if !s.sendToSynthesizer(reply) {
		return // dropped: synthesizer unreachable after retry (§4.4)
	}

	if s.store != nil {
		if err := s.store.AppendTranscript(s.id, userText); err != nil {
			s.log.Warn("reasoner: append transcript failed", "call_id", s.id, "err", err)
		}
		if err := s.store.AppendReply(s.id, reply); err != nil {
			s.log.Warn("reasoner: append reply failed", "call_id", s.id, "err", err)
		}
	}
}

func trimReply(s string) string {
	return stripSurroundingSpace(s)
}

func stripSurroundingSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// sendToSynthesizer pushes reply text to S, reconnecting once if the link
// had dropped; on exhaustion the reply is dropped (§4.4 failure mode).
func (s *Session) sendToSynthesizer(reply string) bool {
	s.mu.Lock()
	conn := s.sConn
	s.mu.Unlock()

	if conn != nil {
		if err := wire.WriteText(conn, reply); err == nil {
			return true
		}
		s.mu.Lock()
		s.sConn = nil
		s.mu.Unlock()
	}

	newConn, err := registration.DialWithRetry(s.synthesizerAddr, s.log)
	if err != nil {
		s.log.Warn("reasoner: synthesizer unreachable, dropping this reply", "call_id", s.id, "err", err)
		return false
	}
	if err := wire.WriteHello(newConn, s.id); err != nil {
		newConn.Close()
		return false
	}
	if err := wire.WriteText(newConn, reply); err != nil {
		newConn.Close()
		return false
	}

	s.mu.Lock()
	s.sConn = newConn
	s.mu.Unlock()
	return true
}

// Stop tears down the session's threads and connections.
func (s *Session) Stop() {
	close(s.stop)
	s.tConn.Close()
	s.wg.Wait()

	s.mu.Lock()
	conn := s.sConn
	s.mu.Unlock()
	if conn != nil {
		wire.WriteBye(conn)
		conn.Close()
	}
	if s.store != nil {
		if err := s.store.EndCall(s.id, time.Now()); err != nil {
			s.log.Warn("reasoner: end call record failed", "call_id", s.id, "err", err)
		}
	}
}

// Shutdown stops all active sessions and the acceptor.
func (c *Component) Shutdown() error {
	close(c.stop)
	if c.listener != nil {
		c.listener.Close()
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

// Activate is a no-op: sessions are created by T's eager HELLO
// connection, not by direct orchestrator ACTIVATE calls.
func (c *Component) Activate(callID int) error {
	c.log.Debug("reasoner: activate is a no-op, sessions follow T's eager connection", "call_id", callID)
	return nil
}

// Deactivate is likewise a no-op: a session ends on BYE/disconnect or
// idle timeout.
func (c *Component) Deactivate(callID int) error {
	c.log.Debug("reasoner: deactivate is a no-op, sessions follow bye/idle", "call_id", callID)
	return nil
}
