// Package transcriber implements the Transcriber (T, §4.3): per-call ASR
// over chunks arriving from the Inbound Audio Processor, post-processed
// and diffed against the session's running transcript, with deltas
// forwarded to the Reasoner.
package transcriber

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/engine/stt"
	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/session"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/chtugha/callfabric/pkg/textpost"
	"github.com/chtugha/callfabric/pkg/wire"
	"github.com/google/uuid"
)

// IAPBasePort is IAP's per-call listening port offset (9001+C, §6).
const IAPBasePort = 9001

// RegistrationListenAddr is where T listens for IAP's REGISTER/BYE
// announcements (§4.7).
const RegistrationListenAddr = ":13000"

// Logger is the narrow logging seam this component depends on; it also
// satisfies registration.Logger, which shares the same method set.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Session owns one call's ASR pipeline: its eager connection to R, its
// (retried) connection to IAP, and the running post-processed transcript
// used for cross-chunk diffing.
type Session struct {
	id int

	reasonerAddr string

	mu           sync.Mutex
	rConn        net.Conn
	lastEmitted  string
	disconnected bool

	asr *stt.Serialized
	log Logger
	tel *telemetry.Telemetry

	// onDone removes this session from the component's session table and
	// live set; called once the IAP side of the call ends, so the reaper
	// never has to age it out.
	onDone func()

	stop chan struct{}
	wg   sync.WaitGroup
}

// Component owns the registration listener and session table driving T.
type Component struct {
	iapHost      string
	reasonerAddr string

	asr      *stt.Serialized
	sessions *session.Table[*Session]
	listener *registration.Listener

	mu   sync.Mutex
	live map[int]*Session

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
}

// NewComponent builds a Transcriber component. iapHost is the host IAP's
// per-call listeners run on; reasonerAddr is R's fixed-port acceptor
// (host:8083, §4.7).
func NewComponent(iapHost, reasonerAddr string, asr *stt.Serialized, log Logger, tel *telemetry.Telemetry) *Component {
	c := &Component{
		iapHost:      iapHost,
		reasonerAddr: reasonerAddr,
		asr:          asr,
		live:         make(map[int]*Session),
		log:          log,
		tel:          tel,
		stop:         make(chan struct{}),
	}
	c.sessions = session.NewTable[*Session](session.IdleTimeout, c.onExpire)
	return c
}

// Run opens the registration listener and dispatches REGISTER events into
// new sessions until ctx is cancelled.
func (c *Component) Run(ctx context.Context) error {
	ln, err := registration.Listen(RegistrationListenAddr)
	if err != nil {
		return fmt.Errorf("transcriber: listen registration: %w", err)
	}
	c.listener = ln

	c.sessions.RunReaper(5*time.Second, c.stop)

	return ln.Serve(ctx, c.onRegistrationEvent)
}

func (c *Component) onRegistrationEvent(ev registration.Event) {
	if ev.Bye {
		// A registration-channel teardown signal from IAP (its poller
		// stopping once it accepted T's TCP connection), not a call-end
		// signal; call-end arrives as wire.ErrBye on the IAP TCP stream.
		return
	}

	_, created := c.sessions.GetOrCreate(ev.CallID, func() *Session {
		return c.newSession(ev.CallID)
	})
	if !created {
		c.sessions.Touch(ev.CallID)
	}
}

// newSession opens T's eager outbound connection to R, then dials IAP's
// per-call port with the shared retry policy, and launches the per-chunk
// ASR loop.
func (c *Component) newSession(callID int) *Session {
	connID := uuid.NewString()
	c.log.Info("transcriber: session starting", "call_id", callID, "conn_id", connID)

	s := &Session{
		id:           callID,
		reasonerAddr: c.reasonerAddr,
		asr:          c.asr,
		log:          c.log,
		tel:          c.tel,
		stop:         make(chan struct{}),
	}

	rConn, err := registration.DialWithRetry(c.reasonerAddr, c.log)
	if err != nil {
		c.log.Error("transcriber: could not reach reasoner, session will accrue transcript only", "call_id", callID, "err", err)
		s.disconnected = true
	} else {
		wire.WriteHello(rConn, callID)
		s.rConn = rConn
	}

	s.onDone = func() {
		c.mu.Lock()
		delete(c.live, callID)
		c.mu.Unlock()
		c.sessions.Delete(callID)
	}

	c.mu.Lock()
	c.live[callID] = s
	c.mu.Unlock()

	s.wg.Add(1)
	go s.readLoop(fmt.Sprintf("%s:%d", c.iapHost, IAPBasePort+callID))

	return s
}

func (c *Component) onExpire(callID int, s *Session) {
	c.mu.Lock()
	delete(c.live, callID)
	c.mu.Unlock()
	s.Stop()
}

// readLoop dials IAP with retry, sends HELLO, then forwards each chunk
// through ASR and post-processing until BYE or a read error, at which
// point it propagates BYE to R and tears this session down immediately
// (§5's BYE propagation chain does not stop at T) rather than leaving it
// for the idle reaper.
func (s *Session) readLoop(iapAddr string) {
	defer s.wg.Done()

	iapConn, err := registration.DialWithRetry(iapAddr, s.log)
	if err != nil {
		s.log.Error("transcriber: could not reach iap", "call_id", s.id, "err", err)
		s.onIAPGone()
		return
	}
	defer iapConn.Close()

	if err := wire.WriteHello(iapConn, s.id); err != nil {
		s.log.Error("transcriber: hello to iap failed", "call_id", s.id, "err", err)
		s.onIAPGone()
		return
	}

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		payload, err := wire.ReadFrame(iapConn)
		if err != nil {
			s.onIAPGone()
			return
		}

		samples := wire.DecodeFloat32Chunk(payload)
		raw, err := s.asr.Transcribe(context.Background(), samples)
		if err != nil {
			s.log.Warn("transcriber: asr failed, skipping chunk", "call_id", s.id, "err", err)
			continue
		}

		s.emit(raw)
	}
}

// onIAPGone runs once IAP's connection ends (BYE or any read error):
// forward BYE to R so its readLoop unblocks into onDisconnect and
// discards any buffered-but-unreplied text, then remove this session
// from the component immediately instead of waiting on the idle reaper.
func (s *Session) onIAPGone() {
	s.mu.Lock()
	conn := s.rConn
	s.rConn = nil
	s.disconnected = true
	s.mu.Unlock()

	if conn != nil {
		wire.WriteBye(conn)
		conn.Close()
	}

	if s.onDone != nil {
		s.onDone()
	}
}

// emit post-processes a raw ASR transcript, computes the delta against
// last_emitted, and sends it to R (reconnecting once if the link had
// dropped).
func (s *Session) emit(raw string) {
	s.mu.Lock()
	processed := textpost.Process(raw, s.lastEmitted)
	delta := textpost.Diff(s.lastEmitted, processed)
	s.lastEmitted = processed
	disconnected := s.disconnected
	conn := s.rConn
	s.mu.Unlock()

	if delta == "" {
		return
	}

	if disconnected || conn == nil {
		s.tryReconnect()
		s.mu.Lock()
		conn = s.rConn
		disconnected = s.disconnected
		s.mu.Unlock()
		if disconnected || conn == nil {
			return
		}
	}

	if err := wire.WriteText(conn, delta); err != nil {
		s.log.Warn("transcriber: send to reasoner failed, will retry once", "call_id", s.id, "err", err)
		s.mu.Lock()
		s.disconnected = true
		s.mu.Unlock()
	}
}

// tryReconnect attempts a single reconnect to R after a disconnect (§4.3
// failure mode: "attempt single reconnect, then mark session disconnected").
func (s *Session) tryReconnect() {
	conn, err := net.DialTimeout("tcp", s.reasonerAddr, 2*time.Second)
	if err != nil {
		return
	}
	if err := wire.WriteHello(conn, s.id); err != nil {
		conn.Close()
		return
	}

	s.mu.Lock()
	s.rConn = conn
	s.disconnected = false
	s.mu.Unlock()
}

// Stop tears down the session's threads and connections.
func (s *Session) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.mu.Lock()
	conn := s.rConn
	s.mu.Unlock()
	if conn != nil {
		wire.WriteBye(conn)
		conn.Close()
	}
}

// Shutdown stops all active sessions and the registration listener.
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
