// Package oap implements the Outbound Audio Processor (§4.6): accept
// synthesized audio subchunks from the Synthesizer, convert them to the
// exact 20ms G.711 cadence SE expects, and publish frames on the SE
// outbound ring with fast-start on the first audible frame of a reply.
package oap

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/audio"
	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/ring"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/chtugha/callfabric/pkg/wire"
)

var bgCtx = context.Background()

// BasePort is the OAP-side per-call listening port offset (9002+C, §6).
const BasePort = 9002

// SynthesizerRegPort is where OAP sends REGISTER/BYE so the Synthesizer
// knows to connect back for this call (§4.6, §4.7).
const SynthesizerRegPort = 13001

// OutBufferCap bounds the converted-audio byte queue at ~200ms (§4.6).
const OutBufferCap = 1600 // 10 frames * 160 bytes

// OverCapWait is how long OAP tolerates staying over cap before it starts
// dropping the oldest frames, while the ring-publish scheduler has not yet
// started actively draining (§4.6).
const OverCapWait = 1 * time.Second

// KBurstFrames bounds how many frames the ring-publish worker drains from
// out_buffer in a single 20ms tick to catch up after a subchunk burst.
const KBurstFrames = 10

// Logger is the narrow logging seam this component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Call owns one call's conversion pipeline: TCP reader from S, conversion
// worker, 20ms ring-publish worker, and the registration poller that
// announces OAP's readiness to S.
type Call struct {
	id int

	outMu   sync.Mutex
	outRing *ring.Ring

	listener net.Listener
	poller   *registration.Poller

	subchunks chan wire.Subchunk

	bufMu           sync.Mutex
	outBuffer       []byte
	overCapSince    time.Time
	schedulerActive bool

	pendingFirstRTP bool

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCall creates the outbound ring for callID, starts the per-call TCP
// listener, begins registration polling toward the Synthesizer, and
// launches the conversion and ring-publish worker threads.
func NewCall(callID int, log Logger, tel *telemetry.Telemetry) (*Call, error) {
	r, err := ring.Create(ring.Name("ap_out", callID), callID, ring.DefaultSlotSize, ring.DefaultSlotCount)
	if err != nil {
		return nil, fmt.Errorf("oap: create outbound ring for call %d: %w", callID, err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", BasePort+callID))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("oap: listen for call %d: %w", callID, err)
	}

	regAddr := fmt.Sprintf("127.0.0.1:%d", SynthesizerRegPort)
	poller, err := registration.StartPoller(regAddr, callID, log)
	if err != nil {
		ln.Close()
		r.Close()
		return nil, fmt.Errorf("oap: start registration poller for call %d: %w", callID, err)
	}

	c := &Call{
		id:              callID,
		outRing:         r,
		listener:        ln,
		poller:          poller,
		subchunks:       make(chan wire.Subchunk, 64),
		pendingFirstRTP: true,
		log:             log,
		tel:             tel,
		stop:            make(chan struct{}),
	}

	c.wg.Add(3)
	go c.tcpLoop()
	go c.conversionLoop()
	go c.publishLoop()

	return c, nil
}

// tcpLoop accepts S's single pinned connection, verifies its HELLO, stops
// registration polling, and decodes the subchunk stream onto the work
// queue for the conversion worker.
func (c *Call) tcpLoop() {
	defer c.wg.Done()

	conn, err := c.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	callID, err := wire.ReadHello(conn)
	if err != nil || callID != c.id {
		c.log.Warn("oap: bad hello on call channel", "call_id", c.id, "got", callID, "err", err)
		return
	}
	c.poller.Stop()

	r := bufio.NewReader(conn)
	for {
		sub, err := wire.ReadSubchunk(r)
		if err != nil {
			return
		}
		select {
		case c.subchunks <- sub:
		case <-c.stop:
			return
		}
	}
}

// conversionLoop pulls subchunks off the work queue, resamples to 8kHz,
// encodes to µ-law, and either fast-starts the first audible window
// straight to the ring or appends the rest to out_buffer.
func (c *Call) conversionLoop() {
	defer c.wg.Done()

	for {
		var sub wire.Subchunk
		select {
		case sub = <-c.subchunks:
		case <-c.stop:
			return
		}

		if sub.IsEndOfUtterance() {
			c.bufMu.Lock()
			c.pendingFirstRTP = true
			c.bufMu.Unlock()
			continue
		}

		rate := sub.SampleRate
		if rate < 8000 {
			rate = 8000 // §4.6: accept any declared rate >= 8kHz
		}
		resampled := audio.Resample(sub.Samples, int(rate), 8000)
		encoded := audio.EncodeFloat32ToMulaw(resampled)

		c.appendConverted(encoded)
	}
}

// appendConverted applies the fast-start rule to the first audible window
// of a reply, then enqueues whatever remains into out_buffer.
func (c *Call) appendConverted(encoded []byte) {
	c.bufMu.Lock()
	fastStart := c.pendingFirstRTP
	c.bufMu.Unlock()

	if fastStart {
		for len(encoded) >= audio.FrameBytes {
			window := encoded[:audio.FrameBytes]
			encoded = encoded[audio.FrameBytes:]
			if audio.IsSilence(window) {
				continue
			}
			c.writeOutFrame(window)
			c.bufMu.Lock()
			c.pendingFirstRTP = false
			c.bufMu.Unlock()
			if c.log != nil {
				c.log.Info("t3 first rtp frame sent", "call_id", c.id)
			}
			break
		}
	}

	if len(encoded) == 0 {
		return
	}

	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	c.outBuffer = append(c.outBuffer, encoded...)
	c.enforceCapLocked()
}

// enforceCapLocked drops the oldest bytes once out_buffer has been over
// cap for too long, honoring the scheduler-active-vs-idle grace window
// (§4.6). Caller must hold bufMu.
func (c *Call) enforceCapLocked() {
	if len(c.outBuffer) <= OutBufferCap {
		c.overCapSince = time.Time{}
		return
	}

	if c.schedulerActive {
		c.dropOldestLocked()
		return
	}

	if c.overCapSince.IsZero() {
		c.overCapSince = time.Now()
		return
	}
	if time.Since(c.overCapSince) >= OverCapWait {
		c.dropOldestLocked()
	}
}

func (c *Call) dropOldestLocked() {
	excess := len(c.outBuffer) - OutBufferCap
	// Drop in whole frames so the queue stays frame-aligned.
	frames := (excess + audio.FrameBytes - 1) / audio.FrameBytes
	drop := frames * audio.FrameBytes
	if drop > len(c.outBuffer) {
		drop = len(c.outBuffer)
	}
	c.outBuffer = c.outBuffer[drop:]
	c.overCapSince = time.Time{}
	if c.tel != nil {
		c.tel.QueueDrops.Add(bgCtx, int64(drop/audio.FrameBytes))
	}
}

// publishLoop is the 20ms ring-publish worker: it drains all currently
// queued frames per tick (no 1-job-per-tick rate limit), up to
// KBurstFrames, to avoid an artificial floor on output latency.
func (c *Call) publishLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.publishTick()
		}
	}
}

func (c *Call) publishTick() {
	c.bufMu.Lock()
	c.schedulerActive = true
	frames := make([][]byte, 0, KBurstFrames)
	for len(frames) < KBurstFrames && len(c.outBuffer) >= audio.FrameBytes {
		frames = append(frames, c.outBuffer[:audio.FrameBytes])
		c.outBuffer = c.outBuffer[audio.FrameBytes:]
	}
	c.bufMu.Unlock()

	for _, f := range frames {
		c.writeOutFrame(f)
	}
}

// writeOutFrame publishes one frame to the outbound ring, closing and
// dropping the handle if SE's consumer heartbeat has gone stale (§4.6:
// "close ring and wait for re-activation") and lazily recreating it on
// the next attempt, symmetric to SE's EnsureOutbound on the other end.
func (c *Call) writeOutFrame(frame []byte) {
	c.outMu.Lock()
	defer c.outMu.Unlock()

	if c.outRing != nil && c.outRing.PeerStale() {
		c.log.Warn("se ring peer stale, closing outbound ring", "call_id", c.id)
		c.outRing.Close()
		c.outRing = nil
	}

	if c.outRing == nil {
		r, err := ring.Create(ring.Name("ap_out", c.id), c.id, ring.DefaultSlotSize, ring.DefaultSlotCount)
		if err != nil {
			c.log.Warn("oap: recreate outbound ring failed", "call_id", c.id, "err", err)
			return
		}
		c.outRing = r
	}

	if err := c.outRing.WriteFrame(frame); err != nil {
		if c.tel != nil {
			c.tel.RingDrops.Add(bgCtx, 1)
		}
		return
	}
	c.outRing.Touch()
}

// Stop tears down all threads, the listener, poller, and ring.
func (c *Call) Stop() {
	close(c.stop)
	c.listener.Close()
	c.poller.Stop()
	c.wg.Wait()
	c.outMu.Lock()
	if c.outRing != nil {
		c.outRing.Close()
	}
	c.outMu.Unlock()
	ring.Unlink(ring.Name("ap_out", c.id))
}
