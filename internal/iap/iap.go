// Package iap implements the Inbound Audio Processor (§4.2): read caller
// audio from the SHM ring, detect speech boundaries with a windowed VAD,
// and forward completed chunks to the Transcriber over a per-call TCP
// channel.
package iap

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/audio"
	"github.com/chtugha/callfabric/pkg/registration"
	"github.com/chtugha/callfabric/pkg/ring"
	"github.com/chtugha/callfabric/pkg/telemetry"
	"github.com/chtugha/callfabric/pkg/vad"
	"github.com/chtugha/callfabric/pkg/wire"
)

var bgCtx = context.Background()

// QueueCap bounds the local chunk queue between the VAD thread and the
// TCP writer thread; when exceeded the oldest chunk is dropped (§4.2).
const QueueCap = 16

// BasePort is the IAP-side per-call listening port offset (9001+C, §6).
const BasePort = 9001

// RegistrationPort is where IAP polls T's registration listener (§6).
const RegistrationPort = 13000

// Logger is the narrow logging seam this component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Call owns one call's VAD pipeline and TCP channel to the Transcriber.
type Call struct {
	id int

	inRing *ring.Ring
	det    *vad.Detector

	listener net.Listener
	poller   *registration.Poller

	queueMu sync.Mutex
	queue   [][]float32
	dropped int

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCall opens the inbound ring for callID, starts its listening
// socket on 9001+callID, begins registration polling, and launches the
// VAD thread and TCP writer thread.
func NewCall(callID int, transcriberRegAddr string, log Logger, tel *telemetry.Telemetry) (*Call, error) {
	r, err := ring.Open(ring.Name("ap_in", callID), ring.Consumer)
	if err != nil {
		return nil, fmt.Errorf("iap: open inbound ring for call %d: %w", callID, err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", BasePort+callID))
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("iap: listen for call %d: %w", callID, err)
	}

	poller, err := registration.StartPoller(transcriberRegAddr, callID, log)
	if err != nil {
		ln.Close()
		r.Close()
		return nil, fmt.Errorf("iap: start registration poller for call %d: %w", callID, err)
	}

	c := &Call{
		id:       callID,
		inRing:   r,
		det:      vad.New(vad.DefaultParams()),
		listener: ln,
		poller:   poller,
		log:      log,
		tel:      tel,
		stop:     make(chan struct{}),
	}

	c.wg.Add(2)
	go c.vadLoop()
	go c.tcpLoop()

	return c, nil
}

// vadLoop consumes 320-sample (20ms @ 16kHz) windows from the ring,
// decoding/resampling each 160-byte µ-law frame, and enqueues completed
// chunks for the TCP writer thread.
func (c *Call) vadLoop() {
	defer c.wg.Done()

	var pending []float32 // resampled samples not yet forming a full window
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		frame, err := c.inRing.ReadFrame()
		if err != nil {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		c.inRing.Touch()

		pcmFloat := audio.DecodeMulawToFloat32(frame)
		resampled := audio.Resample(pcmFloat, 8000, vad.SampleRate)
		pending = append(pending, resampled...)

		for len(pending) >= vad.WindowSamples {
			window := pending[:vad.WindowSamples]
			pending = pending[vad.WindowSamples:]

			if chunk, ok := c.det.Process(window); ok {
				c.enqueue(chunk.Samples)
			}
		}
	}
}

func (c *Call) enqueue(samples []float32) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()

	c.queue = append(c.queue, samples)
	for len(c.queue) > QueueCap {
		c.queue = c.queue[1:]
		c.dropped++
		if c.tel != nil {
			c.tel.QueueDrops.Add(bgCtx, 1)
		}
	}
}

func (c *Call) dequeue() ([]float32, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	s := c.queue[0]
	c.queue = c.queue[1:]
	return s, true
}

// tcpLoop accepts the Transcriber's single pinned connection, verifies
// its HELLO names this call, stops registration polling once connected,
// and drains the chunk queue onto the wire.
func (c *Call) tcpLoop() {
	defer c.wg.Done()

	conn, err := c.listener.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	callID, err := wire.ReadHello(conn)
	if err != nil || callID != c.id {
		c.log.Warn("iap: bad hello on call channel", "call_id", c.id, "got", callID, "err", err)
		return
	}
	c.poller.Stop()

	for {
		select {
		case <-c.stop:
			c.drainQueue(conn)
			wire.WriteBye(conn)
			return
		default:
		}

		samples, ok := c.dequeue()
		if !ok {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err := wire.WriteFloat32Chunk(conn, samples); err != nil {
			c.log.Warn("iap: write chunk failed", "call_id", c.id, "err", err)
			return
		}
	}
}

// drainQueue writes out any chunks left queued at stop time, including
// Stop's final VAD flush (§4.2: "flush remaining chunk ... send BYE to
// T"), so that chunk isn't silently dropped.
func (c *Call) drainQueue(conn net.Conn) {
	for {
		samples, ok := c.dequeue()
		if !ok {
			return
		}
		if err := wire.WriteFloat32Chunk(conn, samples); err != nil {
			c.log.Warn("iap: write chunk failed during drain", "call_id", c.id, "err", err)
			return
		}
	}
}

// Stop flushes any in-progress VAD recording above the minimum chunk
// duration, then tears down the call's threads, listener, and ring.
func (c *Call) Stop() {
	if chunk, ok := c.det.Flush(); ok {
		c.enqueue(chunk.Samples)
	}
	close(c.stop)
	c.listener.Close()
	c.poller.Stop()
	c.wg.Wait()
	c.inRing.Close()
}
