// Package se implements the SIP Endpoint's shared-memory ring and RTP
// scheduler (§4.1): one call's worth of inbound/outbound ring + RTP
// socket, decoupling the hard 20ms RTP cadence from the rest of the
// pipeline's variable latency.
package se

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chtugha/callfabric/pkg/audio"
	"github.com/chtugha/callfabric/pkg/ring"
	"github.com/chtugha/callfabric/pkg/rtpio"
	"github.com/chtugha/callfabric/pkg/telemetry"
)

// Logger is the narrow logging seam this component depends on.
type Logger interface {
	Debug(msg string, keyvals ...interface{})
	Info(msg string, keyvals ...interface{})
	Warn(msg string, keyvals ...interface{})
	Error(msg string, keyvals ...interface{})
}

// Call owns one call's ring pair and RTP socket, and the rx/tx threads
// that move frames between them.
type Call struct {
	id int

	inbound  *ring.Ring // SE producer, IAP consumer
	outbound *ring.Ring // OAP producer, SE consumer

	rtp   *rtpio.Conn
	sched *rtpio.Scheduler

	log Logger
	tel *telemetry.Telemetry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewCall creates the inbound SHM ring for callID, opens OAP's outbound
// ring if OAP has already created it (leaving it nil for EnsureOutbound
// otherwise), binds an RTP socket to the caller's media endpoint, and
// starts the rx demuxer and tx scheduler threads.
func NewCall(callID int, localRTPAddr, remoteRTPAddr string, ssrc uint32, log Logger, tel *telemetry.Telemetry) (*Call, error) {
	inbound, err := ring.Create(ring.Name("ap_in", callID), callID, ring.DefaultSlotSize, ring.DefaultSlotCount)
	if err != nil {
		return nil, fmt.Errorf("se: create inbound ring for call %d: %w", callID, err)
	}
	outbound, err := ring.Open(ring.Name("ap_out", callID), ring.Consumer)
	if err != nil {
		// OAP may not have created the outbound ring yet; SE tolerates
		// starting before OAP and retries lazily via EnsureOutbound.
		outbound = nil
	}

	conn, err := rtpio.Dial(localRTPAddr, remoteRTPAddr, ssrc)
	if err != nil {
		inbound.Close()
		return nil, fmt.Errorf("se: dial rtp for call %d: %w", callID, err)
	}

	c := &Call{
		id:       callID,
		inbound:  inbound,
		outbound: outbound,
		rtp:      conn,
		log:      log,
		tel:      tel,
		stop:     make(chan struct{}),
	}

	c.sched = rtpio.NewScheduler(c.rtp, c.readOutboundFrame, audio.SilenceFrame(), c.onAudioStarted)

	c.wg.Add(2)
	go c.rxLoop()
	go c.txLoop()

	return c, nil
}

// EnsureOutbound opens the outbound ring once OAP has created it, for
// the race where SE activates before OAP.
func (c *Call) EnsureOutbound() error {
	if c.outbound != nil {
		return nil
	}
	r, err := ring.Open(ring.Name("ap_out", c.id), ring.Consumer)
	if err != nil {
		return err
	}
	c.outbound = r
	return nil
}

func (c *Call) onAudioStarted() {
	if c.log != nil {
		c.log.Info("started audio", "call_id", c.id)
	}
}

// rxLoop demuxes inbound RTP packets, strips the header, and writes the
// 160-byte G.711 payload into the inbound ring, dropping on overflow
// (§4.1: "caller audio is better lost than stale").
func (c *Call) rxLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.rtp.SetReadDeadline(time.Now().Add(1 * time.Second))
		payload, err := c.rtp.ReadFrame()
		if err != nil {
			continue
		}

		if err := c.inbound.WriteFrame(payload); err != nil {
			if c.tel != nil {
				c.tel.RingDrops.Add(context.Background(), 1)
			}
		}
		c.inbound.Touch()
	}
}

// readOutboundFrame is the scheduler's FrameSource: pull one 160-byte
// frame from the outbound ring, if the ring is open and has one ready.
func (c *Call) readOutboundFrame() ([]byte, bool) {
	if c.outbound == nil {
		if err := c.EnsureOutbound(); err != nil {
			return nil, false
		}
	}
	if c.outbound.PeerStale() {
		c.log.Warn("outbound ring peer stale, closing", "call_id", c.id)
		c.outbound.Close()
		c.outbound = nil
		return nil, false
	}

	frame, err := c.outbound.ReadFrame()
	if err != nil {
		return nil, false
	}
	c.outbound.Touch()
	return frame, true
}

// txLoop runs the 20ms RTP scheduler until Stop is called.
func (c *Call) txLoop() {
	defer c.wg.Done()
	c.sched.Run(c.stop)
}

// Stop tears down both threads and closes the rings and RTP socket.
func (c *Call) Stop() {
	close(c.stop)
	c.wg.Wait()
	c.rtp.Close()
	c.inbound.Close()
	ring.Unlink(ring.Name("ap_in", c.id))
	if c.outbound != nil {
		c.outbound.Close()
	}
}
