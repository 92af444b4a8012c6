package rtpio

import (
	"time"
)

// DefaultBurstFrames is kBurstFrames from §4.1: the maximum number of
// frames the tx scheduler may drain from the outbound ring in one 20ms
// tick, absorbing producer bursts without exceeding one on-wire frame
// per grid slot.
const DefaultBurstFrames = 16

const TickInterval = 20 * time.Millisecond

// FrameSource yields the next outbound frame for a call, or ok=false if
// the ring is empty this tick (the scheduler then substitutes silence).
type FrameSource func() (frame []byte, ok bool)

// Scheduler drives SE's outbound RTP tx loop on a strict 20ms grid,
// substituting a silence sentinel whenever the ring has nothing ready,
// and logging "started audio" exactly once on the first real frame.
//
// Exactly one frame reaches the wire per grid slot. The burst drain
// (§4.1) only pulls ahead from the ring into a small staging buffer so a
// producer burst doesn't force repeated ring reads on later ticks; it
// never puts more than one frame on the wire per tick.
type Scheduler struct {
	conn    *Conn
	source  FrameSource
	silence []byte
	onStart func()

	staging      [][]byte
	startedAudio bool
}

// NewScheduler builds a tx scheduler over conn, pulling frames from
// source and substituting silence when none is ready. onStart, if
// non-nil, fires once on the first real (non-silence) frame sent.
func NewScheduler(conn *Conn, source FrameSource, silence []byte, onStart func()) *Scheduler {
	return &Scheduler{conn: conn, source: source, silence: silence, onStart: onStart}
}

// Run ticks every TickInterval against a monotonic deadline (never
// sleeping past the next grid point) until stop is closed, draining up
// to DefaultBurstFrames frames from source per tick.
func (s *Scheduler) Run(stop <-chan struct{}) error {
	next := time.Now()
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := s.tick(); err != nil {
			return err
		}

		next = next.Add(TickInterval)
		delay := time.Until(next)
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-stop:
				timer.Stop()
				return nil
			case <-timer.C:
			}
		} else {
			next = time.Now()
		}
	}
}

func (s *Scheduler) tick() error {
	// top up the staging buffer from the ring, up to the burst cap, so a
	// producer burst doesn't force a ring read on every future tick.
	for len(s.staging) < DefaultBurstFrames {
		frame, ok := s.source()
		if !ok {
			break
		}
		s.staging = append(s.staging, frame)
	}

	var frame []byte
	if len(s.staging) > 0 {
		frame = s.staging[0]
		s.staging = s.staging[1:]
	} else {
		frame = s.silence
	}

	if err := s.conn.SendFrame(frame); err != nil {
		return err
	}

	if frame != nil && !isSentinelSilence(frame, s.silence) && !s.startedAudio {
		s.startedAudio = true
		if s.onStart != nil {
			s.onStart()
		}
	}
	return nil
}

func isSentinelSilence(frame, silence []byte) bool {
	if len(frame) != len(silence) {
		return false
	}
	for i := range frame {
		if frame[i] != silence[i] {
			return false
		}
	}
	return true
}
