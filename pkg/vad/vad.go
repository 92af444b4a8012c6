// Package vad implements the energy/hysteresis voice-activity detector used
// by the Inbound Audio Processor to turn a continuous float32 PCM stream
// into discrete utterance chunks (§4.2).
//
// The detector operates on fixed 20ms analysis windows at 16kHz (320
// samples) and runs a two-state machine (Idle/Recording) with pre-roll,
// hangover, overlap-carry and a hard max-chunk cutover.
package vad

import "math"

const (
	SampleRate    = 16000
	WindowMs      = 20
	WindowSamples = SampleRate * WindowMs / 1000 // 320
)

// Params holds the VAD's calibrated, fully overridable parameters.
type Params struct {
	Threshold      float64 // base RMS threshold
	StartThreshold float64 // enter Recording
	StopThreshold  float64 // candidate silence
	HangoverMs     int
	PreRollMs      int
	OverlapMs      int
	MinChunkMs     int
	MaxChunkMs     int
}

// DefaultParams returns the calibrated defaults from the design notes.
func DefaultParams() Params {
	t := 0.02
	return Params{
		Threshold:      t,
		StartThreshold: 1.5 * t,
		StopThreshold:  0.5 * t,
		HangoverMs:     400,
		PreRollMs:      350,
		OverlapMs:      225,
		MinChunkMs:     500,
		MaxChunkMs:     1000,
	}
}

type state int

const (
	stateIdle state = iota
	stateRecording
)

// Chunk is a completed utterance, ready to forward to the Transcriber.
type Chunk struct {
	Samples []float32
}

// Detector is the per-call VAD state machine. Not safe for concurrent use;
// IAP runs one per call on its ring-consumer/VAD thread (§5).
type Detector struct {
	params Params

	st state

	preRoll    [][]float32 // tail ring of windows while Idle
	preRollCap int

	recording     []float32
	consecStart   int
	consecSilence int

	carry []float32 // overlap carry into next chunk's pre-roll
}

// New builds a Detector with the given parameters.
func New(p Params) *Detector {
	preRollWindows := p.PreRollMs / WindowMs
	if preRollWindows < 1 {
		preRollWindows = 1
	}
	return &Detector{
		params:     p,
		st:         stateIdle,
		preRollCap: preRollWindows,
	}
}

// msToSamples converts a millisecond duration to a sample count at SampleRate.
func msToSamples(ms int) int {
	return ms * SampleRate / 1000
}

func rms(window []float32) float64 {
	if len(window) == 0 {
		return 0
	}
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(window)))
}

// Process feeds one 20ms window (320 samples at 16kHz) into the detector
// and returns a completed Chunk whenever the state machine emits one.
// Callers must feed windows of exactly WindowSamples length; IAP's ring
// consumer buffers resampled audio to this granularity before calling in.
func (d *Detector) Process(window []float32) (Chunk, bool) {
	level := rms(window)

	switch d.st {
	case stateIdle:
		d.pushPreRoll(window)
		if level >= d.params.StartThreshold {
			d.consecStart++
		} else {
			d.consecStart = 0
		}
		if d.consecStart >= 2 {
			d.consecStart = 0
			d.beginRecording()
		}
		return Chunk{}, false

	case stateRecording:
		d.recording = append(d.recording, window...)

		if level < d.params.StopThreshold {
			d.consecSilence++
		} else {
			d.consecSilence = 0
		}

		durMs := len(d.recording) * 1000 / SampleRate
		silenceMs := d.consecSilence * WindowMs

		if silenceMs >= d.params.HangoverMs && durMs >= d.params.MinChunkMs {
			return d.emit(true), true
		}
		if durMs >= d.params.MaxChunkMs {
			return d.emit(false), true
		}
		return Chunk{}, false
	}
	return Chunk{}, false
}

func (d *Detector) pushPreRoll(window []float32) {
	cp := make([]float32, len(window))
	copy(cp, window)
	d.preRoll = append(d.preRoll, cp)
	if len(d.preRoll) > d.preRollCap {
		d.preRoll = d.preRoll[len(d.preRoll)-d.preRollCap:]
	}
}

func (d *Detector) beginRecording() {
	d.st = stateRecording
	d.recording = d.recording[:0]

	if len(d.carry) > 0 {
		d.recording = append(d.recording, d.carry...)
		d.carry = nil
	}
	for _, w := range d.preRoll {
		d.recording = append(d.recording, w...)
	}
	d.preRoll = nil
	d.consecSilence = 0
}

// emit finalizes the current recording into a Chunk. When returnToIdle is
// false (max-chunk cutover) the detector stays in Recording and carries
// overlap_ms of samples forward so word boundaries are not lost.
func (d *Detector) emit(returnToIdle bool) Chunk {
	out := make([]float32, len(d.recording))
	copy(out, d.recording)

	overlapSamples := msToSamples(d.params.OverlapMs)
	if overlapSamples > len(d.recording) {
		overlapSamples = len(d.recording)
	}
	d.carry = append([]float32(nil), d.recording[len(d.recording)-overlapSamples:]...)

	if returnToIdle {
		d.st = stateIdle
		d.recording = nil
		d.consecSilence = 0
		d.preRoll = nil
		if len(d.carry) > 0 {
			d.pushPreRoll(d.carry)
			d.carry = nil
		}
	} else {
		d.recording = append([]float32(nil), d.carry...)
		d.carry = nil
		d.consecSilence = 0
	}

	return Chunk{Samples: out}
}

// Flush forces emission of any in-progress recording that meets the
// minimum chunk duration, used when IAP receives BYE mid-utterance (§4.2).
func (d *Detector) Flush() (Chunk, bool) {
	if d.st != stateRecording {
		return Chunk{}, false
	}
	durMs := len(d.recording) * 1000 / SampleRate
	if durMs < d.params.MinChunkMs {
		return Chunk{}, false
	}
	return d.emit(true), true
}

// Reset returns the detector to its initial Idle state, clearing all carry.
func (d *Detector) Reset() {
	d.st = stateIdle
	d.preRoll = nil
	d.recording = nil
	d.carry = nil
	d.consecStart = 0
	d.consecSilence = 0
}
