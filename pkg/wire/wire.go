// Package wire implements the uniform per-call TCP wire framing shared by
// every dynamic channel in the fabric: IAP->Transcriber, Transcriber->
// Reasoner, Reasoner->Synthesizer, and Synthesizer->OAP (§3, §6).
//
// Every connection begins with HELLO (a 4-byte big-endian length followed
// by the call id as ASCII decimal), then carries zero or more length-
// prefixed payload frames, and ends with BYE (length 0xFFFFFFFF, no body).
package wire

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
)

// ByeLength is the sentinel length value that marks end-of-call on every
// wire in the fabric.
const ByeLength uint32 = 0xFFFFFFFF

var (
	ErrBye             = errors.New("wire: BYE received")
	ErrPayloadTooLarge = errors.New("wire: payload length implausibly large")

	// maxPayload guards against a corrupt length prefix turning into a
	// multi-gigabyte allocation; no real frame in this protocol approaches it.
	maxPayload uint32 = 64 << 20
)

// WriteHello writes the HELLO preamble: a 4-byte big-endian length followed
// by callID formatted as ASCII decimal.
func WriteHello(w io.Writer, callID int) error {
	s := strconv.Itoa(callID)
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadHello reads the HELLO preamble and returns the call id it names.
func ReadHello(r io.Reader) (int, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return 0, fmt.Errorf("wire: read hello length: %w", err)
	}
	if n == 0 || n > 32 {
		return 0, fmt.Errorf("wire: implausible hello length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return 0, fmt.Errorf("wire: read hello body: %w", err)
	}
	callID, err := strconv.Atoi(string(buf))
	if err != nil {
		return 0, fmt.Errorf("wire: bad hello call id %q: %w", buf, err)
	}
	return callID, nil
}

// WriteFrame writes a length-prefixed payload frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(payload))); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// WriteBye writes the BYE sentinel frame (length 0xFFFFFFFF, no body).
func WriteBye(w io.Writer) error {
	return binary.Write(w, binary.BigEndian, ByeLength)
}

// ReadFrame reads one length-prefixed frame. It returns ErrBye (with a nil
// payload) when the sentinel BYE length is read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n == ByeLength {
		return nil, ErrBye
	}
	if n > maxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}
	return buf, nil
}

// WriteFloat32Chunk encodes a float32 PCM chunk (IAP->Transcriber) as its
// little-endian byte form and writes it as one frame.
func WriteFloat32Chunk(w io.Writer, samples []float32) error {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return WriteFrame(w, buf)
}

// DecodeFloat32Chunk decodes a frame payload back into float32 PCM samples.
func DecodeFloat32Chunk(payload []byte) []float32 {
	out := make([]float32, len(payload)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}
	return out
}

// WriteText writes a UTF-8 text frame (Transcriber->Reasoner incremental
// segments, Reasoner->Synthesizer reply text).
func WriteText(w io.Writer, text string) error {
	return WriteFrame(w, []byte(text))
}

// Subchunk is the Synthesizer->OAP audio unit: 4-byte length, 4-byte sample
// rate, 4-byte monotonic chunk id, then length bytes of float32 PCM at the
// declared rate. A zero-length Subchunk is the end-of-utterance marker.
type Subchunk struct {
	SampleRate uint32
	ChunkID    uint32
	Samples    []float32
}

// WriteSubchunk writes one audio subchunk frame.
func WriteSubchunk(w io.Writer, s Subchunk) error {
	payload := make([]byte, len(s.Samples)*4)
	for i, v := range s.Samples {
		binary.LittleEndian.PutUint32(payload[i*4:], math.Float32bits(v))
	}

	header := make([]byte, 12)
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], s.SampleRate)
	binary.LittleEndian.PutUint32(header[8:12], s.ChunkID)

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadSubchunk reads one audio subchunk frame from a buffered reader. It
// does not share ReadFrame's length-prefix-only wire shape, since a
// subchunk's header embeds sample rate and chunk id alongside the length.
func ReadSubchunk(r *bufio.Reader) (Subchunk, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(r, header); err != nil {
		return Subchunk{}, err
	}
	n := binary.LittleEndian.Uint32(header[0:4])
	rate := binary.LittleEndian.Uint32(header[4:8])
	id := binary.LittleEndian.Uint32(header[8:12])

	if n > maxPayload {
		return Subchunk{}, ErrPayloadTooLarge
	}

	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Subchunk{}, err
		}
	}

	samples := make([]float32, n/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
	}

	return Subchunk{SampleRate: rate, ChunkID: id, Samples: samples}, nil
}

// IsEndOfUtterance reports whether a Subchunk is the 0-length end marker.
func (s Subchunk) IsEndOfUtterance() bool {
	return len(s.Samples) == 0
}
