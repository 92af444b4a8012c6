// Package rtpio wraps pion/rtp for SE's RTP rx demuxer and 20ms tx
// scheduler (§4.1, §6): standard RTP over UDP, PCMU (PT 0) at 8kHz,
// 20ms packetization, 160-byte payloads, monotonic sequence/timestamp
// advance even through synthesized silence.
package rtpio

import (
	"fmt"
	"net"
	"time"

	"github.com/pion/rtp"
)

const (
	PayloadTypePCMU = 0
	FrameBytes      = 160
	FrameSamples    = 160 // 8kHz, 20ms
)

// Conn is a bound RTP/UDP socket for one call, sending a monotonically
// advancing sequence/timestamp stream and demuxing inbound packets.
type Conn struct {
	sock   *net.UDPConn
	remote *net.UDPAddr

	ssrc uint32
	seq  uint16
	ts   uint32
}

// Dial binds a local UDP RTP socket and fixes the remote endpoint for
// this call's media session.
func Dial(localAddr, remoteAddr string, ssrc uint32) (*Conn, error) {
	laddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpio: resolve local %s: %w", localAddr, err)
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("rtpio: resolve remote %s: %w", remoteAddr, err)
	}
	sock, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rtpio: listen %s: %w", localAddr, err)
	}
	return &Conn{sock: sock, remote: raddr, ssrc: ssrc}, nil
}

// SendFrame marshals and sends one 160-byte PCMU payload, advancing the
// sequence number and timestamp unconditionally — callers pass a
// synthesized silence frame rather than skipping the call, so receivers
// never observe a gap (§4.1).
func (c *Conn) SendFrame(payload []byte) error {
	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    PayloadTypePCMU,
			SequenceNumber: c.seq,
			Timestamp:      c.ts,
			SSRC:           c.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("rtpio: marshal: %w", err)
	}
	if _, err := c.sock.WriteToUDP(data, c.remote); err != nil {
		return fmt.Errorf("rtpio: send: %w", err)
	}

	c.seq++
	c.ts += FrameSamples
	return nil
}

// ReadFrame blocks for the next inbound RTP packet and returns its
// 160-byte G.711 payload, stripping the RTP header.
func (c *Conn) ReadFrame() ([]byte, error) {
	buf := make([]byte, 1500)
	n, _, err := c.sock.ReadFromUDP(buf)
	if err != nil {
		return nil, fmt.Errorf("rtpio: read: %w", err)
	}

	var packet rtp.Packet
	if err := packet.Unmarshal(buf[:n]); err != nil {
		return nil, fmt.Errorf("rtpio: unmarshal: %w", err)
	}
	return packet.Payload, nil
}

// SetReadDeadline forwards to the underlying socket, used to bound
// recv suspension points per the concurrency model (§5).
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.sock.SetReadDeadline(t)
}

// Close closes the underlying UDP socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}
