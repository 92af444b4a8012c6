package rtpio

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/require"
)

func TestSendFrameAdvancesSeqAndTimestamp(t *testing.T) {
	rxAddr := "127.0.0.1:0"
	rx, err := Dial(rxAddr, "127.0.0.1:1", 99)
	require.NoError(t, err)
	defer rx.Close()

	tx, err := Dial("127.0.0.1:0", rx.sock.LocalAddr().String(), 1234)
	require.NoError(t, err)
	defer tx.Close()

	payload := make([]byte, FrameBytes)
	require.NoError(t, tx.SendFrame(payload))
	require.NoError(t, tx.SendFrame(payload))

	require.Equal(t, uint16(2), tx.seq)
	require.Equal(t, uint32(2*FrameSamples), tx.ts)
}

func TestReadFrameStripsRTPHeader(t *testing.T) {
	rx, err := Dial("127.0.0.1:0", "127.0.0.1:1", 99)
	require.NoError(t, err)
	defer rx.Close()

	tx, err := Dial("127.0.0.1:0", rx.sock.LocalAddr().String(), 1234)
	require.NoError(t, err)
	defer tx.Close()

	payload := make([]byte, FrameBytes)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, tx.SendFrame(payload))

	got, err := rx.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPacketMarshalRoundTrip(t *testing.T) {
	packet := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: PayloadTypePCMU, SequenceNumber: 7, Timestamp: 1600, SSRC: 42},
		Payload: make([]byte, FrameBytes),
	}
	data, err := packet.Marshal()
	require.NoError(t, err)

	var back rtp.Packet
	require.NoError(t, back.Unmarshal(data))
	require.Equal(t, packet.Header.SequenceNumber, back.Header.SequenceNumber)
	require.Equal(t, packet.Header.Timestamp, back.Header.Timestamp)
}
