package audio

// G.711 µ-law codec and the telephony frame constants shared by the
// Inbound/Outbound Audio Processors (§3, §4.2, §4.6).

const (
	// FrameBytes is 160 bytes of µ-law at 8kHz = 20ms of audio (§3).
	FrameBytes = 160

	// SilenceByte is the µ-law encoding of digital silence.
	SilenceByte = 0xFF

	mulawBias = 0x84
	mulawClip = 32635
)

// SilenceFrame returns a fresh 160-byte silence sentinel frame.
func SilenceFrame() []byte {
	f := make([]byte, FrameBytes)
	for i := range f {
		f[i] = SilenceByte
	}
	return f
}

// IsSilence reports whether frame is a pure 0xFF silence sentinel.
func IsSilence(frame []byte) bool {
	for _, b := range frame {
		if b != SilenceByte {
			return false
		}
	}
	return true
}

var mulawDecodeTable = buildMulawDecodeTable()

func buildMulawDecodeTable() [256]int16 {
	var table [256]int16
	for i := 0; i < 256; i++ {
		table[i] = mulawDecodeSample(byte(i))
	}
	return table
}

func mulawDecodeSample(mu byte) int16 {
	mu = ^mu
	sign := mu & 0x80
	exponent := (mu >> 4) & 0x07
	mantissa := mu & 0x0F

	sample := (int32(mantissa) << 3) + mulawBias
	sample <<= exponent
	sample -= mulawBias

	if sign != 0 {
		sample = -sample
	}
	if sample > 32767 {
		sample = 32767
	} else if sample < -32768 {
		sample = -32768
	}
	return int16(sample)
}

// mulawEncodeTable maps every 16-bit PCM value (indexed as uint16) to its
// µ-law byte, precomputed once from mulawEncodeSample (16-bit -> 8-bit
// table, §4.6).
var mulawEncodeTable = buildMulawEncodeTable()

func buildMulawEncodeTable() [1 << 16]byte {
	var table [1 << 16]byte
	for i := range table {
		table[i] = mulawEncodeSample(int16(uint16(i)))
	}
	return table
}

// mulawEncodeSample encodes one signed 16-bit sample to its µ-law byte.
func mulawEncodeSample(pcm int16) byte {
	sample := int32(pcm)
	sign := byte(0)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > mulawClip {
		sample = mulawClip
	}
	sample += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((sample >> (exponent + 3)) & 0x0F)
	mu := ^(sign | (exponent << 4) | mantissa)
	return mu
}

// DecodeMulawToPCM16 decodes a µ-law byte slice to signed 16-bit PCM.
func DecodeMulawToPCM16(mulaw []byte) []int16 {
	out := make([]int16, len(mulaw))
	for i, b := range mulaw {
		out[i] = mulawDecodeTable[b]
	}
	return out
}

// EncodePCM16ToMulaw encodes signed 16-bit PCM to µ-law bytes.
func EncodePCM16ToMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = mulawEncodeTable[uint16(s)]
	}
	return out
}

// PCM16ToFloat32 converts signed 16-bit samples to float32 in [-1, 1].
func PCM16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 converts float32 samples in [-1, 1] to signed 16-bit PCM,
// clamping out-of-range values.
func Float32ToPCM16(f []float32) []int16 {
	out := make([]int16, len(f))
	for i, v := range f {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = int16(v * 32767)
	}
	return out
}

// DecodeMulawToFloat32 decodes µ-law bytes straight to float32 PCM in
// [-1, 1], the representation IAP forwards to the Transcriber (§3).
func DecodeMulawToFloat32(mulaw []byte) []float32 {
	return PCM16ToFloat32(DecodeMulawToPCM16(mulaw))
}

// EncodeFloat32ToMulaw encodes float32 PCM in [-1, 1] to µ-law bytes, the
// representation OAP writes to the outbound ring (§3).
func EncodeFloat32ToMulaw(f []float32) []byte {
	return EncodePCM16ToMulaw(Float32ToPCM16(f))
}
