package audio

// Resample performs linear-interpolation resampling of float32 PCM from
// fromRate to toRate. This is acceptable quality for telephony-band audio
// (§4.2: "telephony-band source, acceptable"; §4.6: "linear interpolation
// acceptable for voice") and is used for both IAP's 8->16kHz upsample and
// OAP's 24->8kHz downsample.
func Resample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(float64(len(samples)) / ratio)
	if outLen < 1 {
		return nil
	}

	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		idx := int(srcPos)
		frac := srcPos - float64(idx)

		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		a := samples[idx]
		b := samples[idx+1]
		out[i] = a + float32(frac)*(b-a)
	}
	return out
}
