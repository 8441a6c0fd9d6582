package audio

// Float32ToPCM16 converts normalized float samples in [-1, 1] to little-endian
// int16 PCM bytes. Out-of-range input is clamped. The scaling is symmetric
// about zero: positive samples scale by 32767 and negative samples by 32768,
// covering the full two's-complement int16 range without overflow.
func Float32ToPCM16(src []float32) []byte {
	out := make([]byte, len(src)*2)
	for i, v := range src {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		var s int16
		if v < 0 {
			s = int16(v * 32768)
		} else {
			s = int16(v * 32767)
		}
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// PCM16ToFloat32 converts little-endian int16 PCM bytes to normalized float
// samples. It mirrors [Float32ToPCM16]: negative samples divide by 32768 and
// non-negative samples by 32767, so -32768 maps to exactly -1 and 32767 to
// exactly 1. Returns [ErrTruncatedPCM] when len(pcm) is odd.
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrTruncatedPCM
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		if s < 0 {
			out[i] = float32(s) / 32768
		} else {
			out[i] = float32(s) / 32767
		}
	}
	return out, nil
}

// Decimate downsamples src by keeping every nth sample, starting at index 0.
// The result has exactly len(src)/n samples (integer division) and result[i]
// equals src[i*n]. No band-limiting filter is applied; callers accept the
// aliasing this introduces in exchange for determinism and zero latency.
// n must be >= 1; Decimate returns src unchanged when n == 1.
func Decimate(src []float32, n int) []float32 {
	if n == 1 {
		return src
	}
	out := make([]float32, len(src)/n)
	for i := range out {
		out[i] = src[i*n]
	}
	return out
}
