// Package audio provides the PCM sample plumbing shared by the capture and
// playback pipelines: the [Chunk] transport unit, float32 ↔ int16 conversion
// with symmetric clamping, and integer decimation.
//
// Everything in this package is pure sample math with no device or transport
// dependencies, so both pipeline directions and their tests can share it.
package audio

import "errors"

// ErrTruncatedPCM is returned by [PCM16ToFloat32] when the byte slice does not
// contain a whole number of int16 samples.
var ErrTruncatedPCM = errors.New("audio: pcm data is not a whole number of int16 samples")

// Chunk is a discrete unit of mono PCM16 audio transmitted in one direction of
// a call. A Chunk is immutable once produced: neither the pipelines nor the
// transport may modify Data after construction.
type Chunk struct {
	// Data is raw little-endian int16 PCM.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the transport rate).
	SampleRate int

	// Channels is the channel count. The call pipeline is mono throughout,
	// so this is 1 everywhere; the field exists so a chunk is
	// self-describing on the wire.
	Channels int
}

// Samples returns the number of whole int16 samples in the chunk.
func (c Chunk) Samples() int { return len(c.Data) / 2 }

// Empty reports whether the chunk carries no samples. Empty chunks are valid:
// the playback scheduler plays them for zero duration and advances.
func (c Chunk) Empty() bool { return len(c.Data) == 0 }
