package audio

import (
	"encoding/binary"
	"math"

	"github.com/skypro1111/stream-transcriber/internal/errs"
)

const (
	// FullScale maps a float sample of 1.0 onto the 16-bit range
	FullScale = 32767

	// BytesPerSample for 16-bit mono PCM
	BytesPerSample = 2
)

// SampleToInt16 converts one float sample with the fixed full-scale mapping.
// The product is truncated toward zero and clamped to the int16 range, so
// 0.5 becomes 16383 and -1.0 becomes -32767. No per-chunk normalization.
func SampleToInt16(s float32) int16 {
	v := float64(s) * FullScale
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// Int16ToSample is the inverse of SampleToInt16 up to quantization
func Int16ToSample(v int16) float32 {
	s := float32(v) / FullScale
	if s < -1 {
		return -1
	}
	return s
}

// EncodePCM converts a frame of float samples into signed 16-bit
// little-endian PCM. The output holds exactly 2*len(frame) bytes.
func EncodePCM(frame []float32) ([]byte, error) {
	out := make([]byte, len(frame)*BytesPerSample)
	for i, s := range frame {
		if math.IsNaN(float64(s)) {
			return nil, errs.Encoding("audio.EncodePCM", "sample %d is NaN", i)
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(SampleToInt16(s)))
	}
	return out, nil
}

// Int16ToBytes serializes samples as little-endian PCM
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// BytesToInt16 parses little-endian PCM. An odd byte count is an encoding error.
func BytesToInt16(data []byte) ([]int16, error) {
	if len(data)%BytesPerSample != 0 {
		return nil, errs.Encoding("audio.BytesToInt16", "audio data length must be even (got %d bytes)", len(data))
	}
	samples := make([]int16, len(data)/BytesPerSample)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return samples, nil
}

// Int16ToFloat converts PCM samples back into float samples
func Int16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = Int16ToSample(s)
	}
	return out
}
