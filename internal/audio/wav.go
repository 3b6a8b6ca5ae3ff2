package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// WAVHeader is the canonical 44-byte header written for archived audio
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// WAVInfo describes a WAV container
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

func newWAVHeader(dataSize uint32, sampleRate int) WAVHeader {
	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	return WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   numChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * numChannels * bitsPerSample / 8,
		BlockAlign:    numChannels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodeWAV wraps 16-bit mono samples in a WAV container
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	return EncodeWAVFromPCM(Int16ToBytes(samples), sampleRate)
}

// EncodeWAVFromPCM wraps little-endian 16-bit mono PCM bytes in a WAV container
func EncodeWAVFromPCM(pcm []byte, sampleRate int) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio data")
	}
	if len(pcm)%BytesPerSample != 0 {
		return nil, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, newWAVHeader(uint32(len(pcm)), sampleRate)); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// wavLayout is what parseWAV extracts from a RIFF file. Recorders in the
// wild insert LIST/fact chunks between fmt and data, so chunks are walked
// rather than read at fixed offsets.
type wavLayout struct {
	audioFormat   uint16
	channels      uint16
	sampleRate    uint32
	bitsPerSample uint16
	data          []byte
}

func parseWAV(data []byte) (*wavLayout, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	var layout wavLayout
	haveFmt := false
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, fmt.Errorf("invalid WAV file: truncated fmt chunk")
			}
			layout.audioFormat = binary.LittleEndian.Uint16(data[body:])
			layout.channels = binary.LittleEndian.Uint16(data[body+2:])
			layout.sampleRate = binary.LittleEndian.Uint32(data[body+4:])
			layout.bitsPerSample = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("invalid WAV file: data chunk before fmt chunk")
			}
			end := body + size
			if end > len(data) {
				end = len(data)
			}
			layout.data = data[body:end]
			return &layout, nil
		}

		// chunks are word aligned
		pos = body + size + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	return nil, fmt.Errorf("invalid WAV file: missing data chunk")
}

// DecodeWAV returns the samples and sample rate of a 16-bit mono PCM WAV file
func DecodeWAV(data []byte) ([]int16, int, error) {
	layout, err := parseWAV(data)
	if err != nil {
		return nil, 0, err
	}

	if layout.audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", layout.audioFormat)
	}
	if layout.bitsPerSample != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", layout.bitsPerSample)
	}
	if layout.channels != 1 {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", layout.channels)
	}

	pcm := layout.data[:len(layout.data)-len(layout.data)%BytesPerSample]
	if len(pcm) == 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}

	samples, err := BytesToInt16(pcm)
	if err != nil {
		return nil, 0, err
	}
	return samples, int(layout.sampleRate), nil
}

// ValidateWAV checks the container structure without decoding samples
func ValidateWAV(data []byte) error {
	_, err := parseWAV(data)
	return err
}

// GetWAVDuration returns the playback duration of a WAV file
func GetWAVDuration(data []byte) (time.Duration, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return time.Duration(info.Duration * float64(time.Second)), nil
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	layout, err := parseWAV(data)
	if err != nil {
		return nil, err
	}
	if layout.sampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if layout.bitsPerSample == 0 || layout.channels == 0 {
		return nil, fmt.Errorf("invalid WAV file: zero channels or bit depth")
	}

	frameBytes := uint32(layout.bitsPerSample/8) * uint32(layout.channels)
	numSamples := uint32(len(layout.data)) / frameBytes

	return &WAVInfo{
		SampleRate:    layout.sampleRate,
		Channels:      layout.channels,
		BitsPerSample: layout.bitsPerSample,
		Duration:      float64(numSamples) / float64(layout.sampleRate),
		DataSize:      uint32(len(layout.data)),
		NumSamples:    numSamples,
	}, nil
}
