package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

const (
	// SampleRate is the rate used for capture, conversion, and synthesis
	// fix-ups across the pipeline. Whisper and Rhubarb both want 16kHz mono.
	SampleRate    = 16000
	channels      = 1
	bitsPerSample = 16 // int16 samples
)

type WavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

func newWavHeader(dataSize, sampleRate uint32) WavHeader {
	return WavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     dataSize + 36,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(channels) * uint32(bitsPerSample) / 8,
		BlockAlign:    channels * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}
}

// EncodePCM wraps raw mono int16 samples in a complete WAV container.
func EncodePCM(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, newWavHeader(uint32(len(samples)*2), uint32(sampleRate)))
	binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// HasWavHeader reports whether buf starts with a RIFF/WAVE container header.
func HasWavHeader(buf []byte) bool {
	return len(buf) >= 12 &&
		bytes.Equal(buf[0:4], []byte("RIFF")) &&
		bytes.Equal(buf[8:12], []byte("WAVE"))
}

// EnsureWav returns buf unchanged when it already carries a WAV header.
// Otherwise buf is treated as raw mono int16 PCM at sampleRate and a header
// is prepended. Some synthesis providers return bare encoded samples with
// no container at all.
func EnsureWav(buf []byte, sampleRate int) []byte {
	if HasWavHeader(buf) {
		return buf
	}
	var hdr bytes.Buffer
	binary.Write(&hdr, binary.LittleEndian, newWavHeader(uint32(len(buf)), uint32(sampleRate)))
	return append(hdr.Bytes(), buf...)
}

// Duration computes the playable length of a WAV clip in seconds by
// walking its sample data.
func Duration(wavBytes []byte) (float64, error) {
	reader := wav.NewReader(bytes.NewReader(wavBytes))

	format, err := reader.Format()
	if err != nil {
		return 0, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.SampleRate == 0 {
		return 0, fmt.Errorf("WAV header reports zero sample rate")
	}

	var total uint64
	for {
		samples, err := reader.ReadSamples(4096)
		total += uint64(len(samples))
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read WAV samples: %w", err)
		}
	}

	return float64(total) / float64(format.SampleRate), nil
}
