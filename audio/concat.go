package audio

import (
	"bytes"
	"fmt"
	"io"

	wav "github.com/youpy/go-wav"
)

// ConcatWav joins several WAV clips into one clip by decoding each one to
// raw samples and re-encoding the combined stream. All clips are expected
// to share the first clip's sample rate; mismatches are rejected rather
// than silently resampled.
func ConcatWav(clips [][]byte) ([]byte, error) {
	if len(clips) == 0 {
		return nil, fmt.Errorf("no clips to concatenate")
	}
	if len(clips) == 1 {
		return clips[0], nil
	}

	var combined []int16
	var rate uint32

	for i, clip := range clips {
		reader := wav.NewReader(bytes.NewReader(clip))

		format, err := reader.Format()
		if err != nil {
			return nil, fmt.Errorf("clip %d: failed to read WAV format: %w", i, err)
		}
		if rate == 0 {
			rate = format.SampleRate
		} else if format.SampleRate != rate {
			return nil, fmt.Errorf("clip %d: sample rate %d does not match %d", i, format.SampleRate, rate)
		}

		for {
			samples, err := reader.ReadSamples(4096)
			for _, s := range samples {
				combined = append(combined, int16(s.Values[0]))
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("clip %d: failed to read samples: %w", i, err)
			}
		}
	}

	return EncodePCM(combined, int(rate)), nil
}
