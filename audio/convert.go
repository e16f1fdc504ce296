package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// ConvertToWav transcodes an arbitrary encoded clip (webm/ogg/mp3/...) to
// 16kHz mono pcm_s16le WAV by shelling out to ffmpeg. Temp files carry a
// unique id so concurrent requests never collide on a path.
func ConvertToWav(ctx context.Context, input []byte, ffmpegPath string) ([]byte, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}

	id := uuid.New().String()
	inputPath := filepath.Join(os.TempDir(), "voice-agent-in-"+id)
	outputPath := filepath.Join(os.TempDir(), "voice-agent-out-"+id+".wav")
	defer os.Remove(inputPath)
	defer os.Remove(outputPath)

	if err := os.WriteFile(inputPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp input: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpegPath,
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-ac", "1",
		"-f", "wav",
		outputPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w: %s", err, stderr.String())
	}

	wavBytes, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read converted WAV: %w", err)
	}

	return wavBytes, nil
}
