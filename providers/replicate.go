package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emiliacb/voice-agent/viseme"
)

const defaultReplicateBaseURL = "https://api.replicate.com/v1"

// ReplicateConfig holds Replicate client configuration. Model ids are
// either "owner/name" or version-pinned "owner/name:version".
type ReplicateConfig struct {
	Token              string
	BaseURL            string
	TranscriptionModel string
	SynthesisModel     string
	VisemeModel        string
	Timeout            time.Duration
	PollInterval       time.Duration
}

// Replicate implements transcription, synthesis, and viseme extraction by
// running hosted models through the predictions API.
type Replicate struct {
	cfg        ReplicateConfig
	httpClient *http.Client
}

// NewReplicate creates a Replicate adapter.
func NewReplicate(cfg ReplicateConfig) (*Replicate, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("replicate API token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultReplicateBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	return &Replicate{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// run creates a prediction and polls it until it reaches a terminal state.
func (r *Replicate) run(ctx context.Context, model string, input map[string]any) (json.RawMessage, error) {
	endpoint := r.cfg.BaseURL + "/predictions"
	payload := map[string]any{"input": input}

	if idx := strings.IndexByte(model, ':'); idx >= 0 {
		payload["version"] = model[idx+1:]
	} else {
		endpoint = fmt.Sprintf("%s/models/%s/predictions", r.cfg.BaseURL, model)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	var pred prediction
	if err := r.do(ctx, http.MethodPost, endpoint, bytes.NewReader(body), &pred); err != nil {
		return nil, err
	}

	for {
		switch pred.Status {
		case "succeeded":
			return pred.Output, nil
		case "failed", "canceled":
			return nil, fmt.Errorf("prediction %s %s: %s", pred.ID, pred.Status, pred.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}

		pollURL := fmt.Sprintf("%s/predictions/%s", r.cfg.BaseURL, pred.ID)
		if err := r.do(ctx, http.MethodGet, pollURL, nil, &pred); err != nil {
			return nil, err
		}
	}
}

func (r *Replicate) do(ctx context.Context, method, url string, body io.Reader, out *prediction) error {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to Replicate failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read Replicate response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("replicate returned status %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode prediction: %w", err)
	}
	return nil
}

type replicateTranscription struct {
	Text             string `json:"text"`
	DetectedLanguage string `json:"detected_language"`
}

// Transcribe runs the hosted whisper model on a base64 data URI of the clip.
func (r *Replicate) Transcribe(ctx context.Context, wavAudio []byte, lang string) (Transcript, error) {
	input := map[string]any{
		"audio":         "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(wavAudio),
		"transcription": "plain text",
		"batch_size":    64,
		"language":      "None",
	}

	output, err := r.run(ctx, r.cfg.TranscriptionModel, input)
	if err != nil {
		return Transcript{}, fmt.Errorf("whisper transcription failed: %w", err)
	}

	var tr replicateTranscription
	if err := json.Unmarshal(output, &tr); err != nil {
		return Transcript{}, fmt.Errorf("failed to decode transcription output: %w", err)
	}

	return Transcript{Text: tr.Text, Language: tr.DetectedLanguage}, nil
}

// Synthesize runs the hosted TTS model and downloads the clip it points at.
func (r *Replicate) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("no text provided")
	}

	languageBoost := "Automatic"
	if lang == "en" {
		languageBoost = "English"
	}

	output, err := r.run(ctx, r.cfg.SynthesisModel, map[string]any{
		"text":           text,
		"voice_id":       "Deep_Voice_Man",
		"language_boost": languageBoost,
	})
	if err != nil {
		return nil, fmt.Errorf("TTS generation failed: %w", err)
	}

	audioURL, err := outputURL(output)
	if err != nil {
		return nil, err
	}

	buf, err := r.download(ctx, audioURL)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("generated audio buffer is empty")
	}

	return buf, nil
}

// outputURL extracts the audio location from a prediction output that may
// be a bare URL string or an array of URLs depending on the model.
func outputURL(output json.RawMessage) (string, error) {
	var single string
	if err := json.Unmarshal(output, &single); err == nil && single != "" {
		return single, nil
	}
	var many []string
	if err := json.Unmarshal(output, &many); err == nil && len(many) > 0 {
		return many[0], nil
	}
	return "", fmt.Errorf("no audio URL in prediction output")
}

func (r *Replicate) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("audio download returned status %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

type rhubarbResult struct {
	MouthCues []viseme.Cue `json:"mouthCues"`
}

// Extract runs the Rhubarb lip-sync model and parses its cue list.
func (r *Replicate) Extract(ctx context.Context, wavAudio []byte) ([]viseme.Cue, error) {
	output, err := r.run(ctx, r.cfg.VisemeModel, map[string]any{
		"audio_data": base64.StdEncoding.EncodeToString(wavAudio),
	})
	if err != nil {
		return nil, fmt.Errorf("rhubarb processing failed: %w", err)
	}

	// The model emits its result document as a JSON string; older versions
	// returned the object directly.
	raw := output
	var doc string
	if err := json.Unmarshal(output, &doc); err == nil {
		raw = json.RawMessage(doc)
	}

	var result rhubarbResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode rhubarb output: %w", err)
	}
	if err := viseme.Validate(result.MouthCues); err != nil {
		return nil, fmt.Errorf("malformed rhubarb output: %w", err)
	}

	return result.MouthCues, nil
}

// WarmUp pokes the viseme model so its container is running before the
// first real request arrives.
func (r *Replicate) WarmUp(ctx context.Context) error {
	_, err := r.run(ctx, r.cfg.VisemeModel, map[string]any{
		"audio_data": "",
		"wake_up":    true,
	})
	if err != nil {
		return fmt.Errorf("failed to wake up viseme model: %w", err)
	}
	return nil
}
