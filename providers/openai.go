package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIConfig holds OpenAI client configuration.
type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	GenerationModel    string
	SynthesisModel     string
	// Prompt returns the current persona system prompt. Kept as a func so
	// prompt hot-reload reaches in-flight adapters.
	Prompt  func() string
	Timeout time.Duration
}

// OpenAI implements transcription, generation, and synthesis against the
// OpenAI HTTP API.
type OpenAI struct {
	cfg        OpenAIConfig
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI adapter.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = "whisper-1"
	}
	if cfg.GenerationModel == "" {
		cfg.GenerationModel = "gpt-4o-mini"
	}
	if cfg.SynthesisModel == "" {
		cfg.SynthesisModel = "gpt-4o-mini-tts"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Prompt == nil {
		cfg.Prompt = func() string { return DefaultPersonaPrompt }
	}
	return &OpenAI{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe posts the clip to the audio transcriptions endpoint as a
// multipart form and returns the plain text result.
func (o *OpenAI) Transcribe(ctx context.Context, wavAudio []byte, lang string) (Transcript, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Transcript{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(wavAudio); err != nil {
		return Transcript{}, fmt.Errorf("failed to write audio to form: %w", err)
	}
	if err := mw.WriteField("model", o.cfg.TranscriptionModel); err != nil {
		return Transcript{}, fmt.Errorf("failed to write model field: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return Transcript{}, fmt.Errorf("failed to write format field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return Transcript{}, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	data, err := o.post(ctx, "/audio/transcriptions", mw.FormDataContentType(), &body)
	if err != nil {
		return Transcript{}, err
	}

	var tr transcriptionResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return Transcript{}, fmt.Errorf("failed to decode transcription response: %w", err)
	}

	return Transcript{Text: tr.Text, Language: tr.Language}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate asks the chat completions endpoint for a persona-constrained
// reply to the user's transcribed message.
func (o *OpenAI) Generate(ctx context.Context, userText, lang string) (string, error) {
	if userText == "" {
		return "", fmt.Errorf("no message provided")
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: o.cfg.GenerationModel,
		Messages: []chatMessage{
			{Role: "system", Content: o.cfg.Prompt()},
			{Role: "user", Content: userText},
		},
		MaxTokens:   100,
		Temperature: 0.8,
		TopP:        1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	data, err := o.post(ctx, "/chat/completions", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return "", fmt.Errorf("chat response contained no choices")
	}

	return cr.Choices[0].Message.Content, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
	Input          string `json:"input"`
	Instructions   string `json:"instructions,omitempty"`
}

// Synthesize converts text to a WAV clip via the speech endpoint.
func (o *OpenAI) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("no text provided")
	}

	reqBody, err := json.Marshal(speechRequest{
		Model:          o.cfg.SynthesisModel,
		Voice:          "verse",
		ResponseFormat: "wav",
		Input:          text,
		Instructions:   "Argentine accent. The 'll' should sound like 'sh', 'z' should sound like 'ss' and 'v' should sound like 'b'. Friendly and mystical.",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal speech request: %w", err)
	}

	buf, err := o.post(ctx, "/audio/speech", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, fmt.Errorf("generated audio buffer is empty")
	}

	return buf, nil
}

func (o *OpenAI) post(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to OpenAI failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OpenAI response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAI returned status %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}
