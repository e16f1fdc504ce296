package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOpenAI(OpenAIConfig{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)
	return o
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}

func TestOpenAITranscribe(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		_, _, err := r.FormFile("file")
		assert.NoError(t, err)

		json.NewEncoder(w).Encode(map[string]string{"text": "hello there", "language": "english"})
	})

	tr, err := o.Transcribe(context.Background(), []byte("RIFF....WAVE"), "")
	require.NoError(t, err)
	assert.Equal(t, "hello there", tr.Text)
	assert.Equal(t, "english", tr.Language)
}

func TestOpenAIGenerateUsesPersonaPrompt(t *testing.T) {
	var gotSystem string
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		gotSystem = req.Messages[0].Content
		assert.Equal(t, "user", req.Messages[1].Role)

		json.NewEncoder(w).Encode(chatResponse{Choices: []struct {
			Message chatMessage `json:"message"`
		}{{Message: chatMessage{Role: "assistant", Content: "As you wish."}}}})
	})

	reply, err := o.Generate(context.Background(), "what is the weather", "en")
	require.NoError(t, err)
	assert.Equal(t, "As you wish.", reply)
	assert.Contains(t, gotSystem, "Electronic Ether")
}

func TestOpenAIGenerateEmptyInput(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for empty input")
	})

	_, err := o.Generate(context.Background(), "", "en")
	assert.Error(t, err)
}

func TestOpenAISynthesize(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/speech", r.URL.Path)

		var req speechRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "wav", req.ResponseFormat)

		w.Write([]byte("fake-wav-bytes"))
	})

	buf, err := o.Synthesize(context.Background(), "hello", "en")
	require.NoError(t, err)
	assert.Equal(t, []byte("fake-wav-bytes"), buf)
}

func TestOpenAISurfacesAPIError(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := o.Generate(context.Background(), "hi", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
