package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/emiliacb/voice-agent/audio"
	"github.com/emiliacb/voice-agent/message"
	"github.com/emiliacb/voice-agent/viseme"
)

// ErrRateLimited is returned when the backend rejects a request with 429.
// Callers show a softer message for this than for real failures.
var ErrRateLimited = errors.New("rate limited by backend")

// Job is one recorded utterance to send to the backend.
type Job struct {
	Audio    []byte
	Language string
	Stream   bool
}

// Update is one progress report from the worker. Exactly one of Text,
// Turn or Err is meaningful: Text carries an incremental reply fragment,
// Turn the finished response, Err a terminal failure.
type Update struct {
	Text string
	Turn *ResponseTurn
	Err  error
}

// ResponseTurn is the decoded final response: raw WAV bytes ready for
// playback plus the authoritative cue list.
type ResponseTurn struct {
	Audio     []byte
	MouthCues []viseme.Cue
	Text      string
}

// Worker serializes backend requests on a single goroutine so at most one
// message is in flight. Jobs submitted while busy are dropped.
type Worker struct {
	backendURL string
	httpClient *http.Client
	jobs       chan Job
	updates    chan Update
}

// NewWorker builds a worker targeting the given backend base URL.
func NewWorker(backendURL string, httpClient *http.Client) *Worker {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Worker{
		backendURL: strings.TrimRight(backendURL, "/"),
		httpClient: httpClient,
		jobs:       make(chan Job, 1),
		updates:    make(chan Update, 16),
	}
}

// Updates returns the channel progress reports arrive on.
func (w *Worker) Updates() <-chan Update {
	return w.updates
}

// Submit queues a job. It reports false when the worker is still busy
// with the previous one.
func (w *Worker) Submit(job Job) bool {
	select {
	case w.jobs <- job:
		return true
	default:
		return false
	}
}

// Run consumes jobs until ctx is cancelled. Failures are reported as
// updates, never retried: the user just records again.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-w.jobs:
			turn, err := w.send(ctx, job)
			if err != nil {
				slog.Debug("Message request failed", "error", err)
				w.emit(ctx, Update{Err: err})
				continue
			}
			w.emit(ctx, Update{Turn: turn})
		}
	}
}

func (w *Worker) emit(ctx context.Context, u Update) {
	select {
	case w.updates <- u:
	case <-ctx.Done():
	}
}

func (w *Worker) send(ctx context.Context, job Job) (*ResponseTurn, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "recording.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if _, err := part.Write(job.Audio); err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}
	if job.Language != "" {
		mw.WriteField("lang", job.Language)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to build request body: %w", err)
	}

	url := w.backendURL + "/message"
	if job.Stream {
		url += "?stream=1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if job.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp)
	}

	return w.decode(ctx, resp)
}

// decode folds the response into a ResponseTurn. Both response forms are
// normalized into the same event stream first: a plain JSON body becomes a
// text event, an audio event and a complete event, so the consumer only
// ever deals with one shape.
func (w *Worker) decode(ctx context.Context, resp *http.Response) (*ResponseTurn, error) {
	var events <-chan message.StreamEvent
	var decodeErr error

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		events, decodeErr = decodeSSE(resp.Body), nil
	} else {
		events, decodeErr = decodeSingle(resp.Body)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	// The SSE decoder goroutine only exits once its channel is drained, so
	// failures are noted and the loop keeps consuming.
	var (
		text     strings.Builder
		clips    [][]byte
		finalCue []viseme.Cue
		done     bool
		failed   error
	)
	for ev := range events {
		if failed != nil {
			continue
		}
		switch ev.Type {
		case message.EventText:
			text.WriteString(ev.Text)
			w.emit(ctx, Update{Text: ev.Text})
		case message.EventAudio:
			clip, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err != nil {
				failed = fmt.Errorf("backend sent undecodable audio: %w", err)
				continue
			}
			clips = append(clips, clip)
		case message.EventComplete:
			finalCue = ev.MouthCues
			done = true
		case message.EventError:
			failed = fmt.Errorf("backend reported failure: %s", ev.Message)
		}
	}
	if failed != nil {
		return nil, failed
	}
	if !done {
		return nil, errors.New("response ended before completion")
	}

	wav, err := audio.ConcatWav(clips)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble response audio: %w", err)
	}
	return &ResponseTurn{Audio: wav, MouthCues: finalCue, Text: text.String()}, nil
}

// decodeSingle turns a plain JSON Turn into the equivalent event sequence.
func decodeSingle(r io.Reader) (<-chan message.StreamEvent, error) {
	var turn message.Turn
	if err := json.NewDecoder(r).Decode(&turn); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	out := make(chan message.StreamEvent, 3)
	if turn.Text != "" {
		out <- message.StreamEvent{Type: message.EventText, Text: turn.Text}
	}
	out <- message.StreamEvent{Type: message.EventAudio, Audio: turn.Audio, MouthCues: turn.MouthCues}
	out <- message.StreamEvent{Type: message.EventComplete, MouthCues: turn.MouthCues}
	close(out)
	return out, nil
}

// decodeSSE parses "data:" lines off a text/event-stream body. The channel
// closes when the stream ends.
func decodeSSE(r io.Reader) <-chan message.StreamEvent {
	out := make(chan message.StreamEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev message.StreamEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
				slog.Warn("Skipping malformed stream event", "error", err)
				continue
			}
			out <- ev
		}
	}()
	return out
}

func decodeError(resp *http.Response) error {
	var er message.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		if er.Details != "" {
			return fmt.Errorf("backend error: %s: %s", er.Error, er.Details)
		}
		return fmt.Errorf("backend error: %s", er.Error)
	}
	return fmt.Errorf("backend returned status %d", resp.StatusCode)
}
