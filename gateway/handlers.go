package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emiliacb/voice-agent/message"
)

// maxUploadBytes bounds the recorded clip. Ten seconds of compressed
// audio is far below this; the cap only guards against abuse.
const maxUploadBytes = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, message.ErrorResponse{Error: msg, Details: details})
}

// handleMessage runs the full voice turn: quota checks first (no provider
// work on rejection), then the transcribe → generate → synthesize →
// visemes chain.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	if !s.clientLimiter.Allow(ip) {
		quotaRejections.WithLabelValues("client").Inc()
		writeError(w, http.StatusTooManyRequests, "Too many requests", "per-client quota exceeded")
		return
	}
	if !s.routeLimiter.Allow(messageRoute) {
		quotaRejections.WithLabelValues("route").Inc()
		writeError(w, http.StatusTooManyRequests, "Too many requests", "route quota exceeded")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}
	defer file.Close()

	rawAudio, err := io.ReadAll(file)
	if err != nil || len(rawAudio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}

	lang := r.FormValue("lang")

	// Once a chain starts it runs to completion even if the caller goes
	// away; provider calls carry their own timeouts.
	ctx := context.WithoutCancel(r.Context())

	if wantsStream(r) {
		s.streamMessage(ctx, w, rawAudio, lang)
		return
	}

	turn, err := s.pipeline.Run(ctx, rawAudio, lang)
	if err != nil {
		slog.Error("Pipeline failed", "error", err, "remoteAddr", ip)
		writeError(w, http.StatusInternalServerError, "Failed to process audio", err.Error())
		return
	}

	s.observers.Broadcast(observedTurn{Reply: turn.Text, Language: lang})
	writeJSON(w, http.StatusOK, turn)
}

func wantsStream(r *http.Request) bool {
	if r.URL.Query().Get("stream") == "1" {
		return true
	}
	// Accept may carry a list, e.g. "text/event-stream, application/json".
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamMessage delivers the turn incrementally as server-sent events.
// The terminal complete event carries the authoritative cue list.
func (s *Server) streamMessage(ctx context.Context, w http.ResponseWriter, rawAudio []byte, lang string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", "")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	emit := func(ev message.StreamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("Failed to marshal stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	turn, err := s.pipeline.RunStream(ctx, rawAudio, lang, emit)
	if err != nil {
		slog.Error("Pipeline failed mid-stream", "error", err)
		emit(message.StreamEvent{Type: message.EventError, Message: err.Error()})
		return
	}

	s.observers.Broadcast(observedTurn{Reply: turn.Text, Language: lang})
}

// handleHealth pre-warms the viseme extractor so the first real request
// does not pay its cold-start latency. At most one warm-up runs at a time.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.warmer != nil && s.warmingUp.CompareAndSwap(false, true) {
		go func() {
			defer s.warmingUp.Store(false)

			timeout := s.pipeline.StageTimeout
			if timeout <= 0 {
				timeout = 60 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			if err := s.warmer.WarmUp(ctx); err != nil {
				slog.Warn("Viseme extractor warm-up failed", "error", err)
				return
			}
			slog.Info("Viseme extractor warmed up")
		}()
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("OK"))
}
