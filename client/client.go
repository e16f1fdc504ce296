package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/emiliacb/voice-agent/config"
)

// mouthGlyphs maps extractor shape ids to terminal mouths.
var mouthGlyphs = map[string]string{
	"A": "( — )",
	"B": "( o )",
	"C": "( O )",
	"D": "( D )",
	"E": "( e )",
	"F": "( v )",
	"G": "( F )",
	"H": "( L )",
	"X": "( _ )",
}

// Run starts the push-to-talk client: Enter toggles recording, the reply
// plays back with an animated mouth. It blocks until ctx is cancelled or
// stdin closes.
func Run(ctx context.Context, cfg config.ClientConfig, deviceID int) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := NewWorker(cfg.BackendURL, &http.Client{})
	go worker.Run(ctx)

	recorder := NewRecorder(deviceID, cfg.MinRecording, cfg.MaxRecording)

	events := make(chan Event, 32)
	stdin := readLines(ctx)

	fmt.Println("Press Enter to start recording, Enter again to send. Ctrl+C quits.")

	state := InitialState()
	for {
		select {
		case <-ctx.Done():
			if recorder.Recording() {
				recorder.Stop()
			}
			return ctx.Err()

		case _, ok := <-stdin:
			if !ok {
				return nil
			}
			toggleRecording(ctx, recorder, worker, cfg, events)

		case <-recorder.AutoStopped:
			finishRecording(ctx, recorder, worker, cfg, events)

		case u := <-worker.Updates():
			handleUpdate(ctx, cfg, u, events)

		case e := <-events:
			var fx []Effect
			state, fx = Update(state, e)
			render(fx)
		}
	}
}

func toggleRecording(ctx context.Context, recorder *Recorder, worker *Worker, cfg config.ClientConfig, events chan<- Event) {
	if !recorder.Recording() {
		if err := recorder.Start(); err != nil {
			slog.Error("Failed to start recording", "error", err)
			emitEvent(ctx, events, Event{Kind: EvFailed, Err: err})
			return
		}
		emitEvent(ctx, events, Event{Kind: EvRecordStarted})
		return
	}
	finishRecording(ctx, recorder, worker, cfg, events)
}

// recordingSource yields the finished clip. Satisfied by *Recorder.
type recordingSource interface {
	Stop() ([]byte, error)
}

func finishRecording(ctx context.Context, recorder recordingSource, worker *Worker, cfg config.ClientConfig, events chan<- Event) {
	clip, err := recorder.Stop()
	emitEvent(ctx, events, Event{Kind: EvRecordStopped})
	if err != nil {
		if errors.Is(err, ErrRecordingTooShort) {
			emitEvent(ctx, events, Event{Kind: EvRecordTooShort})
			return
		}
		emitEvent(ctx, events, Event{Kind: EvFailed, Err: err})
		return
	}

	if !worker.Submit(Job{Audio: clip, Language: cfg.Language, Stream: cfg.Stream}) {
		slog.Warn("Previous message still in flight, recording dropped")
		return
	}
	emitEvent(ctx, events, Event{Kind: EvSendStarted})
}

func handleUpdate(ctx context.Context, cfg config.ClientConfig, u Update, events chan<- Event) {
	switch {
	case u.Err != nil:
		if errors.Is(u.Err, ErrRateLimited) {
			emitEvent(ctx, events, Event{Kind: EvRateLimited})
			return
		}
		emitEvent(ctx, events, Event{Kind: EvFailed, Err: u.Err})

	case u.Turn != nil:
		emitEvent(ctx, events, Event{Kind: EvTurnReady, Text: u.Turn.Text})
		go playTurn(ctx, cfg, u.Turn, events)

	case u.Text != "":
		emitEvent(ctx, events, Event{Kind: EvTextReceived, Text: u.Text})
	}
}

// playTurn plays the reply and drives the mouth animation off the playback
// clock. It runs on its own goroutine per turn; the worker guarantees at
// most one turn is active.
func playTurn(ctx context.Context, cfg config.ClientConfig, turn *ResponseTurn, events chan<- Event) {
	player, err := NewPlayer(turn.Audio)
	if err != nil {
		emitEvent(ctx, events, Event{Kind: EvFailed, Err: err})
		return
	}
	if err := player.Start(); err != nil {
		emitEvent(ctx, events, Event{Kind: EvFailed, Err: err})
		return
	}
	defer player.Stop()

	emitEvent(ctx, events, Event{Kind: EvPlaybackStarted})

	animCtx, cancelAnim := context.WithCancel(ctx)
	defer cancelAnim()

	animator := NewAnimator(turn.MouthCues, player, cfg.Lookahead, func(shape string) {
		emitEvent(ctx, events, Event{Kind: EvShapeChanged, Shape: shape})
	})
	animDone := make(chan struct{})
	go func() {
		defer close(animDone)
		animator.Run(animCtx)
	}()

	select {
	case <-ctx.Done():
	case <-player.Done():
	}
	cancelAnim()
	<-animDone

	emitEvent(ctx, events, Event{Kind: EvPlaybackEnded})
}

func emitEvent(ctx context.Context, events chan<- Event, e Event) {
	select {
	case events <- e:
	case <-ctx.Done():
	}
}

// readLines feeds stdin lines into a channel so the run loop can select
// over them. The channel closes on EOF.
func readLines(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func render(fx []Effect) {
	for _, f := range fx {
		switch f.Kind {
		case FxSetMouth:
			glyph, ok := mouthGlyphs[f.Value]
			if !ok {
				glyph = mouthGlyphs["X"]
			}
			fmt.Printf("\r%s  ", glyph)
		case FxShowStatus:
			fmt.Printf("\r[%s]          \n", f.Value)
		case FxShowText:
			fmt.Printf("\r> %s\n", f.Value)
		case FxShowError:
			fmt.Printf("\r! %s\n", f.Value)
		}
	}
}

// PlayFile plays a local WAV file, useful for checking the audio path
// without a backend.
func PlayFile(path string) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}

	player, err := NewPlayer(data)
	if err != nil {
		return err
	}
	if err := player.Start(); err != nil {
		return err
	}
	defer player.Stop()

	fmt.Printf("Playing %s (%.1fs)\n", path, player.Duration())
	select {
	case <-player.Done():
	case <-time.After(time.Duration(player.Duration()*float64(time.Second)) + 2*time.Second):
	}
	return nil
}
