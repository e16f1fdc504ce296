package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonklaus/portaudio"

	"github.com/emiliacb/voice-agent/client"
	"github.com/emiliacb/voice-agent/config"
	"github.com/emiliacb/voice-agent/gateway"
	"github.com/emiliacb/voice-agent/providers"
)

func main() {
	serveMode := flag.Bool("serve", false, "Run the backend gateway")
	configFile := flag.String("config", "", "Path to config file (YAML)")
	backendURL := flag.String("backend", "", "Backend URL for client mode (overrides config)")
	playFile := flag.String("play", "", "Play a local WAV file and exit")
	listDevices := flag.Bool("list-devices", false, "List available audio input devices")
	deviceID := flag.Int("device", 0, "Audio input device ID to use")
	stream := flag.Bool("stream", false, "Request incremental streaming responses")
	verbose := flag.Bool("verbose", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *playFile != "" {
		if err := client.PlayFile(*playFile); err != nil {
			slog.Error("Failed to play audio file", "error", err)
			os.Exit(1)
		}
		return
	}

	if *listDevices {
		if err := printInputDevices(); err != nil {
			slog.Error("Failed to list audio devices", "error", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Debug("Received shutdown signal")
		cancel()
	}()

	if *serveMode {
		if err := runServer(ctx, cfg); err != nil {
			slog.Error("Gateway failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if *backendURL != "" {
		cfg.Client.BackendURL = *backendURL
	}
	if *stream {
		cfg.Client.Stream = true
	}
	if err := client.Run(ctx, cfg.Client, *deviceID); err != nil && err != context.Canceled {
		slog.Error("Client failed", "error", err)
		os.Exit(1)
	}

	slog.Debug("Program exiting")
}

// runServer assembles the provider chains and serves the gateway until
// shutdown. Each capability gets a primary provider and, when a fallback
// credential is configured, a second one tried only after the primary fails.
func runServer(ctx context.Context, cfg *config.Config) error {
	promptStore := providers.NewPromptStore(cfg.Server.PromptFile)
	if cfg.Server.PromptFile != "" {
		go func() {
			if err := promptStore.Watch(ctx); err != nil {
				slog.Error("Prompt watcher stopped", "error", err)
			}
		}()
	}

	var transcribers []providers.Transcriber
	var generators []providers.Generator
	var synthesizers []providers.Synthesizer
	var extractors []providers.VisemeExtractor

	for _, key := range credentialChain(cfg.Providers.OpenAIKey, cfg.Providers.OpenAIFallbackKey) {
		oa, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:             key,
			TranscriptionModel: cfg.Providers.TranscriptionModel,
			GenerationModel:    cfg.Providers.GenerationModel,
			SynthesisModel:     cfg.Providers.SynthesisModel,
			Prompt:             promptStore.Current,
			Timeout:            cfg.Providers.CallTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to build OpenAI provider: %w", err)
		}
		transcribers = append(transcribers, oa)
		generators = append(generators, oa)
		synthesizers = append(synthesizers, oa)
	}

	var warmer providers.VisemeExtractor
	for _, token := range credentialChain(cfg.Providers.ReplicateToken, cfg.Providers.ReplicateFallbackToken) {
		rep, err := providers.NewReplicate(providers.ReplicateConfig{
			Token:              token,
			TranscriptionModel: cfg.Providers.TranscriptionModel,
			SynthesisModel:     cfg.Providers.SynthesisModel,
			VisemeModel:        cfg.Providers.VisemeModel,
			Timeout:            cfg.Providers.CallTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to build Replicate provider: %w", err)
		}
		extractors = append(extractors, rep)
		if warmer == nil {
			warmer = rep
		}
	}

	if len(transcribers) == 0 {
		return fmt.Errorf("no OpenAI credentials configured, set VOICE_AGENT_PROVIDERS_OPENAI_KEY")
	}
	if len(extractors) == 0 {
		slog.Warn("No Replicate credentials configured, mouth cues will be empty")
	}

	pipeline := &gateway.Pipeline{
		Transcribers:  transcribers,
		Generators:    generators,
		Synthesizers:  synthesizers,
		Extractors:    extractors,
		MaxChunkChars: cfg.Server.MaxChunkChars,
		StageTimeout:  cfg.Providers.CallTimeout,
		FFmpegPath:    cfg.Server.FFmpegPath,
	}

	srv := gateway.New(cfg.Server, cfg.RateLimit, pipeline, warmer)
	return srv.Start(ctx)
}

// credentialChain returns the non-empty credentials in fallback order.
func credentialChain(primary, fallback string) []string {
	var out []string
	if primary != "" {
		out = append(out, primary)
	}
	if fallback != "" {
		out = append(out, fallback)
	}
	return out
}

func printInputDevices() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := client.ListInputDevices()
	if err != nil {
		return err
	}

	fmt.Println("Available audio input devices:")
	for i, device := range devices {
		fmt.Printf("[%d] %s\n", i, device.Name)
		fmt.Printf("    Max Input Channels: %d\n", device.MaxInputChannels)
		fmt.Printf("    Default Sample Rate: %f\n", device.DefaultSampleRate)
		fmt.Println()
	}
	return nil
}
