// Package config provides configuration management for the voice agent.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Client    ClientConfig    `mapstructure:"client"`
}

// ServerConfig configures the backend gateway.
type ServerConfig struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	FFmpegPath     string   `mapstructure:"ffmpeg_path"`
	PromptFile     string   `mapstructure:"prompt_file"`
	// Replies longer than this are synthesized in multiple chunks so no
	// single provider call carries unbounded text.
	MaxChunkChars int `mapstructure:"max_chunk_chars"`
}

// ProvidersConfig holds external service credentials and model ids.
// Fallback credentials are tried once when the primary fails.
type ProvidersConfig struct {
	OpenAIKey              string        `mapstructure:"openai_key"`
	OpenAIFallbackKey      string        `mapstructure:"openai_fallback_key"`
	ReplicateToken         string        `mapstructure:"replicate_token"`
	ReplicateFallbackToken string        `mapstructure:"replicate_fallback_token"`
	TranscriptionModel     string        `mapstructure:"transcription_model"`
	GenerationModel        string        `mapstructure:"generation_model"`
	SynthesisModel         string        `mapstructure:"synthesis_model"`
	VisemeModel            string        `mapstructure:"viseme_model"`
	CallTimeout            time.Duration `mapstructure:"call_timeout"`
}

// RateLimitConfig configures the in-memory request quotas.
type RateLimitConfig struct {
	Window         time.Duration `mapstructure:"window"`
	PerClientLimit int64         `mapstructure:"per_client_limit"`
	PerRouteLimit  int64         `mapstructure:"per_route_limit"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	BackendURL   string        `mapstructure:"backend_url"`
	Language     string        `mapstructure:"language"`
	MaxRecording time.Duration `mapstructure:"max_recording"`
	MinRecording time.Duration `mapstructure:"min_recording"`
	// Lookahead compensates for render/audio latency during animation.
	// Tuned empirically, not derived.
	Lookahead time.Duration `mapstructure:"lookahead"`
	Stream    bool          `mapstructure:"stream"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     ":3000",
			AllowedOrigins: []string{"*"},
			FFmpegPath:     "ffmpeg",
			PromptFile:     "",
			MaxChunkChars:  280,
		},
		Providers: ProvidersConfig{
			TranscriptionModel: "whisper-1",
			GenerationModel:    "gpt-4o-mini",
			SynthesisModel:     "gpt-4o-mini-tts",
			VisemeModel:        "emiliacb/rhubarb",
			CallTimeout:        60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Window:         time.Minute,
			PerClientLimit: 10,
			PerRouteLimit:  60,
		},
		Client: ClientConfig{
			BackendURL:   "http://localhost:3000",
			Language:     "en",
			MaxRecording: 10 * time.Second,
			MinRecording: 300 * time.Millisecond,
			Lookahead:    150 * time.Millisecond,
		},
	}
}

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the VOICE_AGENT prefix, e.g.
// VOICE_AGENT_PROVIDERS_OPENAI_KEY.
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("voice-agent")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("VOICE_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A named config file that is missing or malformed is an error;
			// absence of the default file is not.
			if configFile != "" {
				return nil, err
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// bindEnvKeys registers every config key so AutomaticEnv can populate
// fields that never appear in a config file.
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.listen_addr",
		"server.allowed_origins",
		"server.ffmpeg_path",
		"server.prompt_file",
		"server.max_chunk_chars",
		"providers.openai_key",
		"providers.openai_fallback_key",
		"providers.replicate_token",
		"providers.replicate_fallback_token",
		"providers.transcription_model",
		"providers.generation_model",
		"providers.synthesis_model",
		"providers.viseme_model",
		"providers.call_timeout",
		"rate_limit.window",
		"rate_limit.per_client_limit",
		"rate_limit.per_route_limit",
		"client.backend_url",
		"client.language",
		"client.max_recording",
		"client.min_recording",
		"client.lookahead",
		"client.stream",
	}
	for _, k := range keys {
		v.BindEnv(k)
	}
}
