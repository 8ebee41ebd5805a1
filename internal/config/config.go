package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the TTS gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Synthesis backend. TTSBackendAddr may be host:port or a full URL.
	TTSBackendAddr        string `envconfig:"TTS_BACKEND_ADDR" default:"127.0.0.1:9880"`
	TTSBackendPath        string `envconfig:"TTS_BACKEND_PATH" default:"/tts"`
	TTSTimeout            int    `envconfig:"TTS_TIMEOUT" default:"60"`                  // seconds, per backend call
	TTSMaxInMemorySize    int64  `envconfig:"TTS_MAX_IN_MEMORY_SIZE" default:"10485760"` // bytes, batch payload limit
	TTSChunkSize          int    `envconfig:"TTS_CHUNK_SIZE" default:"32768"`            // bytes per pooled read buffer
	TTSVoiceProfilesFile  string `envconfig:"TTS_VOICE_PROFILES_FILE" default:""`        // optional YAML file of named voices
	TTSVoiceProfilesWatch bool   `envconfig:"TTS_VOICE_PROFILES_WATCH" default:"false"`  // reload the profile file on change

	// Default voice
	TTSTextLang         string   `envconfig:"TTS_TEXT_LANG" default:"zh"`
	TTSPromptLang       string   `envconfig:"TTS_PROMPT_LANG" default:"zh"`
	TTSPromptText       string   `envconfig:"TTS_PROMPT_TEXT" default:""`
	TTSRefAudioPath     string   `envconfig:"TTS_REF_AUDIO_PATH" required:"true"`
	TTSAuxRefAudioPaths []string `envconfig:"TTS_AUX_REF_AUDIO_PATHS" default:""` // comma separated

	// Decoding parameters, sent on every call
	TTSTopK              int     `envconfig:"TTS_TOP_K" default:"5"`
	TTSTopP              float64 `envconfig:"TTS_TOP_P" default:"1"`
	TTSTemperature       float64 `envconfig:"TTS_TEMPERATURE" default:"1"`
	TTSTextSplitMethod   string  `envconfig:"TTS_TEXT_SPLIT_METHOD" default:"cut5"`
	TTSBatchSize         int     `envconfig:"TTS_BATCH_SIZE" default:"1"`
	TTSBatchThreshold    float64 `envconfig:"TTS_BATCH_THRESHOLD" default:"0.75"`
	TTSSplitBucket       bool    `envconfig:"TTS_SPLIT_BUCKET" default:"true"`
	TTSSpeedFactor       float64 `envconfig:"TTS_SPEED_FACTOR" default:"1"`
	TTSFragmentInterval  float64 `envconfig:"TTS_FRAGMENT_INTERVAL" default:"0.3"`
	TTSSeed              int     `envconfig:"TTS_SEED" default:"-1"`
	TTSMediaType         string  `envconfig:"TTS_MEDIA_TYPE" default:"wav"`
	TTSStreamingMode     bool    `envconfig:"TTS_STREAMING_MODE" default:"false"`
	TTSParallelInfer     bool    `envconfig:"TTS_PARALLEL_INFER" default:"true"`
	TTSRepetitionPenalty float64 `envconfig:"TTS_REPETITION_PENALTY" default:"1.35"`
	TTSSampleSteps       int     `envconfig:"TTS_SAMPLE_STEPS" default:"32"`
	TTSSuperSampling     bool    `envconfig:"TTS_SUPER_SAMPLING" default:"false"`
	TTSOverlapLength     int     `envconfig:"TTS_OVERLAP_LENGTH" default:"2"`
	TTSMinChunkLength    int     `envconfig:"TTS_MIN_CHUNK_LENGTH" default:"16"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	CircuitBreakerHalfOpenMax  int `envconfig:"CIRCUIT_BREAKER_HALF_OPEN_MAX" default:"3"`  // Trial requests while half-open
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Admission control
	MaxConcurrentSyntheses int     `envconfig:"MAX_CONCURRENT_SYNTHESES" default:"4"` // Backend calls in flight, 0 for no cap
	RateLimit              float64 `envconfig:"RATE_LIMIT" default:"0"`               // Requests per second, 0 disables
	RateBurst              int     `envconfig:"RATE_BURST" default:"10"`              // Requests admitted at once

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.TTSRefAudioPath) == "" {
		return fmt.Errorf("TTS_REF_AUDIO_PATH is required")
	}
	if c.TTSTimeout < 0 {
		return fmt.Errorf("TTS_TIMEOUT must not be negative")
	}
	if c.TTSChunkSize <= 0 {
		return fmt.Errorf("TTS_CHUNK_SIZE must be positive")
	}
	if _, err := c.BackendURL(); err != nil {
		return err
	}
	return nil
}

// BackendURL returns the backend base URL. A bare host:port gets an
// http:// scheme.
func (c *Config) BackendURL() (string, error) {
	addr := strings.TrimSpace(c.TTSBackendAddr)
	if !strings.Contains(addr, "://") {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return "", fmt.Errorf("invalid TTS_BACKEND_ADDR %q: %w", c.TTSBackendAddr, err)
		}
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid TTS_BACKEND_ADDR %q", c.TTSBackendAddr)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// BackendHostPort returns the backend address in host:port form, for
// reachability checks
func (c *Config) BackendHostPort() (string, error) {
	raw, err := c.BackendURL()
	if err != nil {
		return "", err
	}
	u, _ := url.Parse(raw)
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// Timeout returns the per-call backend timeout
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TTSTimeout) * time.Second
}

// RefAudioPaths returns the primary reference path followed by the auxiliary ones
func (c *Config) RefAudioPaths() []string {
	paths := []string{c.TTSRefAudioPath}
	for _, p := range c.TTSAuxRefAudioPaths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}
