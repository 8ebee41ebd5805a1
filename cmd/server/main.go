package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lexiqai/tts-gateway/internal/api"
	"github.com/lexiqai/tts-gateway/internal/config"
	"github.com/lexiqai/tts-gateway/internal/observability"
	"github.com/lexiqai/tts-gateway/internal/resilience"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
	"github.com/lexiqai/tts-gateway/internal/voice"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	backendURL, _ := cfg.BackendURL()
	backendHost, _ := cfg.BackendHostPort()

	logger.Info().
		Str("port", cfg.Port).
		Str("backend_addr", cfg.TTSBackendAddr).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Str("version", version).
		Msg("TTS Gateway Service starting")

	// Synthesis backend client
	client := synthesis.NewClient(synthesis.ClientConfig{
		BaseURL:         backendURL,
		Path:            cfg.TTSBackendPath,
		Timeout:         cfg.Timeout(),
		ChunkSize:       cfg.TTSChunkSize,
		MaxInMemorySize: cfg.TTSMaxInMemorySize,
	}, synthesis.WithLogger(logger.With().Str("component", "synthesis").Logger()))
	logger.Info().Str("endpoint", client.Endpoint()).Msg("Synthesis backend configured")

	// Voices: the configured default plus optional named profiles
	voices, err := voice.NewRegistry(voice.FromConfig(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid default voice configuration")
	}
	if cfg.TTSVoiceProfilesFile != "" {
		if err := voices.LoadFile(cfg.TTSVoiceProfilesFile); err != nil {
			logger.Fatal().Err(err).Str("file", cfg.TTSVoiceProfilesFile).Msg("Failed to load voice profiles")
		}
	}
	logger.Info().Strs("voices", voices.Names()).Msg("Voices loaded")

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if cfg.TTSVoiceProfilesFile != "" && cfg.TTSVoiceProfilesWatch {
		voiceLogger := logger.With().Str("component", "voice").Logger()
		go func() {
			if err := voices.Watch(watchCtx, cfg.TTSVoiceProfilesFile, voiceLogger); err != nil {
				voiceLogger.Error().Err(err).Msg("Voice profile watcher stopped")
			}
		}()
	}

	// Resilience around backend calls
	breaker := resilience.NewCircuitBreaker(
		"tts-backend",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		resilience.WithFailureClassifier(synthesis.IsRetryable),
		resilience.WithHalfOpenMax(cfg.CircuitBreakerHalfOpenMax),
	)
	logger.Info().
		Str("breaker", breaker.Name()).
		Int("max_failures", cfg.CircuitBreakerMaxFailures).
		Int("half_open_max", cfg.CircuitBreakerHalfOpenMax).
		Msg("Circuit breaker configured")
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	handler := api.NewHandler(client, voices,
		api.WithCircuitBreaker(breaker),
		api.WithRetry(retry),
		api.WithMaxConcurrent(cfg.MaxConcurrentSyntheses),
		api.WithRateLimit(cfg.RateLimit, cfg.RateBurst),
		api.WithLogger(logger.With().Str("component", "api").Logger()),
	)

	// Create HTTP server
	mux := http.NewServeMux()
	handler.Routes(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler(version))

	// Readiness endpoint: the backend must accept connections
	mux.HandleFunc("/ready", observability.ReadinessHandler(version, map[string]observability.HealthCheckFunc{
		"tts_backend": observability.TCPCheck(backendHost),
	}))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// No write timeout: streamed responses last as long as synthesis does,
	// bounded by the per-call backend timeout
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("batch", fmt.Sprintf("http://localhost:%s/tts/synthesize", cfg.Port)).
			Str("stream", fmt.Sprintf("http://localhost:%s/tts/stream", cfg.Port)).
			Str("websocket", fmt.Sprintf("ws://localhost:%s/tts/ws", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")
	stopWatch()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
