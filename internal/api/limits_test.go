package api

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/tts-gateway/internal/synthesis"
)

func TestRateLimit_RejectsExcessRequests(t *testing.T) {
	synth := &fakeSynth{batch: func(synthesis.Request) ([]byte, error) { return []byte("pcm"), nil }}
	server := newServer(t, synth, WithRateLimit(0.001, 1))

	resp := post(t, server.URL+"/tts/synthesize", `{"text":"hi"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = post(t, server.URL+"/tts/synthesize", `{"text":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Len(t, synth.calls(), 1)

	resp = post(t, server.URL+"/tts/stream", `{"text":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRateLimit_DisabledByDefault(t *testing.T) {
	synth := &fakeSynth{batch: func(synthesis.Request) ([]byte, error) { return []byte("pcm"), nil }}
	server := newServer(t, synth, WithRateLimit(0, 0))

	for i := 0; i < 5; i++ {
		resp := post(t, server.URL+"/tts/synthesize", `{"text":"hi"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
}

func TestGuardedStream_HoldsSlotUntilClose(t *testing.T) {
	synth := &fakeSynth{stream: func(synthesis.Request) ([]string, error) { return []string{"a"}, nil }}
	g := guardedSynthesizer{
		next:  synth,
		guard: guard{retry: noRetry(), slots: semaphore.NewWeighted(1)},
	}

	src, err := g.SynthesizeStream(context.Background(), synthesis.Request{Text: "one"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.SynthesizeStream(ctx, synthesis.Request{Text: "two"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, synth.calls(), 1, "a waiting call never reaches the backend")

	_, err = src.Next()
	require.NoError(t, err)
	_, err = src.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close(), "closing twice releases once")

	src, err = g.SynthesizeStream(context.Background(), synthesis.Request{Text: "three"})
	require.NoError(t, err)
	assert.NoError(t, src.Close())
}

func TestGuardedStream_ReleasesSlotOnOpenFailure(t *testing.T) {
	synth := &fakeSynth{stream: func(synthesis.Request) ([]string, error) {
		return nil, synthesis.ErrBackendUnavailable
	}}
	g := guardedSynthesizer{
		next:  synth,
		guard: guard{retry: noRetry(), slots: semaphore.NewWeighted(1)},
	}

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := g.SynthesizeStream(ctx, synthesis.Request{Text: "x"})
		cancel()
		assert.ErrorIs(t, err, synthesis.ErrBackendUnavailable)
	}
	assert.Len(t, synth.calls(), 3)
}

func TestStream_SequentialRequestsShareOneSlot(t *testing.T) {
	synth := &fakeSynth{stream: func(req synthesis.Request) ([]string, error) {
		return []string{req.Text}, nil
	}}
	server := newServer(t, synth, WithMaxConcurrent(1))

	for i := 0; i < 2; i++ {
		resp := post(t, server.URL+"/tts/stream", `{"text":"One. Two. Three."}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "data: AUDIO_END")
	}
	assert.Len(t, synth.calls(), 6)
}
