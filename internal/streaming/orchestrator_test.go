package streaming

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/segment"
	"github.com/lexiqai/tts-gateway/internal/synthesis"
)

// fakeSource yields fixed chunks, then err (io.EOF when nil)
type fakeSource struct {
	chunks []*audio.Chunk
	err    error
	pos    int
	closed bool
}

func (s *fakeSource) Next() (*audio.Chunk, error) {
	if s.closed {
		return nil, errors.New("next after close")
	}
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return nil, s.err
	}
	return nil, io.EOF
}

func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

// script describes the backend's answer for one sentence
type script struct {
	chunks  []string
	openErr error
	midErr  error
}

type fakeSynth struct {
	mu      sync.Mutex
	scripts map[string]script
	calls   []string
	sources []*fakeSource
}

func (f *fakeSynth) SynthesizeStream(ctx context.Context, req synthesis.Request) (audio.ChunkSource, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Text)

	sc, ok := f.scripts[req.Text]
	if !ok {
		sc = script{chunks: []string{"audio:" + req.Text}}
	}
	if sc.openErr != nil {
		return nil, sc.openErr
	}
	src := &fakeSource{err: sc.midErr}
	for _, c := range sc.chunks {
		src.chunks = append(src.chunks, audio.NewChunk([]byte(c)))
	}
	f.sources = append(f.sources, src)
	return src, nil
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func template() synthesis.Request {
	return synthesis.Request{
		TextLang:      "zh",
		RefAudioPaths: []string{"/voices/main.wav"},
		PromptLang:    "zh",
		Decoding: synthesis.DecodingParams{
			TopK:            5,
			TopP:            1,
			Temperature:     1,
			SpeedFactor:     1,
			TextSplitMethod: "cut5",
			BatchSize:       1,
			MediaType:       "wav",
			SampleSteps:     32,
		},
	}
}

func collect(t *testing.T, stream *EventStream) []Event {
	t.Helper()
	var events []Event
	require.NoError(t, stream.Each(func(ev Event) error {
		events = append(events, ev)
		return nil
	}))
	return events
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestRun_RelaysUnitsInOrder(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"你好。":     {chunks: []string{"a1", "a2"}},
		"今天天气不错！": {chunks: []string{"b1"}},
	}}
	o := New(synth, segment.NewDefault())

	stream, err := o.Run(context.Background(), "你好。今天天气不错！", template())
	require.NoError(t, err)
	events := collect(t, stream)

	assert.Equal(t, []EventKind{EventText, EventAudio, EventAudio, EventText, EventAudio, EventEnd}, kinds(events))
	assert.Equal(t, "你好。", events[0].Unit.Content)
	assert.Equal(t, "a1", string(events[1].Audio))
	assert.Equal(t, "a2", string(events[2].Audio))
	assert.Equal(t, "今天天气不错！", events[3].Unit.Content)
	assert.Equal(t, 1, events[3].Unit.Order)
	assert.Equal(t, "b1", string(events[4].Audio))
	assert.Equal(t, []string{"你好。", "今天天气不错！"}, synth.calls)
}

func TestRun_FailedUnitDoesNotAbort(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"Two.": {openErr: &synthesis.BackendError{Status: 500, Body: "boom"}},
	}}
	o := New(synth, nil)

	stream, err := o.Run(context.Background(), "One. Two. Three.", template())
	require.NoError(t, err)
	events := collect(t, stream)

	assert.Equal(t, []EventKind{
		EventText, EventAudio,
		EventText, EventError,
		EventText, EventAudio,
		EventEnd,
	}, kinds(events))
	assert.Contains(t, events[3].Message, "boom")
	assert.Equal(t, 1, events[3].Unit.Order)
	assert.Equal(t, "audio:Three.", string(events[5].Audio))
	assert.Equal(t, 3, synth.callCount())
}

func TestRun_MidStreamFailureKeepsPartialAudio(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"One.": {chunks: []string{"p1"}, midErr: synthesis.ErrStreamInterrupted},
	}}
	o := New(synth, nil)

	stream, err := o.Run(context.Background(), "One. Two.", template())
	require.NoError(t, err)
	events := collect(t, stream)

	assert.Equal(t, []EventKind{EventText, EventAudio, EventError, EventText, EventAudio, EventEnd}, kinds(events))
	assert.Equal(t, "p1", string(events[1].Audio))
	assert.True(t, synth.sources[0].closed)
}

func TestRun_ExactlyOneEnd(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"A.": {openErr: synthesis.ErrBackendUnavailable},
		"B.": {openErr: synthesis.ErrBackendUnavailable},
	}}
	stream, err := New(synth, nil).Run(context.Background(), "A. B.", template())
	require.NoError(t, err)

	var ends int
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if ev.Kind == EventEnd {
			ends++
		}
	}
	assert.Equal(t, 1, ends)

	_, err = stream.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRun_EmptyTextEmitsOnlyEnd(t *testing.T) {
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), "  \n ", template())
	require.NoError(t, err)

	assert.Equal(t, []EventKind{EventEnd}, kinds(collect(t, stream)))
	assert.Zero(t, synth.callCount())
}

func TestRun_MalformedTemplateAborts(t *testing.T) {
	synth := &fakeSynth{}
	tmpl := template()
	tmpl.RefAudioPaths = nil

	stream, err := New(synth, nil).Run(context.Background(), "Hello.", tmpl)
	assert.Nil(t, stream)
	assert.ErrorIs(t, err, synthesis.ErrInvalidInput)
	assert.Zero(t, synth.callCount())
}

func TestRun_CancelAfterFirstChunkStopsCalls(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"One.": {chunks: []string{"c1", "c2"}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := New(synth, nil).Run(ctx, "One. Two. Three.", template())
	require.NoError(t, err)

	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventText, ev.Kind)
	ev, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventAudio, ev.Kind)

	cancel()

	_, err = stream.Next()
	assert.ErrorIs(t, err, context.Canceled)
	_, err = stream.Next()
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, synth.callCount())
	assert.True(t, synth.sources[0].closed, "in-flight call must be released")
}

func TestRun_CloseReleasesInFlightCall(t *testing.T) {
	synth := &fakeSynth{scripts: map[string]script{
		"One.": {chunks: []string{"c1", "c2"}},
	}}
	stream, err := New(synth, nil).Run(context.Background(), "One. Two.", template())
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	_, err = stream.Next()
	require.NoError(t, err)

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	_, err = stream.Next()
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, synth.sources[0].closed)
	assert.Equal(t, 1, synth.callCount())
}

func TestRun_SynthesisStartsOnlyWhenPulled(t *testing.T) {
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), "One. Two.", template())
	require.NoError(t, err)
	defer stream.Close()

	assert.Zero(t, synth.callCount())

	// text marker for unit 0
	_, err = stream.Next()
	require.NoError(t, err)
	assert.Zero(t, synth.callCount())

	// audio for unit 0
	_, err = stream.Next()
	require.NoError(t, err)
	assert.Equal(t, 1, synth.callCount())

	// text marker for unit 1, issued before its call
	ev, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, EventText, ev.Kind)
	assert.Equal(t, 1, synth.callCount())
}

func TestRun_ChunksAreReleasedAfterCopy(t *testing.T) {
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), "Hi.", template())
	require.NoError(t, err)
	events := collect(t, stream)

	require.Len(t, synth.sources, 1)
	for _, c := range synth.sources[0].chunks {
		assert.True(t, c.Released())
	}
	assert.Equal(t, "audio:Hi.", string(events[1].Audio))
}

func TestRun_TrailingFragmentIsSynthesized(t *testing.T) {
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), "Done. and then", template())
	require.NoError(t, err)
	events := collect(t, stream)

	assert.Equal(t, []string{"Done.", "and then"}, synth.calls)
	assert.False(t, events[2].Unit.Complete)
}

func TestRun_EachStopsOnCallbackError(t *testing.T) {
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), "A. B. C.", template())
	require.NoError(t, err)

	stop := errors.New("client gone")
	var seen int
	err = stream.Each(func(ev Event) error {
		seen++
		if ev.Kind == EventAudio {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
	assert.Equal(t, 1, synth.callCount())
}

func TestRun_ReconstructsInput(t *testing.T) {
	text := "First line.\nSecond (with. inner) line! Third"
	synth := &fakeSynth{}
	stream, err := New(synth, nil).Run(context.Background(), text, template())
	require.NoError(t, err)

	var sb strings.Builder
	for _, ev := range collect(t, stream) {
		if ev.Kind == EventText {
			sb.WriteString(ev.Unit.Content)
		}
	}
	assert.Equal(t, text, sb.String())
}

func TestRun_LogsSentenceShape(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)
	stream, err := New(&fakeSynth{}, nil, WithLogger(logger)).Run(context.Background(), "Done, finally. and then", template())
	require.NoError(t, err)
	collect(t, stream)

	var segments []map[string]any
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		if entry["message"] == "Emitting segment" {
			segments = append(segments, entry)
		}
	}

	require.Len(t, segments, 2)
	assert.Equal(t, true, segments[0]["ends_sentence"])
	assert.Equal(t, false, segments[1]["ends_sentence"])
}
