package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/lexiqai/tts-gateway/internal/audio"
	"github.com/lexiqai/tts-gateway/internal/observability"
)

// HandleSynthesize synthesizes the whole text in one backend call and
// returns the audio payload
func (h *Handler) HandleSynthesize(w http.ResponseWriter, r *http.Request) {
	logger, correlationID := h.requestLogger(r)
	w.Header().Set("X-Correlation-ID", correlationID)

	if err := h.admit(); err != nil {
		writeError(w, err)
		return
	}
	req, err := decodeRequest(r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	tmpl, err := h.template(req)
	if err != nil {
		writeError(w, err)
		return
	}
	synthReq := tmpl.WithText(req.Text)

	ctx := logger.WithContext(r.Context())
	release, err := h.guard.acquire(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload []byte
	err = h.guard.do(ctx, func(ctx context.Context) error {
		var err error
		payload, err = h.synth.SynthesizeBatch(ctx, synthReq)
		return err
	})
	release()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.RecordError("batch_failed", "api")
			logger.Warn().Err(err).Msg("Batch synthesis failed")
		}
		writeError(w, err)
		return
	}

	if synthReq.ExceedsAdvisoryLength() {
		w.Header().Set("X-TTS-Advisory", "text-length")
	}

	contentType := "audio/" + synthReq.Decoding.MediaType
	if info, err := audio.Inspect(payload); err == nil {
		contentType = "audio/wav"
		w.Header().Set("X-Audio-Duration-Ms", strconv.FormatInt(info.Duration.Milliseconds(), 10))
		logger.Info().
			Int("bytes", len(payload)).
			Int("sample_rate", info.SampleRate).
			Int("channels", info.Channels).
			Dur("duration", info.Duration).
			Msg("Batch synthesis complete")
	} else {
		logger.Info().Int("bytes", len(payload)).Msg("Batch synthesis complete")
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(payload); err != nil {
		logger.Debug().Err(err).Msg("Client went away during write")
	}
}
