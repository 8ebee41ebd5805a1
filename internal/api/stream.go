package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/lexiqai/tts-gateway/internal/streaming"
)

// HandleStream synthesizes the text sentence by sentence and relays the
// events as Server-Sent Events, one data frame per event. The stream ends
// with an AUDIO_END frame; a client disconnect stops synthesis.
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	logger, correlationID := h.requestLogger(r)
	w.Header().Set("X-Correlation-ID", correlationID)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

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

	// Use request context so client disconnect cancels the stream
	ctx := logger.WithContext(r.Context())
	events, err := h.orchestrator.Run(ctx, req.Text, tmpl)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	err = events.Each(func(ev streaming.Event) error {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", streaming.EncodeLine(ev)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	switch {
	case err == nil:
		logger.Debug().Msg("Segmented stream delivered")
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("Client disconnected during stream")
	default:
		logger.Warn().Err(err).Msg("Segmented stream aborted")
	}
}
