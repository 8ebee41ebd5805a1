package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/tts-gateway/internal/streaming"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checks belong to the fronting proxy
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 32 * 1024,
}

// HandleWebSocket accepts one JSON synthesis request per client message
// and streams its events back as text frames, ending each request with
// AUDIO_END. Requests on one connection are served in order; closing the
// connection stops the request in flight.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		h.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()
	// the server's read timeout still applies to the hijacked connection
	conn.SetReadDeadline(time.Time{})

	logger, _ := h.requestLogger(r)
	logger.Info().Msg("WebSocket synthesis connection established")

	ctx, cancel := context.WithCancel(logger.WithContext(r.Context()))
	defer cancel()

	requests := make(chan []byte)
	go func() {
		defer cancel()
		defer close(requests)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn().Err(err).Msg("WebSocket read error")
				}
				return
			}
			select {
			case requests <- message:
			case <-ctx.Done():
				return
			}
		}
	}()

	for message := range requests {
		if err := h.serveWebSocketRequest(ctx, conn, message, logger); err != nil {
			if ctx.Err() == nil {
				logger.Warn().Err(err).Msg("WebSocket write failed")
			}
			return
		}
	}
	logger.Info().Msg("WebSocket synthesis connection closed")
}

// serveWebSocketRequest streams one request. It returns an error only when
// the connection is no longer usable.
func (h *Handler) serveWebSocketRequest(ctx context.Context, conn *websocket.Conn, message []byte, logger zerolog.Logger) error {
	send := func(ev streaming.Event) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(websocket.TextMessage, []byte(streaming.Encode(ev)))
	}
	reject := func(err error) error {
		logger.Debug().Err(err).Msg("Rejected WebSocket synthesis request")
		if werr := send(streaming.Event{Kind: streaming.EventError, Message: err.Error()}); werr != nil {
			return werr
		}
		return send(streaming.Event{Kind: streaming.EventEnd})
	}

	if err := h.admit(); err != nil {
		return reject(err)
	}
	req, err := decodeRequest(bytes.NewReader(message))
	if err != nil {
		return reject(err)
	}
	tmpl, err := h.template(req)
	if err != nil {
		return reject(err)
	}
	events, err := h.orchestrator.Run(ctx, req.Text, tmpl)
	if err != nil {
		return reject(err)
	}
	return events.Each(send)
}
