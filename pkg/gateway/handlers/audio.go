package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/outdial-ai/outdial/pkg/core/relay"
	"github.com/outdial-ai/outdial/pkg/core/store"
)

// AudioHandler is the websocket leg the telephony provider connects to
// in streaming mode. Binary frames are caller audio bound for the speech
// session; text frames are JSON control messages. The relay for the call
// registers when the answered event lands, which may be after the first
// audio frames arrive, so the lookup happens per frame.
type AudioHandler struct {
	Store  *store.Store
	Relays *relay.Registry
	Logger *slog.Logger
}

type audioControl struct {
	Type string `json:"type"`
}

type audioHello struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id"`
	Message string `json:"message"`
}

func (h AudioHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	logger := logOr(h.Logger).With("call_id", id)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if _, ok := h.Store.Get(id); !ok {
		logger.Warn("audio stream for unknown call")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown call"),
			time.Now().Add(2*time.Second))
		return
	}

	// Control replies and relayed speech audio share the connection, and
	// the websocket allows one concurrent writer.
	var writeMu sync.Mutex
	sendJSON := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(v)
	}
	sendAudio := func(audio []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.BinaryMessage, audio)
	}

	if err := sendJSON(audioHello{Type: "connected", CallID: id, Message: "Audio stream ready"}); err != nil {
		return
	}
	logger.Info("audio stream connected")

	attached := false
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			logger.Info("audio stream closed", "error", err)
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			rl, ok := h.Relays.Get(id)
			if !ok {
				logger.Debug("audio frame with no relay", "bytes", len(data))
				continue
			}
			if !attached {
				rl.AttachTransport(sendAudio)
				attached = true
			}
			if err := rl.Forward(data); err != nil {
				logger.Debug("audio frame after relay closed", "error", err)
			}
		case websocket.TextMessage:
			var ctrl audioControl
			if err := json.Unmarshal(data, &ctrl); err != nil {
				logger.Warn("unparseable control frame")
				continue
			}
			switch ctrl.Type {
			case "ping":
				if err := sendJSON(audioControl{Type: "pong"}); err != nil {
					return
				}
			case "close":
				logger.Info("audio stream closed by peer")
				return
			default:
				logger.Warn("unknown control frame", "type", ctrl.Type)
			}
		}
	}
}
