package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/session"
	"github.com/avelar-io/ttskit/internal/shared"
)

const (
	writeWait      = 10 * time.Second
	maxCommandSize = 64 * 1024
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// streamCommand is a client message on the streaming socket. The first one
// must be a synthesize command; cancel is accepted while streaming.
type streamCommand struct {
	Type string `json:"type"`
	SpeechRequest
}

// streamFrame is a server-to-client text frame. Audio travels as binary
// frames alongside.
type streamFrame struct {
	Type    string `json:"type"`
	Payload string `json:"payload,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandleStream runs one streaming synthesis session over a websocket. Audio
// chunks arrive as binary frames in order; structured events as text frames;
// the connection closes after the terminal frame.
func (h *Handler) HandleStream(c echo.Context) error {
	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return err
	}
	defer ws.Close()

	ws.SetReadLimit(maxCommandSize)
	var cmd streamCommand
	if err := ws.ReadJSON(&cmd); err != nil {
		return nil
	}
	if cmd.Type != "synthesize" {
		writeStreamFrame(ws, streamFrame{Type: "error", Kind: string(shared.KindValidation),
			Error: "first command must be synthesize"})
		return nil
	}

	bag, err := h.requestParams(cmd.SpeechRequest)
	if err == nil {
		err = bag.Set(params.KeyText, cmd.Input)
	}
	if err != nil {
		writeStreamFrame(ws, streamFrame{Type: "error", Kind: string(shared.KindValidation), Error: err.Error()})
		return nil
	}

	done := make(chan struct{})
	listener := session.Listener{
		OnData: func(data []byte) {
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = ws.WriteMessage(websocket.BinaryMessage, data)
		},
		OnMessage: func(raw string) {
			writeStreamFrame(ws, streamFrame{Type: "message", Payload: raw})
		},
		OnLog: func(msg string) {
			writeStreamFrame(ws, streamFrame{Type: "log", Payload: msg})
		},
		OnFinish: func() {
			writeStreamFrame(ws, streamFrame{Type: "finish"})
			close(done)
		},
		OnError: func(err error) {
			frame := streamFrame{Type: "error", Error: err.Error()}
			if kind, ok := shared.ErrKind(err); ok {
				frame.Kind = string(kind)
			}
			var terr *shared.TTSError
			if errors.As(err, &terr) {
				frame.Code = terr.Code
			}
			writeStreamFrame(ws, frame)
			close(done)
		},
	}

	sess, err := session.Config{
		Credentials: h.creds,
		Params:      bag,
		Timeouts:    h.timeouts,
		Stream:      h.stream,
		Log:         h.log,
	}.Build(listener)
	if err != nil {
		frame := streamFrame{Type: "error", Kind: string(shared.KindValidation), Error: err.Error()}
		writeStreamFrame(ws, frame)
		return nil
	}

	// the read side only carries cancel commands; a read error means the
	// client went away and the session should stop producing
	go func() {
		for {
			var next streamCommand
			if err := ws.ReadJSON(&next); err != nil {
				_ = sess.Cancel()
				return
			}
			if next.Type == "cancel" {
				_ = sess.Cancel()
			}
		}
	}()

	select {
	case <-done:
	case <-c.Request().Context().Done():
		_ = sess.Cancel()
		<-done
	}

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return nil
}

func writeStreamFrame(ws *websocket.Conn, frame streamFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = ws.WriteMessage(websocket.TextMessage, data)
}
