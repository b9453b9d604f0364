package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/avelar-io/ttskit/internal/player"
	"github.com/avelar-io/ttskit/internal/shared"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

type wsFrame struct {
	messageType int
	data        []byte
}

// playbackConn owns all writes to one playback websocket. The stream renderer
// and the player callbacks both feed frames; writePump is the single writer.
type playbackConn struct {
	ws     *websocket.Conn
	log    *slog.Logger
	frames chan wsFrame

	closeOnce sync.Once
	done      chan struct{}
}

func newPlaybackConn(ws *websocket.Conn, log *slog.Logger) *playbackConn {
	return &playbackConn{
		ws:     ws,
		log:    log,
		frames: make(chan wsFrame, 64),
		done:   make(chan struct{}),
	}
}

// Write forwards paced audio bytes as binary frames. The slice is copied
// because the caller reuses its buffer.
func (c *playbackConn) Write(p []byte) (int, error) {
	buf := make([]byte, len(p))
	copy(buf, p)
	select {
	case c.frames <- wsFrame{messageType: websocket.BinaryMessage, data: buf}:
		return len(p), nil
	case <-c.done:
		return 0, net.ErrClosed
	}
}

func (c *playbackConn) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Error("event marshalling failed", "error", err)
		return
	}
	select {
	case c.frames <- wsFrame{messageType: websocket.TextMessage, data: data}:
	case <-c.done:
	}
}

func (c *playbackConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *playbackConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame := <-c.frames:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(frame.messageType, frame.data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

type playbackCommand struct {
	Type string `json:"type"`
}

type playbackEvent struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	UtteranceID string `json:"utterance_id,omitempty"`
	Word        string `json:"word,omitempty"`
	Index       int    `json:"index,omitempty"`
	Code        int    `json:"code,omitempty"`
	Error       string `json:"error,omitempty"`
}

// HandlePlayback attaches a playback queue to a websocket. Units completed by
// the orchestrator are rendered to the socket in real time; the client steers
// with stop/pause/resume commands.
func (h *Handler) HandlePlayback(c echo.Context) error {
	ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return err
	}

	conn := newPlaybackConn(ws, h.log)
	p := player.New(player.Config{
		Renderer: player.NewStreamRenderer(conn),
		Capacity: 64,
		Log:      h.log,
		Callbacks: player.Callbacks{
			OnPlayStart:  func() { conn.sendJSON(playbackEvent{Type: "start"}) },
			OnPlayWait:   func() { conn.sendJSON(playbackEvent{Type: "wait"}) },
			OnPlayResume: func() { conn.sendJSON(playbackEvent{Type: "resume"}) },
			OnPlayPause:  func() { conn.sendJSON(playbackEvent{Type: "pause"}) },
			OnPlayStop:   func() { conn.sendJSON(playbackEvent{Type: "stop"}) },
			OnPlayNext: func(text, utteranceID string) {
				conn.sendJSON(playbackEvent{Type: "next", Text: text, UtteranceID: utteranceID})
			},
			OnPlayError: func(err *shared.PlayerError) {
				conn.sendJSON(playbackEvent{Type: "error", Code: err.Code, Error: err.Message})
			},
			OnPlayProgress: func(word string, index int) {
				conn.sendJSON(playbackEvent{Type: "progress", Word: word, Index: index})
			},
		},
	})

	id := shared.NewID("playback")
	h.bridge.Subscribe(id, p)
	h.log.Info("playback client connected", "subscriber", id)

	go conn.writePump()

	ws.SetReadLimit(maxCommandSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd playbackCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			break
		}
		var cmdErr error
		switch cmd.Type {
		case "stop":
			cmdErr = p.StopPlay()
		case "pause":
			cmdErr = p.PausePlay()
		case "resume":
			cmdErr = p.ResumePlay()
		default:
			conn.sendJSON(playbackEvent{Type: "error", Error: "unknown command " + cmd.Type})
		}
		if cmdErr != nil {
			var perr *shared.PlayerError
			ev := playbackEvent{Type: "error", Error: cmdErr.Error()}
			if errors.As(cmdErr, &perr) {
				ev.Code = perr.Code
				ev.Error = perr.Message
			}
			conn.sendJSON(ev)
		}
	}

	h.bridge.Unsubscribe(id)
	conn.close()
	_ = p.Close()
	h.log.Info("playback client disconnected", "subscriber", id)
	return nil
}
