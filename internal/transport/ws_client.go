package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/gorilla/websocket"
)

const (
	writeWait            = 10 * time.Second
	maxStreamMessageSize = 1024 * 1024
)

// streamEnvelope is the control frame shape on the streaming connection.
// final=1 marks the end of the exchange; a non-zero code is a server error.
type streamEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Final   int    `json:"final"`
}

type WSClientConfig struct {
	Endpoint string
	Signer   Signer
	// Backoff paces dial retries on transient connection failures.
	Backoff shared.BackoffConfig
	Log     *slog.Logger
}

// WSClient opens streaming synthesis exchanges over websocket. All request
// parameters travel in the signed query string; the server starts streaming
// on connect.
type WSClient struct {
	endpoint string
	signer   Signer
	backoff  shared.BackoffConfig
	log      *slog.Logger
}

func NewWSClient(cfg WSClientConfig) *WSClient {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &WSClient{
		endpoint: cfg.Endpoint,
		signer:   cfg.Signer,
		backoff:  shared.NormalizeBackoff(cfg.Backoff),
		log:      log.With("component", "ws-client"),
	}
}

func (c *WSClient) OpenStream(ctx context.Context, req StreamRequest, h StreamHandler) (Stream, error) {
	q := url.Values{}
	for k, v := range req.Params {
		q.Set(k, fmt.Sprint(v))
	}
	if req.Region != "" {
		q.Set("Region", req.Region)
	}
	if c.signer != nil {
		if err := c.signer.SignQuery(q, req.Credentials); err != nil {
			return nil, &shared.TTSError{
				Kind:    shared.KindValidation,
				Code:    shared.CodeGenerateSignFail,
				Message: "request signing failed",
				Err:     err,
			}
		}
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: req.Timeouts.Connect,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, err := c.dial(ctx, &dialer, c.endpoint+"?"+q.Encode())
	if err != nil {
		return nil, shared.NewTransportError("websocket dial failed", err)
	}
	conn.SetReadLimit(maxStreamMessageSize)

	s := &wsStream{
		conn:     conn,
		log:      c.log,
		resource: req.Timeouts.Resource,
	}
	go s.readPump(h)
	return s, nil
}

// dial retries transient connection failures with exponential backoff, up to
// the configured attempt budget.
func (c *WSClient) dial(ctx context.Context, dialer *websocket.Dialer, url string) (*websocket.Conn, error) {
	delay := c.backoff.Initial
	for attempt := 1; ; attempt++ {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err == nil {
			return conn, nil
		}
		if attempt >= c.backoff.MaxAttempts || ctx.Err() != nil {
			return nil, err
		}
		c.log.Debug("dial failed, retrying", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, err
		case <-time.After(delay):
		}
		delay = shared.MinDuration(delay*2, c.backoff.MaxDelay)
	}
}

type wsStream struct {
	conn     *websocket.Conn
	log      *slog.Logger
	resource time.Duration
	terminal sync.Once

	mu     sync.Mutex
	closed bool
}

func (s *wsStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	return s.conn.Close()
}

func (s *wsStream) finish(h StreamHandler) {
	s.terminal.Do(func() {
		if h.OnFinish != nil {
			h.OnFinish()
		}
	})
}

func (s *wsStream) fail(h StreamHandler, err error) {
	s.terminal.Do(func() {
		if h.OnError != nil {
			h.OnError(err)
		}
	})
}

func (s *wsStream) readPump(h StreamHandler) {
	defer s.conn.Close()

	for {
		if s.resource > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.resource))
		}
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(h, shared.NewTransportError("stream read failed", err))
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if h.OnData != nil {
				h.OnData(data)
			}
		case websocket.TextMessage:
			var env streamEnvelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.fail(h, shared.NewDecodeError("stream message parsing failed", err))
				return
			}
			if env.Code != 0 {
				s.fail(h, shared.NewServerError(&shared.ServiceError{
					Code:     strconv.Itoa(env.Code),
					Message:  env.Message,
					Response: string(data),
				}))
				return
			}
			if h.OnMessage != nil {
				h.OnMessage(data)
			}
			if env.Final == 1 {
				s.finish(h)
				return
			}
		}
	}
}
