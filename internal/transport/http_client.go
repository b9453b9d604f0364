package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
)

const maxResponseSize = 32 * 1024 * 1024

type HTTPClientConfig struct {
	Endpoint string
	Signer   Signer
	Client   *http.Client
	Log      *slog.Logger
}

// HTTPClient performs request/response synthesis calls against the backend's
// JSON API.
type HTTPClient struct {
	endpoint string
	signer   Signer
	client   *http.Client
	log      *slog.Logger
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPClient{
		endpoint: cfg.Endpoint,
		signer:   cfg.Signer,
		client:   client,
		log:      log.With("component", "http-client"),
	}
}

func (c *HTTPClient) Synthesize(ctx context.Context, req Request) (*Result, error) {
	body := make(map[string]any, len(req.Params)+2)
	for k, v := range req.Params {
		body[k] = v
	}
	body[params.KeyText] = req.Text
	if req.UtteranceID != "" {
		body["SessionId"] = req.UtteranceID
	}
	if req.Region != "" {
		body["Region"] = req.Region
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, shared.NewValidationError(fmt.Sprintf("request encoding failed: %v", err))
	}

	timeouts := req.Timeouts.Normalize()
	ctx, cancel := context.WithTimeout(ctx, timeouts.Request)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, shared.NewTransportError("request construction failed", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.signer != nil {
		if err := c.signer.SignRequest(httpReq, req.Credentials); err != nil {
			return nil, &shared.TTSError{
				Kind:    shared.KindValidation,
				Code:    shared.CodeGenerateSignFail,
				Message: "request signing failed",
				Err:     err,
			}
		}
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, shared.NewTransportError("synthesis request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, shared.NewTransportError("response read failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, shared.NewServerError(&shared.ServiceError{
			Code:     fmt.Sprintf("http_%d", resp.StatusCode),
			Message:  http.StatusText(resp.StatusCode),
			Response: string(raw),
		})
	}

	parsed, err := ParseResponse(raw)
	if err != nil {
		return nil, err
	}
	audio, err := parsed.DecodeAudio()
	if err != nil {
		return nil, err
	}

	return &Result{
		Audio:       audio,
		RequestID:   parsed.RequestID,
		RawResponse: string(raw),
		Subtitles:   parsed.Subtitles,
	}, nil
}
