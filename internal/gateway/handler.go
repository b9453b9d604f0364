package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/engine"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
)

const synthesisTimeout = 2 * time.Minute

type Handler struct {
	engine   *engine.Engine
	client   transport.RequestClient
	stream   transport.StreamClient
	creds    credentials.Provider
	params   *params.Bag
	timeouts params.Timeouts
	bridge   *Bridge
	log      *slog.Logger
}

func NewHandler(
	eng *engine.Engine,
	client transport.RequestClient,
	stream transport.StreamClient,
	creds credentials.Provider,
	bag *params.Bag,
	timeouts params.Timeouts,
	bridge *Bridge,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if bag == nil {
		bag = params.NewBag()
	}
	return &Handler{
		engine:   eng,
		client:   client,
		stream:   stream,
		creds:    creds,
		params:   bag,
		timeouts: timeouts.Normalize(),
		bridge:   bridge,
		log:      log.With("handler", "gateway"),
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/speech", h.HandleSpeech)
	g.POST("/queue/speech", h.HandleQueueSpeech)
	g.POST("/queue/cancel", h.HandleQueueCancel)
	g.GET("/queue", h.HandleQueueStatus)
	g.GET("/stream", h.HandleStream)
	g.GET("/playback", h.HandlePlayback)
}

type SpeechRequest struct {
	Input       string  `json:"input"`
	UtteranceID string  `json:"utterance_id"`
	VoiceType   int     `json:"voice_type"`
	Codec       string  `json:"codec"`
	SampleRate  int     `json:"sample_rate"`
	Speed       float64 `json:"speed"`
	Volume      float64 `json:"volume"`
}

type QueueSpeechResponse struct {
	UtteranceID string `json:"utterance_id"`
	QueueSize   int    `json:"queue_size"`
}

type QueueStatusResponse struct {
	Size                int    `json:"size"`
	State               string `json:"state"`
	Mode                string `json:"mode"`
	RoutingTarget       string `json:"routing_target"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastGood            string `json:"last_good,omitempty"`
	PlaybackSubscribers int    `json:"playback_subscribers"`
}

func contentTypeFor(codec string) string {
	switch codec {
	case params.CodecWAV:
		return "audio/wav"
	case params.CodecPCM:
		return "audio/pcm"
	default:
		return "audio/mpeg"
	}
}

// requestParams builds a per-request parameter snapshot from the shared bag
// plus the overrides carried in the body.
func (h *Handler) requestParams(req SpeechRequest) (*params.Bag, error) {
	bag := h.params.Clone()
	if req.VoiceType != 0 {
		if err := bag.SetVoiceType(req.VoiceType); err != nil {
			return nil, err
		}
	}
	if req.Codec != "" {
		if err := bag.SetCodec(req.Codec); err != nil {
			return nil, err
		}
	}
	if req.SampleRate != 0 {
		if err := bag.SetSampleRate(req.SampleRate); err != nil {
			return nil, err
		}
	}
	if req.Speed != 0 {
		if err := bag.SetVoiceSpeed(req.Speed); err != nil {
			return nil, err
		}
	}
	if req.Volume != 0 {
		if err := bag.SetVoiceVolume(req.Volume); err != nil {
			return nil, err
		}
	}
	return bag, nil
}

// HandleSpeech synthesizes one utterance synchronously and returns the audio.
func (h *Handler) HandleSpeech(c echo.Context) error {
	var req SpeechRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}
	if req.Input == "" {
		return shared.BadRequest("missing_input", "input text is required")
	}
	if len(req.Input) > engine.MaxOnlineTextBytes {
		return shared.BadRequest("input_too_long",
			fmt.Sprintf("input exceeds %d bytes", engine.MaxOnlineTextBytes))
	}

	bag, err := h.requestParams(req)
	if err != nil {
		return shared.BadRequest("invalid_params", err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), synthesisTimeout)
	defer cancel()

	creds, err := h.creds.Credentials(ctx)
	if err != nil {
		return shared.InternalError("credentials_unavailable", "credential lookup failed")
	}

	utteranceID := req.UtteranceID
	if utteranceID == "" {
		utteranceID = shared.NewID("utt")
	}

	res, err := h.client.Synthesize(ctx, transport.Request{
		Text:        req.Input,
		UtteranceID: utteranceID,
		Credentials: creds,
		Params:      bag.Snapshot(),
		Region:      bag.Region(),
		Timeouts:    h.timeouts,
	})
	if err != nil {
		h.log.Warn("synthesis failed", "utterance_id", utteranceID, "error", err)
		return shared.NewAPIError("synthesis_failed", err.Error()).ToHTTP(shared.HTTPStatus(err))
	}

	c.Response().Header().Set("X-Request-Id", res.RequestID)
	c.Response().Header().Set("X-Utterance-Id", utteranceID)
	codec, _ := bag.Get(params.KeyCodec)
	codecName, _ := codec.(string)
	return c.Blob(http.StatusOK, contentTypeFor(codecName), res.Audio)
}

// HandleQueueSpeech appends an utterance to the orchestrator queue. Completed
// audio reaches the playback connections through the bridge.
func (h *Handler) HandleQueueSpeech(c echo.Context) error {
	var req SpeechRequest
	if err := c.Bind(&req); err != nil {
		return shared.BadRequest("invalid_body", "invalid request body")
	}
	utteranceID := req.UtteranceID
	if utteranceID == "" {
		utteranceID = shared.NewID("utt")
	}

	if err := h.engine.Synthesize(req.Input, utteranceID); err != nil {
		if kind, ok := shared.ErrKind(err); ok && kind == shared.KindValidation {
			return shared.BadRequest("invalid_input", err.Error())
		}
		return shared.NewAPIError("enqueue_failed", err.Error()).ToHTTP(shared.HTTPStatus(err))
	}

	return c.JSON(http.StatusAccepted, QueueSpeechResponse{
		UtteranceID: utteranceID,
		QueueSize:   h.engine.QueueSize(),
	})
}

func (h *Handler) HandleQueueCancel(c echo.Context) error {
	if err := h.engine.Cancel(); err != nil {
		if errors.Is(err, shared.ErrNothingToCancel) {
			return shared.NotFound("nothing_to_cancel", "no pending or in-flight synthesis")
		}
		return shared.InternalError("cancel_failed", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) HandleQueueStatus(c echo.Context) error {
	health := h.engine.Health()
	resp := QueueStatusResponse{
		Size:                h.engine.QueueSize(),
		State:               h.engine.State().String(),
		Mode:                h.engine.Mode().String(),
		RoutingTarget:       health.Target.String(),
		ConsecutiveFailures: health.ConsecutiveFailures,
		PlaybackSubscribers: h.bridge.SubscriberCount(),
	}
	if !health.LastGood.IsZero() {
		resp.LastGood = health.LastGood.UTC().Format(time.RFC3339)
	}
	return c.JSON(http.StatusOK, resp)
}
