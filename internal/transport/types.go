package transport

import (
	"encoding/base64"
	"encoding/json"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
)

// Subtitle is one word-level timing entry from the backend response. Times are
// milliseconds from the start of the utterance, indices are rune offsets into
// the source text.
type Subtitle struct {
	Text       string `json:"Text"`
	BeginTime  int64  `json:"BeginTime"`
	EndTime    int64  `json:"EndTime"`
	BeginIndex int    `json:"BeginIndex"`
	EndIndex   int    `json:"EndIndex"`
}

type responseError struct {
	Code    string `json:"Code"`
	Message string `json:"Message"`
}

// Response is the minimal request/response envelope this client consumes. The
// full schema is owned by the remote service; unknown fields are ignored.
type Response struct {
	RequestID string         `json:"RequestId"`
	Audio     string         `json:"Audio,omitempty"`
	Subtitles []Subtitle     `json:"Subtitles,omitempty"`
	Error     *responseError `json:"Error,omitempty"`
}

type responseDocument struct {
	Response Response `json:"Response"`
}

// ParseResponse decodes a backend response document. A populated Error field
// is returned as a server-kind TTSError carrying the raw document.
func ParseResponse(raw []byte) (*Response, error) {
	var doc responseDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, shared.NewDecodeError("response parsing failed", err)
	}
	if doc.Response.Error != nil {
		return nil, shared.NewServerError(&shared.ServiceError{
			Code:     doc.Response.Error.Code,
			Message:  doc.Response.Error.Message,
			Response: string(raw),
		})
	}
	return &doc.Response, nil
}

func (r *Response) DecodeAudio() ([]byte, error) {
	if r.Audio == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(r.Audio)
	if err != nil {
		return nil, shared.NewDecodeError("audio payload is not valid base64", err)
	}
	return data, nil
}

// ParseSubtitles extracts the subtitle list from a raw response document, if
// any. Used by the playback queue for progress estimation.
func ParseSubtitles(raw string) []Subtitle {
	if raw == "" {
		return nil
	}
	var doc responseDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	return doc.Response.Subtitles
}

// StreamRequest binds one streaming exchange. Params is an immutable snapshot.
type StreamRequest struct {
	Credentials credentials.Set
	Params      map[string]any
	Region      string
	Timeouts    params.Timeouts
}

// StreamHandler receives the events of one streaming exchange. Nil fields are
// skipped.
type StreamHandler struct {
	OnData    func(data []byte)
	OnMessage func(raw []byte)
	OnFinish  func()
	OnError   func(err error)
}

// Request is one queued synthesis call.
type Request struct {
	Text        string
	UtteranceID string
	Credentials credentials.Set
	Params      map[string]any
	Region      string
	Timeouts    params.Timeouts
}

// Result is a completed online synthesis.
type Result struct {
	Audio       []byte
	RequestID   string
	RawResponse string
	Subtitles   []Subtitle
}
