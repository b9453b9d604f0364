package transport

import (
	"context"
	"net/http"
	"net/url"

	"github.com/avelar-io/ttskit/internal/credentials"
)

// Signer attaches backend authentication to an outgoing request. The signing
// algorithm and credential handling are owned by the implementation.
type Signer interface {
	SignRequest(req *http.Request, creds credentials.Set) error
	SignQuery(q url.Values, creds credentials.Set) error
}

// StreamClient opens one streaming synthesis exchange. Events are delivered to
// the handler from a single goroutine, in arrival order, ending with exactly
// one OnFinish or OnError.
type StreamClient interface {
	OpenStream(ctx context.Context, req StreamRequest, h StreamHandler) (Stream, error)
}

// Stream is a live streaming exchange. Close aborts it; the handler then
// receives no further events.
type Stream interface {
	Close() error
}

// RequestClient performs one request/response synthesis call.
type RequestClient interface {
	Synthesize(ctx context.Context, req Request) (*Result, error)
}
