package offline

import (
	"context"
	"strings"

	"github.com/avelar-io/ttskit/internal/credentials"
)

// Authorization result codes.
const (
	AuthSuccess              = 0
	AuthNetworkConnectFailed = -10
	AuthServerFailed         = -11
	AuthParametersError      = -12
	AuthDeviceIDError        = -14
	AuthPlatformError        = -16
	AuthExpired              = -18
	AuthDecodeError          = -20
	AuthUnknownError         = -21
)

// MaxTextBytes is the longest text the on-device engine accepts.
const MaxTextBytes = 1024

// AuthInfo is the outcome of one authorization handshake. VoiceAuthList is a
// semicolon-delimited list of authorized voice names.
type AuthInfo struct {
	Code          int
	Message       string
	DeviceID      string
	ExpireTime    string
	VoiceAuthList string
	Response      string
}

func (i AuthInfo) Success() bool {
	return i.Code == AuthSuccess
}

func (i AuthInfo) AuthorizedVoices() []string {
	if i.VoiceAuthList == "" {
		return nil
	}
	return strings.Split(i.VoiceAuthList, ";")
}

type Request struct {
	Text        string
	UtteranceID string
	VoiceType   string
	Speed       float64
	Volume      float64
}

type Result struct {
	Audio []byte
}

// Engine is the on-device synthesis engine. The model internals and license
// cryptography live behind this interface.
type Engine interface {
	// Authorize runs the license handshake. It never panics on bad material;
	// the outcome is carried in AuthInfo.
	Authorize(ctx context.Context, lic credentials.OfflineLicense) AuthInfo
	Synthesize(ctx context.Context, req Request) (*Result, error)
	Close() error
}
