package offline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/shared"
)

// MockEngine synthesizes silence after a short delay. Used in tests and as a
// stand-in when no real on-device engine is linked in.
type MockEngine struct {
	Voices     []string
	DeviceID   string
	ExpireTime string
	AuthCode   int
	Delay      time.Duration
	SynthErr   error
}

func NewMockEngine(voices ...string) *MockEngine {
	if len(voices) == 0 {
		voices = []string{"pb", "femalen"}
	}
	return &MockEngine{
		Voices:     voices,
		DeviceID:   "mock-device",
		ExpireTime: "2099-01-01 00:00:00",
		Delay:      10 * time.Millisecond,
	}
}

func (m *MockEngine) Authorize(_ context.Context, lic credentials.OfflineLicense) AuthInfo {
	if m.AuthCode != AuthSuccess {
		return AuthInfo{Code: m.AuthCode, Message: "mock authorization failure"}
	}
	if !lic.Valid() {
		return AuthInfo{Code: AuthParametersError, Message: "license parameters incomplete"}
	}
	return AuthInfo{
		Code:          AuthSuccess,
		Message:       "auth success",
		DeviceID:      m.DeviceID,
		ExpireTime:    m.ExpireTime,
		VoiceAuthList: strings.Join(m.Voices, ";"),
	}
}

func (m *MockEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	if m.SynthErr != nil {
		return nil, m.SynthErr
	}
	if len(req.Text) > MaxTextBytes {
		return nil, shared.NewOfflineError(shared.CodeOfflineTextTooLong, "text too long", nil)
	}
	if req.VoiceType != "" && !m.authorized(req.VoiceType) {
		return nil, shared.NewOfflineError(shared.CodeOfflineVoiceAuthFail,
			fmt.Sprintf("voice %q not authorized", req.VoiceType), nil)
	}

	select {
	case <-ctx.Done():
		return nil, shared.NewOfflineError(shared.CodeOfflineFailure, "synthesis interrupted", ctx.Err())
	case <-time.After(m.Delay):
	}

	// one silent PCM frame per input byte keeps output size text-proportional
	return &Result{Audio: make([]byte, len(req.Text)*32)}, nil
}

func (m *MockEngine) authorized(voice string) bool {
	for _, v := range m.Voices {
		if v == voice {
			return true
		}
	}
	return false
}

func (m *MockEngine) Close() error {
	return nil
}
