package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNothingToCancel = errors.New("nothing to cancel")
	ErrEngineBusy      = errors.New("engine already initialized")
	ErrEngineReleased  = errors.New("engine released")
	ErrQueueFull       = errors.New("playback queue is full")
)

// Kind classifies a synthesis failure. Cancellation is a kind of its own so
// callers can tell a user-initiated stop apart from a real failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindTransport        Kind = "transport"
	KindCancellation     Kind = "cancellation"
	KindServer           Kind = "server"
	KindOfflineAuth      Kind = "offline_auth"
	KindOfflineSynthesis Kind = "offline_synthesis"
	KindPlayer           Kind = "player"
)

const (
	CodeUninitialized        = -100
	CodeGenerateSignFail     = -101
	CodeNetworkConnectFailed = -102
	CodeDecodeFail           = -103
	CodeServerResponse       = -104
	CodeCancelled            = -105
	CodeCancelFailure        = -106
	CodeOfflineFailure       = -107
	CodeOfflineInitFailure   = -108
	CodeOfflineAuthFailure   = -109
	CodeOfflineTextTooLong   = -110
	CodeOfflineVoiceAuthFail = -111
)

// ServiceError carries an error payload returned by the remote backend.
type ServiceError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Response string `json:"response,omitempty"`
}

// TTSError is the error type surfaced by sessions and the engine. Service and
// Err are optional nested causes.
type TTSError struct {
	Kind    Kind
	Code    int
	Message string
	Service *ServiceError
	Err     error
}

func (e *TTSError) Error() string {
	if e.Service != nil {
		return fmt.Sprintf("%s (%d): %s: server %s: %s", e.Kind, e.Code, e.Message, e.Service.Code, e.Service.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Kind, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Kind, e.Code, e.Message)
}

func (e *TTSError) Unwrap() error {
	return e.Err
}

func NewValidationError(message string) *TTSError {
	return &TTSError{Kind: KindValidation, Code: CodeUninitialized, Message: message}
}

func NewTransportError(message string, err error) *TTSError {
	return &TTSError{Kind: KindTransport, Code: CodeNetworkConnectFailed, Message: message, Err: err}
}

func NewCancellationError(message string) *TTSError {
	return &TTSError{Kind: KindCancellation, Code: CodeCancelled, Message: message}
}

func NewServerError(svc *ServiceError) *TTSError {
	return &TTSError{Kind: KindServer, Code: CodeServerResponse, Message: "server returned an error", Service: svc}
}

func NewDecodeError(message string, err error) *TTSError {
	return &TTSError{Kind: KindServer, Code: CodeDecodeFail, Message: message, Err: err}
}

func NewOfflineAuthError(message string) *TTSError {
	return &TTSError{Kind: KindOfflineAuth, Code: CodeOfflineAuthFailure, Message: message}
}

func NewOfflineError(code int, message string, err error) *TTSError {
	return &TTSError{Kind: KindOfflineSynthesis, Code: code, Message: message, Err: err}
}

// ErrKind reports the Kind of err if it is (or wraps) a TTSError.
func ErrKind(err error) (Kind, bool) {
	var te *TTSError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsCancellation reports whether err represents a user-initiated stop.
func IsCancellation(err error) bool {
	k, ok := ErrKind(err)
	return ok && k == KindCancellation
}

const (
	PlayerCodeException       = -201
	PlayerCodeQueueFull       = -202
	PlayerCodeAudioReadFailed = -203
	PlayerCodeUnknown         = -204
)

// PlayerError is reported by the playback queue's error callback.
type PlayerError struct {
	Code    int
	Message string
	Err     error
}

func (e *PlayerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("player (%d): %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("player (%d): %s", e.Code, e.Message)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

func NewPlayerError(code int, message string, err error) *PlayerError {
	return &PlayerError{Code: code, Message: message, Err: err}
}
