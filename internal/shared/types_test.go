package shared

import (
	"strings"
	"testing"
	"time"
)

func TestNewID(t *testing.T) {
	id := NewID("req_")
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("expected prefix 'req_', got %q", id)
	}
	if len(id) != len("req_")+32 {
		t.Errorf("expected 32 hex chars after prefix, got %q", id)
	}
	if id == NewID("req_") {
		t.Error("expected unique ids")
	}
}

func TestEngineTypeString(t *testing.T) {
	if EngineOnline.String() != "online" {
		t.Errorf("expected 'online', got %q", EngineOnline.String())
	}
	if EngineOffline.String() != "offline" {
		t.Errorf("expected 'offline', got %q", EngineOffline.String())
	}
	if EngineType(42).String() != "unknown" {
		t.Errorf("expected 'unknown', got %q", EngineType(42).String())
	}
}

func TestNormalizeBackoff(t *testing.T) {
	tests := []struct {
		name  string
		input BackoffConfig
		want  BackoffConfig
	}{
		{
			name:  "zero config gets defaults",
			input: BackoffConfig{},
			want: BackoffConfig{
				Initial:     100 * time.Millisecond,
				MaxAttempts: 5,
				MaxDelay:    2 * time.Second,
			},
		},
		{
			name: "explicit values kept",
			input: BackoffConfig{
				Initial:     time.Second,
				MaxAttempts: 3,
				MaxDelay:    10 * time.Second,
			},
			want: BackoffConfig{
				Initial:     time.Second,
				MaxAttempts: 3,
				MaxDelay:    10 * time.Second,
			},
		},
		{
			name: "negative values replaced",
			input: BackoffConfig{
				Initial:     -1,
				MaxAttempts: -1,
				MaxDelay:    -1,
			},
			want: BackoffConfig{
				Initial:     100 * time.Millisecond,
				MaxAttempts: 5,
				MaxDelay:    2 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeBackoff(tt.input)
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}
