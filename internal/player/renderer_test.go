package player

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

func TestStreamRendererWritesAllBytes(t *testing.T) {
	var buf bytes.Buffer
	r := NewStreamRenderer(&buf)
	audio := make([]byte, 1000)
	for i := range audio {
		audio[i] = byte(i)
	}
	if err := r.Play(context.Background(), audio, 30*time.Millisecond); err != nil {
		t.Fatalf("play: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), audio) {
		t.Errorf("expected %d bytes written intact, got %d", len(audio), buf.Len())
	}
}

func TestStreamRendererCancellation(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	w := writerFunc(func(p []byte) (int, error) {
		mu.Lock()
		defer mu.Unlock()
		return buf.Write(p)
	})
	r := NewStreamRenderer(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Play(ctx, make([]byte, 100000), time.Hour)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	mu.Lock()
	defer mu.Unlock()
	if buf.Len() >= 100000 {
		t.Error("cancellation should stop the stream early")
	}
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestTimedRendererCancelWhilePaused(t *testing.T) {
	r := NewTimedRenderer()
	if err := r.Pause(); err != nil {
		t.Fatalf("pause: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Play(ctx, nil, time.Hour)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("paused renderer did not observe cancellation")
	}
}
