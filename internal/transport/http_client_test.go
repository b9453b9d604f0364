package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/params"
	"github.com/avelar-io/ttskit/internal/shared"
)

func testRequest(text string) Request {
	return Request{
		Text:        text,
		UtteranceID: "u1",
		Credentials: credentials.Set{AppID: "1", SecretID: "id", SecretKey: "key"},
		Params:      map[string]any{params.KeyVoiceType: 1001},
		Timeouts:    params.Timeouts{}.Normalize(),
	}
}

func TestHTTPClientSynthesize(t *testing.T) {
	audio := base64.StdEncoding.EncodeToString([]byte("mp3-bytes"))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Secret-Id") != "id" {
			t.Error("expected signed request headers")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body[params.KeyText] != "hello world" {
			t.Errorf("expected text in body, got %v", body[params.KeyText])
		}
		if body["SessionId"] != "u1" {
			t.Errorf("expected utterance id in body, got %v", body["SessionId"])
		}
		_, _ = w.Write([]byte(`{"Response":{"RequestId":"req-9","Audio":"` + audio + `"}}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(HTTPClientConfig{Endpoint: ts.URL, Signer: PassthroughSigner{}})
	res, err := client.Synthesize(context.Background(), testRequest("hello world"))
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.RequestID != "req-9" {
		t.Errorf("expected request id 'req-9', got %q", res.RequestID)
	}
	if string(res.Audio) != "mp3-bytes" {
		t.Errorf("expected decoded audio, got %q", res.Audio)
	}
	if res.RawResponse == "" {
		t.Error("expected raw response to be carried")
	}
}

func TestHTTPClientServerErrorPayload(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Response":{"Error":{"Code":"LimitExceeded","Message":"quota"}}}`))
	}))
	defer ts.Close()

	client := NewHTTPClient(HTTPClientConfig{Endpoint: ts.URL, Signer: PassthroughSigner{}})
	_, err := client.Synthesize(context.Background(), testRequest("hi"))
	if err == nil {
		t.Fatal("expected a server error")
	}
	kind, _ := shared.ErrKind(err)
	if kind != shared.KindServer {
		t.Errorf("expected server kind, got %q", kind)
	}
}

func TestHTTPClientHTTPStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewHTTPClient(HTTPClientConfig{Endpoint: ts.URL, Signer: PassthroughSigner{}})
	_, err := client.Synthesize(context.Background(), testRequest("hi"))
	if err == nil {
		t.Fatal("expected an error for non-200 status")
	}
	kind, _ := shared.ErrKind(err)
	if kind != shared.KindServer {
		t.Errorf("expected server kind, got %q", kind)
	}
}

func TestHTTPClientConnectFailure(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{Endpoint: "http://127.0.0.1:1", Signer: PassthroughSigner{}})
	_, err := client.Synthesize(context.Background(), testRequest("hi"))
	if err == nil {
		t.Fatal("expected a transport error")
	}
	kind, _ := shared.ErrKind(err)
	if kind != shared.KindTransport {
		t.Errorf("expected transport kind, got %q", kind)
	}
}
