package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avelar-io/ttskit/internal/credentials"
	"github.com/avelar-io/ttskit/internal/offline"
	"github.com/avelar-io/ttskit/internal/shared"
	"github.com/avelar-io/ttskit/internal/transport"
)

type fakeOnline struct {
	mu    sync.Mutex
	calls []transport.Request
	fail  bool
	block chan struct{}
}

func (f *fakeOnline) Synthesize(ctx context.Context, req transport.Request) (*transport.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fail := f.fail
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, shared.NewTransportError("request aborted", ctx.Err())
		}
	}
	if fail {
		return nil, shared.NewTransportError("backend unreachable", nil)
	}
	return &transport.Result{
		Audio:       []byte("audio:" + req.Text),
		RequestID:   "rid-" + req.UtteranceID,
		RawResponse: `{"Response":{}}`,
	}, nil
}

func (f *fakeOnline) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *fakeOnline) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeOffline struct {
	mu       sync.Mutex
	authCode int
	authGate chan struct{}
	synths   int
	synthErr error
}

func (f *fakeOffline) Authorize(ctx context.Context, _ credentials.OfflineLicense) offline.AuthInfo {
	if f.authGate != nil {
		select {
		case <-f.authGate:
		case <-ctx.Done():
			return offline.AuthInfo{Code: offline.AuthUnknownError, Message: "interrupted"}
		}
	}
	f.mu.Lock()
	code := f.authCode
	f.mu.Unlock()
	if code != offline.AuthSuccess {
		return offline.AuthInfo{Code: code, Message: "denied"}
	}
	return offline.AuthInfo{
		Code:          offline.AuthSuccess,
		Message:       "auth success",
		DeviceID:      "dev-1",
		ExpireTime:    "2099-01-01 00:00:00",
		VoiceAuthList: "pb;femalen",
	}
}

func (f *fakeOffline) Synthesize(_ context.Context, req offline.Request) (*offline.Result, error) {
	f.mu.Lock()
	f.synths++
	err := f.synthErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &offline.Result{Audio: []byte("offline:" + req.Text)}, nil
}

func (f *fakeOffline) synthCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.synths
}

func (f *fakeOffline) Close() error { return nil }

type result struct {
	utteranceID string
	text        string
	engineType  shared.EngineType
	requestID   string
	err         error
}

type delegateRecorder struct {
	mu      sync.Mutex
	results []result
	auths   []offline.AuthInfo
}

func (r *delegateRecorder) delegate() Delegate {
	return Delegate{
		OnSynthesizeData: func(data []byte, utteranceID, text string, engineType shared.EngineType, requestID, respJSON string) {
			r.mu.Lock()
			r.results = append(r.results, result{
				utteranceID: utteranceID,
				text:        text,
				engineType:  engineType,
				requestID:   requestID,
			})
			r.mu.Unlock()
		},
		OnError: func(err error, utteranceID, text string) {
			r.mu.Lock()
			r.results = append(r.results, result{utteranceID: utteranceID, text: text, err: err})
			r.mu.Unlock()
		},
		OnOfflineAuthInfo: func(info offline.AuthInfo) {
			r.mu.Lock()
			r.auths = append(r.auths, info)
			r.mu.Unlock()
		},
	}
}

func (r *delegateRecorder) waitResults(t *testing.T, n int) []result {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.results) >= n {
			out := append([]result(nil), r.results...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d results", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (r *delegateRecorder) waitAuth(t *testing.T) offline.AuthInfo {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.auths) > 0 {
			info := r.auths[0]
			r.mu.Unlock()
			return info
		}
		r.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for authorization callback")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testCreds() credentials.Provider {
	return credentials.NewStaticProvider(credentials.Set{AppID: "1", SecretID: "id", SecretKey: "key"})
}

func testLicense() credentials.OfflineLicense {
	return credentials.OfflineLicense{License: "lic", LicensePK: "pk", LicenseSign: "sign"}
}

func waitHealthTarget(t *testing.T, e *Engine, target shared.EngineType) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.Health().Target != target {
		if time.Now().After(deadline) {
			t.Fatalf("health target never became %v", target)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOnlineFIFOOrderAndCorrelation(t *testing.T) {
	online := &fakeOnline{}
	rec := &delegateRecorder{}
	e := New(Config{Credentials: testCreds(), Online: online})
	if err := e.Init(ModeOnline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	const n = 5
	for i := 0; i < n; i++ {
		if err := e.Synthesize(fmt.Sprintf("text-%d", i), fmt.Sprintf("u%d", i)); err != nil {
			t.Fatalf("synthesize %d: %v", i, err)
		}
	}

	results := rec.waitResults(t, n)
	if len(results) != n {
		t.Fatalf("expected %d results, got %d", n, len(results))
	}
	for i, res := range results {
		wantID := fmt.Sprintf("u%d", i)
		if res.utteranceID != wantID {
			t.Errorf("result %d: expected utterance %q, got %q", i, wantID, res.utteranceID)
		}
		if res.err != nil {
			t.Errorf("result %d: unexpected error %v", i, res.err)
		}
		if res.engineType != shared.EngineOnline {
			t.Errorf("result %d: expected online tag, got %v", i, res.engineType)
		}
		if res.requestID == "" {
			t.Errorf("result %d: expected non-empty request id", i)
		}
	}
}

func TestOnlineFailureIsolatedPerUtterance(t *testing.T) {
	online := &fakeOnline{}
	rec := &delegateRecorder{}
	e := New(Config{Credentials: testCreds(), Online: online})
	if err := e.Init(ModeOnline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	online.setFail(true)
	if err := e.Synthesize("will fail", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rec.waitResults(t, 1)

	online.setFail(false)
	if err := e.Synthesize("will pass", "u2"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	results := rec.waitResults(t, 2)
	if results[0].err == nil {
		t.Error("expected first utterance to fail")
	}
	if results[1].err != nil {
		t.Errorf("second utterance corrupted by first failure: %v", results[1].err)
	}
	if results[1].utteranceID != "u2" {
		t.Errorf("expected u2, got %q", results[1].utteranceID)
	}
}

func TestSynthesizeValidation(t *testing.T) {
	online := &fakeOnline{}
	e := New(Config{Credentials: testCreds(), Online: online})

	// before init
	err := e.Synthesize("hi", "u0")
	if kind, _ := shared.ErrKind(err); kind != shared.KindValidation {
		t.Errorf("expected validation error before init, got %v", err)
	}

	if err := e.Init(ModeOnline, Delegate{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	if err := e.Synthesize("", "u1"); err == nil {
		t.Error("expected validation error for empty text")
	}
	long := make([]byte, MaxOnlineTextBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	if err := e.Synthesize(string(long), "u2"); err == nil {
		t.Error("expected validation error for oversized text")
	}
	if online.callCount() != 0 {
		t.Error("validation failures must not reach the backend")
	}
}

func TestInitLifecycle(t *testing.T) {
	e := New(Config{Credentials: testCreds(), Online: &fakeOnline{}})
	if err := e.Init(ModeOnline, Delegate{}); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := e.Init(ModeOnline, Delegate{}); !errors.Is(err, shared.ErrEngineBusy) {
		t.Errorf("expected ErrEngineBusy, got %v", err)
	}
	if err := e.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if e.State() != StateReleased {
		t.Errorf("expected released state, got %v", e.State())
	}
	if err := e.Init(ModeOnline, Delegate{}); !errors.Is(err, shared.ErrEngineReleased) {
		t.Errorf("expected ErrEngineReleased after release, got %v", err)
	}
	if err := e.Release(); !errors.Is(err, shared.ErrEngineReleased) {
		t.Errorf("expected ErrEngineReleased on double release, got %v", err)
	}
}

func TestOfflineGatedOnAuthorization(t *testing.T) {
	off := &fakeOffline{authGate: make(chan struct{})}
	rec := &delegateRecorder{}
	e := New(Config{Offline: off, License: testLicense(), OfflineVoice: "pb"})
	if err := e.Init(ModeOffline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	// authorization handshake still pending
	if err := e.Synthesize("hello", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results := rec.waitResults(t, 1)
	kind, _ := shared.ErrKind(results[0].err)
	if kind != shared.KindOfflineAuth {
		t.Fatalf("expected offline-auth error, got %v", results[0].err)
	}
	if off.synthCount() != 0 {
		t.Error("synthesis reached the local engine before authorization")
	}

	close(off.authGate)
	info := rec.waitAuth(t)
	if !info.Success() {
		t.Fatalf("expected auth success, got %+v", info)
	}
	if info.DeviceID != "dev-1" || info.VoiceAuthList == "" {
		t.Errorf("expected device id and voice list, got %+v", info)
	}

	if err := e.Synthesize("hello again", "u2"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results = rec.waitResults(t, 2)
	if results[1].err != nil {
		t.Fatalf("expected success after auth, got %v", results[1].err)
	}
	if results[1].engineType != shared.EngineOffline {
		t.Errorf("expected offline tag, got %v", results[1].engineType)
	}
	if results[1].requestID != "" {
		t.Error("offline units carry no backend request id")
	}
}

func TestOfflineAuthFailure(t *testing.T) {
	off := &fakeOffline{authCode: offline.AuthExpired}
	rec := &delegateRecorder{}
	e := New(Config{Offline: off, License: testLicense()})
	if err := e.Init(ModeOffline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	info := rec.waitAuth(t)
	if info.Success() {
		t.Fatal("expected auth failure")
	}

	if err := e.Synthesize("hello", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results := rec.waitResults(t, 1)
	kind, _ := shared.ErrKind(results[0].err)
	if kind != shared.KindOfflineAuth {
		t.Errorf("expected offline-auth error, got %v", results[0].err)
	}
	if off.synthCount() != 0 {
		t.Error("synthesis reached the local engine despite failed auth")
	}
}

func TestMixedFallbackAndRecovery(t *testing.T) {
	online := &fakeOnline{}
	off := &fakeOffline{}
	rec := &delegateRecorder{}
	e := New(Config{
		Credentials:  testCreds(),
		Online:       online,
		Offline:      off,
		License:      testLicense(),
		OfflineVoice: "pb",
		Probe:        ProbeConfig{Interval: time.Hour, FailureThreshold: 1},
	})
	if err := e.Init(ModeMixed, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()
	rec.waitAuth(t)

	// a live transport failure meets the threshold and flips routing offline
	online.setFail(true)
	if err := e.Synthesize("first", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results := rec.waitResults(t, 1)
	if results[0].err == nil {
		t.Fatal("expected transport failure for u1")
	}
	waitHealthTarget(t, e, shared.EngineOffline)

	if err := e.Synthesize("second", "u2"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results = rec.waitResults(t, 2)
	if results[1].err != nil {
		t.Fatalf("expected offline success, got %v", results[1].err)
	}
	if results[1].engineType != shared.EngineOffline {
		t.Errorf("expected offline tag after fallback, got %v", results[1].engineType)
	}

	// a successful probe reverts routing online
	online.setFail(false)
	e.onProbeResult(nil)
	waitHealthTarget(t, e, shared.EngineOnline)

	if err := e.Synthesize("third", "u3"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results = rec.waitResults(t, 3)
	if results[2].engineType != shared.EngineOnline {
		t.Errorf("expected online tag after recovery, got %v", results[2].engineType)
	}
	if results[2].requestID == "" {
		t.Error("expected backend request id after recovery")
	}
}

func TestMixedHealthyNetworkCostsNoProbes(t *testing.T) {
	online := &fakeOnline{}
	off := &fakeOffline{}
	rec := &delegateRecorder{}
	e := New(Config{
		Credentials:  testCreds(),
		Online:       online,
		Offline:      off,
		License:      testLicense(),
		OfflineVoice: "pb",
		// a continuous-retry interval would spin visibly if probing ran
		// outside the degraded window
		Probe: ProbeConfig{Interval: 0, FailureThreshold: 1},
	})
	if err := e.Init(ModeMixed, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()
	rec.waitAuth(t)

	if err := e.Synthesize("only", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rec.waitResults(t, 1)

	time.Sleep(100 * time.Millisecond)
	if got := online.callCount(); got != 1 {
		t.Errorf("expected the live request only, backend saw %d calls", got)
	}
}

func TestMixedFirstTransientFailureKeepsOnlineRouting(t *testing.T) {
	e := New(Config{Credentials: testCreds(), Online: &fakeOnline{}, Offline: &fakeOffline{}})
	e.mode = ModeMixed
	e.target = shared.EngineOnline

	e.recordFailure()
	h := e.Health()
	if h.Target != shared.EngineOnline {
		t.Fatal("a single transient failure flipped routing offline")
	}
	if h.ConsecutiveFailures != 1 {
		t.Errorf("expected one recorded failure, got %d", h.ConsecutiveFailures)
	}

	e.recordFailure()
	if e.Health().Target != shared.EngineOffline {
		t.Error("expected offline routing once the default threshold is met")
	}

	e.recordSuccess()
	h = e.Health()
	if h.Target != shared.EngineOnline || h.ConsecutiveFailures != 0 {
		t.Errorf("expected reset after success, got %+v", h)
	}
}

func TestCancelDrainsQueueAndAbortsInFlight(t *testing.T) {
	online := &fakeOnline{block: make(chan struct{})}
	rec := &delegateRecorder{}
	e := New(Config{Credentials: testCreds(), Online: online})
	if err := e.Init(ModeOnline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	if err := e.Synthesize("in flight", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if err := e.Synthesize("queued", "u2"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}

	// wait until u1 is actually in flight
	deadline := time.Now().Add(2 * time.Second)
	for online.callCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first request never dispatched")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := e.Cancel(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	results := rec.waitResults(t, 1)
	if !shared.IsCancellation(results[0].err) {
		t.Errorf("expected cancellation error for in-flight utterance, got %v", results[0].err)
	}
	if results[0].utteranceID != "u1" {
		t.Errorf("expected u1, got %q", results[0].utteranceID)
	}

	// drained entries get no callbacks and nothing else is in flight
	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	count := len(rec.results)
	rec.mu.Unlock()
	if count != 1 {
		t.Errorf("expected exactly one callback after cancel, got %d", count)
	}
	if err := e.Cancel(); !errors.Is(err, shared.ErrNothingToCancel) {
		t.Errorf("expected ErrNothingToCancel, got %v", err)
	}
}

func TestCacheShortCircuitsRepeatedText(t *testing.T) {
	online := &fakeOnline{}
	rec := &delegateRecorder{}
	e := New(Config{Credentials: testCreds(), Online: online, Cache: NewMemoryCache()})
	if err := e.Init(ModeOnline, rec.delegate()); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer e.Release()

	if err := e.Synthesize("repeated", "u1"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rec.waitResults(t, 1)
	if err := e.Synthesize("repeated", "u2"); err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	results := rec.waitResults(t, 2)

	if online.callCount() != 1 {
		t.Errorf("expected one backend call, got %d", online.callCount())
	}
	if results[1].err != nil {
		t.Fatalf("expected cache hit success, got %v", results[1].err)
	}
	if results[1].requestID != results[0].requestID {
		t.Error("cache hit should carry the original request id")
	}
	if results[1].utteranceID != "u2" {
		t.Errorf("cache hit must correlate with the new utterance, got %q", results[1].utteranceID)
	}
}

func TestCacheKeyDependsOnParams(t *testing.T) {
	a := CacheKey("hello", map[string]any{"VoiceType": 1001})
	b := CacheKey("hello", map[string]any{"VoiceType": 1002})
	c := CacheKey("hello", map[string]any{"VoiceType": 1001})
	if a == b {
		t.Error("different params must produce different keys")
	}
	if a != c {
		t.Error("identical inputs must produce identical keys")
	}
}
