package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/internal/config"
	"github.com/MrWong99/voxnote/internal/session"
	audiomock "github.com/MrWong99/voxnote/pkg/audio/mock"
	batchmock "github.com/MrWong99/voxnote/pkg/provider/batch/mock"
	"github.com/MrWong99/voxnote/pkg/provider/stt"
	sttmock "github.com/MrWong99/voxnote/pkg/provider/stt/mock"
	"github.com/MrWong99/voxnote/pkg/resultlog"
	resultmock "github.com/MrWong99/voxnote/pkg/resultlog/mock"
	"github.com/MrWong99/voxnote/pkg/types"
)

// ── helpers ──────────────────────────────────────────────────────────────────

// englishIdentifier scores every non-empty text as English.
type englishIdentifier struct{}

func (englishIdentifier) Identify(text string) []types.LanguageHypothesis {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return []types.LanguageHypothesis{{Language: "en", Confidence: 0.95}, {Language: "de", Confidence: 0.05}}
}

type testApp struct {
	app       *App
	dev       *audiomock.Device
	streaming *sttmock.Provider
	batch     *batchmock.Recognizer
	store     *resultmock.Store
	server    *httptest.Server
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.Server.ListenAddr = ""
	return cfg
}

// newTestApp builds an App over mocks. setup runs before the HTTP server
// starts, so it may change mock fields without locking.
func newTestApp(t *testing.T, sess *sttmock.Session, result types.Candidate, setup ...func(*testApp)) *testApp {
	t.Helper()
	ta := &testApp{
		dev:       &audiomock.Device{},
		streaming: &sttmock.Provider{Sessions: []*sttmock.Session{sess}},
		batch:     &batchmock.Recognizer{Result: result},
		store:     &resultmock.Store{},
	}
	for _, fn := range setup {
		fn(ta)
	}
	clock := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	a, err := New(context.Background(), testConfig(t), &Providers{
		Streaming: ta.streaming,
		Batch:     ta.batch,
		Device:    ta.dev,
	},
		WithResultStore(ta.store),
		WithIdentifier(englishIdentifier{}),
		withClock(func() time.Time { return clock }),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	ta.app = a
	ta.server = httptest.NewServer(a.Handler())
	t.Cleanup(ta.server.Close)
	return ta
}

func (ta *testApp) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ta.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := ta.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

// push feeds pcm into the open device stream and waits until it is consumed.
func (ta *testApp) push(t *testing.T, pcm []byte) {
	t.Helper()
	stream := ta.dev.LastStream()
	if stream == nil {
		t.Fatal("no device stream open")
	}
	stream.Push(pcm)
	deadline := time.Now().Add(2 * time.Second)
	for !stream.Drained() {
		if time.Now().After(deadline) {
			t.Fatal("capture did not drain the device")
		}
		time.Sleep(time.Millisecond)
	}
}

// ── tests ────────────────────────────────────────────────────────────────────

func TestNew_RequiresDevice(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), testConfig(t), &Providers{}, WithIdentifier(englishIdentifier{}))
	if err == nil {
		t.Fatal("expected error without an audio device")
	}
}

func TestAPI_StartStopPersistsResult(t *testing.T) {
	t.Parallel()
	sess := sttmock.NewSession()
	sess.FinalOnClose = &stt.Transcript{Text: "remind me at noon", IsFinal: true, Confidence: 0.7, ConfidenceReported: true}
	ta := newTestApp(t, sess, types.Candidate{
		Text: "Remind me at noon.", Confidence: 0.9, ConfidenceReported: true, IsFinal: true, Language: "en",
	})

	resp := ta.do(t, http.MethodPost, "/v1/sessions", `{"language":"en-US"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	started := decode[sessionResponse](t, resp)
	if started.SessionID == 0 || started.State != "capturing" || started.Language != "en-US" {
		t.Errorf("start response = %+v", started)
	}

	ta.push(t, bytes.Repeat([]byte{1, 0}, 1024))

	cur := decode[sessionResponse](t, ta.do(t, http.MethodGet, "/v1/sessions/current", ""))
	if cur.SessionID != started.SessionID || cur.State != "capturing" {
		t.Errorf("current = %+v", cur)
	}

	resp = ta.do(t, http.MethodPost, "/v1/sessions/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	outcome := decode[session.Outcome](t, resp)
	if outcome.Result.Text != "Remind me at noon." || outcome.Result.Engine != types.EngineBatch {
		t.Errorf("outcome result = %+v", outcome.Result)
	}

	records := ta.store.Snapshot()
	if len(records) != 1 {
		t.Fatalf("stored %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.ID == "" || rec.SessionID != started.SessionID || rec.Text != "Remind me at noon." {
		t.Errorf("record = %+v", rec)
	}
	if !rec.CreatedAt.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v", rec.CreatedAt)
	}

	results := decode[[]resultlog.Record](t, ta.do(t, http.MethodGet, "/v1/results?limit=5", ""))
	if len(results) != 1 || results[0].ID != rec.ID {
		t.Errorf("results = %+v", results)
	}
}

func TestAPI_StopWithoutSession(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	resp := ta.do(t, http.MethodPost, "/v1/sessions/stop", "")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusConflict)
	}
}

func TestAPI_StartDeviceFailure(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{}, func(ta *testApp) {
		ta.dev.OpenErr = errors.New("no microphone")
	})

	resp := ta.do(t, http.MethodPost, "/v1/sessions", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusServiceUnavailable)
	}
	if body := decode[errorResponse](t, resp); !strings.Contains(body.Error, "no microphone") {
		t.Errorf("error = %q", body.Error)
	}
}

func TestAPI_StartRejectsBadBody(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	resp := ta.do(t, http.MethodPost, "/v1/sessions", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestAPI_AbandonDiscardsSession(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{Text: "never stored"})

	if resp := ta.do(t, http.MethodPost, "/v1/sessions", ""); resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	if resp := ta.do(t, http.MethodDelete, "/v1/sessions/current", ""); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("abandon status = %d", resp.StatusCode)
	}

	cur := decode[sessionResponse](t, ta.do(t, http.MethodGet, "/v1/sessions/current", ""))
	if cur.SessionID != 0 || cur.State != "idle" {
		t.Errorf("current after abandon = %+v", cur)
	}
	if n := len(ta.store.Snapshot()); n != 0 {
		t.Errorf("abandoned session stored %d records", n)
	}
}

func TestAPI_ResultsLimitValidation(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	resp := ta.do(t, http.MethodGet, "/v1/results?limit=many", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
}

func TestAPI_ReadyzReflectsResultLog(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	if resp := ta.do(t, http.MethodGet, "/readyz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
	ta.store.SetPingErr(errors.New("disk gone"))
	if resp := ta.do(t, http.MethodGet, "/readyz", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("readyz status = %d, want 503", resp.StatusCode)
	}
	if resp := ta.do(t, http.MethodGet, "/healthz", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp.StatusCode)
	}
}

func TestAPI_JSONContentType(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	resp := ta.do(t, http.MethodGet, "/v1/sessions/current", "")
	if resp.Header.Get("Content-Type") != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ta.app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()
	ta := newTestApp(t, sttmock.NewSession(), types.Candidate{})

	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := ta.app.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if ta.store.CallCount("Close") != 1 {
		t.Errorf("store closed %d times, want 1", ta.store.CallCount("Close"))
	}
	if _, err := ta.app.Manager().Start(context.Background(), ""); err == nil {
		t.Error("Start after Shutdown succeeded")
	}
}
