package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"burnpaste/internal/id"
	"burnpaste/internal/paste"
	"burnpaste/internal/storage"
	"burnpaste/internal/storage/memstore"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEnv struct {
	srv   *Server
	store storage.Store
	clock *fixedClock
}

func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()
	store := memstore.New()
	clock := &fixedClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	svc, err := paste.New(paste.Options{
		Store:              store,
		IDGenerator:        id.New(0),
		Clock:              clock.Now,
		MaxBytes:           1024,
		TombstoneCacheSize: 64,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	cfg := Config{Service: svc, Store: store}
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return &testEnv{srv: srv, store: store, clock: clock}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) create(t *testing.T, body string) createResponse {
	t.Helper()
	rr := e.do(httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader(body)))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status %d: %s", rr.Code, rr.Body.String())
	}
	var out createResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return out
}

func (e *testEnv) fetch(id string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/pastes/"+id, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return e.do(req)
}

func decodePaste(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("fetch status %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode paste: %v", err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/healthz", nil))
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != `{"ok":true}` {
		t.Fatalf("healthz: %d %s", rr.Code, rr.Body.String())
	}
}

type downStore struct {
	storage.Store
}

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyzReportsStoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(httptest.NewRequest(http.MethodGet, "/api/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status %d", rr.Code)
	}

	down := newTestEnv(t, func(c *Config) { c.Store = downStore{Store: c.Store} })
	rr = down.do(httptest.NewRequest(http.MethodGet, "/api/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || strings.TrimSpace(rr.Body.String()) != `{"ok":false}` {
		t.Fatalf("readyz with failing store: %d %s", rr.Code, rr.Body.String())
	}
}

func TestCreateAndFetchUnlimited(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, `{"content":"hello\nworld"}`)
	if created.URL != "http://example.com/p/"+created.ID {
		t.Fatalf("unexpected url %q", created.URL)
	}

	for i := 0; i < 3; i++ {
		out := decodePaste(t, env.fetch(created.ID, nil))
		if out["content"] != "hello\nworld" {
			t.Fatalf("content: %v", out["content"])
		}
		if out["remaining_views"] != nil || out["expires_at"] != nil {
			t.Fatalf("expected null limits, got %v", out)
		}
		if _, ok := out["remaining_views"]; !ok {
			t.Fatal("remaining_views must be present as null")
		}
	}
}

func TestCreateValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		body      string
		wantField string
		wantMsg   string
	}{
		{`{"content":""}`, "content", "Content cannot be empty"},
		{`{"content":"x","ttlSeconds":0}`, "ttlSeconds", "Number must be greater than or equal to 1"},
		{`{"content":"x","ttlSeconds":-10}`, "ttlSeconds", "Number must be greater than or equal to 1"},
		{`{"content":"x","maxViews":0}`, "maxViews", "Number must be greater than or equal to 1"},
		{`{"content":"` + strings.Repeat("a", 1025) + `"}`, "content", "Content exceeds 1024 byte limit"},
		{`{"content":`, "", "Invalid JSON body"},
	}
	for _, tc := range cases {
		rr := env.do(httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader(tc.body)))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d", tc.body, rr.Code)
		}
		var out errorResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if out.Field != tc.wantField || out.Message != tc.wantMsg {
			t.Fatalf("%s: got %+v", tc.body, out)
		}
	}
}

func TestMaxViewsOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)

	once := env.create(t, `{"content":"burn","maxViews":1}`)
	out := decodePaste(t, env.fetch(once.ID, nil))
	if out["remaining_views"] != float64(0) {
		t.Fatalf("remaining_views: %v", out["remaining_views"])
	}
	if rr := env.fetch(once.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second fetch: %d", rr.Code)
	}

	thrice := env.create(t, `{"content":"three","maxViews":3}`)
	for _, want := range []float64{2, 1, 0} {
		out := decodePaste(t, env.fetch(thrice.ID, nil))
		if out["remaining_views"] != want {
			t.Fatalf("remaining_views = %v, want %v", out["remaining_views"], want)
		}
	}
	if rr := env.fetch(thrice.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("fourth fetch: %d", rr.Code)
	}
}

func TestExpiryBoundaryWithClockOverride(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowClockOverride = true })
	created := env.create(t, `{"content":"tick","ttlSeconds":60}`)

	expires := env.clock.Now().Add(60 * time.Second)
	at := map[string]string{TestNowHeader: strconv.FormatInt(expires.UnixMilli(), 10)}
	out := decodePaste(t, env.fetch(created.ID, at))
	if out["expires_at"] != "2025-06-01T10:01:00.000Z" {
		t.Fatalf("expires_at: %v", out["expires_at"])
	}

	after := map[string]string{TestNowHeader: strconv.FormatInt(expires.UnixMilli()+1, 10)}
	if rr := env.fetch(created.ID, after); rr.Code != http.StatusNotFound {
		t.Fatalf("fetch 1ms after expiry: %d", rr.Code)
	}

	// The override did not poison later reads at the real clock.
	decodePaste(t, env.fetch(created.ID, nil))
}

func TestClockOverrideIgnoredByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, `{"content":"tick","ttlSeconds":60}`)

	future := map[string]string{TestNowHeader: strconv.FormatInt(env.clock.Now().Add(time.Hour).UnixMilli(), 10)}
	decodePaste(t, env.fetch(created.ID, future))

	env.clock.Set(env.clock.Now().Add(61 * time.Second))
	if rr := env.fetch(created.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("fetch after real expiry: %d", rr.Code)
	}
}

func TestNotFoundBodiesMatch(t *testing.T) {
	env := newTestEnv(t, nil)
	expiring := env.create(t, `{"content":"x","ttlSeconds":1}`)
	burning := env.create(t, `{"content":"x","maxViews":1}`)
	decodePaste(t, env.fetch(burning.ID, nil))
	env.clock.Set(env.clock.Now().Add(time.Minute))

	var bodies []string
	for _, id := range []string{"deadbeef", expiring.ID, burning.ID} {
		rr := env.fetch(id, nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("%s: status %d", id, rr.Code)
		}
		bodies = append(bodies, rr.Body.String())
	}
	if strings.TrimSpace(bodies[0]) != `{"message":"Paste not found"}` {
		t.Fatalf("unexpected body %q", bodies[0])
	}
	if bodies[0] != bodies[1] || bodies[1] != bodies[2] {
		t.Fatalf("not-found bodies differ: %q", bodies)
	}
}

func TestShareURL(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/pastes", strings.NewReader(`{"content":"x"}`))
	req.Host = "paste.example"
	req.Header.Set("X-Forwarded-Proto", "https, http")
	rr := env.do(req)
	var out createResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.URL != "https://paste.example/p/"+out.ID {
		t.Fatalf("url from forwarded proto: %q", out.URL)
	}

	based := newTestEnv(t, func(c *Config) { c.BaseURL = "https://burn.example/share/" })
	created := based.create(t, `{"content":"x"}`)
	if created.URL != "https://burn.example/share/p/"+created.ID {
		t.Fatalf("url from base: %q", created.URL)
	}
}

func TestPlainTextViewConsumesView(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, `{"content":"<b>raw</b>","maxViews":1}`)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/p/"+created.ID, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("view status %d", rr.Code)
	}
	if rr.Body.String() != "<b>raw</b>" {
		t.Fatalf("view body %q", rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("content type %q", ct)
	}
	if cc := rr.Header().Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("cache control %q", cc)
	}

	if rr := env.fetch(created.ID, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("api after plain view: %d", rr.Code)
	}
}

func TestQRDoesNotConsumeView(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, `{"content":"scan me","maxViews":1}`)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/p/"+created.ID+"/qr", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("qr status %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("qr content type %q", rr.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatal("qr body is not a PNG")
	}

	out := decodePaste(t, env.fetch(created.ID, nil))
	if out["remaining_views"] != float64(0) {
		t.Fatalf("remaining_views after qr: %v", out["remaining_views"])
	}
	if rr := env.do(httptest.NewRequest(http.MethodGet, "/p/"+created.ID+"/qr", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("qr for spent paste: %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, `{"content":"count me"}`)
	decodePaste(t, env.fetch(created.ID, nil))
	env.fetch("00000000", nil)

	rr := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{
		"pastes_created_total 1",
		`paste_reads_total{result="served"} 1`,
		`paste_reads_total{result="not_found"} 1`,
		`http_request_duration_seconds_count{method="POST",route="/api/pastes",status="201"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q", want)
		}
	}
}
