package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/pulse-link-core/internal/devicelink"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-link-core/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-link-core/internal/pattern"
	"github.com/nerrad567/pulse-link-core/internal/router"
)

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "json", Output: "stderr"}, "test")
}

func newOfflineLink(t *testing.T) *devicelink.Client {
	t.Helper()
	c := devicelink.New(devicelink.Config{
		URL:        "ws://127.0.0.1:1/link",
		ClientName: "test",
	})
	c.SetDialer(func(_ context.Context, _ string) (devicelink.Conn, error) {
		return nil, errors.New("dial refused")
	})
	c.SetBackoffSleep(func(time.Duration) {})
	t.Cleanup(func() { c.Close() })
	return c
}

// newVendorServer serves a descriptor endpoint at /pattern and pattern
// bodies at /body/{id}.
func newVendorServer(t *testing.T, code int, body string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/pattern", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("videoId")
		desc := map[string]any{
			"code": code,
			"data": map[string]any{"pattern": srv.URL + "/body/" + id},
		}
		_ = json.NewEncoder(w).Encode(desc)
	})
	mux.HandleFunc("/body/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type testHarness struct {
	server *Server
	http   *httptest.Server
}

func newHarness(t *testing.T, vendorCode int, vendorBody string) *testHarness {
	t.Helper()

	vendor := newVendorServer(t, vendorCode, vendorBody)
	patterns, err := pattern.NewCache(pattern.Config{
		CacheDir:   t.TempDir(),
		Endpoint:   vendor.URL + "/pattern",
		PartnerTag: "test-partner",
	})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	link := newOfflineLink(t)

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
			CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
		},
		Logger:   testLogger(),
		Link:     link,
		Router:   router.New(link, 1.0),
		Patterns: patterns,
		Version:  "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(ts.Close)
	return &testHarness{server: srv, http: ts}
}

func (h *testHarness) post(t *testing.T, path, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(h.http.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func (h *testHarness) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(h.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

const vendorBody = `[{"t":0,"v":0},{"t":1000,"v":8},{"t":2000,"v":16}]`

func TestStatusEndpoint(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, body := h.get(t, "/status")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["link_connected"] != false {
		t.Errorf("link_connected = %v, want false", body["link_connected"])
	}
	if body["link_state"] != "disconnected" {
		t.Errorf("link_state = %v, want disconnected", body["link_state"])
	}
	if body["device_count"] != float64(0) {
		t.Errorf("device_count = %v, want 0", body["device_count"])
	}
	if body["version"] != "test" {
		t.Errorf("version = %v, want test", body["version"])
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, body := h.get(t, "/health")
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestVideoEventDispatch(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"play", `{"type":"play"}`, http.StatusOK},
		{"pause", `{"type":"pause"}`, http.StatusOK},
		{"scene change", `{"type":"scene_change","intensity":"high"}`, http.StatusOK},
		{"scene change default intensity", `{"type":"scene_change"}`, http.StatusOK},
		{"test event", `{"type":"test"}`, http.StatusOK},
		{"audio level", `{"type":"audio_level","level":0.5}`, http.StatusOK},
		{"negative level", `{"type":"audio_level","level":-1}`, http.StatusBadRequest},
		{"unknown type", `{"type":"seek"}`, http.StatusBadRequest},
		{"not json", `nope`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.post(t, "/api/video-event", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && body["status"] != "ok" {
				t.Errorf("body = %v, want status ok", body)
			}
		})
	}
}

func TestDownloadFunscript(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, body := h.post(t, "/api/download-funscript", `{"video_id":"12345","title":"Clip","duration":120000}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200: %v", status, body)
	}
	if body["success"] != true {
		t.Errorf("success = %v, want true", body["success"])
	}
	// t==0 entries are dropped during conversion.
	if body["actions"] != float64(2) {
		t.Errorf("actions = %v, want 2", body["actions"])
	}
	if body["cached"] != false {
		t.Errorf("cached = %v, want false on first download", body["cached"])
	}

	status, body = h.post(t, "/api/download-funscript", `{"video_id":"12345","title":"Clip","duration":120000}`)
	if status != http.StatusOK {
		t.Fatalf("second status = %d, want 200", status)
	}
	if body["cached"] != true {
		t.Errorf("cached = %v, want true on repeat download", body["cached"])
	}
}

func TestDownloadFunscriptMissingID(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, _ := h.post(t, "/api/download-funscript", `{"title":"Clip"}`)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestDownloadFunscriptNoContent(t *testing.T) {
	h := newHarness(t, 404, vendorBody)

	status, _ := h.post(t, "/api/download-funscript", `{"video_id":"99999"}`)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestGetFunscript(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, _ := h.get(t, "/api/funscript/12345")
	if status != http.StatusNotFound {
		t.Fatalf("status before download = %d, want 404", status)
	}

	if status, _ := h.post(t, "/api/download-funscript", `{"video_id":"12345"}`); status != http.StatusOK {
		t.Fatalf("download status = %d, want 200", status)
	}

	status, body := h.get(t, "/api/funscript/12345")
	if status != http.StatusOK {
		t.Fatalf("status after download = %d, want 200", status)
	}
	if body["cached"] != true {
		t.Errorf("cached = %v, want true", body["cached"])
	}
}

func TestAutoFunscript(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantID     string
	}{
		{"known domain", `{"url":"https://www.adulttime.com/en/video/studio/title/54321","title":"Clip"}`, http.StatusOK, "54321"},
		{"unknown domain", `{"url":"https://example.com/video/123"}`, http.StatusBadRequest, ""},
		{"missing url", `{"title":"Clip"}`, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.post(t, "/api/auto-funscript", tt.body)
			if status != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %v", status, tt.wantStatus, body)
			}
			if tt.wantID != "" && body["video_id"] != tt.wantID {
				t.Errorf("video_id = %v, want %s", body["video_id"], tt.wantID)
			}
		})
	}
}

func TestConnectDeviceReportsFailure(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, body := h.post(t, "/api/connect-device", `{}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200", status)
	}
	if body["status"] != "failed" {
		t.Errorf("status field = %v, want failed", body["status"])
	}
}

func TestHistoryUnavailableWithoutStore(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	status, _ := h.get(t, "/api/history")
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
}

func TestCORSHeaders(t *testing.T) {
	h := newHarness(t, 0, vendorBody)

	req, _ := http.NewRequest(http.MethodOptions, h.http.URL+"/status", nil)
	req.Header.Set("Origin", "https://player.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://player.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestStartPortSearchExhausted(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	link := newOfflineLink(t)
	patterns, err := pattern.NewCache(pattern.Config{CacheDir: t.TempDir(), Endpoint: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewCache: %v", err)
	}

	srv, err := New(Deps{
		Config: config.ServerConfig{
			Host:               "127.0.0.1",
			Port:               port,
			PortSearchAttempts: 1,
		},
		Logger:   testLogger(),
		Link:     link,
		Router:   router.New(link, 1.0),
		Patterns: patterns,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	err = srv.Start(context.Background())
	if !errors.Is(err, ErrPortSearchExhausted) {
		t.Fatalf("Start error = %v, want ErrPortSearchExhausted", err)
	}
}
