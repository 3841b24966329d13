package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/tripcache/tripcache/internal/config"
	"github.com/tripcache/tripcache/internal/control"
	"github.com/tripcache/tripcache/internal/proxy"
)

// originStub 模拟应用源站，可整体切换为不可达。
type originStub struct {
	mu      sync.Mutex
	down    bool
	version string
	hits    map[string]int
}

func newOriginStub(t *testing.T) (*originStub, *httptest.Server) {
	t.Helper()
	stub := &originStub{version: "v1", hits: make(map[string]int)}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.mu.Lock()
		down, version := stub.down, stub.version
		stub.hits[r.URL.RequestURI()]++
		stub.mu.Unlock()
		if down {
			// 模拟断网：直接关闭连接
			hj, ok := w.(http.Hijacker)
			if ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
				return
			}
		}
		switch r.URL.Path {
		case "/api/fx":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"base":%q,"date":"2026-03-01","rates":{%q:1.5}}`, r.URL.Query().Get("base"), r.URL.Query().Get("quote"))
		default:
			fmt.Fprintf(w, "%s %s", version, r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (o *originStub) setDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

func testConfig(t *testing.T, upstream, tag string) *config.Config {
	t.Helper()
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:      5000,
			StoragePath:     filepath.Join(t.TempDir(), "storage"),
			StorageBackend:  "sqlite",
			GenerationTag:   tag,
			Upstream:        upstream,
			UpstreamTimeout: config.Duration(config.DefaultUpstreamTimeout),
		},
		Policy: config.PolicyConfig{
			PackTTL:             config.Duration(config.DefaultPackTTL),
			FXStaleAfter:        config.Duration(config.DefaultFXStaleAfter),
			PackConcurrency:     2,
			StaticManifest:      []string{"/", "/app.js"},
			PackQuoteCurrencies: []string{"USD"},
		},
		Countries: []config.CountryConfig{{Code: "JP", Currency: "JPY", Locale: "ja"}},
	}
}

func newTestService(t *testing.T, cfg *config.Config) *service {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	svc, err := newService(cfg, logger)
	if err != nil {
		t.Fatalf("newService error: %v", err)
	}
	t.Cleanup(func() { _ = svc.close() })
	return svc
}

func doRequest(t *testing.T, svc *service, method, target string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := svc.app.Test(httptest.NewRequest(method, "http://tripcache.local"+target, body))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(data)
}

func TestServiceOfflineFlow(t *testing.T) {
	origin, srv := newOriginStub(t)
	svc := newTestService(t, testConfig(t, srv.URL, "v1"))

	if err := svc.start(t.Context()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	ctrl := `{"type":"DOWNLOAD_COUNTRY_PACK","countryIso2":"JP"}`
	resp := doRequest(t, svc, http.MethodPost, control.Path, bytes.NewBufferString(ctrl))
	var reply control.Reply
	if err := json.Unmarshal([]byte(readBody(t, resp)), &reply); err != nil {
		t.Fatalf("decode control reply: %v", err)
	}
	if !reply.OK() || reply.CountryISO2 != "JP" {
		t.Fatalf("unexpected control reply: %+v", reply)
	}

	origin.setDown(true)

	resp = doRequest(t, svc, http.MethodGet, "/app.js", nil)
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || body != "v1 /app.js" {
		t.Fatalf("static asset should be served offline, got %d %s", resp.StatusCode, body)
	}

	resp = doRequest(t, svc, http.MethodGet, "/api/fx?quote=USD&base=JPY", nil)
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK || resp.Header.Get(proxy.HeaderSource) != "cache" {
		t.Fatalf("pack rate should come from cache, got %d %s (%s)", resp.StatusCode, body, resp.Header.Get(proxy.HeaderSource))
	}

	resp = doRequest(t, svc, http.MethodGet, "/trips/7", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("uncached page offline should be 503, got %d", resp.StatusCode)
	}
	readBody(t, resp)

	resp = doRequest(t, svc, http.MethodPost, control.Path, bytes.NewBufferString(`{"type":"GET_CACHE_SIZE"}`))
	reply = control.Reply{}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &reply); err != nil {
		t.Fatalf("decode size reply: %v", err)
	}
	if reply.Size == nil || *reply.Size <= 0 {
		t.Fatalf("expected positive cache size, got %+v", reply)
	}
}

func TestServiceReloadUpgradesGeneration(t *testing.T) {
	origin, srv := newOriginStub(t)
	cfg := testConfig(t, srv.URL, "v1")
	cfg.Global.StorageBackend = "fs"
	svc := newTestService(t, cfg)
	if err := svc.start(t.Context()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	origin.mu.Lock()
	origin.version = "v2"
	origin.mu.Unlock()

	configPath := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
GenerationTag = "v2"
Upstream = "%s"
StaticManifest = ["/", "/app.js"]
`, filepath.ToSlash(cfg.Global.StoragePath), srv.URL))

	if err := svc.reload(t.Context(), configPath); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if tag := svc.proxy.GenerationTag(); tag != "v2" {
		t.Fatalf("expected generation v2, got %s", tag)
	}

	origin.setDown(true)
	resp := doRequest(t, svc, http.MethodGet, "/app.js", nil)
	if body := readBody(t, resp); body != "v2 /app.js" {
		t.Fatalf("upgraded generation should serve new assets, got %s", body)
	}

	resp = doRequest(t, svc, http.MethodGet, "/-/status", nil)
	var status struct {
		GenerationTag string   `json:"generation_tag"`
		Stores        []string `json:"stores"`
	}
	if err := json.Unmarshal([]byte(readBody(t, resp)), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.GenerationTag != "v2" {
		t.Fatalf("status should report v2, got %+v", status)
	}
	for _, name := range status.Stores {
		if !strings.HasSuffix(name, "-v2") {
			t.Fatalf("old generation store survived: %v", status.Stores)
		}
	}
}

func TestServiceReloadSameTagIsNoop(t *testing.T) {
	_, srv := newOriginStub(t)
	cfg := testConfig(t, srv.URL, "v1")
	svc := newTestService(t, cfg)
	if err := svc.start(t.Context()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	configPath := writeConfigFile(t, fmt.Sprintf(`
StoragePath = "%s"
GenerationTag = "v1"
LogLevel = "debug"
Upstream = "%s"
`, filepath.ToSlash(cfg.Global.StoragePath), srv.URL))
	if err := svc.reload(t.Context(), configPath); err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if tag := svc.proxy.GenerationTag(); tag != "v1" {
		t.Fatalf("generation should stay v1, got %s", tag)
	}
	if level := svc.logger.GetLevel(); level != logrus.DebugLevel {
		t.Fatalf("reload should apply LogLevel, got %s", level)
	}
}

func TestServiceRejectsBadUpstream(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := testConfig(t, "not a url", "v1")
	if _, err := newService(cfg, logger); err == nil {
		t.Fatalf("invalid upstream should fail service construction")
	}
}
