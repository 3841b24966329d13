package server

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterSendsRequestsToProxy(t *testing.T) {
	app, recorder := newTestApp(t)

	req := httptest.NewRequest("GET", "http://app.local/trips/42?x=1", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s)", resp.StatusCode, string(body))
	}
	if recorder.lastPath != "/trips/42" {
		t.Fatalf("expected proxy to see /trips/42, got %s", recorder.lastPath)
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if recorder.lastRequestID == "" {
		t.Fatalf("proxy handler should see the request id")
	}
}

func TestRouterKeepsIncomingRequestID(t *testing.T) {
	app, _ := newTestApp(t)

	req := httptest.NewRequest("GET", "http://app.local/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected request id to be preserved, got %s", got)
	}
}

func TestRouterBypassesDiagnostics(t *testing.T) {
	app, recorder := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://app.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("expected diagnostics route, got %d %s", resp.StatusCode, string(body))
	}
	if recorder.calls != 0 {
		t.Fatalf("diagnostics must not reach proxy")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	if _, err := NewApp(AppOptions{Proxy: &proxyRecorder{}, ListenPort: 1}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, ListenPort: 1}); err == nil {
		t.Fatalf("missing proxy should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Proxy: &proxyRecorder{}}); err == nil {
		t.Fatalf("missing port should fail")
	}
}

func newTestApp(t *testing.T) (*fiber.App, *proxyRecorder) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &proxyRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Proxy:      recorder,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}

type proxyRecorder struct {
	calls         int
	lastPath      string
	lastRequestID string
}

func (p *proxyRecorder) Handle(c fiber.Ctx) error {
	p.calls++
	p.lastPath = c.Path()
	p.lastRequestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
