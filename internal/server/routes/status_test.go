package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"

	"github.com/tripcache/tripcache/internal/proxy"
)

type fakeStatusSource struct {
	status proxy.Status
	err    error
}

func (f fakeStatusSource) Snapshot(context.Context) (proxy.Status, error) {
	return f.status, f.err
}

func TestEncodeStatusSplitsStaleStores(t *testing.T) {
	payload := encodeStatus(proxy.Status{
		GenerationTag: "v2.0.1",
		State:         "serving",
		Stores: []string{
			"static-assets-v2.0.1",
			"country-packs-v2.0.0",
			"dynamic-responses-v2.0.1",
		},
	})
	if len(payload.Stores) != 2 || payload.Stores[0] != "dynamic-responses-v2.0.1" {
		t.Fatalf("unexpected current stores: %v", payload.Stores)
	}
	if len(payload.StaleStores) != 1 || payload.StaleStores[0] != "country-packs-v2.0.0" {
		t.Fatalf("unexpected stale stores: %v", payload.StaleStores)
	}
	if payload.StaticManifest == nil {
		t.Fatalf("static manifest should encode as empty list")
	}
}

func TestStatusRoute(t *testing.T) {
	app := fiber.New()
	RegisterStatusRoutes(app, fakeStatusSource{status: proxy.Status{
		GenerationTag:  "v1",
		State:          "serving",
		Stores:         []string{"static-assets-v1"},
		StaticManifest: []string{"/"},
	}})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload statusPayload
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if payload.GenerationTag != "v1" || payload.State != "serving" || len(payload.Stores) != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestStatusRouteStorageFailure(t *testing.T) {
	app := fiber.New()
	RegisterStatusRoutes(app, fakeStatusSource{err: errors.New("disk gone")})

	resp, err := app.Test(httptest.NewRequest("GET", "/-/status", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
