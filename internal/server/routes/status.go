package routes

import (
	"context"
	"sort"

	"github.com/gofiber/fiber/v3"

	"github.com/tripcache/tripcache/internal/proxy"
)

// StatusSource 提供生命周期与存储快照。
type StatusSource interface {
	Snapshot(ctx context.Context) (proxy.Status, error)
}

// RegisterStatusRoutes 暴露 /-/status 诊断接口，供运维查询代际与缓存列表。
func RegisterStatusRoutes(app *fiber.App, source StatusSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		status, err := source.Snapshot(ctx)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":          "storage_unavailable",
				"generation_tag": status.GenerationTag,
				"state":          status.State,
			})
		}
		return c.JSON(encodeStatus(status))
	})
}

type statusPayload struct {
	GenerationTag  string   `json:"generation_tag"`
	PendingTag     string   `json:"pending_tag,omitempty"`
	State          string   `json:"state"`
	Stores         []string `json:"stores"`
	StaleStores    []string `json:"stale_stores,omitempty"`
	StaticManifest []string `json:"static_manifest"`
}

// encodeStatus 区分当前代际与尚未清理的旧代际缓存。
func encodeStatus(status proxy.Status) statusPayload {
	payload := statusPayload{
		GenerationTag:  status.GenerationTag,
		PendingTag:     status.PendingTag,
		State:          status.State,
		Stores:         []string{},
		StaticManifest: status.StaticManifest,
	}
	if payload.StaticManifest == nil {
		payload.StaticManifest = []string{}
	}

	names := append([]string(nil), status.Stores...)
	sort.Strings(names)
	for _, name := range names {
		if isGenerationStore(name, status.GenerationTag) || isGenerationStore(name, status.PendingTag) {
			payload.Stores = append(payload.Stores, name)
			continue
		}
		payload.StaleStores = append(payload.StaleStores, name)
	}
	return payload
}

func isGenerationStore(name, tag string) bool {
	if tag == "" {
		return false
	}
	suffix := "-" + tag
	return len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix
}
