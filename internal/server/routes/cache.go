package routes

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/asset-hub/internal/cache"
)

// CacheAdmin 是 /-/cache 诊断接口依赖的缓存索引能力。
type CacheAdmin interface {
	Stats() cache.Stats
	Entries() []cache.Entry
	Remove(ctx context.Context, url string) error
	Clear(ctx context.Context) error
}

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供排查缓存占用与手动清理。
func RegisterCacheRoutes(app *fiber.App, index CacheAdmin) {
	if app == nil || index == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"stats":   index.Stats(),
			"entries": encodeEntries(index.Entries()),
		})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		if err := index.Clear(c.Context()); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"stats": index.Stats()})
	})

	app.Delete("/-/cache/entry", func(c fiber.Ctx) error {
		url := strings.TrimSpace(c.Query("url"))
		if url == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		if err := index.Remove(c.Context(), url); err != nil {
			return err
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

type entryPayload struct {
	URL        string `json:"url"`
	LocalPath  string `json:"local_path"`
	SizeBytes  int64  `json:"size_bytes"`
	LastAccess string `json:"last_access"`
}

func encodeEntries(entries []cache.Entry) []entryPayload {
	result := make([]entryPayload, 0, len(entries))
	for _, e := range entries {
		result = append(result, entryPayload{
			URL:        e.URL,
			LocalPath:  e.LocalPath,
			SizeBytes:  e.SizeBytes,
			LastAccess: e.LastAccess.UTC().Format(time.RFC3339Nano),
		})
	}
	return result
}
