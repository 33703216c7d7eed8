package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/asset-hub/internal/assettype"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/downloader"
	"github.com/any-hub/asset-hub/internal/platform"
)

// AssetRouter 是 /-/assets 与 /-/handlers 依赖的分发能力，通常为 downloader.Router。
type AssetRouter interface {
	Download(ctx context.Context, id, url, ext string, opts *downloader.Options) (any, error)
	Extensions() []string
	Load() (queued, inFlight int)
}

// RegisterAssetRoutes 暴露 /-/handlers 与 /-/assets，便于在不启动引擎的情况下验证下载链路。
func RegisterAssetRoutes(app *fiber.App, router AssetRouter) {
	if app == nil || router == nil {
		return
	}

	app.Get("/-/handlers", func(c fiber.Ctx) error {
		queued, inFlight := router.Load()
		return c.JSON(fiber.Map{
			"categories": encodeCategories(assettype.List()),
			"extensions": router.Extensions(),
			"queued":     queued,
			"in_flight":  inFlight,
		})
	})

	app.Get("/-/assets", func(c fiber.Ctx) error {
		url := strings.TrimSpace(c.Query("url"))
		if url == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		ext := strings.TrimSpace(c.Query("type"))
		if ext == "" {
			ext = cache.ExtFromURL(url)
		}
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		opts := &downloader.Options{Reload: c.Query("reload") == "true"}
		result, err := router.Download(c.Context(), url, url, ext, opts)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"url":    url,
			"ext":    ext,
			"result": describeResult(result),
		})
	})
}

type categoryPayload struct {
	Kind         string   `json:"kind"`
	Description  string   `json:"description"`
	ResponseType string   `json:"response_type"`
	Extensions   []string `json:"extensions"`
	AllowRemote  bool     `json:"allow_remote"`
}

func encodeCategories(cats []assettype.Category) []categoryPayload {
	sort.Slice(cats, func(i, j int) bool {
		return cats[i].Kind < cats[j].Kind
	})
	result := make([]categoryPayload, 0, len(cats))
	for _, cat := range cats {
		result = append(result, categoryPayload{
			Kind:         string(cat.Kind),
			Description:  cat.Description,
			ResponseType: string(cat.ResponseType),
			Extensions:   append([]string(nil), cat.Extensions...),
			AllowRemote:  cat.AllowRemote,
		})
	}
	return result
}

// describeResult 把处理器结果转换为可序列化的摘要，二进制与图片只输出元信息。
func describeResult(result any) any {
	switch v := result.(type) {
	case nil:
		return nil
	case []byte:
		return fiber.Map{"type": "arraybuffer", "size_bytes": len(v)}
	case *platform.Image:
		return fiber.Map{
			"type":   "image",
			"src":    v.Src,
			"format": v.Format,
			"width":  v.Width,
			"height": v.Height,
		}
	case *platform.Audio:
		return fiber.Map{"type": "audio", "src": v.Src}
	default:
		return v
	}
}
