package routes

import (
	"context"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/asset-hub/internal/bundle"
	"github.com/any-hub/asset-hub/internal/downloader"
)

// BundleLoader 是 /-/bundles 依赖的 bundle 加载能力。
type BundleLoader interface {
	Load(ctx context.Context, root string, opts *downloader.Options) (*bundle.Bundle, error)
	Registry() *bundle.Registry
	Subpackages() *bundle.Subpackages
}

// RegisterBundleRoutes 暴露 /-/bundles：列出已加载 bundle、分包，并按需加载指定 bundle。
// root 可以包含多级路径，例如 /-/bundles/subpackages/level1。
func RegisterBundleRoutes(app *fiber.App, loader BundleLoader) {
	if app == nil || loader == nil {
		return
	}

	app.Get("/-/bundles", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"bundles":     loader.Registry().List(),
			"subpackages": loader.Subpackages().List(),
		})
	})

	app.Get("/-/bundles/+", func(c fiber.Ctx) error {
		root, err := url.PathUnescape(c.Params("+"))
		if err != nil || strings.TrimSpace(root) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bundle_root_required"})
		}
		opts := &downloader.Options{Ver: strings.TrimSpace(c.Query("ver"))}
		b, err := loader.Load(c.Context(), root, opts)
		if err != nil {
			return err
		}
		return c.JSON(b)
	})
}
