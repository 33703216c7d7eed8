package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/any-hub/asset-hub/internal/config"
	"github.com/any-hub/asset-hub/internal/logging"
)

func TestBuildServicesWiresAppRoot(t *testing.T) {
	dir := t.TempDir()
	appRoot := filepath.Join(dir, "game")
	writeAppFile(t, appRoot, "game.json", `{"subpackages":[{"name":"level1","root":"subpackages/level1"}]}`)
	writeAppFile(t, appRoot, "res/level.json", `{"lv":3}`)
	writeAppFile(t, appRoot, "subpackages/level1/index.js", `// level1`)
	writeAppFile(t, appRoot, "subpackages/level1/config.json", `{"name":"level1","scripts":true}`)

	cfg := loadTestConfig(t, dir, appRoot, "")
	svc, err := buildServices(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("构建服务失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Start(ctx)
	t.Cleanup(func() {
		if err := svc.Close(); err != nil {
			t.Errorf("关闭服务失败: %v", err)
		}
	})

	if !svc.loader.Subpackages().Has("subpackages/level1") {
		t.Fatalf("应从 game.json 读取分包")
	}

	result, err := svc.router.Download(ctx, "res/level.json", "res/level.json", ".json", nil)
	if err != nil {
		t.Fatalf("读取本地 json 失败: %v", err)
	}
	if doc, ok := result.(map[string]any); !ok || doc["lv"] != 3.0 {
		t.Fatalf("json 内容错误: %#v", result)
	}

	b, err := svc.loader.Load(ctx, "subpackages/level1", nil)
	if err != nil {
		t.Fatalf("加载分包 bundle 失败: %v", err)
	}
	if !b.Subpackage || !b.Scripts {
		t.Fatalf("bundle 状态错误: %+v", b)
	}
	if svc.index == nil || svc.index.Stats().Entries != 0 {
		t.Fatalf("本地资源不应写入缓存")
	}
}

func TestBuildServicesSubContextSkipsCache(t *testing.T) {
	dir := t.TempDir()
	appRoot := filepath.Join(dir, "game")
	writeAppFile(t, appRoot, "open/res/a.txt", "hello")

	cfg := loadTestConfig(t, dir, appRoot, "SubContext = true\nSubContextRoot = \"open/\"\n")
	svc, err := buildServices(context.Background(), cfg, logging.Discard())
	if err != nil {
		t.Fatalf("构建服务失败: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	svc.Start(ctx)
	t.Cleanup(func() { _ = svc.Close() })

	if svc.index != nil {
		t.Fatalf("子上下文不应构建缓存索引")
	}
	got, err := svc.router.Download(ctx, "res/a.txt", "res/a.txt", ".txt", nil)
	if err != nil {
		t.Fatalf("读取失败: %v", err)
	}
	if got != "hello" {
		t.Fatalf("内容错误: %v", got)
	}
}

func loadTestConfig(t *testing.T, dir, appRoot, platform string) *config.Config {
	t.Helper()
	path := writeConfigFile(t, fmt.Sprintf(`
LogLevel = "info"
ListenPort = 5000
AppRoot = "%s"
StoragePath = "%s"
CacheSizeLimit = "1MB"
ManifestFlushInterval = "0s"

[Platform]
OS = "ios"
%s`, appRoot, filepath.Join(dir, "caches"), platform))
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	return cfg
}

func writeAppFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
}
