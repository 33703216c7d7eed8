package downloader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/cache"
	"github.com/any-hub/asset-hub/internal/fsutil"
	"github.com/any-hub/asset-hub/internal/logging"
	"github.com/any-hub/asset-hub/internal/platform"
	"github.com/any-hub/asset-hub/internal/transport"
)

// fakeNetwork 模拟远程资源：Download 写入内存文件系统的临时目录，Open/OpenRequest 返回流。
type fakeNetwork struct {
	fs afero.Fs

	mu      sync.Mutex
	bodies  map[string][]byte
	calls   map[string]int
	chunks  int
	gate    chan struct{}
	counter int
}

func newFakeNetwork(fsys afero.Fs) *fakeNetwork {
	return &fakeNetwork{fs: fsys, bodies: map[string][]byte{}, calls: map[string]int{}, chunks: 1}
}

func (n *fakeNetwork) serve(url string, body []byte) {
	n.mu.Lock()
	n.bodies[url] = body
	n.mu.Unlock()
}

func (n *fakeNetwork) callCount(url string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[url]
}

func (n *fakeNetwork) lookup(url string) ([]byte, error) {
	n.mu.Lock()
	n.calls[url]++
	body, ok := n.bodies[url]
	gate := n.gate
	n.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if !ok {
		return nil, asseterr.New(asseterr.KindNetwork, "fake", url, "unexpected status 404")
	}
	return body, nil
}

func (n *fakeNetwork) Download(ctx context.Context, req transport.Request) (*transport.Result, error) {
	body, err := n.lookup(req.URL)
	if err != nil {
		return nil, err
	}
	n.mu.Lock()
	n.counter++
	path := fmt.Sprintf("/cache/.tmp/dl-%d%s", n.counter, cache.ExtFromURL(req.URL))
	chunks := n.chunks
	n.mu.Unlock()

	if err := afero.WriteFile(n.fs, path, body, 0o644); err != nil {
		return nil, err
	}
	if req.OnProgress != nil {
		total := int64(len(body))
		for i := 1; i <= chunks; i++ {
			req.OnProgress(total*int64(i)/int64(chunks), total)
		}
	}
	return &transport.Result{URL: req.URL, TempPath: path, Size: int64(len(body))}, nil
}

func (n *fakeNetwork) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	body, _, err := n.OpenRequest(ctx, transport.Request{URL: url})
	return body, err
}

func (n *fakeNetwork) OpenRequest(ctx context.Context, req transport.Request) (io.ReadCloser, int64, error) {
	body, err := n.lookup(req.URL)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(body)), int64(len(body)), nil
}

// countingImages 记录图片解码调用次数。
type countingImages struct {
	inner platform.ImageLoader
	mu    sync.Mutex
	files []string
	reads []string
}

func (c *countingImages) LoadFile(ctx context.Context, path string) (*platform.Image, error) {
	c.mu.Lock()
	c.files = append(c.files, path)
	c.mu.Unlock()
	return c.inner.LoadFile(ctx, path)
}

func (c *countingImages) LoadStream(ctx context.Context, src string, r io.Reader) (*platform.Image, error) {
	c.mu.Lock()
	c.reads = append(c.reads, src)
	c.mu.Unlock()
	return c.inner.LoadStream(ctx, src, r)
}

func (c *countingImages) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.files) + len(c.reads)
}

type testEnv struct {
	fs      afero.Fs
	files   *fsutil.FS
	index   *cache.Index
	temps   *cache.TempFiles
	net     *fakeNetwork
	images  *countingImages
	scripts []string
	orch    *Orchestrator
	router  *Router
}

func newTestEnv(t *testing.T, caps platform.Capabilities, limit int64) *testEnv {
	t.Helper()
	fsys := afero.NewMemMapFs()
	env := &testEnv{fs: fsys, net: newFakeNetwork(fsys), temps: cache.NewTempFiles()}

	idx, err := cache.NewIndex(cache.Options{
		Fs:        fsys,
		Dir:       "/cache",
		TempDir:   "/cache/.tmp",
		SizeLimit: limit,
		Remote:    env.net,
	})
	if err != nil {
		t.Fatalf("new index: %v", err)
	}
	if err := idx.Init(context.Background()); err != nil {
		t.Fatalf("init index: %v", err)
	}
	idx.OnEvict(env.temps.Forget())
	env.index = idx

	env.files = fsutil.New(fsys, "/game", logging.Discard(), "/cache")
	env.images = &countingImages{inner: &platform.DecoderImageLoader{Fs: fsys}}

	var index Index = idx
	temps := env.temps
	if caps.ImageStrategy() == platform.StrategySubContext {
		index, temps = nil, nil
	}
	env.orch = NewOrchestrator(OrchestratorOptions{
		Resolver:  NewResolver(caps, index, temps),
		Index:     index,
		Temps:     temps,
		Transport: env.net,
	})

	env.router = NewRouter(RouterOptions{MaxConcurrent: 4, MaxRequestsPerTick: 4})
	env.router.Register(DefaultHandlers(HandlerDeps{
		FS:           env.files,
		Orchestrator: env.orch,
		Index:        index,
		Opener:       env.net,
		Images:       env.images,
		Fonts:        &platform.SFNTFontLoader{Fs: fsys},
		Scripts: platform.ScriptHostFunc(func(ctx context.Context, path string) error {
			env.scripts = append(env.scripts, path)
			return nil
		}),
		Caps: caps,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.router.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		idx.Close()
	})
	return env
}

func (e *testEnv) writeLocal(t *testing.T, rel string, body []byte) {
	t.Helper()
	if err := afero.WriteFile(e.fs, "/game/"+rel, body, 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}
