package downloader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/any-hub/asset-hub/internal/asseterr"
	"github.com/any-hub/asset-hub/internal/platform"
)

func TestFetchLocalNeverHitsNetwork(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	got, err := env.orch.Fetch(context.Background(), "res/a.txt", noopProc, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got != "res/a.txt" {
		t.Fatalf("unexpected path %v", got)
	}
	if len(env.net.calls) != 0 {
		t.Fatalf("local url must not touch the network")
	}
}

func TestFetchRemoteCommitsThenServesFromCache(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/level.json"
	env.net.serve(url, []byte(`{"lv":1}`))

	first, err := env.orch.Fetch(context.Background(), url, noopProc, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	entry, ok := env.index.Get(url)
	if !ok {
		t.Fatalf("expected download to be committed")
	}
	if first != entry.LocalPath {
		t.Fatalf("processor must receive committed path, got %v want %s", first, entry.LocalPath)
	}
	if p, _ := env.temps.Get(url); p != entry.LocalPath {
		t.Fatalf("tracker must point at committed path, got %s", p)
	}

	second, err := env.orch.Fetch(context.Background(), url, noopProc, nil)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if second != entry.LocalPath || env.net.callCount(url) != 1 {
		t.Fatalf("second fetch must be served from cache (calls=%d)", env.net.callCount(url))
	}
	after, _ := env.index.Get(url)
	if !after.LastAccess.After(entry.LastAccess) {
		t.Fatalf("cache hit must refresh last access")
	}
}

func TestFetchWithoutSaveKeepsTempOnly(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/once.txt"
	env.net.serve(url, []byte("hello"))
	opts := &Options{SaveFile: Bool(false)}

	got, err := env.orch.Fetch(context.Background(), url, noopProc, opts)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := env.index.Get(url); ok {
		t.Fatalf("saveFile=false must not commit")
	}
	if !strings.HasPrefix(got.(string), "/cache/.tmp/") {
		t.Fatalf("expected temp path, got %v", got)
	}

	if _, err := env.orch.Fetch(context.Background(), url, noopProc, opts); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if env.net.callCount(url) != 1 {
		t.Fatalf("temp tracker must prevent re-download, calls=%d", env.net.callCount(url))
	}
}

func TestFetchNetworkFailureLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/missing.json"

	_, err := env.orch.Fetch(context.Background(), url, noopProc, nil)
	if !errors.Is(err, asseterr.ErrNetwork) {
		t.Fatalf("expected network failure, got %v", err)
	}
	if _, ok := env.index.Get(url); ok {
		t.Fatalf("failed download must not commit")
	}
	if _, ok := env.temps.Get(url); ok {
		t.Fatalf("failed download must not be tracked")
	}
}

func TestFetchCommitsBeforeProcessor(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/broken.json"
	env.net.serve(url, []byte("{"))

	boom := errors.New("handler failed")
	_, err := env.orch.Fetch(context.Background(), url, func(ctx context.Context, localPath string, _ *Options) (any, error) {
		if _, ok := env.index.Get(url); !ok {
			t.Errorf("entry must be committed before the processor runs")
		}
		return nil, boom
	}, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected processor error, got %v", err)
	}
	if _, ok := env.temps.Get(url); !ok {
		t.Fatalf("download must stay tracked after processor failure")
	}
}

func TestFetchSkipsCommitWhenLargerThanBudget(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 4)
	url := "https://cdn.example.com/huge.bin"
	env.net.serve(url, []byte("0123456789"))

	got, err := env.orch.Fetch(context.Background(), url, noopProc, nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := env.index.Get(url); ok {
		t.Fatalf("file larger than the budget must not be committed")
	}
	if exists, _ := afero.Exists(env.fs, got.(string)); !exists {
		t.Fatalf("processor path must exist")
	}
}

func TestConcurrentFetchesShareDownload(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/shared.bin"
	env.net.serve(url, []byte("payload"))
	gate := make(chan struct{})
	env.net.gate = gate

	var wg sync.WaitGroup
	results := make([]any, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = env.orch.Fetch(context.Background(), url, noopProc, nil)
		}(i)
	}
	for env.net.callCount(url) == 0 {
		time.Sleep(time.Millisecond)
	}
	// 给其余请求留出加入同一次下载的时间
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if env.net.callCount(url) != 1 || env.index.Stats().Entries != 1 {
		t.Fatalf("unexpected state: calls=%d entries=%d", env.net.callCount(url), env.index.Stats().Entries)
	}
	for i, r := range results {
		if r == nil {
			t.Fatalf("result %d missing", i)
		}
	}
}

func TestFetchAsyncProgressBeforeCompletion(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/progress.bin"
	env.net.serve(url, []byte(strings.Repeat("x", 1000)))
	env.net.chunks = 5

	var (
		mu     sync.Mutex
		events int
	)
	done := make(chan int, 1)
	env.orch.FetchAsync(context.Background(), url, noopProc, &Options{
		OnProgress: func(loaded, total int64) {
			mu.Lock()
			events++
			mu.Unlock()
		},
	}, func(result any, err error) {
		if err != nil {
			t.Errorf("fetch: %v", err)
		}
		mu.Lock()
		done <- events
		mu.Unlock()
	})

	if got := <-done; got != 5 {
		t.Fatalf("expected all 5 progress events before completion, got %d", got)
	}
}

func TestApplySaveFileDefault(t *testing.T) {
	items := []*RequestItem{
		{URL: "a", Bundle: "main", Options: &Options{}},
		{URL: "b"},
		{URL: "c", Options: &Options{SaveFile: Bool(true)}},
	}
	ApplySaveFileDefault(items)

	if !items[0].Options.ShouldSave() || items[0].Options.SaveFile != nil {
		t.Fatalf("bundle-owned item must keep default")
	}
	if items[1].Options.ShouldSave() {
		t.Fatalf("unowned item must default to not saving")
	}
	if !items[2].Options.ShouldSave() {
		t.Fatalf("explicit saveFile must be preserved")
	}
	var nilOpts *Options
	if !nilOpts.ShouldSave() {
		t.Fatalf("nil options must default to saving")
	}
}

func TestDownloadReadsNewEntryWhileBudgetPinned(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 150)
	a := "https://cdn.example.com/a.txt"
	b := "https://cdn.example.com/b.txt"
	env.net.serve(a, []byte(strings.Repeat("a", 100)))
	env.net.serve(b, []byte(strings.Repeat("b", 100)))

	if _, err := env.router.Download(context.Background(), "", a, ".txt", nil); err != nil {
		t.Fatalf("download a: %v", err)
	}
	release, ok := env.index.Acquire(a)
	if !ok {
		t.Fatalf("a must be cached")
	}
	defer release()

	got, err := env.router.Download(context.Background(), "", b, ".txt", nil)
	if err != nil {
		t.Fatalf("download b: %v", err)
	}
	if got != strings.Repeat("b", 100) {
		t.Fatalf("unexpected content %q", got)
	}
	if _, ok := env.index.Get(a); !ok {
		t.Fatalf("pinned entry must not be evicted")
	}
}

func TestJoinedSaveFileCommitsSharedDownload(t *testing.T) {
	env := newTestEnv(t, platform.Capabilities{}, 1<<20)
	url := "https://cdn.example.com/joined.bin"
	env.net.serve(url, []byte("payload"))
	gate := make(chan struct{})
	env.net.gate = gate

	type outcome struct {
		path any
		err  error
	}
	tempOnly := make(chan outcome, 1)
	saved := make(chan outcome, 1)
	go func() {
		p, err := env.orch.Fetch(context.Background(), url, noopProc, &Options{SaveFile: Bool(false)})
		tempOnly <- outcome{p, err}
	}()
	for env.net.callCount(url) == 0 {
		time.Sleep(time.Millisecond)
	}
	go func() {
		p, err := env.orch.Fetch(context.Background(), url, noopProc, nil)
		saved <- outcome{p, err}
	}()
	// 给第二个请求留出加入同一次下载的时间
	time.Sleep(20 * time.Millisecond)
	close(gate)

	first, second := <-tempOnly, <-saved
	if first.err != nil || second.err != nil {
		t.Fatalf("fetch failed: %v / %v", first.err, second.err)
	}
	if env.net.callCount(url) != 1 {
		t.Fatalf("expected one shared download, calls=%d", env.net.callCount(url))
	}
	entry, ok := env.index.Get(url)
	if !ok {
		t.Fatalf("saveFile request joining an unsaved download must still commit")
	}
	if second.path != entry.LocalPath {
		t.Fatalf("saving caller must receive committed path, got %v", second.path)
	}
	if exists, _ := afero.Exists(env.fs, first.path.(string)); !exists {
		t.Fatalf("temp file of the unsaved caller must be kept")
	}
}
