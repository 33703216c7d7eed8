package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/any-hub/asset-hub/internal/asseterr"
)

func waitQueued(t *testing.T, r *Router, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if queued, _ := r.Load(); queued >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d queued requests", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func startRouter(t *testing.T, r *Router) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRouterDispatchesByPriorityThenFIFO(t *testing.T) {
	r := NewRouter(RouterOptions{MaxConcurrent: 1, MaxRequestsPerTick: 10, TickInterval: time.Millisecond})

	var (
		mu    sync.Mutex
		order []string
	)
	r.Register(map[string]HandlerFunc{
		".txt": func(ctx context.Context, url string, opts *Options) (any, error) {
			mu.Lock()
			order = append(order, url)
			mu.Unlock()
			return url, nil
		},
	})

	var wg sync.WaitGroup
	submit := func(url string, priority int) {
		wg.Add(1)
		r.DownloadAsync(context.Background(), "", url, ".txt", &Options{Priority: priority}, func(any, error) { wg.Done() })
	}
	submit("low-1", 0)
	waitQueued(t, r, 1)
	submit("low-2", 0)
	waitQueued(t, r, 2)
	submit("high", 5)
	waitQueued(t, r, 3)

	startRouter(t, r)
	wg.Wait()

	want := []string{"high", "low-1", "low-2"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected dispatch order %v", order)
		}
	}
}

func TestRouterLimitsRequestsPerTick(t *testing.T) {
	r := NewRouter(RouterOptions{MaxConcurrent: 10, MaxRequestsPerTick: 2, TickInterval: time.Hour})

	var started int32
	release := make(chan struct{})
	r.Register(map[string]HandlerFunc{
		".bin": func(ctx context.Context, url string, opts *Options) (any, error) {
			atomic.AddInt32(&started, 1)
			<-release
			return nil, nil
		},
	})

	for _, id := range []string{"a", "b", "c"} {
		r.DownloadAsync(context.Background(), id, id, ".bin", nil, nil)
	}
	waitQueued(t, r, 3)
	startRouter(t, r)

	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&started); got != 2 {
		t.Fatalf("expected 2 requests in the first tick, got %d", got)
	}
	close(release)
}

func TestRouterLimitsConcurrency(t *testing.T) {
	r := NewRouter(RouterOptions{MaxConcurrent: 2, MaxRequestsPerTick: 10, TickInterval: time.Millisecond})

	var running, peak int32
	r.Register(map[string]HandlerFunc{
		".bin": func(ctx context.Context, url string, opts *Options) (any, error) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil, nil
		},
	})
	startRouter(t, r)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Download(context.Background(), string(rune('a'+i)), "u", ".bin", nil)
		}(i)
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("concurrency ceiling exceeded: %d", peak)
	}
}

func TestRouterCollapsesIdenticalIDs(t *testing.T) {
	r := NewRouter(RouterOptions{TickInterval: time.Millisecond})
	var calls int32
	r.Register(map[string]HandlerFunc{
		".json": func(ctx context.Context, url string, opts *Options) (any, error) {
			atomic.AddInt32(&calls, 1)
			return "shared", nil
		},
	})

	results := make(chan any, 2)
	for i := 0; i < 2; i++ {
		r.DownloadAsync(context.Background(), "uuid-1", "a.json", ".json", nil, func(result any, err error) {
			results <- result
		})
	}
	waitQueued(t, r, 1)
	time.Sleep(10 * time.Millisecond)
	startRouter(t, r)

	for i := 0; i < 2; i++ {
		if got := <-results; got != "shared" {
			t.Fatalf("unexpected result %v", got)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("identical ids must be collapsed, calls=%d", calls)
	}
}

func TestRouterRegisterOverridesAndFallback(t *testing.T) {
	r := NewRouter(RouterOptions{TickInterval: time.Millisecond})
	startRouter(t, r)
	r.Register(map[string]HandlerFunc{
		".txt": func(context.Context, string, *Options) (any, error) { return "text", nil },
		".png": func(context.Context, string, *Options) (any, error) { return "image", nil },
	})
	r.Register(map[string]HandlerFunc{
		".png": func(context.Context, string, *Options) (any, error) { return "override", nil },
	})

	if got, _ := r.Download(context.Background(), "", "a.png", ".png", nil); got != "override" {
		t.Fatalf("later registration must win, got %v", got)
	}
	if got, _ := r.Download(context.Background(), "", "a.unknown", ".unknown", nil); got != "text" {
		t.Fatalf("unknown extension must fall back to text, got %v", got)
	}
	if _, ok := r.Handler(".PNG"); !ok {
		// .PNG 未注册时同样回退到文本处理器
		t.Fatalf("expected fallback handler for .PNG")
	}
}

func TestRouterWithoutHandlers(t *testing.T) {
	r := NewRouter(RouterOptions{})
	_, err := r.Download(context.Background(), "", "a.bin", ".bin", nil)
	if !asseterr.Is(err, asseterr.KindUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestRouterStopFailsQueuedRequests(t *testing.T) {
	r := NewRouter(RouterOptions{MaxConcurrent: 1, TickInterval: time.Hour})
	block := make(chan struct{})
	r.Register(map[string]HandlerFunc{
		".bin": func(ctx context.Context, url string, opts *Options) (any, error) {
			<-block
			return nil, nil
		},
	})

	r.DownloadAsync(context.Background(), "first", "first", ".bin", nil, nil)
	waitQueued(t, r, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	errs := make(chan error, 1)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, inFlight := r.Load(); inFlight == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("first request never started")
		}
		time.Sleep(time.Millisecond)
	}
	r.DownloadAsync(context.Background(), "second", "second", ".bin", nil, func(_ any, err error) { errs <- err })
	waitQueued(t, r, 1)

	cancel()
	<-done
	if err := <-errs; !errors.Is(err, ErrRouterStopped) {
		t.Fatalf("expected ErrRouterStopped, got %v", err)
	}
	close(block)
}

// blockingRouter 返回一个单并发的路由：".block" 占住唯一的执行名额直到 release 关闭，
// ".txt" 在 job ctx 未取消时返回 "ok"。
func blockingRouter(t *testing.T) (r *Router, started, release chan struct{}) {
	t.Helper()
	r = NewRouter(RouterOptions{MaxConcurrent: 1, MaxRequestsPerTick: 10, TickInterval: time.Millisecond})
	started, release = make(chan struct{}), make(chan struct{})
	r.Register(map[string]HandlerFunc{
		".block": func(ctx context.Context, url string, opts *Options) (any, error) {
			close(started)
			<-release
			return nil, nil
		},
		".txt": func(ctx context.Context, url string, opts *Options) (any, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return "ok", nil
		},
	})
	startRouter(t, r)
	r.DownloadAsync(context.Background(), "busy", "busy", ".block", nil, nil)
	<-started
	return r, started, release
}

func waitWaiters(t *testing.T, r *Router, id string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r.sched.mu.Lock()
		j, ok := r.sched.pending[id]
		got := 0
		if ok {
			got = j.waiters
		}
		r.sched.mu.Unlock()
		if got >= n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters on %s", n, id)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRouterLiveCallerReplacesAbandonedJob(t *testing.T) {
	r, _, release := blockingRouter(t)

	dead, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Download(dead, "x", "a.txt", ".txt", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller should see its own cancellation, got %v", err)
	}

	done := make(chan error, 1)
	var got any
	go func() {
		var err error
		got, err = r.Download(context.Background(), "x", "a.txt", ".txt", nil)
		done <- err
	}()
	waitWaiters(t, r, "x", 1)
	close(release)

	if err := <-done; err != nil || got != "ok" {
		t.Fatalf("live caller must not inherit the abandoned request, got %v %v", got, err)
	}
}

func TestRouterJobSurvivesWhileAnyWaiterRemains(t *testing.T) {
	r, _, release := blockingRouter(t)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := r.Download(first, "x", "a.txt", ".txt", nil)
		firstDone <- err
	}()
	waitWaiters(t, r, "x", 1)

	secondDone := make(chan error, 1)
	var got any
	go func() {
		var err error
		got, err = r.Download(context.Background(), "x", "a.txt", ".txt", nil)
		secondDone <- err
	}()
	waitWaiters(t, r, "x", 2)

	cancel()
	if err := <-firstDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected first caller to leave with context.Canceled, got %v", err)
	}
	close(release)
	if err := <-secondDone; err != nil || got != "ok" {
		t.Fatalf("remaining waiter must get the result, got %v %v", got, err)
	}
}
