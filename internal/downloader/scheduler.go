package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"golang.org/x/sync/semaphore"

	"github.com/any-hub/asset-hub/internal/metrics"
)

// ErrRouterStopped 表示调度循环已退出，排队中的请求不会再执行。
var ErrRouterStopped = errors.New("download router stopped")

// job 是排队中的一次请求，相同 id 的并发请求共享同一个 job。
// job 运行在与提交者取消信号解耦的 ctx 上，只有全部等待者都离开时才取消。
type job struct {
	id       string
	priority int
	seq      uint64
	ctx      context.Context
	cancel   context.CancelFunc
	run      func(ctx context.Context) (any, error)

	// waiters 与 started 由 scheduler.mu 保护。
	waiters int
	started bool

	done   chan struct{}
	result any
	err    error
}

// Less 使优先级高的排在前面，同优先级按入队顺序。
func (j *job) Less(than llrb.Item) bool {
	o := than.(*job)
	if j.priority != o.priority {
		return j.priority > o.priority
	}
	return j.seq < o.seq
}

func (j *job) finish(result any, err error) {
	j.result, j.err = result, err
	close(j.done)
	j.cancel()
}

// scheduler 以固定节拍派发请求：每拍最多 perTick 个，且同时执行的不超过 maxConcurrent 个。
type scheduler struct {
	sem      *semaphore.Weighted
	perTick  int
	interval time.Duration

	mu       sync.Mutex
	queue    *llrb.LLRB
	pending  map[string]*job
	seq      uint64
	inFlight int
	stopped  bool
}

func newScheduler(maxConcurrent, perTick int, interval time.Duration) *scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	if perTick <= 0 {
		perTick = 10
	}
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &scheduler{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		perTick:  perTick,
		interval: interval,
		queue:    llrb.New(),
		pending:  make(map[string]*job),
	}
}

// submit 将请求入队；若相同 id 已在排队或执行中，加入已有的 job。
// 已有 job 的 ctx 已被取消（所有等待者都已离开）时改为新建 job。
func (s *scheduler) submit(ctx context.Context, id string, priority int, run func(ctx context.Context) (any, error)) (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.pending[id]; ok {
		if existing.ctx.Err() == nil {
			existing.waiters++
			return existing, true
		}
		delete(s.pending, id)
		if !existing.started {
			s.queue.Delete(existing)
			existing.finish(nil, existing.ctx.Err())
		}
	}
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:       id,
		priority: priority,
		seq:      s.seq,
		ctx:      jobCtx,
		cancel:   cancel,
		run:      run,
		waiters:  1,
		done:     make(chan struct{}),
	}
	s.seq++
	if s.stopped {
		j.finish(nil, ErrRouterStopped)
		return j, false
	}
	s.pending[id] = j
	s.queue.InsertNoReplace(j)
	metrics.SetRouterLoad(s.queue.Len(), s.inFlight)
	return j, false
}

// await 等待 job 结束。ctx 先结束时当前调用方离开，最后一个等待者离开会取消 job。
func (s *scheduler) await(ctx context.Context, j *job) (any, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
	}
	s.mu.Lock()
	j.waiters--
	last := j.waiters <= 0
	s.mu.Unlock()
	if last {
		j.cancel()
	}
	return nil, ctx.Err()
}

func (s *scheduler) forgetLocked(j *job) {
	if s.pending[j.id] == j {
		delete(s.pending, j.id)
	}
}

// run 驱动节拍循环直到 ctx 结束，退出时让所有排队中的请求以 ErrRouterStopped 结束。
func (s *scheduler) run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.mu.Lock()
	s.stopped = false
	s.mu.Unlock()

	for {
		s.dispatch()
		select {
		case <-ctx.Done():
			s.stop()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// dispatch 执行一拍：取出不超过 perTick 个请求并在并发额度内启动。
func (s *scheduler) dispatch() {
	for n := 0; n < s.perTick; n++ {
		if !s.sem.TryAcquire(1) {
			return
		}
		s.mu.Lock()
		item := s.queue.DeleteMin()
		if item == nil {
			s.mu.Unlock()
			s.sem.Release(1)
			return
		}
		j := item.(*job)
		if err := j.ctx.Err(); err != nil {
			s.forgetLocked(j)
			s.mu.Unlock()
			s.sem.Release(1)
			j.finish(nil, err)
			n--
			continue
		}
		j.started = true
		s.inFlight++
		metrics.SetRouterLoad(s.queue.Len(), s.inFlight)
		s.mu.Unlock()

		go s.execute(j)
	}
}

func (s *scheduler) execute(j *job) {
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("download handler panic: %v", r)
			}
		}()
		result, err = j.run(j.ctx)
	}()
	s.sem.Release(1)

	s.mu.Lock()
	s.forgetLocked(j)
	s.inFlight--
	metrics.SetRouterLoad(s.queue.Len(), s.inFlight)
	s.mu.Unlock()

	j.finish(result, err)
}

func (s *scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	var drained []*job
	for s.queue.Len() > 0 {
		drained = append(drained, s.queue.DeleteMin().(*job))
	}
	for _, j := range drained {
		s.forgetLocked(j)
	}
	metrics.SetRouterLoad(0, s.inFlight)
	s.mu.Unlock()

	for _, j := range drained {
		j.finish(nil, ErrRouterStopped)
	}
}

// load 返回排队与执行中的请求数。
func (s *scheduler) load() (queued, inFlight int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len(), s.inFlight
}
