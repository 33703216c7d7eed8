package cache

import (
	"time"

	"github.com/petar/GoLLRB/llrb"
)

// lruKey 按 (LastAccess, Seq) 排序，Seq 在进程内唯一，因此键不会重复。
type lruKey struct {
	lastAccess time.Time
	seq        uint64
	url        string
}

func (k lruKey) Less(than llrb.Item) bool {
	o := than.(lruKey)
	if !k.lastAccess.Equal(o.lastAccess) {
		return k.lastAccess.Before(o.lastAccess)
	}
	return k.seq < o.seq
}

// lruOrder 维护条目的淘汰顺序，最久未访问的条目位于最左侧。
type lruOrder struct {
	tree *llrb.LLRB
}

func newLRUOrder() *lruOrder {
	return &lruOrder{tree: llrb.New()}
}

func (o *lruOrder) insert(e *Entry) {
	o.tree.ReplaceOrInsert(keyOf(e))
}

func (o *lruOrder) remove(e *Entry) {
	o.tree.Delete(keyOf(e))
}

func (o *lruOrder) len() int {
	return o.tree.Len()
}

// ascend 从最旧的条目开始遍历，fn 返回 false 时停止。
func (o *lruOrder) ascend(fn func(url string) bool) {
	min := o.tree.Min()
	if min == nil {
		return
	}
	o.tree.AscendGreaterOrEqual(min, func(i llrb.Item) bool {
		return fn(i.(lruKey).url)
	})
}

func keyOf(e *Entry) lruKey {
	return lruKey{lastAccess: e.LastAccess, seq: e.Seq, url: e.URL}
}

// nextAccess 返回严格晚于 prev 的访问时间，保证同一条目的 LastAccess 单调递增。
func nextAccess(now, prev time.Time) time.Time {
	now = now.Round(0)
	if !now.After(prev) {
		return prev.Add(time.Nanosecond)
	}
	return now
}
