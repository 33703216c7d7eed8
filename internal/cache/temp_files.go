package cache

import "sync"

// TempFiles 记录本进程下载得到的 URL → 本地路径映射，仅在进程生命周期内有效。
// Resolver 在发起网络请求前会先查询这里。
type TempFiles struct {
	mu    sync.RWMutex
	paths map[string]string
}

// NewTempFiles 构造空的临时文件表。
func NewTempFiles() *TempFiles {
	return &TempFiles{paths: make(map[string]string)}
}

// Add 记录或覆盖 url 对应的本地路径。
func (t *TempFiles) Add(url, localPath string) {
	t.mu.Lock()
	t.paths[url] = localPath
	t.mu.Unlock()
}

// Get 返回 url 对应的本地路径。
func (t *TempFiles) Get(url string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.paths[url]
	return p, ok
}

// Delete 删除 url 的记录。
func (t *TempFiles) Delete(url string) {
	t.mu.Lock()
	delete(t.paths, url)
	t.mu.Unlock()
}

// Len 返回当前记录数。
func (t *TempFiles) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.paths)
}

// Forget 返回一个可注册到 Index.OnEvict 的回调：条目被淘汰或删除后，
// 若临时表仍指向该条目的文件，则一并移除。
func (t *TempFiles) Forget() func(Entry) {
	return func(e Entry) {
		t.mu.Lock()
		if p, ok := t.paths[e.URL]; ok && p == e.LocalPath {
			delete(t.paths, e.URL)
		}
		t.mu.Unlock()
	}
}
