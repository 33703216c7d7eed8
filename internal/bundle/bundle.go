package bundle

import (
	"sort"
	"sync"
	"time"
)

// Bundle 是加载完成的资源包。
type Bundle struct {
	Name       string    `json:"name"`
	Root       string    `json:"root"`
	Base       string    `json:"base"`
	Subpackage bool      `json:"subpackage"`
	Scripts    bool      `json:"scripts"`
	Manifest   *Manifest `json:"manifest"`
	LoadedAt   time.Time `json:"loaded_at"`
}

// Registry 保存已加载的 bundle，按名称索引。
type Registry struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
}

// NewRegistry 构造空注册表。
func NewRegistry() *Registry {
	return &Registry{bundles: make(map[string]*Bundle)}
}

// Add 注册 bundle，同名 bundle 会被覆盖。
func (r *Registry) Add(b *Bundle) {
	if b == nil {
		return
	}
	r.mu.Lock()
	r.bundles[b.Name] = b
	r.mu.Unlock()
}

// Get 按名称查找 bundle。
func (r *Registry) Get(name string) (*Bundle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bundles[name]
	return b, ok
}

// Remove 移除 bundle，返回是否存在。
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bundles[name]; !ok {
		return false
	}
	delete(r.bundles, name)
	return true
}

// List 按名称排序返回所有 bundle。
func (r *Registry) List() []*Bundle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Bundle, 0, len(r.bundles))
	for _, b := range r.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
