package assettype

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

const defaultKind = KindText

var globalRegistry = newRegistry()

type registry struct {
	mu         sync.RWMutex
	categories map[Kind]Category
	extensions map[string]Kind
}

func newRegistry() *registry {
	return &registry{
		categories: make(map[Kind]Category),
		extensions: make(map[string]Kind),
	}
}

// Register 将类别加入全局注册表，重复的类别键或扩展名会返回错误。
func Register(cat Category) error {
	return globalRegistry.register(cat)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(cat Category) {
	if err := Register(cat); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的类别。
func Resolve(kind Kind) (Category, bool) {
	return globalRegistry.resolve(kind)
}

// ForExtension 返回扩展名所属类别，扩展名区分大小写。
func ForExtension(ext string) (Category, bool) {
	return globalRegistry.forExtension(ext)
}

// List 返回按键排序的类别列表。
func List() []Category {
	return globalRegistry.list()
}

// Keys 返回所有已注册类别的键值，供调试或诊断使用。
func Keys() []Kind {
	items := List()
	result := make([]Kind, len(items))
	for i, cat := range items {
		result[i] = cat.Kind
	}
	return result
}

// Extensions 返回所有已注册扩展名（排序后）。
func Extensions() []string {
	return globalRegistry.extensionList()
}

func (r *registry) normalizeKind(kind Kind) Kind {
	return Kind(strings.ToLower(strings.TrimSpace(string(kind))))
}

func (r *registry) register(cat Category) error {
	kind := r.normalizeKind(cat.Kind)
	if kind == "" {
		return fmt.Errorf("asset kind is required")
	}
	cat.Kind = kind
	if cat.ResponseType == "" {
		cat.ResponseType = ResponseNative
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.categories[kind]; exists {
		return fmt.Errorf("asset kind %s already registered", kind)
	}
	for _, ext := range cat.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("asset kind %s: invalid extension %q", kind, ext)
		}
		if owner, exists := r.extensions[ext]; exists {
			return fmt.Errorf("extension %s already registered by %s", ext, owner)
		}
	}
	cat.Extensions = append([]string(nil), cat.Extensions...)
	for _, ext := range cat.Extensions {
		r.extensions[ext] = kind
	}
	r.categories[kind] = cat
	return nil
}

func (r *registry) resolve(kind Kind) (Category, bool) {
	if kind == "" {
		return Category{}, false
	}
	normalized := r.normalizeKind(kind)

	r.mu.RLock()
	defer r.mu.RUnlock()

	cat, ok := r.categories[normalized]
	return cat, ok
}

func (r *registry) forExtension(ext string) (Category, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kind, ok := r.extensions[ext]
	if !ok {
		return Category{}, false
	}
	cat, ok := r.categories[kind]
	return cat, ok
}

func (r *registry) list() []Category {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.categories) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.categories))
	for key := range r.categories {
		keys = append(keys, string(key))
	}
	sort.Strings(keys)

	result := make([]Category, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.categories[Kind(key)])
	}
	return result
}

func (r *registry) extensionList() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.extensions))
	for ext := range r.extensions {
		result = append(result, ext)
	}
	sort.Strings(result)
	return result
}
