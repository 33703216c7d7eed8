package bundle

import (
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"github.com/any-hub/asset-hub/internal/fsutil"
)

// Subpackage 描述 game.json 中声明的代码分包。
type Subpackage struct {
	Name        string         `mapstructure:"name" json:"name"`
	Root        string         `mapstructure:"root" json:"root"`
	Independent bool           `mapstructure:"independent" json:"independent,omitempty"`
	Extra       map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// Subpackages 是 root → 分包信息的静态注册表，启动时从 game.json 读取一次。
type Subpackages struct {
	mu     sync.RWMutex
	byRoot map[string]Subpackage
}

// NewSubpackages 构造空的分包注册表。
func NewSubpackages() *Subpackages {
	return &Subpackages{byRoot: make(map[string]Subpackage)}
}

type appManifest struct {
	Subpackages []map[string]any `json:"subpackages"`
}

// LoadSubpackages 同步读取应用清单。读取失败时返回空注册表与错误，由调用方决定是否继续启动。
func LoadSubpackages(files *fsutil.FS, path string) (*Subpackages, error) {
	reg := NewSubpackages()

	var doc appManifest
	if err := files.ReadJSONSync(path, &doc); err != nil {
		return reg, err
	}
	for _, raw := range doc.Subpackages {
		var sp Subpackage
		if err := mapstructure.Decode(raw, &sp); err != nil {
			continue
		}
		reg.Add(sp)
	}
	return reg, nil
}

func normalizeRoot(root string) string {
	return strings.Trim(strings.TrimSpace(root), "/")
}

// Add 注册分包，root 为空时忽略。
func (s *Subpackages) Add(sp Subpackage) {
	root := normalizeRoot(sp.Root)
	if root == "" {
		return
	}
	sp.Root = root
	if sp.Name == "" {
		sp.Name = root
	}
	s.mu.Lock()
	s.byRoot[root] = sp
	s.mu.Unlock()
}

// Get 返回 root 对应的分包。
func (s *Subpackages) Get(root string) (Subpackage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.byRoot[normalizeRoot(root)]
	return sp, ok
}

// Has 判断 root 是否注册为分包。
func (s *Subpackages) Has(root string) bool {
	_, ok := s.Get(root)
	return ok
}

// List 按 root 排序返回所有分包。
func (s *Subpackages) List() []Subpackage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Subpackage, 0, len(s.byRoot))
	for _, sp := range s.byRoot {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}
