package bundle

import (
	"github.com/mitchellh/mapstructure"
)

// Manifest 是 bundle 的 config.json。Base 由加载器注入，其余未识别字段保留在 Extra 中。
type Manifest struct {
	Base        string         `mapstructure:"base" json:"base"`
	Name        string         `mapstructure:"name" json:"name,omitempty"`
	Scripts     any            `mapstructure:"scripts" json:"scripts,omitempty"`
	Deps        []string       `mapstructure:"deps" json:"deps,omitempty"`
	Paths       map[string]any `mapstructure:"paths" json:"paths,omitempty"`
	Types       []string       `mapstructure:"types" json:"types,omitempty"`
	UUIDs       []string       `mapstructure:"uuids" json:"uuids,omitempty"`
	Packs       map[string]any `mapstructure:"packs" json:"packs,omitempty"`
	Versions    map[string]any `mapstructure:"versions" json:"versions,omitempty"`
	RedirectMap []any          `mapstructure:"redirect" json:"redirect,omitempty"`
	Extra       map[string]any `mapstructure:",remain" json:"extra,omitempty"`
}

// HasScripts 判断清单是否声明了入口脚本：true、非空数组或非空字符串均视为声明。
func (m *Manifest) HasScripts() bool {
	switch v := m.Scripts.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case []any:
		return len(v) > 0
	case nil:
		return false
	default:
		return true
	}
}

// decodeManifest 将下载得到的 JSON 对象解码为 Manifest。
func decodeManifest(raw map[string]any) (*Manifest, error) {
	var m Manifest
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &m,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &m, nil
}
