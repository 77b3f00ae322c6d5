package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tile-hub/tile-hub/internal/config"
	"github.com/tile-hub/tile-hub/internal/tile"
)

// Registry 提供 provider 名称到 URL 模板的查询能力。
// 启动阶段根据配置构建一次，之后只读复用。
type Registry struct {
	templates map[string]Template
	ordered   []Template
}

// NewRegistry 根据配置构建 provider 映射，名称统一转小写。
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	registry := &Registry{
		templates: make(map[string]Template, len(cfg.Providers)),
	}

	for _, p := range cfg.Providers {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return nil, fmt.Errorf("provider name is empty")
		}
		if _, exists := registry.templates[name]; exists {
			return nil, fmt.Errorf("duplicate provider name: %s", name)
		}
		tpl, err := NewTemplate(name, p.URLTemplate)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		registry.templates[name] = tpl
		registry.ordered = append(registry.ordered, tpl)
	}

	return registry, nil
}

// Lookup 按名称查找模板。
func (r *Registry) Lookup(name string) (Template, bool) {
	if r == nil {
		return Template{}, false
	}
	tpl, ok := r.templates[strings.ToLower(strings.TrimSpace(name))]
	return tpl, ok
}

// URLFor 返回指定 provider 的纯函数形式 URL 构造器，供 RequestTile 消费。
func (r *Registry) URLFor(name string) (func(tile.ID) string, bool) {
	tpl, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return tpl.URL, true
}

// List 按配置顺序返回所有模板，供诊断输出使用。
func (r *Registry) List() []Template {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	result := make([]Template, len(r.ordered))
	copy(result, r.ordered)
	return result
}
