package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var templateMarkers = []string{"{z}", "{x}", "{y}"}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.CachePath == "" {
		return newFieldError("Global.CachePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if len(c.Providers) == 0 {
		return errors.New("至少需要配置一个 Provider")
	}

	seenNames := map[string]struct{}{}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return newFieldError("Provider[].Name", "不能为空")
		}
		if _, exists := seenNames[p.Name]; exists {
			return newFieldError(providerField(p.Name, "Name"), "重复")
		}
		seenNames[p.Name] = struct{}{}

		if err := validateTemplate(p.URLTemplate); err != nil {
			return fmt.Errorf("%s: %w", providerField(p.Name, "URLTemplate"), err)
		}
	}

	return nil
}

func validateTemplate(raw string) error {
	if raw == "" {
		return errors.New("缺少 URL 模板")
	}
	for _, marker := range templateMarkers {
		if !strings.Contains(raw, marker) {
			return fmt.Errorf("模板缺少占位符 %s", marker)
		}
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，模板: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("模板缺少 Host: %s", raw)
	}
	return nil
}
