package provider

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tile-hub/tile-hub/internal/tile"
)

// ErrMalformedURL 表示无法从请求 URL 中提取 provider 键。
// 出现该错误时瓦片仍会回源，但不会写入缓存。
var ErrMalformedURL = errors.New("cannot derive provider from url")

// FromURL 从请求 URL 的 authority 部分提取 provider 键（即 host）。
// 使用标准 URL 解析而不是字符串切分，protocol-relative 或缺少 host 的
// 写法都会被拒绝，避免把错误的键写进缓存。
func FromURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if parsed.Scheme == "" || parsed.Hostname() == "" {
		return "", fmt.Errorf("%w: %s", ErrMalformedURL, raw)
	}
	return strings.ToLower(parsed.Hostname()), nil
}

// Template 描述单个 provider 的 URL 模板，占位符为 {z}/{x}/{y}。
type Template struct {
	name string
	raw  string
	host string
}

// NewTemplate 校验模板并返回 Template。模板必须是带 host 的绝对 URL，
// 且同时包含 {z}、{x}、{y} 三个占位符。
func NewTemplate(name, raw string) (Template, error) {
	for _, marker := range []string{"{z}", "{x}", "{y}"} {
		if !strings.Contains(raw, marker) {
			return Template{}, fmt.Errorf("url template missing %s: %s", marker, raw)
		}
	}
	host, err := FromURL(raw)
	if err != nil {
		return Template{}, err
	}
	return Template{name: name, raw: raw, host: host}, nil
}

// Name 返回配置中声明的 provider 名称。
func (t Template) Name() string {
	return t.name
}

// Host 返回模板 authority 部分的 host，即该瓦片源的缓存键。
func (t Template) Host() string {
	return t.host
}

// URL 将瓦片索引代入模板，产出最终请求地址。
func (t Template) URL(id tile.ID) string {
	replacer := strings.NewReplacer(
		"{z}", strconv.Itoa(id.Zoom),
		"{x}", strconv.Itoa(id.X),
		"{y}", strconv.Itoa(id.Y),
	)
	return replacer.Replace(t.raw)
}
