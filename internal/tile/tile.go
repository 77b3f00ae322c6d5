package tile

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// ID 是瓦片的复合键：层级 + 列/行索引 + 来源 Provider。
// 四个字段全部参与相等性比较，可直接作为 map key 使用。
type ID struct {
	Zoom     int
	X        int
	Y        int
	Provider string
}

// String 输出 provider/z/x/y 形式，主要供日志字段使用。
func (id ID) String() string {
	return fmt.Sprintf("%s/%d/%d/%d", id.Provider, id.Zoom, id.X, id.Y)
}

// GeoRect 返回瓦片对应的经纬度范围，供渲染层计算贴图位置。
// 本包只负责换算，不消费结果。
func (id ID) GeoRect() orb.Bound {
	return maptile.New(uint32(id.X), uint32(id.Y), maptile.Zoom(id.Zoom)).Bound()
}

// Source 标记瓦片正文的来源。
type Source int

const (
	// SourceCache 表示正文来自本地持久缓存。
	SourceCache Source = iota
	// SourceNetwork 表示正文来自上游网络请求。
	SourceNetwork
)

// String returns the wire label used in logs and response headers.
func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Result 是投递给 Result Sink 的最终产物：身份 + 原始图像字节 + 来源。
// Data 对本核心而言是不透明二进制，解码由渲染层自行负责。
type Result struct {
	ID     ID
	Data   []byte
	Source Source
}
