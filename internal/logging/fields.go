package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/tile-hub/tile-hub/internal/tile"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// TileFields 提供瓦片身份 + 命中状态字段，供请求日志复用。
func TileFields(id tile.ID, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"provider":  id.Provider,
		"zoom":      id.Zoom,
		"tile_x":    id.X,
		"tile_y":    id.Y,
		"cache_hit": cacheHit,
	}
}
