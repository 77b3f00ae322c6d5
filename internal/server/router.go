package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tile-hub/tile-hub/internal/logging"
	"github.com/tile-hub/tile-hub/internal/provider"
	"github.com/tile-hub/tile-hub/internal/tile"
)

// TileRequester describes the fetch layer the tile routes depend on. It
// allows injecting fake requesters during tests.
type TileRequester interface {
	RequestTile(id tile.ID, urlFor func(tile.ID) string)
	CancelTile(id tile.ID)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger       *logrus.Logger
	Providers    *provider.Registry
	Tiles        TileRequester
	Waiters      *Dispatcher
	ListenPort   int
	AwaitTimeout time.Duration
}

const (
	contextKeyRequestID = "_tilehub_request_id"

	defaultAwaitTimeout = 60 * time.Second
)

// NewApp builds a Fiber application with tile routes, diagnostics endpoints
// and structured error handling.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if opts.Tiles == nil {
		return nil, errors.New("tile requester is required")
	}
	if opts.Waiters == nil {
		return nil, errors.New("waiter dispatcher is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	if opts.AwaitTimeout <= 0 {
		opts.AwaitTimeout = defaultAwaitTimeout
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	registerDiagnosticsRoutes(app, opts)
	app.Get("/tiles/:provider/:z/:x/:y", tileHandler(opts))

	return app, nil
}

// requestContextMiddleware 负责为每个请求生成请求 ID 并写入响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// tileHandler 解析瓦片身份，挂接等待者后向抓取层发起请求，
// 最终把缓存或网络来源的瓦片字节写回客户端。
func tileHandler(opts AppOptions) fiber.Handler {
	return func(c fiber.Ctx) error {
		started := time.Now()
		requestID := RequestID(c)

		tpl, ok := opts.Providers.Lookup(c.Params("provider"))
		if !ok {
			opts.Logger.WithFields(logrus.Fields{
				"action":   "provider_lookup",
				"provider": c.Params("provider"),
			}).Warn("provider unknown")
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "provider_unknown",
			})
		}

		id, err := parseTileParams(c, tpl.Host())
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid_tile_index",
			})
		}

		// Await 必须先于 RequestTile：缓存命中是同步投递的。
		outcomes, leave := opts.Waiters.Await(id)
		opts.Tiles.RequestTile(id, tpl.URL)

		ctx := c.Context()
		timer := time.NewTimer(opts.AwaitTimeout)
		defer timer.Stop()

		select {
		case out := <-outcomes:
			leave()
			return renderOutcome(c, opts.Logger, id, out, requestID, started)

		case <-ctx.Done():
			// 客户端断开；若自己是最后一个等待者则顺带取消抓取。
			if leave() {
				opts.Tiles.CancelTile(id)
			}
			opts.Logger.WithFields(logging.TileFields(id, false)).
				WithField("request_id", requestID).
				Debug("waiter_disconnected")
			return nil

		case <-timer.C:
			if leave() {
				opts.Tiles.CancelTile(id)
			}
			opts.Logger.WithFields(logging.TileFields(id, false)).
				WithField("request_id", requestID).
				Warn("tile_await_timeout")
			return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{
				"error": "tile_timeout",
			})
		}
	}
}

// parseTileParams 从路径参数构建瓦片身份，Provider 取模板 host。
func parseTileParams(c fiber.Ctx, host string) (tile.ID, error) {
	zoom, err := strconv.Atoi(c.Params("z"))
	if err != nil {
		return tile.ID{}, err
	}
	x, err := strconv.Atoi(c.Params("x"))
	if err != nil {
		return tile.ID{}, err
	}
	y, err := strconv.Atoi(c.Params("y"))
	if err != nil {
		return tile.ID{}, err
	}

	return tile.ID{Zoom: zoom, X: x, Y: y, Provider: host}, nil
}

func renderOutcome(
	c fiber.Ctx,
	logger *logrus.Logger,
	id tile.ID,
	out Outcome,
	requestID string,
	started time.Time,
) error {
	elapsed := time.Since(started).Milliseconds()

	if out.Err != nil {
		logger.WithError(out.Err).
			WithFields(logging.TileFields(id, false)).
			WithFields(logrus.Fields{
				"request_id": requestID,
				"elapsed_ms": elapsed,
			}).Warn("tile_fetch_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "tile_fetch_failed",
		})
	}

	cacheHit := out.Result.Source == tile.SourceCache
	logger.WithFields(logging.TileFields(id, cacheHit)).
		WithFields(logrus.Fields{
			"action":     "tile_serve",
			"request_id": requestID,
			"elapsed_ms": elapsed,
			"bytes":      len(out.Result.Data),
		}).Info("tile_served")

	c.Set("X-Tile-Hub-Source", out.Result.Source.String())
	c.Set("Content-Type", http.DetectContentType(out.Result.Data))
	return c.Send(out.Result.Data)
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}
