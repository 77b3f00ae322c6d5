package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/tile-hub/tile-hub/internal/config"
	"github.com/tile-hub/tile-hub/internal/provider"
	"github.com/tile-hub/tile-hub/internal/store"
	"github.com/tile-hub/tile-hub/internal/tile"
)

// Sink 接收最终瓦片。实现方负责解码字节，本包不关心图像格式。
// 失败不会经由 Sink 投递，见 ErrorFunc。
type Sink interface {
	HandleTile(result tile.Result)
}

// SinkFunc 将函数适配为 Sink。
type SinkFunc func(result tile.Result)

// HandleTile makes SinkFunc satisfy Sink.
func (f SinkFunc) HandleTile(result tile.Result) {
	f(result)
}

// ErrorFunc 是失败上报的旁路通道：网络错误、provider 提取失败都会走这里。
// 取消不算失败，不会触发回调。
type ErrorFunc func(id tile.ID, err error)

// ErrUpstreamStatus 表示上游返回了非 200 状态码。
var ErrUpstreamStatus = errors.New("unexpected upstream status")

// Options controls how a Fetcher is assembled. Store may be nil, in which
// case every request goes to the network and nothing is cached.
type Options struct {
	Client    *http.Client
	Store     store.Store
	Sink      Sink
	Errors    ErrorFunc
	Logger    *logrus.Logger
	UserAgent string
}

// Fetcher 是瓦片请求的编排者，持有在途注册表的唯一所有权。
type Fetcher struct {
	client    *http.Client
	store     store.Store
	sink      Sink
	errors    ErrorFunc
	logger    *logrus.Logger
	userAgent string
	registry  *registry
}

// New 构建 Fetcher。Sink 与 Logger 必填；Store 为空时降级为纯网络模式。
func New(opts Options) (*Fetcher, error) {
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}

	return &Fetcher{
		client:    client,
		store:     opts.Store,
		sink:      opts.Sink,
		errors:    opts.Errors,
		logger:    opts.Logger,
		userAgent: userAgent,
		registry:  newRegistry(),
	}, nil
}

// RequestTile 请求一块瓦片：缓存命中直接投递；未命中且该键无在途回源时
// 发起一次网络请求，成功后先投递再写回缓存。
// 每个被接受的请求恰好出现一种终态：投递、旁路上报失败、或静默取消。
func (f *Fetcher) RequestTile(id tile.ID, urlFor func(tile.ID) string) {
	rawURL := urlFor(id)

	// 缓存键的 provider 以请求 URL 的 authority 为准，
	// 避免 query/path 差异割裂缓存。提取失败时仍回源但不缓存。
	cacheID := id
	cacheable := true
	if key, err := provider.FromURL(rawURL); err != nil {
		cacheable = false
		f.report(id, err)
		f.logger.WithFields(f.tileFields(id)).WithField("url", rawURL).Warn("provider_derive_failed")
	} else {
		cacheID.Provider = key
	}

	if f.store != nil && cacheable {
		data, ok, err := f.store.Lookup(context.Background(), cacheID)
		switch {
		case err != nil:
			// 存储层故障按未命中处理，继续回源。
			f.logger.WithError(err).WithFields(f.tileFields(id)).Warn("cache_lookup_failed")
		case ok:
			f.sink.HandleTile(tile.Result{ID: id, Data: data, Source: tile.SourceCache})
			return
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	gen, started := f.registry.tryBegin(id, cancel)
	if !started {
		// 已有在途回源，其完成会满足本次请求，不再发起重复抓取。
		cancel()
		f.logger.WithFields(f.tileFields(id)).Debug("fetch_deduplicated")
		return
	}

	go f.fetch(ctx, id, cacheID, rawURL, gen, cacheable)
}

// CancelTile 中止指定瓦片的在途回源并立即释放注册键。
// 键空闲时是无害 no-op，绝不触碰持久缓存。
func (f *Fetcher) CancelTile(id tile.ID) {
	cancel, ok := f.registry.cancelAndRemove(id)
	if !ok {
		return
	}
	cancel()
	f.logger.WithFields(f.tileFields(id)).Debug("fetch_canceled")
}

// fetch 在独立 goroutine 中执行网络回源并收敛到唯一终态。
func (f *Fetcher) fetch(ctx context.Context, id, cacheID tile.ID, rawURL string, gen uint64, cacheable bool) {
	data, err := f.download(ctx, rawURL)
	if err != nil {
		current := f.registry.complete(id, gen)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			// 取消不是错误：不上报、不投递。
			return
		}
		if current {
			f.report(id, err)
			f.logger.WithError(err).WithFields(f.tileFields(id)).
				WithField("url", rawURL).Error("fetch_failed")
		}
		return
	}

	if !f.registry.complete(id, gen) {
		// 键已被取消路径释放，迟到的正文直接丢弃，既不投递也不缓存。
		f.logger.WithFields(f.tileFields(id)).Debug("late_completion_discarded")
		return
	}

	// 先投递后落盘：两者之间崩溃只损失缓存填充，不影响本次会话。
	f.sink.HandleTile(tile.Result{ID: id, Data: data, Source: tile.SourceNetwork})

	if f.store != nil && cacheable {
		if err := f.store.Upsert(context.Background(), cacheID, data); err != nil {
			// 写缓存失败只记录，瓦片已经送达，不重试也不上报给 Sink。
			f.logger.WithError(err).WithFields(f.tileFields(id)).Error("cache_upsert_failed")
		}
	}
}

func (f *Fetcher) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrUpstreamStatus, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (f *Fetcher) report(id tile.ID, err error) {
	if f.errors != nil {
		f.errors(id, err)
	}
}

func (f *Fetcher) tileFields(id tile.ID) logrus.Fields {
	return logrus.Fields{
		"action":   "fetch",
		"provider": id.Provider,
		"zoom":     id.Zoom,
		"tile_x":   id.X,
		"tile_y":   id.Y,
	}
}
