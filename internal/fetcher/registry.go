package fetcher

import (
	"context"
	"sync"

	"github.com/tile-hub/tile-hub/internal/tile"
)

// pendingFetch 描述一次在途回源：中止句柄 + 代号。
// 代号用于识别迟到的完成回调——键被取消后再注册时代号会变化，
// 旧回源携带的代号将对不上号并被丢弃。
type pendingFetch struct {
	gen    uint64
	cancel context.CancelFunc
}

// registry 维护 tile.ID -> 在途回源 的映射，既做去重闸门也做取消登记。
// 每个键的状态机：Idle -> tryBegin -> InFlight -> (complete | cancelAndRemove) -> Idle。
type registry struct {
	mu       sync.Mutex
	nextGen  uint64
	inflight map[tile.ID]pendingFetch
}

func newRegistry() *registry {
	return &registry{
		inflight: make(map[tile.ID]pendingFetch),
	}
}

// tryBegin 原子地检查并注册在途标记。键已有在途回源时返回 false
// 且不改动现有条目，调用方不得发起重复回源。
func (r *registry) tryBegin(id tile.ID, cancel context.CancelFunc) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.inflight[id]; exists {
		return 0, false
	}
	r.nextGen++
	r.inflight[id] = pendingFetch{gen: r.nextGen, cancel: cancel}
	return r.nextGen, true
}

// complete 仅当代号匹配时移除条目，返回该次回源是否仍然有效。
// 键已空闲或已被新回源占用时是无害 no-op。
func (r *registry) complete(id tile.ID, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.inflight[id]
	if !exists || entry.gen != gen {
		return false
	}
	delete(r.inflight, id)
	return true
}

// cancelAndRemove 移除并返回中止句柄；键空闲时返回 (nil, false)。
// 键被立即释放，同一瓦片可随即发起全新回源。
func (r *registry) cancelAndRemove(id tile.ID) (context.CancelFunc, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.inflight[id]
	if !exists {
		return nil, false
	}
	delete(r.inflight, id)
	return entry.cancel, true
}

// inFlight 报告指定键当前是否有在途回源。
func (r *registry) inFlight(id tile.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.inflight[id]
	return exists
}
