package server

import (
	"sync"

	"github.com/tile-hub/tile-hub/internal/tile"
)

// Outcome 是投递给等待者的终态：成功携带瓦片结果，失败携带错误。
type Outcome struct {
	Result tile.Result
	Err    error
}

// Dispatcher 把抓取层的单次投递扇出给同一瓦片的全部等待请求。
// 它实现 fetcher.Sink，并以 HandleError 充当错误回调；
// 路由层通过 Await 挂接等待者，Fetcher 只看到一次投递。
type Dispatcher struct {
	mu      sync.Mutex
	waiters map[tile.ID][]chan Outcome
}

// NewDispatcher 返回空的等待者注册表。
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		waiters: make(map[tile.ID][]chan Outcome),
	}
}

// Await 为指定瓦片注册一个等待者，返回结果通道与离开函数。
// 离开函数幂等；仅当它移除了该瓦片仍在登记中的最后一个等待者时返回
// true，调用方据此决定是否向 Fetcher 发出取消。
func (d *Dispatcher) Await(id tile.ID) (<-chan Outcome, func() bool) {
	ch := make(chan Outcome, 1)

	d.mu.Lock()
	d.waiters[id] = append(d.waiters[id], ch)
	d.mu.Unlock()

	var once sync.Once
	leave := func() bool {
		last := false
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()

			list := d.waiters[id]
			for i, registered := range list {
				if registered != ch {
					continue
				}
				list = append(list[:i], list[i+1:]...)
				if len(list) == 0 {
					delete(d.waiters, id)
					last = true
				} else {
					d.waiters[id] = list
				}
				break
			}
		})
		return last
	}

	return ch, leave
}

// HandleTile 实现 fetcher.Sink：同一瓦片的所有等待者收到同一份结果。
func (d *Dispatcher) HandleTile(result tile.Result) {
	for _, ch := range d.take(result.ID) {
		ch <- Outcome{Result: result}
	}
}

// HandleError 把抓取失败扇出给全部等待者，签名匹配 fetcher.ErrorFunc。
func (d *Dispatcher) HandleError(id tile.ID, err error) {
	for _, ch := range d.take(id) {
		ch <- Outcome{Err: err}
	}
}

// take 原子地摘下并清空指定瓦片的等待者列表。
// 通道带 1 格缓冲，投递不会因为等待者尚未读取而阻塞。
func (d *Dispatcher) take(id tile.ID) []chan Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := d.waiters[id]
	delete(d.waiters, id)
	return list
}

// waiting 返回指定瓦片当前登记的等待者数量。
func (d *Dispatcher) waiting(id tile.ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.waiters[id])
}
