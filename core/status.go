package core

import (
	"sync"

	"github.com/lisuiheng/audio-echo/pkg/interfaces"
)

// statusHub 保存最近一次状态并分发给订阅者。
// 订阅回调在发布者的goroutine中同步执行，不能回调控制器。
// deliver串行化发布与订阅，新订阅者先收到当前状态，之后的更新一个也不会漏。
type statusHub struct {
	deliver sync.Mutex

	mu        sync.Mutex
	last      interfaces.StatusEvent
	published bool
	next      int
	subs      map[int]func(interfaces.StatusEvent)
}

func (h *statusHub) publish(ev interfaces.StatusEvent) {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	h.last = ev
	h.published = true
	subs := make([]func(interfaces.StatusEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()

	for _, fn := range subs {
		fn(ev)
	}
}

func (h *statusHub) current() interfaces.StatusEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// subscribe 注册回调，若已有状态则立即用当前状态调用一次
func (h *statusHub) subscribe(fn func(interfaces.StatusEvent)) func() {
	h.deliver.Lock()
	defer h.deliver.Unlock()

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]func(interfaces.StatusEvent))
	}
	id := h.next
	h.next++
	h.subs[id] = fn
	last, published := h.last, h.published
	h.mu.Unlock()

	if published {
		fn(last)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}
