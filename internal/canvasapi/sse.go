// sse.go — SSE 事件总线 + handler。
package canvasapi

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/pkg/logger"
)

// EventBus 事件总线 (SSE 推送)。
type EventBus struct {
	mu          sync.RWMutex
	buffer      int
	subscribers map[string]chan Event
}

// Event SSE 事件。
type Event struct {
	Type string
	Data any
}

// NewEventBus 创建事件总线。buffer <= 0 时取 32。
func NewEventBus(buffer int) *EventBus {
	if buffer <= 0 {
		buffer = 32
	}
	return &EventBus{buffer: buffer, subscribers: make(map[string]chan Event)}
}

// Publish 广播事件。慢订阅者丢弃, 不阻塞直播路径。
func (b *EventBus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// PublishChainUpdate 实现 engine.Publisher 接口。
func (b *EventBus) PublishChainUpdate(c chain.ReasoningChainData) {
	b.Publish(Event{Type: "chain_update", Data: c})
}

// PublishProgress 实现 engine.Publisher 接口。
func (b *EventBus) PublishProgress(sessionID string, progress float64) {
	b.Publish(Event{Type: "progress", Data: gin.H{
		"sessionId": sessionID,
		"progress":  progress,
	}})
}

// Subscribe 订阅。
func (b *EventBus) Subscribe(id string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, b.buffer)
	b.subscribers[id] = ch
	return ch
}

// Unsubscribe 取消订阅。
//
// 不关闭 ch — sseHandler 通过 ctx.Done() 退出, GC 回收未引用的 channel。
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}

// sseHandler Gin SSE handler。
func (s *Server) sseHandler(c *gin.Context) {
	clientID := fmt.Sprintf("sse-%d", time.Now().UnixNano())
	ch := s.bus.Subscribe(clientID)
	defer func() {
		s.bus.Unsubscribe(clientID)
		logger.Info("canvasapi: SSE client disconnected", "client_id", clientID)
	}()

	logger.Info("canvasapi: SSE client connected", "client_id", clientID)

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器 (GC 压力)
		keepalive := time.NewTimer(s.keepalive)
		defer keepalive.Stop()

		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					return false
				}
				c.SSEvent(evt.Type, evt.Data)
				if !keepalive.Stop() {
					select {
					case <-keepalive.C:
					default:
					}
				}
				keepalive.Reset(s.keepalive)
				return true
			case <-keepalive.C:
				c.SSEvent("ping", "keepalive")
				keepalive.Reset(s.keepalive)
				return true
			case <-c.Request.Context().Done():
				return false
			}
		}
	})
}
