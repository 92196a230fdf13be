package canvasapi

import (
	"testing"

	"github.com/query-canvas/chain-engine/internal/chain"
)

// TestEventBusFanout 验证广播到达全部订阅者。
func TestEventBusFanout(t *testing.T) {
	bus := NewEventBus(0)
	a := bus.Subscribe("a")
	b := bus.Subscribe("b")

	bus.PublishChainUpdate(chain.ReasoningChainData{SessionID: "s1"})

	for name, ch := range map[string]chan Event{"a": a, "b": b} {
		select {
		case evt := <-ch:
			if evt.Type != "chain_update" {
				t.Errorf("%s: type = %q", name, evt.Type)
			}
		default:
			t.Errorf("%s: no event delivered", name)
		}
	}
}

// TestEventBusSlowSubscriberDropped 验证满缓冲订阅者不阻塞广播。
func TestEventBusSlowSubscriberDropped(t *testing.T) {
	bus := NewEventBus(0)
	bus.Subscribe("slow")

	// 缓冲 32, 超量发布不得阻塞
	for i := 0; i < 100; i++ {
		bus.PublishProgress("s1", float64(i)/100)
	}
}

// TestEventBusUnsubscribe 验证退订后不再投递。
func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(0)
	ch := bus.Subscribe("a")
	bus.Unsubscribe("a")

	bus.PublishProgress("s1", 0.5)

	select {
	case <-ch:
		t.Error("event delivered after unsubscribe")
	default:
	}
}
