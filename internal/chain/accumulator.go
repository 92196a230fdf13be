// accumulator.go — 直播路径的链累积: 纯 reducer + 并发安全包装。
package chain

import (
	"sync"
	"time"

	"github.com/query-canvas/chain-engine/internal/stream"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// NewChain 在首个事件到达 (或会话启动) 时分配链记录。
func NewChain(sessionID string, ctx CanvasContext, query string) ReasoningChainData {
	return ReasoningChainData{
		SessionID:     sessionID,
		BlockID:       ctx.BlockID,
		PageID:        ctx.PageID,
		OriginalQuery: util.FirstNonEmpty(query, ctx.OriginalQuery),
		Events:        []stream.Event{},
		Status:        StatusStreaming,
		Progress:      0,
		IsComplete:    false,
		LastUpdated:   time.Now(),
	}
}

// Apply 纯 reducer: (chain, event) -> chain。
//
// 规则:
//   - 事件无条件追加 (容忍重复/迟到投递)
//   - 终态只进不出: complete→completed, error→error, 之后状态钉死
//   - streaming 期间进度随事件单调推进, <= 0.9
func Apply(c ReasoningChainData, ev stream.Event) ReasoningChainData {
	out := c.Clone()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	out.Events = append(out.Events, ev)
	out.LastUpdated = ev.Timestamp

	if out.Terminal() {
		// 终态链照常记录迟到事件, 但状态/进度不再变化
		return out
	}

	switch ev.Type {
	case stream.TypeComplete:
		out.Status = StatusCompleted
		out.IsComplete = true
		out.Progress = 1.0
		// complete 可能携带 Agent 侧会话 ID, 链尚无会话 ID 时采纳
		var data stream.CompleteData
		if err := ev.DecodeData(&data); err == nil && out.SessionID == "" {
			out.SessionID = data.SessionID
		}
	case stream.TypeError:
		out.Status = StatusError
		out.IsComplete = true
		out.Progress = 0
	default:
		if target, ok := stream.TargetFor(ev); ok {
			out.Progress = util.ClampFloat(target, out.Progress, 0.9)
		}
	}
	return out
}

// Accumulator 按会话持有直播链。同一会话的事件串行进入, 跨会话并发安全。
type Accumulator struct {
	mu     sync.Mutex
	chains map[string]ReasoningChainData
}

// NewAccumulator 创建空累积器。
func NewAccumulator() *Accumulator {
	return &Accumulator{chains: make(map[string]ReasoningChainData)}
}

// Start 在会话启动时预建链 (带画布上下文与原始查询)。
func (a *Accumulator) Start(sessionID string, ctx CanvasContext, query string) ReasoningChainData {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.chains[sessionID]
	if !ok {
		c = NewChain(sessionID, ctx, query)
		a.chains[sessionID] = c
	}
	return c.Clone()
}

// Ingest 将事件折叠进会话的链, 返回更新后的快照。
// 未经 Start 的会话在首个事件到达时自动建链。
func (a *Accumulator) Ingest(sessionID string, ev stream.Event) ReasoningChainData {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.chains[sessionID]
	if !ok {
		c = NewChain(sessionID, CanvasContext{}, "")
	}
	c = Apply(c, ev)
	a.chains[sessionID] = c
	return c.Clone()
}

// Get 返回会话链的快照。
func (a *Accumulator) Get(sessionID string) (ReasoningChainData, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, ok := a.chains[sessionID]
	if !ok {
		return ReasoningChainData{}, false
	}
	return c.Clone(), true
}

// All 返回所有直播链的快照。
func (a *Accumulator) All() []ReasoningChainData {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ReasoningChainData, 0, len(a.chains))
	for _, c := range a.chains {
		out = append(out, c.Clone())
	}
	return out
}
