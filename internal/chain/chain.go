// Package chain 定义推理链记录与其累积/匹配语义。
//
// 一条链对应一次查询的多阶段执行记录。链由唯一写者持有:
// 直播路径为 Accumulator, 合并路径为 chainstore.Loader。
package chain

import (
	"time"

	"github.com/query-canvas/chain-engine/internal/stream"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// Status 链状态。终态 (completed/error) 一旦进入永不回退。
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// ReasoningChainData 一条推理链。
//
// 键规则: blockId 优先, 缺失时回落 sessionId; 在一个加载集内唯一。
type ReasoningChainData struct {
	SessionID      string         `json:"sessionId"`
	BlockID        string         `json:"blockId,omitempty"`
	PageID         string         `json:"pageId,omitempty"`
	OriginalPageID string         `json:"originalPageId,omitempty"`
	OriginalQuery  string         `json:"originalQuery"`
	Events         []stream.Event `json:"events"`
	IsComplete     bool           `json:"isComplete"`
	Status         Status         `json:"status"`
	Progress       float64        `json:"progress"`
	LastUpdated    time.Time      `json:"lastUpdated"`
}

// Key 返回链的去重键: blockId ?? sessionId。
func (c *ReasoningChainData) Key() string {
	return util.FirstNonEmpty(c.BlockID, c.SessionID)
}

// Terminal 返回链是否处于终态。
func (c *ReasoningChainData) Terminal() bool {
	return c.Status == StatusCompleted || c.Status == StatusError
}

// Incomplete 返回链是否仍在流式执行 (未完成子集的筛选条件)。
func (c *ReasoningChainData) Incomplete() bool {
	return c.Status == StatusStreaming && !c.IsComplete
}

// Clone 返回链的副本。事件一经追加不可变, 事件切片做浅拷贝即可。
func (c ReasoningChainData) Clone() ReasoningChainData {
	out := c
	if c.Events != nil {
		out.Events = make([]stream.Event, len(c.Events))
		copy(out.Events, c.Events)
	}
	return out
}
