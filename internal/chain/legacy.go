// legacy.go — 块内嵌链的两种历史形状归一化。
package chain

import (
	"encoding/json"
	"time"

	"github.com/query-canvas/chain-engine/internal/stream"
	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
)

// legacyObject 历史形状一: 带 events 数组的对象。
type legacyObject struct {
	SessionID     string         `json:"sessionId,omitempty"`
	OriginalQuery string         `json:"originalQuery,omitempty"`
	Events        []stream.Event `json:"events"`
	IsComplete    *bool          `json:"isComplete,omitempty"`
	Status        string         `json:"status,omitempty"`
	Progress      *float64       `json:"progress,omitempty"`
	LastUpdated   time.Time      `json:"lastUpdated,omitempty"`
}

// NormalizeLegacy 将块内嵌的历史链数据归一化为规范链。
//
// 识别两种形状:
//   - 对象 {events: [...], ...}
//   - 裸事件数组 [...]
//
// 历史数据默认 isComplete=true / status=completed (对象形状的显式字段优先)。
// 两种形状并存疑为历史偶然产物, 不再为其发明更多归一化规则;
// 无法识别的形状返回 ErrParse, 调用方记日志后跳过。
func NormalizeLegacy(raw json.RawMessage, blockID, pageID string) (ReasoningChainData, error) {
	trimmed := firstNonSpace(raw)
	switch trimmed {
	case '{':
		return normalizeLegacyObject(raw, blockID, pageID)
	case '[':
		return normalizeLegacyArray(raw, blockID, pageID)
	default:
		return ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
			"Legacy.Normalize", "unrecognized embedded chain shape")
	}
}

func normalizeLegacyObject(raw json.RawMessage, blockID, pageID string) (ReasoningChainData, error) {
	var obj legacyObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
			"Legacy.Normalize", "malformed legacy object")
	}
	if obj.Events == nil {
		return ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
			"Legacy.Normalize", "legacy object missing events array")
	}

	c := ReasoningChainData{
		SessionID:     obj.SessionID,
		BlockID:       blockID,
		PageID:        pageID,
		OriginalQuery: obj.OriginalQuery,
		Events:        obj.Events,
		IsComplete:    true,
		Status:        StatusCompleted,
		Progress:      1.0,
		LastUpdated:   obj.LastUpdated,
	}
	if obj.IsComplete != nil {
		c.IsComplete = *obj.IsComplete
	}
	if obj.Status != "" {
		c.Status = Status(obj.Status)
	}
	if obj.Progress != nil {
		c.Progress = *obj.Progress
	}
	return finishLegacy(c)
}

func normalizeLegacyArray(raw json.RawMessage, blockID, pageID string) (ReasoningChainData, error) {
	var events []stream.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		return ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
			"Legacy.Normalize", "malformed legacy event array")
	}
	return finishLegacy(ReasoningChainData{
		BlockID:    blockID,
		PageID:     pageID,
		Events:     events,
		IsComplete: true,
		Status:     StatusCompleted,
		Progress:   1.0,
	})
}

// finishLegacy 补齐键与时间戳; 无键的链不可合并。
func finishLegacy(c ReasoningChainData) (ReasoningChainData, error) {
	if c.Key() == "" {
		return ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
			"Legacy.Normalize", "legacy chain carries neither blockId nor sessionId")
	}
	if c.Events == nil {
		c.Events = []stream.Event{}
	}
	if c.LastUpdated.IsZero() {
		c.LastUpdated = lastEventTime(c.Events)
	}
	if c.OriginalQuery == "" {
		c.OriginalQuery = firstMessage(c.Events)
	}
	return c, nil
}

func lastEventTime(events []stream.Event) time.Time {
	for i := len(events) - 1; i >= 0; i-- {
		if !events[i].Timestamp.IsZero() {
			return events[i].Timestamp
		}
	}
	return time.Time{}
}

func firstMessage(events []stream.Event) string {
	for _, ev := range events {
		if ev.Type == stream.TypeStatus && ev.Message != "" {
			return ev.Message
		}
	}
	return ""
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
