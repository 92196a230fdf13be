// matcher.go — 链与画布上下文的相关性判定。
package chain

// CanvasContext 触发或展示链的 UI 位置 (只读查找键, 由 UI 协作方提供)。
type CanvasContext struct {
	PageID        string `json:"pageId,omitempty"`
	BlockID       string `json:"blockId,omitempty"`
	ThreadID      string `json:"threadId,omitempty"`
	OriginalQuery string `json:"originalQuery,omitempty"`
}

// Relevant 判定链是否属于给定画布上下文。
//
// 五条规则按序求值, 任一命中即相关 (逻辑 OR, 短路):
//  1. chain.blockId == ctx.blockId
//  2. chain.sessionId == ctx.threadId
//  3. chain.originalQuery == ctx.originalQuery (精确字符串相等)
//  4. chain.pageId == ctx.pageId
//  5. chain.originalPageId == ctx.pageId
//
// 链来自三条出处路径, 标识字段不齐整, 任意单条强匹配即足够。
// 双方字段同时为空不构成匹配。
func Relevant(c ReasoningChainData, ctx CanvasContext) bool {
	if c.BlockID != "" && c.BlockID == ctx.BlockID {
		return true
	}
	if c.SessionID != "" && c.SessionID == ctx.ThreadID {
		return true
	}
	if c.OriginalQuery != "" && c.OriginalQuery == ctx.OriginalQuery {
		return true
	}
	if ctx.PageID != "" && c.PageID == ctx.PageID {
		return true
	}
	if ctx.PageID != "" && c.OriginalPageID == ctx.PageID {
		return true
	}
	return false
}
