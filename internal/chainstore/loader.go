// Package chainstore 按画布加载并合并三条出处路径的推理链。
//
// 来源优先级 (先写者胜):
//  1. 按页持久化存储 (逐页拉取, 单页失败不阻塞其余)
//  2. 当前块的内嵌历史链
//  3. 工作区内其他块的内嵌历史链
//
// 直播流经 Put 进入同一张合并表 (直播写者持有所有权, 覆盖写)。
// 链永不被本引擎删除, 处置归属页面/工作区。
package chainstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/pkg/logger"
)

// PersistedFetcher 按页拉取持久化链 (UI 协作方约定的接口)。
type PersistedFetcher interface {
	ChainsByPage(ctx context.Context, pageID string) ([]chain.ReasoningChainData, error)
}

// LegacyBlock 携带内嵌历史链的块。
type LegacyBlock struct {
	BlockID string          `json:"blockId"`
	PageID  string          `json:"pageId,omitempty"`
	Raw     json.RawMessage `json:"raw"`
}

// LoadRequest 一次画布加载的全部输入。
type LoadRequest struct {
	Context         chain.CanvasContext `json:"context"`
	PageIDs         []string            `json:"pageIds,omitempty"`
	CurrentBlock    *LegacyBlock        `json:"currentBlock,omitempty"`
	WorkspaceBlocks []LegacyBlock       `json:"workspaceBlocks,omitempty"`
	ContextSize     int                 `json:"contextSize,omitempty"`
}

// Loader 合并链的持有者 (合并路径的唯一写者)。
type Loader struct {
	fetcher PersistedFetcher
	window  time.Duration

	mu         sync.Mutex
	merged     map[string]chain.ReasoningChainData
	incomplete []chain.ReasoningChainData
	inProgress map[string]bool
	debouncers map[string]func(func())
}

// NewLoader 创建 Loader。window <= 0 时 Trigger 退化为同步加载 (测试用)。
func NewLoader(fetcher PersistedFetcher, window time.Duration) *Loader {
	return &Loader{
		fetcher:    fetcher,
		window:     window,
		merged:     make(map[string]chain.ReasoningChainData),
		inProgress: make(map[string]bool),
		debouncers: make(map[string]func(func())),
	}
}

// loadKey 加载串行化键: (pageId, contextSize)。
func loadKey(req LoadRequest) string {
	return fmt.Sprintf("%s|%d", req.Context.PageID, req.ContextSize)
}

// Trigger 触发一次加载。同键的快速重复触发经短防抖窗口合并。
func (l *Loader) Trigger(ctx context.Context, req LoadRequest) {
	if l.window <= 0 {
		l.Load(ctx, req)
		return
	}

	key := loadKey(req)
	l.mu.Lock()
	d, ok := l.debouncers[key]
	if !ok {
		d = debounce.New(l.window)
		l.debouncers[key] = d
	}
	l.mu.Unlock()

	// 防抖回调在计时器 goroutine 执行; 触发方的请求生命周期
	// (如 HTTP 请求) 不应取消延迟加载
	detached := context.WithoutCancel(ctx)
	d(func() {
		// 触发后移除防抖器, 避免长进程遍历多页时表无界增长
		l.mu.Lock()
		delete(l.debouncers, key)
		l.mu.Unlock()
		l.Load(detached, req)
	})
}

// Load 同步执行一次加载。同键并发加载经 in-progress 标志串行化 (后到者跳过)。
func (l *Loader) Load(ctx context.Context, req LoadRequest) {
	key := loadKey(req)
	l.mu.Lock()
	if l.inProgress[key] {
		l.mu.Unlock()
		logger.Debug("chainstore: load already in progress", logger.FieldKey, key)
		return
	}
	l.inProgress[key] = true
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.inProgress, key)
		l.mu.Unlock()
	}()

	candidates := l.gather(ctx, req)
	l.merge(candidates, req.Context)
}

// gather 按来源优先级收集候选链。
func (l *Loader) gather(ctx context.Context, req LoadRequest) []chain.ReasoningChainData {
	var candidates []chain.ReasoningChainData

	// 来源 1: 按页持久化拉取 — 单页失败仅记日志
	for _, pageID := range req.PageIDs {
		chains, err := l.fetcher.ChainsByPage(ctx, pageID)
		if err != nil {
			logger.Warn("chainstore: page fetch failed, skipping page",
				logger.FieldPageID, pageID,
				logger.FieldError, err,
			)
			continue
		}
		candidates = append(candidates, chains...)
	}

	// 来源 2: 当前块内嵌历史链
	if req.CurrentBlock != nil {
		candidates = append(candidates, l.normalizeBlock(*req.CurrentBlock)...)
	}

	// 来源 3: 工作区其他块的内嵌历史链
	for _, block := range req.WorkspaceBlocks {
		candidates = append(candidates, l.normalizeBlock(block)...)
	}

	return candidates
}

func (l *Loader) normalizeBlock(block LegacyBlock) []chain.ReasoningChainData {
	if len(block.Raw) == 0 {
		return nil
	}
	c, err := chain.NormalizeLegacy(block.Raw, block.BlockID, block.PageID)
	if err != nil {
		// ParseError 是不可见降级: 跳过该块
		logger.Debug("chainstore: unrecognized legacy chain skipped",
			logger.FieldBlockID, block.BlockID,
			logger.FieldError, err,
		)
		return nil
	}
	return []chain.ReasoningChainData{c}
}

// merge 按键 insert-if-absent, 候选先经相关性过滤。
func (l *Loader) merge(candidates []chain.ReasoningChainData, ctx chain.CanvasContext) {
	l.mu.Lock()
	defer l.mu.Unlock()

	inserted := 0
	for _, cand := range candidates {
		if !chain.Relevant(cand, ctx) {
			continue
		}
		key := cand.Key()
		if key == "" {
			continue
		}
		if _, exists := l.merged[key]; exists {
			continue
		}
		l.merged[key] = cand
		inserted++
	}
	l.rebuildIncompleteLocked()

	logger.Debug("chainstore: merge complete",
		logger.FieldCount, inserted,
		"total", len(l.merged),
	)
}

// Put 直播路径的覆盖写 (直播写者持有该链所有权)。
func (l *Loader) Put(c chain.ReasoningChainData) {
	key := c.Key()
	if key == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.merged[key] = c
	l.rebuildIncompleteLocked()
}

// Get 按键返回链快照。
func (l *Loader) Get(key string) (chain.ReasoningChainData, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.merged[key]
	if !ok {
		return chain.ReasoningChainData{}, false
	}
	return c.Clone(), true
}

// Merged 返回合并表的快照 (重算副本, UI 协作方不可原地修改)。
func (l *Loader) Merged() map[string]chain.ReasoningChainData {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]chain.ReasoningChainData, len(l.merged))
	for k, c := range l.merged {
		out[k] = c.Clone()
	}
	return out
}

// Incomplete 返回未完成子集的快照 (status==streaming && !isComplete)。
func (l *Loader) Incomplete() []chain.ReasoningChainData {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chain.ReasoningChainData, len(l.incomplete))
	for i, c := range l.incomplete {
		out[i] = c.Clone()
	}
	return out
}

// Chains 返回全部链的快照切片 (最近更新在前)。
func (l *Loader) Chains() []chain.ReasoningChainData {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]chain.ReasoningChainData, 0, len(l.merged))
	for _, c := range l.merged {
		out = append(out, c.Clone())
	}
	sortByLastUpdatedDesc(out)
	return out
}

func (l *Loader) rebuildIncompleteLocked() {
	incomplete := l.incomplete[:0]
	for _, c := range l.merged {
		if c.Incomplete() {
			incomplete = append(incomplete, c)
		}
	}
	sortByLastUpdatedDesc(incomplete)
	l.incomplete = incomplete
}

func sortByLastUpdatedDesc(chains []chain.ReasoningChainData) {
	sort.Slice(chains, func(i, j int) bool {
		return chains[i].LastUpdated.After(chains[j].LastUpdated)
	})
}
