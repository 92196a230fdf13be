// Package engine 把流消费、链累积、合并存储与持久化回写黏合为查询执行入口。
//
// 每次查询在独立 goroutine 中消费自己的事件流; 发起方 (HTTP 请求)
// 的取消不终止流, 页面切换不中断正在执行的查询。
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/internal/stream"
	"github.com/query-canvas/chain-engine/internal/viz"
	"github.com/query-canvas/chain-engine/pkg/logger"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// 终态落库的独立超时, 不挂在任何请求生命周期上。
const writeBackTimeout = 10 * time.Second

// ChainSink 合并表的直播写入口 (chainstore.Loader 满足)。
type ChainSink interface {
	Put(c chain.ReasoningChainData)
	Chains() []chain.ReasoningChainData
}

// ChainWriter 终态链的持久化回写 (store.ReasoningChainStore 满足)。
// nil writer 表示不持久化 (纯内存运行)。
type ChainWriter interface {
	Upsert(ctx context.Context, c chain.ReasoningChainData) error
}

// Publisher 链更新与进度的对外推送 (canvasapi.EventBus 满足)。
type Publisher interface {
	PublishChainUpdate(c chain.ReasoningChainData)
	PublishProgress(sessionID string, progress float64)
}

// QueryParams 一次查询执行的输入。SessionID 为空时由引擎分配。
type QueryParams struct {
	Query     string              `json:"query"`
	SessionID string              `json:"sessionId,omitempty"`
	Context   chain.CanvasContext `json:"context"`
	Options   stream.QueryOptions `json:"options"`
}

// LiveStatus 会话的即时状态。
type LiveStatus struct {
	SessionID string       `json:"sessionId"`
	Status    chain.Status `json:"status"`
	Progress  float64      `json:"progress"`
}

// Engine 查询执行引擎。
type Engine struct {
	transport stream.Transport
	acc       *chain.Accumulator
	sink      ChainSink
	writer    ChainWriter
	pub       Publisher

	mu        sync.Mutex
	directViz []viz.VisualizationRecord
}

// New 创建引擎。writer 与 pub 可为 nil。
func New(transport stream.Transport, sink ChainSink, writer ChainWriter, pub Publisher) *Engine {
	return &Engine{
		transport: transport,
		acc:       chain.NewAccumulator(),
		sink:      sink,
		writer:    writer,
		pub:       pub,
	}
}

// Query 启动一次查询并立即返回会话 ID; 事件流在后台消费。
func (e *Engine) Query(ctx context.Context, p QueryParams) (string, error) {
	sessionID := p.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	c := e.acc.Start(sessionID, p.Context, p.Query)
	e.sink.Put(c)
	e.publishChain(c)

	client := stream.NewClient(e.transport)
	client.OnAny(func(ev stream.Event) {
		updated := e.acc.Ingest(sessionID, ev)
		e.sink.Put(updated)
		e.publishChain(updated)
		if ev.Type == stream.TypeComplete {
			// 同步路径: 即时响应内嵌的图表不必等下一次链加载
			if r, ok := viz.FromCompleteEvent(updated.SessionID, updated.BlockID, updated.OriginalQuery, ev); ok {
				e.RecordDirectVisualization(r)
			}
		}
		if updated.Terminal() && stream.IsTerminal(ev.Type) {
			e.writeBack(updated)
		}
	})
	client.OnProgress(func(progress float64) {
		if e.pub != nil {
			e.pub.PublishProgress(sessionID, progress)
		}
	})

	req := stream.QueryRequest{Query: p.Query, SessionID: sessionID, Options: p.Options}
	detached := context.WithoutCancel(ctx)
	util.SafeGo(func() {
		if err := client.Run(detached, req); err != nil {
			logger.Warn("engine: stream ended abnormally",
				logger.FieldSessionID, sessionID,
				logger.FieldError, err,
			)
		}
	})

	logger.Info("engine: query started",
		logger.FieldSessionID, sessionID,
		logger.FieldQuery, p.Query,
	)
	return sessionID, nil
}

// IssueQuery 恢复路径的查询重发入口 (recovery.QueryIssuer)。
func (e *Engine) IssueQuery(ctx context.Context, query string, canvasCtx chain.CanvasContext) (string, error) {
	return e.Query(ctx, QueryParams{Query: query, Context: canvasCtx})
}

// LiveStatus 返回会话的即时状态, 未知会话返回 false。
func (e *Engine) LiveStatus(sessionID string) (LiveStatus, bool) {
	c, ok := e.acc.Get(sessionID)
	if !ok {
		return LiveStatus{}, false
	}
	return LiveStatus{
		SessionID: sessionID,
		Status:    c.Status,
		Progress:  c.Progress,
	}, true
}

// RecordDirectVisualization 登记非流式响应内嵌的图表记录。
func (e *Engine) RecordDirectVisualization(r viz.VisualizationRecord) {
	e.mu.Lock()
	e.directViz = append(e.directViz, r)
	e.mu.Unlock()
}

// Visualizations 合并链内图表与直接响应图表, 最新在前。
func (e *Engine) Visualizations() []viz.VisualizationRecord {
	records := viz.FromChains(e.sink.Chains())

	e.mu.Lock()
	records = append(records, e.directViz...)
	e.mu.Unlock()

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

func (e *Engine) publishChain(c chain.ReasoningChainData) {
	if e.pub != nil {
		e.pub.PublishChainUpdate(c)
	}
}

// writeBack 终态链落库。失败只记日志, 不影响直播路径。
func (e *Engine) writeBack(c chain.ReasoningChainData) {
	if e.writer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeBackTimeout)
	defer cancel()
	if err := e.writer.Upsert(ctx, c); err != nil {
		logger.Error("engine: chain write-back failed",
			logger.FieldSessionID, c.SessionID,
			logger.FieldError, err,
		)
	}
}
