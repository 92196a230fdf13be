// Package recovery 负责中断链的续跑与失败链的重试。
//
// 两种路径都不回放旧事件, 只把原始查询重新交给查询发起方,
// 代理端从头执行。重试开启全新会话, 不与旧链的历史合并。
package recovery

import (
	"context"

	"github.com/query-canvas/chain-engine/internal/chain"
	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
	"github.com/query-canvas/chain-engine/pkg/logger"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// ChainSource 按键取链 (chainstore.Loader 满足)。
type ChainSource interface {
	Get(key string) (chain.ReasoningChainData, bool)
}

// QueryIssuer 发起一次查询执行 (engine.Engine 满足)。
type QueryIssuer interface {
	IssueQuery(ctx context.Context, query string, canvasCtx chain.CanvasContext) (string, error)
}

// Coordinator 恢复协调器。
type Coordinator struct {
	source ChainSource
	issuer QueryIssuer
}

// NewCoordinator 创建 Coordinator。
func NewCoordinator(source ChainSource, issuer QueryIssuer) *Coordinator {
	return &Coordinator{source: source, issuer: issuer}
}

// Resume 续跑一条中断链: 校验后异步重发原始查询。
// 已终态的链不可续跑 (改走 Retry)。
func (r *Coordinator) Resume(ctx context.Context, key string) error {
	c, err := r.lookup(key, "Recovery.Resume")
	if err != nil {
		return err
	}
	if c.Terminal() {
		return apperrors.Wrap(apperrors.ErrTerminated, "Recovery.Resume",
			"chain already terminal, use retry")
	}
	r.dispatch(ctx, "resume", c)
	return nil
}

// Retry 重试一条链 (通常是 error 终态): 校验后异步重发原始查询。
func (r *Coordinator) Retry(ctx context.Context, key string) error {
	c, err := r.lookup(key, "Recovery.Retry")
	if err != nil {
		return err
	}
	r.dispatch(ctx, "retry", c)
	return nil
}

func (r *Coordinator) lookup(key, op string) (chain.ReasoningChainData, error) {
	c, ok := r.source.Get(key)
	if !ok {
		return chain.ReasoningChainData{}, apperrors.Wrap(apperrors.ErrNotFound, op, "chain not found")
	}
	if c.OriginalQuery == "" {
		return chain.ReasoningChainData{}, apperrors.Wrap(apperrors.ErrInvalidInput, op,
			"chain carries no original query")
	}
	return c, nil
}

// dispatch 异步重发查询。调用方 (HTTP 请求) 的取消不影响重发流程。
func (r *Coordinator) dispatch(ctx context.Context, mode string, c chain.ReasoningChainData) {
	canvasCtx := chain.CanvasContext{
		PageID:        c.PageID,
		BlockID:       c.BlockID,
		OriginalQuery: c.OriginalQuery,
	}
	detached := context.WithoutCancel(ctx)
	util.SafeGo(func() {
		sessionID, err := r.issuer.IssueQuery(detached, c.OriginalQuery, canvasCtx)
		if err != nil {
			logger.Error("recovery: reissue failed",
				logger.FieldChainKey, c.Key(),
				"mode", mode,
				logger.FieldError, err,
			)
			return
		}
		logger.Info("recovery: query reissued",
			logger.FieldChainKey, c.Key(),
			"mode", mode,
			logger.FieldSessionID, sessionID,
		)
	})
}
