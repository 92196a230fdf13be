// client.go — 事件流消费循环: 按标签分发、终态去重、传输异常合成。
package stream

import (
	"context"
	"errors"
	"io"
	"time"

	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
	"github.com/query-canvas/chain-engine/pkg/logger"
)

// QueryOptions 查询标志位。
type QueryOptions struct {
	Analyze       bool `json:"analyze,omitempty"`
	ForceDetailed bool `json:"forceDetailed,omitempty"`
	Diagnostics   bool `json:"diagnostics,omitempty"`
}

// QueryRequest 一次查询会话的请求。
type QueryRequest struct {
	Query     string       `json:"query"`
	SessionID string       `json:"sessionId"`
	Options   QueryOptions `json:"options"`
}

// Handler 事件回调。同一会话内严格按到达顺序在单 goroutine 串行执行。
type Handler func(Event)

// Client 单查询会话的事件流消费者。
//
// 注册期与运行期分离: Run 启动后不应再调用 On/OnAny/OnProgress。
type Client struct {
	transport   Transport
	handlers    map[string][]Handler
	anyHandlers []Handler
	progressFns []func(float64)
}

// NewClient 创建客户端。
func NewClient(transport Transport) *Client {
	return &Client{
		transport: transport,
		handlers:  make(map[string][]Handler),
	}
}

// On 注册指定标签的回调。
func (c *Client) On(eventType string, h Handler) {
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// OnAny 注册全标签回调 (在标签回调之前执行)。
func (c *Client) OnAny(h Handler) {
	c.anyHandlers = append(c.anyHandlers, h)
}

// OnProgress 注册进度回调。
func (c *Client) OnProgress(fn func(float64)) {
	c.progressFns = append(c.progressFns, fn)
}

// Run 打开会话并消费事件直到流结束。
//
// 保证: 每会话恰好一个终态回调 (complete 或 error)。终态之后的
// 迟到事件照常分发 (容忍重复投递), 但重复终态被丢弃。
// 传输异常中断时合成一个 error 事件, 返回 ErrTransport。
func (c *Client) Run(ctx context.Context, req QueryRequest) error {
	session, err := c.transport.Open(ctx, req)
	if err != nil {
		c.emitTransportError(req, err)
		return apperrors.Wrap(apperrors.ErrTransport, "StreamClient.Run", "open session")
	}
	defer func() { _ = session.Close() }()

	tracker := ProgressTracker{}
	terminalSeen := false

	for {
		ev, err := session.Next(ctx)
		if err != nil {
			if terminalSeen {
				// 终态回调已触发, 此后的断流是正常收尾
				if !errors.Is(err, io.EOF) {
					logger.Debug("stream: post-terminal read error ignored",
						logger.FieldSessionID, req.SessionID,
						logger.FieldError, err,
					)
				}
				return nil
			}
			c.emitTransportError(req, err)
			c.notifyProgress(0)
			return apperrors.Wrap(apperrors.ErrTransport, "StreamClient.Run", "read event")
		}

		if !KnownType(ev.Type) {
			logger.Warn("stream: unknown event dropped",
				logger.FieldSessionID, req.SessionID,
				logger.FieldEventType, ev.Type,
			)
			continue
		}
		if IsTerminal(ev.Type) && terminalSeen {
			logger.Debug("stream: duplicate terminal dropped",
				logger.FieldSessionID, req.SessionID,
				logger.FieldEventType, ev.Type,
			)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}

		c.notifyProgress(tracker.Observe(ev))
		c.dispatch(ev)

		if IsTerminal(ev.Type) {
			terminalSeen = true
		}
	}
}

// dispatch 串行分发: 先全标签回调, 再标签回调, 均按注册顺序。
func (c *Client) dispatch(ev Event) {
	for _, h := range c.anyHandlers {
		h(ev)
	}
	for _, h := range c.handlers[ev.Type] {
		h(ev)
	}
}

func (c *Client) notifyProgress(p float64) {
	for _, fn := range c.progressFns {
		fn(p)
	}
}

// emitTransportError 合成唯一一次 error 事件 (流异常结束)。
func (c *Client) emitTransportError(req QueryRequest, cause error) {
	logger.Warn("stream: transport failure",
		logger.FieldSessionID, req.SessionID,
		logger.FieldError, cause,
	)
	c.dispatch(Event{
		Type:      TypeError,
		Message:   "stream disconnected",
		Timestamp: time.Now(),
		Metadata: map[string]any{
			"errorCode":   "TRANSPORT",
			"recoverable": true,
		},
	})
}
