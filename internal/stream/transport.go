// transport.go — WebSocket 传输层: 连接、读帧、保活。
package stream

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
	"github.com/query-canvas/chain-engine/pkg/logger"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// Transport 打开一次查询会话。
type Transport interface {
	Open(ctx context.Context, req QueryRequest) (Session, error)
}

// Session 一次会话的有序事件读取端。
type Session interface {
	// Next 阻塞读取下一事件。流正常结束返回 io.EOF。
	Next(ctx context.Context) (Event, error)
	Close() error
}

// ========================================
// WSTransport — gorilla/websocket 实现
// ========================================

// WSTransport 通过 WebSocket 连接查询 Agent。每次 Open 建立独立连接。
type WSTransport struct {
	URL          string
	DialTimeout  time.Duration
	PingInterval time.Duration
}

// NewWSTransport 创建传输。
func NewWSTransport(url string, dialTimeout, pingInterval time.Duration) *WSTransport {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	return &WSTransport{URL: url, DialTimeout: dialTimeout, PingInterval: pingInterval}
}

// Open 建连并发送查询请求。
func (t *WSTransport) Open(ctx context.Context, req QueryRequest) (Session, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.DialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: t.DialTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, "WSTransport.Open", "ws connect")
	}

	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return nil, apperrors.Wrap(err, "WSTransport.Open", "send query")
	}
	logger.Debug("stream: session opened",
		logger.FieldSessionID, req.SessionID,
		logger.FieldAddr, t.URL,
	)

	s := &wsSession{conn: conn, done: make(chan struct{})}
	util.SafeGo(func() { s.pingLoop(t.PingInterval) })
	return s, nil
}

type wsSession struct {
	conn *websocket.Conn

	writeMu sync.Mutex // ping 与 close 共用写端
	done    chan struct{}
	once    sync.Once
}

// Next 读取并反序列化一帧事件。
func (s *wsSession) Next(_ context.Context) (Event, error) {
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return Event{}, err
		}
		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// 坏帧不终止会话, 跳过继续读
			logger.Warn("stream: unparseable frame skipped",
				logger.FieldError, err,
				logger.FieldDataLen, len(raw),
			)
			continue
		}
		return ev, nil
	}
}

func (s *wsSession) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *wsSession) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
