// Package canvasapi 提供画布协作方的 HTTP API (REST + SSE 推送)。
package canvasapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/query-canvas/chain-engine/internal/chainstore"
	"github.com/query-canvas/chain-engine/internal/engine"
	"github.com/query-canvas/chain-engine/internal/recovery"
)

// Deps 聚合服务依赖 (一次注入)。
type Deps struct {
	Engine   *engine.Engine
	Loader   *chainstore.Loader
	Recovery *recovery.Coordinator
}

// Server 画布 HTTP 服务。
type Server struct {
	router    *gin.Engine
	deps      *Deps
	bus       *EventBus
	keepalive time.Duration
}

// NewServer 创建服务。keepalive <= 0 时取 15s。
// bus 为 nil 时新建 (引擎先于服务构造时传入共享总线)。
func NewServer(deps *Deps, keepalive time.Duration, bus *EventBus) *Server {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	if bus == nil {
		bus = NewEventBus(0)
	}
	r := gin.Default()
	s := &Server{router: r, deps: deps, bus: bus, keepalive: keepalive}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Bus 返回事件总线。
func (s *Server) Bus() *EventBus { return s.bus }
