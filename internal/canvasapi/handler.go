// handler.go — 画布 REST API handlers。
package canvasapi

import (
	"github.com/gin-gonic/gin"

	"github.com/query-canvas/chain-engine/internal/chainstore"
	"github.com/query-canvas/chain-engine/internal/engine"
)

// registerRoutes 注册 API 路由。
func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.POST("/query", s.startQuery)

	api.POST("/chains/load", s.loadChains)
	api.GET("/chains", s.listChains)
	api.GET("/chains/incomplete", s.listIncomplete)
	api.GET("/chains/:key", s.getChain)
	api.POST("/chains/resume", s.resumeChain)
	api.POST("/chains/retry", s.retryChain)

	api.GET("/visualizations", s.listVisualizations)
	api.GET("/sessions/:id/status", s.sessionStatus)

	api.GET("/events", s.sseHandler)
}

// ========================================
// 查询执行
// ========================================

func (s *Server) startQuery(c *gin.Context) {
	var req engine.QueryParams
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		badRequest(c, "invalid_request", "query is required")
		return
	}
	sessionID, err := s.deps.Engine.Query(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	accepted(c, gin.H{"sessionId": sessionID})
}

// ========================================
// 链加载与查询
// ========================================

func (s *Server) loadChains(c *gin.Context) {
	var req chainstore.LoadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	s.deps.Loader.Trigger(c.Request.Context(), req)
	accepted(c, gin.H{"triggered": true})
}

func (s *Server) listChains(c *gin.Context) {
	success(c, s.deps.Loader.Chains())
}

func (s *Server) listIncomplete(c *gin.Context) {
	success(c, s.deps.Loader.Incomplete())
}

func (s *Server) getChain(c *gin.Context) {
	chainData, ok := s.deps.Loader.Get(c.Param("key"))
	if !ok {
		notFound(c, "chain not found")
		return
	}
	success(c, chainData)
}

// ========================================
// 恢复
// ========================================

func (s *Server) resumeChain(c *gin.Context) {
	key, ok := bindChainKey(c)
	if !ok {
		return
	}
	if err := s.deps.Recovery.Resume(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}
	accepted(c, gin.H{"resumed": true})
}

func (s *Server) retryChain(c *gin.Context) {
	key, ok := bindChainKey(c)
	if !ok {
		return
	}
	if err := s.deps.Recovery.Retry(c.Request.Context(), key); err != nil {
		respondError(c, err)
		return
	}
	accepted(c, gin.H{"retried": true})
}

func bindChainKey(c *gin.Context) (string, bool) {
	var req struct {
		Key string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return "", false
	}
	if req.Key == "" {
		badRequest(c, "invalid_request", "key is required")
		return "", false
	}
	return req.Key, true
}

// ========================================
// 可视化与状态
// ========================================

func (s *Server) listVisualizations(c *gin.Context) {
	success(c, s.deps.Engine.Visualizations())
}

func (s *Server) sessionStatus(c *gin.Context) {
	status, ok := s.deps.Engine.LiveStatus(c.Param("id"))
	if !ok {
		notFound(c, "session not found")
		return
	}
	success(c, status)
}
