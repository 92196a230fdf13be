package canvasapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/internal/chainstore"
	"github.com/query-canvas/chain-engine/internal/engine"
	"github.com/query-canvas/chain-engine/internal/recovery"
	"github.com/query-canvas/chain-engine/internal/stream"
)

func init() { gin.SetMode(gin.TestMode) }

// ========================================
// 测试替身
// ========================================

type fakeSession struct {
	events []stream.Event
	i      int
}

func (s *fakeSession) Next(_ context.Context) (stream.Event, error) {
	if s.i >= len(s.events) {
		return stream.Event{}, io.EOF
	}
	ev := s.events[s.i]
	s.i++
	return ev, nil
}

func (s *fakeSession) Close() error { return nil }

type fakeTransport struct{ events []stream.Event }

func (t *fakeTransport) Open(_ context.Context, _ stream.QueryRequest) (stream.Session, error) {
	return &fakeSession{events: t.events}, nil
}

type fakeFetcher struct{}

func (fakeFetcher) ChainsByPage(_ context.Context, _ string) ([]chain.ReasoningChainData, error) {
	return nil, nil
}

func newTestServer(events []stream.Event) *Server {
	loader := chainstore.NewLoader(fakeFetcher{}, 0)
	bus := NewEventBus(0)
	eng := engine.New(&fakeTransport{events: events}, loader, nil, bus)
	coord := recovery.NewCoordinator(loader, eng)
	return NewServer(&Deps{Engine: eng, Loader: loader, Recovery: coord}, time.Second, bus)
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func dataField(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, w.Body.String())
	}
	if !resp.Success {
		t.Fatalf("success = false: %s", w.Body.String())
	}
	return resp.Data
}

// ========================================
// 测试
// ========================================

// TestStartQuery 验证查询启动与状态查询端到端。
func TestStartQuery(t *testing.T) {
	s := newTestServer([]stream.Event{
		{Type: stream.TypeStatus},
		{Type: stream.TypeComplete},
	})

	w := doJSON(t, s, http.MethodPost, "/api/query", gin.H{
		"query":   "Show revenue by region",
		"context": gin.H{"pageId": "p1", "blockId": "b1"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	sessionID, _ := dataField(t, w)["sessionId"].(string)
	if sessionID == "" {
		t.Fatal("no sessionId in response")
	}

	// 流在后台消费, 轮询等待终态
	deadline := time.Now().Add(time.Second)
	for {
		w = doJSON(t, s, http.MethodGet, "/api/sessions/"+sessionID+"/status", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status endpoint = %d", w.Code)
		}
		if dataField(t, w)["status"] == string(chain.StatusCompleted) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("session never completed: %s", w.Body.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestStartQueryValidation 验证空查询被拒绝。
func TestStartQueryValidation(t *testing.T) {
	s := newTestServer(nil)
	w := doJSON(t, s, http.MethodPost, "/api/query", gin.H{"query": ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

// TestLoadAndListChains 验证加载触发与链查询端点。
func TestLoadAndListChains(t *testing.T) {
	s := newTestServer(nil)

	w := doJSON(t, s, http.MethodPost, "/api/chains/load", gin.H{
		"context": gin.H{"pageId": "p1"},
		"currentBlock": gin.H{
			"blockId": "b1",
			"pageId":  "p1",
			"raw":     json.RawMessage(`{"originalQuery": "q1", "events": []}`),
		},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("load status = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/chains/b1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get chain = %d", w.Code)
	}
	if dataField(t, w)["originalQuery"] != "q1" {
		t.Errorf("chain body: %s", w.Body.String())
	}

	w = doJSON(t, s, http.MethodGet, "/api/chains/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing chain = %d, want 404", w.Code)
	}
}

// TestIncompleteEndpoint 验证未完成子集端点。
func TestIncompleteEndpoint(t *testing.T) {
	s := newTestServer(nil)
	s.deps.Loader.Put(chain.ReasoningChainData{
		SessionID: "s1", BlockID: "b1", PageID: "p1",
		OriginalQuery: "q", Status: chain.StatusStreaming, Progress: 0.3,
	})

	w := doJSON(t, s, http.MethodGet, "/api/chains/incomplete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data []chain.ReasoningChainData `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Key() != "b1" {
		t.Errorf("incomplete = %+v", resp.Data)
	}
}

// TestResumeEndpoints 验证恢复端点的校验与受理。
func TestResumeEndpoints(t *testing.T) {
	s := newTestServer([]stream.Event{{Type: stream.TypeComplete}})
	s.deps.Loader.Put(chain.ReasoningChainData{
		SessionID: "s1", BlockID: "b1", PageID: "p1",
		OriginalQuery: "q", Status: chain.StatusStreaming,
	})

	w := doJSON(t, s, http.MethodPost, "/api/chains/resume", gin.H{"key": "b1"})
	if w.Code != http.StatusAccepted {
		t.Errorf("resume = %d, body %s", w.Code, w.Body.String())
	}

	w = doJSON(t, s, http.MethodPost, "/api/chains/resume", gin.H{"key": "missing"})
	if w.Code != http.StatusNotFound {
		t.Errorf("resume missing = %d, want 404", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/chains/retry", gin.H{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("retry without key = %d, want 400", w.Code)
	}

	// 终态链不可续跑, 映射为 409 (应改走 retry)
	s.deps.Loader.Put(chain.ReasoningChainData{
		SessionID: "s2", BlockID: "b2", PageID: "p1",
		OriginalQuery: "q", Status: chain.StatusCompleted, IsComplete: true,
	})
	w = doJSON(t, s, http.MethodPost, "/api/chains/resume", gin.H{"key": "b2"})
	if w.Code != http.StatusConflict {
		t.Errorf("resume terminal = %d, want 409, body %s", w.Code, w.Body.String())
	}
}

// TestVisualizationsEndpoint 验证图表端点返回链内图表。
func TestVisualizationsEndpoint(t *testing.T) {
	s := newTestServer(nil)
	s.deps.Loader.Put(chain.ReasoningChainData{
		SessionID: "s1", BlockID: "b1", PageID: "p1",
		OriginalQuery: "q", Status: chain.StatusCompleted, IsComplete: true,
		Events: []stream.Event{{
			Type:      stream.TypeChartConfigJSON,
			Timestamp: time.Now(),
			Message:   `{"type": "bar"}`,
		}},
	})

	w := doJSON(t, s, http.MethodGet, "/api/visualizations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Data) != 1 {
		t.Fatalf("visualizations = %d, want 1", len(resp.Data))
	}
	cfg, _ := resp.Data[0]["chartConfig"].(map[string]any)
	if cfg["type"] != "bar" {
		t.Errorf("chartConfig = %v", cfg)
	}
}
