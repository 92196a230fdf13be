package recovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/query-canvas/chain-engine/internal/chain"
	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
)

type fakeSource struct {
	chains map[string]chain.ReasoningChainData
}

func (f *fakeSource) Get(key string) (chain.ReasoningChainData, bool) {
	c, ok := f.chains[key]
	return c, ok
}

type fakeIssuer struct {
	mu      sync.Mutex
	queries []string
	ctxs    []chain.CanvasContext
	issued  chan struct{}
}

func newFakeIssuer() *fakeIssuer {
	return &fakeIssuer{issued: make(chan struct{}, 8)}
}

func (f *fakeIssuer) IssueQuery(_ context.Context, query string, canvasCtx chain.CanvasContext) (string, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.ctxs = append(f.ctxs, canvasCtx)
	f.mu.Unlock()
	f.issued <- struct{}{}
	return "new-session", nil
}

func (f *fakeIssuer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-f.issued:
	case <-time.After(time.Second):
		t.Fatal("query never reissued")
	}
}

func incompleteChain() chain.ReasoningChainData {
	return chain.ReasoningChainData{
		SessionID:     "s1",
		BlockID:       "b1",
		PageID:        "p1",
		OriginalQuery: "Show revenue by region",
		Status:        chain.StatusStreaming,
	}
}

// TestResumeReissuesOriginalQuery 验证续跑重发原始查询与画布上下文。
func TestResumeReissuesOriginalQuery(t *testing.T) {
	issuer := newFakeIssuer()
	coord := NewCoordinator(&fakeSource{chains: map[string]chain.ReasoningChainData{
		"b1": incompleteChain(),
	}}, issuer)

	if err := coord.Resume(context.Background(), "b1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	issuer.wait(t)

	issuer.mu.Lock()
	defer issuer.mu.Unlock()
	if issuer.queries[0] != "Show revenue by region" {
		t.Errorf("query = %q", issuer.queries[0])
	}
	if issuer.ctxs[0].BlockID != "b1" || issuer.ctxs[0].PageID != "p1" {
		t.Errorf("canvas context = %+v", issuer.ctxs[0])
	}
}

// TestResumeRejectsTerminal 验证终态链不可续跑。
func TestResumeRejectsTerminal(t *testing.T) {
	done := incompleteChain()
	done.Status = chain.StatusCompleted
	done.IsComplete = true

	coord := NewCoordinator(&fakeSource{chains: map[string]chain.ReasoningChainData{
		"b1": done,
	}}, newFakeIssuer())

	if err := coord.Resume(context.Background(), "b1"); !apperrors.Is(err, apperrors.ErrTerminated) {
		t.Errorf("err = %v, want ErrTerminated", err)
	}
}

// TestRetryWorksOnTerminalChain 验证重试可作用于 error 终态链。
func TestRetryWorksOnTerminalChain(t *testing.T) {
	failed := incompleteChain()
	failed.Status = chain.StatusError
	failed.IsComplete = true

	issuer := newFakeIssuer()
	coord := NewCoordinator(&fakeSource{chains: map[string]chain.ReasoningChainData{
		"b1": failed,
	}}, issuer)

	if err := coord.Retry(context.Background(), "b1"); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	issuer.wait(t)
}

// TestLookupFailures 验证未知键与空查询的同步校验错误。
func TestLookupFailures(t *testing.T) {
	noQuery := incompleteChain()
	noQuery.OriginalQuery = ""

	coord := NewCoordinator(&fakeSource{chains: map[string]chain.ReasoningChainData{
		"b1": noQuery,
	}}, newFakeIssuer())

	if err := coord.Resume(context.Background(), "missing"); !apperrors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("missing key: err = %v, want ErrNotFound", err)
	}
	if err := coord.Retry(context.Background(), "b1"); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("no query: err = %v, want ErrInvalidInput", err)
	}
}

// TestDispatchSurvivesCallerCancel 验证调用方取消不影响重发。
func TestDispatchSurvivesCallerCancel(t *testing.T) {
	issuer := newFakeIssuer()
	coord := NewCoordinator(&fakeSource{chains: map[string]chain.ReasoningChainData{
		"b1": incompleteChain(),
	}}, issuer)

	ctx, cancel := context.WithCancel(context.Background())
	if err := coord.Resume(ctx, "b1"); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	cancel()
	issuer.wait(t)
}
