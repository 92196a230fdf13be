package stream

import (
	"context"
	"errors"
	"io"
	"testing"

	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
)

// ─── fakes ───

type fakeSession struct {
	events []Event
	err    error // 事件耗尽后返回的错误 (默认 io.EOF)
	pos    int
	closed bool
}

func (s *fakeSession) Next(_ context.Context) (Event, error) {
	if s.pos >= len(s.events) {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeTransport struct {
	session *fakeSession
	openErr error
}

func (t *fakeTransport) Open(_ context.Context, _ QueryRequest) (Session, error) {
	if t.openErr != nil {
		return nil, t.openErr
	}
	return t.session, nil
}

func runClient(t *testing.T, events []Event, tail error) (*Client, []Event, error) {
	t.Helper()
	session := &fakeSession{events: events, err: tail}
	client := NewClient(&fakeTransport{session: session})

	var seen []Event
	client.OnAny(func(ev Event) { seen = append(seen, ev) })
	err := client.Run(context.Background(), QueryRequest{Query: "q", SessionID: "s1"})

	if !session.closed {
		t.Error("session not closed after Run")
	}
	return client, seen, err
}

// ─── tests ───

// TestRunDispatchOrder 验证事件严格按到达顺序分发。
func TestRunDispatchOrder(t *testing.T) {
	input := []Event{
		{Type: TypeStatus, Message: "starting"},
		{Type: TypeClassifying},
		{Type: TypeQueryExecuting},
		{Type: TypeComplete},
	}
	_, seen, err := runClient(t, input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != len(input) {
		t.Fatalf("dispatched %d events, want %d", len(seen), len(input))
	}
	for i := range input {
		if seen[i].Type != input[i].Type {
			t.Errorf("event %d: type = %s, want %s", i, seen[i].Type, input[i].Type)
		}
	}
}

// TestRunUnknownEventDropped 验证未知标签被丢弃且不中断会话。
func TestRunUnknownEventDropped(t *testing.T) {
	input := []Event{
		{Type: TypeStatus},
		{Type: "totally_new_tag"},
		{Type: TypeComplete},
	}
	_, seen, err := runClient(t, input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(seen))
	}
}

// TestRunExactlyOneTerminal 验证重复终态只触发一次回调。
func TestRunExactlyOneTerminal(t *testing.T) {
	input := []Event{
		{Type: TypeComplete},
		{Type: TypeComplete},
		{Type: TypeError},
	}
	_, seen, err := runClient(t, input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	terminals := 0
	for _, ev := range seen {
		if IsTerminal(ev.Type) {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal callbacks = %d, want 1", terminals)
	}
}

// TestRunLateEventsAfterTerminal 验证终态后的迟到非终态事件照常分发。
func TestRunLateEventsAfterTerminal(t *testing.T) {
	input := []Event{
		{Type: TypeComplete},
		{Type: TypePartialResults, Message: "late"},
	}
	_, seen, err := runClient(t, input, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("dispatched %d events, want 2", len(seen))
	}
	if seen[1].Type != TypePartialResults {
		t.Errorf("late event type = %s", seen[1].Type)
	}
}

// TestRunTransportErrorSynthesized 验证异常断流合成唯一一次 error 回调。
func TestRunTransportErrorSynthesized(t *testing.T) {
	input := []Event{{Type: TypeStatus}}
	_, seen, err := runClient(t, input, errors.New("connection reset"))

	if !apperrors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("Run error = %v, want ErrTransport", err)
	}
	if len(seen) != 2 {
		t.Fatalf("dispatched %d events, want 2 (status + synthesized error)", len(seen))
	}
	last := seen[len(seen)-1]
	if last.Type != TypeError {
		t.Fatalf("last event type = %s, want error", last.Type)
	}
	if last.Metadata["errorCode"] != "TRANSPORT" {
		t.Errorf("errorCode = %v", last.Metadata["errorCode"])
	}
	if last.Metadata["recoverable"] != true {
		t.Errorf("recoverable = %v, want true", last.Metadata["recoverable"])
	}
}

// TestRunPostTerminalDisconnectBenign 验证终态后的断流不再合成 error。
func TestRunPostTerminalDisconnectBenign(t *testing.T) {
	input := []Event{{Type: TypeComplete}}
	_, seen, err := runClient(t, input, errors.New("connection reset"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 1 {
		t.Fatalf("dispatched %d events, want 1", len(seen))
	}
}

// TestRunOpenFailure 验证建连失败走一次 error 回调。
func TestRunOpenFailure(t *testing.T) {
	client := NewClient(&fakeTransport{openErr: errors.New("refused")})
	var seen []Event
	client.OnAny(func(ev Event) { seen = append(seen, ev) })

	err := client.Run(context.Background(), QueryRequest{Query: "q", SessionID: "s1"})
	if !apperrors.Is(err, apperrors.ErrTransport) {
		t.Fatalf("Run error = %v, want ErrTransport", err)
	}
	if len(seen) != 1 || seen[0].Type != TypeError {
		t.Fatalf("seen = %+v, want single error event", seen)
	}
}

// TestRunProgressCallback 验证进度回调随事件推进且终态归位。
func TestRunProgressCallback(t *testing.T) {
	session := &fakeSession{events: []Event{
		{Type: TypeClassifying},
		{Type: TypeQueryExecuting},
		{Type: TypeComplete},
	}}
	client := NewClient(&fakeTransport{session: session})

	var values []float64
	client.OnProgress(func(p float64) { values = append(values, p) })
	if err := client.Run(context.Background(), QueryRequest{Query: "q", SessionID: "s1"}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []float64{0.15, 0.65, 1.0}
	if len(values) != len(want) {
		t.Fatalf("progress callbacks = %v", values)
	}
	for i := range want {
		if values[i] != want[i] {
			t.Errorf("progress[%d] = %v, want %v", i, values[i], want[i])
		}
	}
}

// TestRunTaggedHandlers 验证标签回调只收到自己的标签。
func TestRunTaggedHandlers(t *testing.T) {
	session := &fakeSession{events: []Event{
		{Type: TypeStatus},
		{Type: TypeQueryExecuting},
		{Type: TypeComplete},
	}}
	client := NewClient(&fakeTransport{session: session})

	var executing, completed int
	client.On(TypeQueryExecuting, func(Event) { executing++ })
	client.On(TypeComplete, func(Event) { completed++ })

	if err := client.Run(context.Background(), QueryRequest{Query: "q"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if executing != 1 || completed != 1 {
		t.Errorf("executing=%d completed=%d, want 1/1", executing, completed)
	}
}
