package chain

import (
	"testing"

	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
)

// TestNormalizeLegacyObject 验证对象形状归一化与默认终态。
func TestNormalizeLegacyObject(t *testing.T) {
	raw := []byte(`{
		"originalQuery": "Top customers last quarter",
		"events": [
			{"type": "status", "message": "starting"},
			{"type": "complete"}
		]
	}`)

	c, err := NormalizeLegacy(raw, "b2", "p1")
	if err != nil {
		t.Fatalf("NormalizeLegacy: %v", err)
	}
	if c.BlockID != "b2" || c.PageID != "p1" {
		t.Errorf("provenance: %+v", c)
	}
	if !c.IsComplete || c.Status != StatusCompleted {
		t.Errorf("legacy defaults: isComplete=%v status=%s", c.IsComplete, c.Status)
	}
	if len(c.Events) != 2 {
		t.Errorf("events = %d, want 2", len(c.Events))
	}
	if c.OriginalQuery != "Top customers last quarter" {
		t.Errorf("OriginalQuery = %q", c.OriginalQuery)
	}
}

// TestNormalizeLegacyObjectExplicitFields 验证显式字段优先于默认值。
func TestNormalizeLegacyObjectExplicitFields(t *testing.T) {
	raw := []byte(`{
		"sessionId": "s3",
		"events": [],
		"isComplete": false,
		"status": "streaming",
		"progress": 0.4
	}`)

	c, err := NormalizeLegacy(raw, "b1", "")
	if err != nil {
		t.Fatalf("NormalizeLegacy: %v", err)
	}
	if c.IsComplete || c.Status != StatusStreaming || c.Progress != 0.4 {
		t.Errorf("explicit fields lost: %+v", c)
	}
	if c.SessionID != "s3" {
		t.Errorf("SessionID = %q", c.SessionID)
	}
}

// TestNormalizeLegacyBareArray 验证裸事件数组形状。
func TestNormalizeLegacyBareArray(t *testing.T) {
	raw := []byte(`[
		{"type": "status", "message": "Show revenue by region"},
		{"type": "query_executing"},
		{"type": "complete"}
	]`)

	c, err := NormalizeLegacy(raw, "b9", "p2")
	if err != nil {
		t.Fatalf("NormalizeLegacy: %v", err)
	}
	if !c.IsComplete || c.Status != StatusCompleted || c.Progress != 1.0 {
		t.Errorf("bare array defaults: %+v", c)
	}
	if len(c.Events) != 3 {
		t.Errorf("events = %d, want 3", len(c.Events))
	}
	// 裸数组无 originalQuery 字段, 回落首条 status 消息
	if c.OriginalQuery != "Show revenue by region" {
		t.Errorf("OriginalQuery = %q", c.OriginalQuery)
	}
}

// TestNormalizeLegacyUnrecognized 验证无法识别的形状返回 ErrParse。
func TestNormalizeLegacyUnrecognized(t *testing.T) {
	for _, raw := range [][]byte{
		[]byte(`"just a string"`),
		[]byte(`42`),
		[]byte(`{broken json`),
		[]byte(`{"noEvents": true}`),
		[]byte(``),
	} {
		if _, err := NormalizeLegacy(raw, "b1", ""); !apperrors.Is(err, apperrors.ErrParse) {
			t.Errorf("raw %q: err = %v, want ErrParse", raw, err)
		}
	}
}

// TestNormalizeLegacyNoKey 验证无 blockId 且无 sessionId 的链被拒绝。
func TestNormalizeLegacyNoKey(t *testing.T) {
	raw := []byte(`{"events": []}`)
	if _, err := NormalizeLegacy(raw, "", ""); !apperrors.Is(err, apperrors.ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}
