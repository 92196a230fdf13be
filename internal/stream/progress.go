// progress.go — 会话进度估计: 标签 → 目标进度表 + 单调钳制。
package stream

import (
	"github.com/query-canvas/chain-engine/pkg/util"
)

// maxStreamingProgress 终态事件前的进度上限。
const maxStreamingProgress = 0.9

// schema_loading 将自身 0..1 的阶段进度映射进 [0.25, 0.45]。
const (
	schemaLoadingBase = 0.25
	schemaLoadingSpan = 0.20
)

// progressTargets 标签 → 目标进度。不在表中的标签不产生进度信号。
var progressTargets = map[string]float64{
	TypeStatus:             0.05,
	TypeClassifying:        0.15,
	TypeDatabasesSelected:  0.25,
	TypePlanning:           0.30,
	TypeQueryGenerating:    0.55,
	TypeQueryExecuting:     0.65,
	TypePartialResults:     0.75,
	TypeAggregating:        0.80,
	TypeAnalysisGenerating: 0.85,
}

// TargetFor 返回事件的目标进度。第二返回值为 false 表示该标签无进度信号。
func TargetFor(ev Event) (float64, bool) {
	if ev.Type == TypeSchemaLoading {
		var data SchemaLoadingData
		_ = ev.DecodeData(&data)
		sub := util.ClampFloat(data.Progress, 0, 1)
		return schemaLoadingBase + schemaLoadingSpan*sub, true
	}
	if target, ok := progressTargets[ev.Type]; ok {
		return target, true
	}
	return 0, false
}

// ProgressTracker 单会话进度标量。
//
// 不变式: status==streaming 期间单调不减且 <= 0.9;
// complete 跳到 1.0, error 归 0; 终态后冻结。
type ProgressTracker struct {
	value    float64
	terminal bool
}

// Observe 根据事件推进进度, 返回当前值。
func (t *ProgressTracker) Observe(ev Event) float64 {
	if t.terminal {
		return t.value
	}
	switch ev.Type {
	case TypeComplete:
		t.value = 1.0
		t.terminal = true
	case TypeError:
		t.value = 0
		t.terminal = true
	default:
		if target, ok := TargetFor(ev); ok {
			t.value = util.ClampFloat(target, t.value, maxStreamingProgress)
		}
	}
	return t.value
}

// Value 返回当前进度。
func (t *ProgressTracker) Value() float64 { return t.value }

// Terminal 返回是否已达终态。
func (t *ProgressTracker) Terminal() bool { return t.terminal }
