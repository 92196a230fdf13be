// Package stream 封装查询 Agent 的 WebSocket 事件流客户端。
//
// 支持: 单会话查询、按事件标签分发、单调进度估计、传输异常上报。
// 事件信封为封闭标签集, 未知标签记日志后丢弃, 不中断会话。
package stream

import (
	"encoding/json"
	"time"
)

// Event Agent 事件信封。
//
// Message/Metadata 为所有标签共有; Data 为标签专属载荷,
// 通过 DecodeData 解到对应的 *Data 结构体。
type Event struct {
	Type      string          `json:"type"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// DecodeData 将标签专属载荷解到 v。Data 为空时不做任何事。
func (e Event) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ========================================
// 事件标签 (封闭集)
// ========================================

const (
	TypeStatus             = "status"
	TypeClassifying        = "classifying"
	TypeDatabasesSelected  = "databases_selected"
	TypeSchemaLoading      = "schema_loading"
	TypeQueryGenerating    = "query_generating"
	TypeQueryExecuting     = "query_executing"
	TypePartialResults     = "partial_results"
	TypeAnalysisGenerating = "analysis_generating"
	TypePlanning           = "planning"
	TypeAggregating        = "aggregating"
	TypeComplete           = "complete"
	TypeError              = "error"

	// 图表标签: 一个现代合并标签 + 历史兼容标签
	TypeVisualizationComplete = "visualization_complete"
	TypeChartConfigJSON       = "chart_config_json"
	TypeHybridChartConfigJSON = "hybrid_chart_config_json"
	TypeVisualizationCreated  = "visualization_created"
	TypeChartConfig           = "chart_config"
	TypeHybridVizFound        = "hybrid_visualization_found"
	TypeChartJSONSaved        = "chart_json_saved"
	TypeHybridChartJSONSaved  = "hybrid_chart_json_saved"
)

// knownTypes 所有可分发的事件标签。
var knownTypes = map[string]bool{
	TypeStatus:             true,
	TypeClassifying:        true,
	TypeDatabasesSelected:  true,
	TypeSchemaLoading:      true,
	TypeQueryGenerating:    true,
	TypeQueryExecuting:     true,
	TypePartialResults:     true,
	TypeAnalysisGenerating: true,
	TypePlanning:           true,
	TypeAggregating:        true,
	TypeComplete:           true,
	TypeError:              true,

	TypeVisualizationComplete: true,
	TypeChartConfigJSON:       true,
	TypeHybridChartConfigJSON: true,
	TypeVisualizationCreated:  true,
	TypeChartConfig:           true,
	TypeHybridVizFound:        true,
	TypeChartJSONSaved:        true,
	TypeHybridChartJSONSaved:  true,
}

// KnownType 判断标签是否在封闭集内。
func KnownType(t string) bool { return knownTypes[t] }

// IsTerminal 判断是否终态事件 (complete / error)。
func IsTerminal(t string) bool { return t == TypeComplete || t == TypeError }

// chartTypes 携带图表配置的标签 (现代 + 历史)。
var chartTypes = map[string]bool{
	TypeVisualizationComplete: true,
	TypeChartConfigJSON:       true,
	TypeHybridChartConfigJSON: true,
	TypeVisualizationCreated:  true,
	TypeChartConfig:           true,
	TypeHybridVizFound:        true,
	TypeChartJSONSaved:        true,
	TypeHybridChartJSONSaved:  true,
}

// IsChartType 判断标签是否携带图表配置。
func IsChartType(t string) bool { return chartTypes[t] }

// ========================================
// 事件数据类型 (标签专属载荷)
// ========================================

// DatabasesSelectedData 数据库选择完成。
type DatabasesSelectedData struct {
	Databases       []string `json:"databases,omitempty"`
	Reasoning       string   `json:"reasoning,omitempty"`
	IsCrossDatabase bool     `json:"isCrossDatabase,omitempty"`
}

// SchemaLoadingData schema 加载进度 (Progress 为该阶段内部进度 0..1)。
type SchemaLoadingData struct {
	Database string  `json:"database,omitempty"`
	Progress float64 `json:"progress,omitempty"`
}

// QueryGeneratingData 单库查询生成中。
type QueryGeneratingData struct {
	Database string `json:"database,omitempty"`
}

// QueryExecutingData 查询执行中。
type QueryExecutingData struct {
	Database string `json:"database,omitempty"`
	SQL      string `json:"sql,omitempty"`
}

// PartialResultsData 单库部分结果。
type PartialResultsData struct {
	Database   string `json:"database,omitempty"`
	RowsCount  int    `json:"rowsCount,omitempty"`
	IsComplete bool   `json:"isComplete,omitempty"`
}

// PlanningData 跨库执行计划。
type PlanningData struct {
	Step              string `json:"step,omitempty"`
	OperationsPlanned int    `json:"operationsPlanned,omitempty"`
}

// AggregatingData 跨库聚合进度。Progress 可选。
type AggregatingData struct {
	Step     string   `json:"step,omitempty"`
	Progress *float64 `json:"progress,omitempty"`
}

// CompleteResults 终态结果载荷。
type CompleteResults struct {
	Rows     []map[string]any `json:"rows,omitempty"`
	Analysis string           `json:"analysis,omitempty"`
	SQL      string           `json:"sql,omitempty"`
}

// CompleteData 成功终态。
type CompleteData struct {
	Results   CompleteResults `json:"results"`
	SessionID string          `json:"sessionId,omitempty"`
}

// ErrorData 失败终态。
type ErrorData struct {
	Message     string `json:"message,omitempty"`
	ErrorCode   string `json:"errorCode,omitempty"`
	Recoverable bool   `json:"recoverable,omitempty"`
}

// VisualizationData 图表载荷 (visualization_complete 及历史标签)。
type VisualizationData struct {
	ChartConfig       map[string]any `json:"chart_config,omitempty"`
	VisualizationData map[string]any `json:"visualization_data,omitempty"`
	ChartSummary      string         `json:"chart_summary,omitempty"`
	ReadyForRender    bool           `json:"ready_for_render,omitempty"`
}
