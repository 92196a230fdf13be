// Package viz 从推理链与直接响应中提取可渲染的图表记录。
//
// 图表配置曾经历多轮标签迁移, 提取器同时识别现代合并标签与历史标签,
// 不做跨标签去重: 同一配置经多个标签到达时各自成为一条记录,
// 由渲染端按时间序取最新。
package viz

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/internal/stream"
	"github.com/query-canvas/chain-engine/pkg/logger"
)

// SourceDirectResponse 非流式查询响应内嵌图表的来源标记。
const SourceDirectResponse = "direct-response"

// VisualizationRecord 一条可渲染图表记录。
type VisualizationRecord struct {
	SessionID      string         `json:"sessionId,omitempty"`
	BlockID        string         `json:"blockId,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	OriginalQuery  string         `json:"originalQuery,omitempty"`
	Source         string         `json:"source"`
	ChartConfig    map[string]any `json:"chartConfig"`
	ChartSummary   string         `json:"chartSummary,omitempty"`
	ReadyForRender bool           `json:"readyForRender"`
}

// FromChains 扫描链集合中的图表事件, 返回记录 (最新在前)。
// 无法提取配置的图表事件静默丢弃 (仅记 debug 日志)。
func FromChains(chains []chain.ReasoningChainData) []VisualizationRecord {
	var records []VisualizationRecord
	for _, c := range chains {
		for _, ev := range c.Events {
			if !stream.IsChartType(ev.Type) {
				continue
			}
			cfg, summary, ready := chartConfigFrom(ev)
			if cfg == nil {
				logger.Debug("viz: chart event without extractable config",
					logger.FieldSessionID, c.SessionID,
					logger.FieldEventType, ev.Type,
				)
				continue
			}
			records = append(records, VisualizationRecord{
				SessionID:      c.SessionID,
				BlockID:        c.BlockID,
				Timestamp:      ev.Timestamp,
				OriginalQuery:  c.OriginalQuery,
				Source:         ev.Type,
				ChartConfig:    cfg,
				ChartSummary:   summary,
				ReadyForRender: ready,
			})
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records
}

// FromDirectResponse 从非流式查询响应的内嵌图表构造记录。
func FromDirectResponse(sessionID, blockID, query string, data stream.VisualizationData) (VisualizationRecord, bool) {
	cfg := data.ChartConfig
	if cfg == nil {
		cfg = data.VisualizationData
	}
	if cfg == nil {
		return VisualizationRecord{}, false
	}
	return VisualizationRecord{
		SessionID:      sessionID,
		BlockID:        blockID,
		Timestamp:      time.Now(),
		OriginalQuery:  query,
		Source:         SourceDirectResponse,
		ChartConfig:    cfg,
		ChartSummary:   data.ChartSummary,
		ReadyForRender: data.ReadyForRender,
	}, true
}

// FromCompleteEvent 从 complete 事件的即时响应中提取图表 (同步路径)。
// 图表可内嵌在载荷顶层或 results 内; 无图表或载荷损坏返回 false。
func FromCompleteEvent(sessionID, blockID, query string, ev stream.Event) (VisualizationRecord, bool) {
	if ev.Type != stream.TypeComplete || len(ev.Data) == 0 {
		return VisualizationRecord{}, false
	}
	var payload struct {
		stream.VisualizationData
		Results struct {
			stream.VisualizationData
		} `json:"results"`
	}
	if err := json.Unmarshal(ev.Data, &payload); err != nil {
		return VisualizationRecord{}, false
	}

	r, ok := FromDirectResponse(sessionID, blockID, query, payload.VisualizationData)
	if !ok {
		r, ok = FromDirectResponse(sessionID, blockID, query, payload.Results.VisualizationData)
	}
	if ok && !ev.Timestamp.IsZero() {
		r.Timestamp = ev.Timestamp
	}
	return r, ok
}

// chartConfigFrom 按优先级提取图表配置:
//  1. 事件元数据的 chart_config
//  2. 事件数据载荷 (visualization_complete 的结构化形状)
//  3. 消息体中的 JSON 对象字面量 (历史标签把配置塞进 message)
func chartConfigFrom(ev stream.Event) (cfg map[string]any, summary string, ready bool) {
	if m, ok := ev.Metadata["chart_config"].(map[string]any); ok && len(m) > 0 {
		summary, _ = ev.Metadata["chart_summary"].(string)
		ready, _ = ev.Metadata["ready_for_render"].(bool)
		return m, summary, ready
	}

	if len(ev.Data) > 0 {
		var data stream.VisualizationData
		if err := json.Unmarshal(ev.Data, &data); err == nil {
			if data.ChartConfig != nil {
				return data.ChartConfig, data.ChartSummary, data.ReadyForRender
			}
			if data.VisualizationData != nil {
				return data.VisualizationData, data.ChartSummary, data.ReadyForRender
			}
		}
	}

	if m := jsonObjectLiteral(ev.Message); m != nil {
		return m, "", false
	}
	return nil, "", false
}

// jsonObjectLiteral 在消息体中定位并解析内嵌的 JSON 对象字面量。
// 历史标签常把配置和说明文字混在一条消息里 ("Chart config generated: {...}"),
// 逐个 '{' 起点尝试解码, 取首个成功的非空对象; 全部失败返回 nil (静默丢弃的依据)。
func jsonObjectLiteral(message string) map[string]any {
	for offset := 0; offset < len(message); offset++ {
		idx := strings.IndexByte(message[offset:], '{')
		if idx < 0 {
			return nil
		}
		offset += idx
		// Decoder 容忍对象之后的尾随文本
		dec := json.NewDecoder(strings.NewReader(message[offset:]))
		var m map[string]any
		if err := dec.Decode(&m); err == nil && len(m) > 0 {
			return m
		}
	}
	return nil
}
