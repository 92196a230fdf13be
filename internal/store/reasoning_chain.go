// reasoning_chain.go — 推理链的持久化存取。
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/query-canvas/chain-engine/internal/chain"
	"github.com/query-canvas/chain-engine/internal/stream"
	apperrors "github.com/query-canvas/chain-engine/pkg/errors"
	"github.com/query-canvas/chain-engine/pkg/logger"
	"github.com/query-canvas/chain-engine/pkg/util"
)

// ReasoningChainStore 推理链存储。
type ReasoningChainStore struct {
	BaseStore
	fetchLimit int
}

// NewReasoningChainStore 创建推理链存储。fetchLimit <= 0 时取 200。
func NewReasoningChainStore(pool *pgxpool.Pool, fetchLimit int) *ReasoningChainStore {
	if fetchLimit <= 0 {
		fetchLimit = 200
	}
	return &ReasoningChainStore{BaseStore: NewBaseStore(pool), fetchLimit: util.ClampInt(fetchLimit, 1, 2000)}
}

// ReasoningChainRow reasoning_chains 表的行映射。
type ReasoningChainRow struct {
	ID             int64     `db:"id"`
	SessionID      string    `db:"session_id"`
	BlockID        string    `db:"block_id"`
	PageID         string    `db:"page_id"`
	OriginalPageID string    `db:"original_page_id"`
	OriginalQuery  string    `db:"original_query"`
	Status         string    `db:"status"`
	IsComplete     bool      `db:"is_complete"`
	Progress       float64   `db:"progress"`
	Events         []byte    `db:"events"`
	LastUpdated    time.Time `db:"last_updated"`
}

const chainCols = `id, session_id, block_id, page_id, original_page_id,
	original_query, status, is_complete, progress, events, last_updated`

// ChainsByPage 返回挂在指定页 (含迁移前原页) 的全部链, 最近更新在前。
// 单行事件日志损坏时跳过该行, 不阻塞整页。
func (s *ReasoningChainStore) ChainsByPage(ctx context.Context, pageID string) ([]chain.ReasoningChainData, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chainCols+` FROM reasoning_chains
		 WHERE page_id = $1 OR original_page_id = $1
		 ORDER BY last_updated DESC LIMIT $2`,
		pageID, s.fetchLimit)
	if err != nil {
		return nil, apperrors.Wrap(err, "ReasoningChainStore.ChainsByPage", "query failed")
	}
	items, err := collectRows[ReasoningChainRow](rows)
	if err != nil {
		return nil, apperrors.Wrap(err, "ReasoningChainStore.ChainsByPage", "scan failed")
	}

	chains := make([]chain.ReasoningChainData, 0, len(items))
	for _, row := range items {
		c, err := rowToChain(row)
		if err != nil {
			logger.Warn("store: corrupt chain row skipped",
				logger.FieldSessionID, row.SessionID,
				logger.FieldError, err,
			)
			continue
		}
		chains = append(chains, c)
	}
	return chains, nil
}

// BySession 按会话 ID 返回链, 不存在返回 ErrNotFound。
func (s *ReasoningChainStore) BySession(ctx context.Context, sessionID string) (chain.ReasoningChainData, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chainCols+` FROM reasoning_chains WHERE session_id = $1`,
		sessionID)
	if err != nil {
		return chain.ReasoningChainData{}, apperrors.Wrap(err, "ReasoningChainStore.BySession", "query failed")
	}
	row, err := collectOne[ReasoningChainRow](rows)
	if err != nil {
		return chain.ReasoningChainData{}, apperrors.Wrap(err, "ReasoningChainStore.BySession", "scan failed")
	}
	if row == nil {
		return chain.ReasoningChainData{}, apperrors.Wrap(apperrors.ErrNotFound,
			"ReasoningChainStore.BySession", "chain not found")
	}
	return rowToChain(*row)
}

// Upsert 按 session_id 写入或更新链 (终态回写与直播快照共用)。
func (s *ReasoningChainStore) Upsert(ctx context.Context, c chain.ReasoningChainData) error {
	row, err := chainToRow(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reasoning_chains
		   (session_id, block_id, page_id, original_page_id, original_query,
		    status, is_complete, progress, events, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (session_id) DO UPDATE SET
		   block_id = EXCLUDED.block_id,
		   page_id = EXCLUDED.page_id,
		   original_page_id = EXCLUDED.original_page_id,
		   original_query = EXCLUDED.original_query,
		   status = EXCLUDED.status,
		   is_complete = EXCLUDED.is_complete,
		   progress = EXCLUDED.progress,
		   events = EXCLUDED.events,
		   last_updated = EXCLUDED.last_updated`,
		row.SessionID, row.BlockID, row.PageID, row.OriginalPageID, row.OriginalQuery,
		row.Status, row.IsComplete, row.Progress, row.Events, row.LastUpdated)
	if err != nil {
		return apperrors.Wrap(err, "ReasoningChainStore.Upsert", "exec failed")
	}
	return nil
}

// rowToChain 行 → 链。events jsonb 损坏返回 ErrParse。
func rowToChain(row ReasoningChainRow) (chain.ReasoningChainData, error) {
	var events []stream.Event
	if len(row.Events) > 0 {
		if err := json.Unmarshal(row.Events, &events); err != nil {
			return chain.ReasoningChainData{}, apperrors.Wrap(apperrors.ErrParse,
				"ReasoningChainStore.rowToChain", "corrupt events log")
		}
	}
	if events == nil {
		events = []stream.Event{}
	}
	return chain.ReasoningChainData{
		SessionID:      row.SessionID,
		BlockID:        row.BlockID,
		PageID:         row.PageID,
		OriginalPageID: row.OriginalPageID,
		OriginalQuery:  row.OriginalQuery,
		Events:         events,
		IsComplete:     row.IsComplete,
		Status:         chain.Status(row.Status),
		Progress:       row.Progress,
		LastUpdated:    row.LastUpdated,
	}, nil
}

// chainToRow 链 → 行。session_id 为空的链不可持久化。
func chainToRow(c chain.ReasoningChainData) (ReasoningChainRow, error) {
	if c.SessionID == "" {
		return ReasoningChainRow{}, apperrors.Wrap(apperrors.ErrInvalidInput,
			"ReasoningChainStore.chainToRow", "chain has no session id")
	}
	events := c.Events
	if events == nil {
		events = []stream.Event{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return ReasoningChainRow{}, apperrors.Wrap(err,
			"ReasoningChainStore.chainToRow", "marshal events failed")
	}
	lastUpdated := c.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now()
	}
	return ReasoningChainRow{
		SessionID:      c.SessionID,
		BlockID:        c.BlockID,
		PageID:         c.PageID,
		OriginalPageID: c.OriginalPageID,
		OriginalQuery:  c.OriginalQuery,
		Status:         string(c.Status),
		IsComplete:     c.IsComplete,
		Progress:       c.Progress,
		Events:         raw,
		LastUpdated:    lastUpdated,
	}, nil
}
