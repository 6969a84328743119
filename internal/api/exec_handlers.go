package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/sandbox"
)

// ExecRequest runs one statement on a pooled connection of a sandbox.
type ExecRequest struct {
	SQL       string `json:"sql"`
	Args      []any  `json:"args"`
	Query     bool   `json:"query"`
	TimeoutMs int    `json:"timeout_ms"`
	MaxRows   int    `json:"max_rows"`
}

// ExecResponse carries either the exec result or the query rows.
type ExecResponse struct {
	ConnectionID string   `json:"connection_id"`
	RowsAffected int64    `json:"rows_affected,omitempty"`
	LastInsertID int64    `json:"last_insert_id,omitempty"`
	Columns      []string `json:"columns,omitempty"`
	Rows         [][]any  `json:"rows,omitempty"`
	Truncated    bool     `json:"truncated,omitempty"`
}

func (s *Server) handleExec(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Engine.RemoteOpen {
		writeError(w, http.StatusForbidden, APIError{
			Code:    ErrCodeRemoteOpenDisabled,
			Message: "remote open is disabled on this engine",
		})
		return
	}

	var req ExecRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validateExecRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	log := s.requestLogger(r)
	ctx := r.Context()
	if req.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	conn, err := s.sandboxes.GetConnection(ctx)
	if err != nil {
		log.Warn("acquire sandbox connection", zap.Error(err))
		writeAPIError(w, err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("release sandbox connection", zap.Error(err))
		}
	}()

	log.Debug("exec", zap.String("sql", req.SQL), zap.Bool("query", req.Query))
	resp := ExecResponse{ConnectionID: conn.ID()}
	if req.Query {
		err = runQuery(ctx, conn, req, &resp)
	} else {
		err = runExec(ctx, conn, req, &resp)
	}
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, APIError{
			Code:    ErrCodeStatementFailed,
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func runExec(ctx context.Context, conn *sandbox.Conn, req ExecRequest, resp *ExecResponse) error {
	res, err := conn.ExecContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return err
	}
	resp.RowsAffected, _ = res.RowsAffected()
	resp.LastInsertID, _ = res.LastInsertId()
	return nil
}

func runQuery(ctx context.Context, conn *sandbox.Conn, req ExecRequest, resp *ExecResponse) error {
	rows, err := conn.QueryContext(ctx, req.SQL, req.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	resp.Columns = cols
	resp.Rows = [][]any{}

	limit := req.MaxRows
	if limit == 0 {
		limit = defaultMaxRows
	}
	for rows.Next() {
		if len(resp.Rows) == limit {
			resp.Truncated = true
			break
		}
		row, err := scanRow(rows, len(cols))
		if err != nil {
			return err
		}
		resp.Rows = append(resp.Rows, row)
	}
	return rows.Err()
}

func scanRow(rows *sql.Rows, n int) ([]any, error) {
	vals := make([]any, n)
	ptrs := make([]any, n)
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range vals {
		if b, ok := v.([]byte); ok {
			vals[i] = string(b)
		}
	}
	return vals, nil
}
