package repo

import (
	"context"
	"database/sql"
	"strings"

	"hyvve/internal/domain"
)

const suggestionCols = `id,project_id,agent,action_kind,payload_json,confidence,rationale,status,auto_surface,approval_queue,created_at,expires_at,decided_at,decided_by,result_json`

func scanSuggestion(scan func(dest ...any) error) (domain.Suggestion, error) {
	var s domain.Suggestion
	var rationale, decidedAt, decidedBy, resultJSON sql.NullString
	err := scan(&s.ID, &s.ProjectID, &s.Agent, &s.ActionKind, &s.PayloadJSON, &s.Confidence,
		&rationale, &s.Status, &s.AutoSurface, &s.ApprovalQueue, &s.CreatedAt, &s.ExpiresAt,
		&decidedAt, &decidedBy, &resultJSON)
	if err != nil {
		return s, err
	}
	if rationale.Valid {
		s.Rationale = rationale.String
	}
	if decidedAt.Valid {
		s.DecidedAt = &decidedAt.String
	}
	if decidedBy.Valid {
		s.DecidedBy = &decidedBy.String
	}
	if resultJSON.Valid {
		s.ResultJSON = &resultJSON.String
	}
	return s, nil
}

func (r Repo) InsertSuggestion(ctx context.Context, tx *sql.Tx, s domain.Suggestion) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO suggestions(`+suggestionCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.ProjectID, s.Agent, s.ActionKind, s.PayloadJSON, s.Confidence, nullable(s.Rationale),
		s.Status, s.AutoSurface, s.ApprovalQueue, s.CreatedAt, s.ExpiresAt,
		nullableStringPtr(s.DecidedAt), nullableStringPtr(s.DecidedBy), nullableStringPtr(s.ResultJSON))
	return err
}

func (r Repo) GetSuggestion(ctx context.Context, id string) (domain.Suggestion, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+suggestionCols+` FROM suggestions WHERE id=?`, id)
	s, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetSuggestionTx(ctx context.Context, tx *sql.Tx, id string) (domain.Suggestion, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+suggestionCols+` FROM suggestions WHERE id=?`, id)
	s, err := scanSuggestion(row.Scan)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

// FinalizeSuggestionIfPending commits a terminal status with a conditional
// update. Returns false when the row was no longer pending, so a racing
// caller observes the conflict instead of re-applying the transition.
func (r Repo) FinalizeSuggestionIfPending(ctx context.Context, tx *sql.Tx, id, status, decidedAt, decidedBy string, resultJSON *string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE suggestions SET status=?, decided_at=?, decided_by=?, result_json=? WHERE id=? AND status='pending'`,
		status, decidedAt, nullable(decidedBy), nullableStringPtr(resultJSON), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireSuggestionIfPending flips a single pending suggestion to expired.
func (r Repo) ExpireSuggestionIfPending(ctx context.Context, tx *sql.Tx, id, decidedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE suggestions SET status='expired', decided_at=? WHERE id=? AND status='pending'`, decidedAt, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListExpirable returns ids of pending suggestions whose expiry has passed.
func (r Repo) ListExpirable(ctx context.Context, now string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM suggestions WHERE status='pending' AND expires_at <= ? ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type SuggestionFilters struct {
	ProjectID       string
	Agent           string
	Status          string
	ActionKind      string
	AutoSurface     *bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListSuggestions(ctx context.Context, f SuggestionFilters) ([]domain.Suggestion, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Agent != "" {
		clauses = append(clauses, "agent=?")
		args = append(args, f.Agent)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActionKind != "" {
		clauses = append(clauses, "action_kind=?")
		args = append(args, f.ActionKind)
	}
	if f.AutoSurface != nil {
		clauses = append(clauses, "auto_surface=?")
		args = append(args, *f.AutoSurface)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + suggestionCols + ` FROM suggestions ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// GetActionExecution returns the recorded result of a prior execution, if any.
func (r Repo) GetActionExecution(ctx context.Context, tx *sql.Tx, suggestionID string) (string, error) {
	var result string
	err := tx.QueryRowContext(ctx, `SELECT result_json FROM action_executions WHERE suggestion_id=?`, suggestionID).Scan(&result)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return result, err
}

func (r Repo) InsertActionExecution(ctx context.Context, tx *sql.Tx, suggestionID, resultJSON, executedAt string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO action_executions(suggestion_id,result_json,executed_at) VALUES (?,?,?)`,
		suggestionID, resultJSON, executedAt)
	return err
}
