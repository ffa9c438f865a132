package repo

import (
	"context"
	"database/sql"
	"strings"

	"hyvve/internal/domain"
)

func (r Repo) InsertTurn(ctx context.Context, tx *sql.Tx, t domain.ConversationTurn) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO conversation_turns(project_id,agent,user_id,role,message,metadata_json,created_at) VALUES (?,?,?,?,?,?,?)`,
		t.ProjectID, t.Agent, t.UserID, t.Role, t.Message, nullable(t.MetadataJSON), t.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type TurnFilters struct {
	ProjectID string
	Agent     string
	UserID    string
	AfterID   int64
	Limit     int
}

// ListTurns returns turns in insertion order within the scope. The
// autoincrement id is the ordering, so appends can never reorder history.
func (r Repo) ListTurns(ctx context.Context, f TurnFilters) ([]domain.ConversationTurn, error) {
	clauses := []string{"project_id=?"}
	args := []any{f.ProjectID}
	if f.Agent != "" {
		clauses = append(clauses, "agent=?")
		args = append(args, f.Agent)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.AfterID > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.AfterID)
	}
	query := `SELECT id,project_id,agent,user_id,role,message,metadata_json,created_at FROM conversation_turns WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ConversationTurn
	for rows.Next() {
		var t domain.ConversationTurn
		var metadata sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Agent, &t.UserID, &t.Role, &t.Message, &metadata, &t.CreatedAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			t.MetadataJSON = metadata.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}
