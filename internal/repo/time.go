package repo

import (
	"context"
	"database/sql"
	"strings"

	"hyvve/internal/domain"
)

// InsertTimer creates the unique running-timer row for a user. The primary
// key on user_id makes a concurrent second start fail at the storage layer.
func (r Repo) InsertTimer(ctx context.Context, tx *sql.Tx, t domain.TimerState) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO timers(user_id,project_id,work_item_id,description,started_at) VALUES (?,?,?,?,?)`,
		t.UserID, t.ProjectID, t.WorkItemID, nullable(t.Description), t.StartedAt)
	return err
}

func (r Repo) GetTimer(ctx context.Context, userID string) (domain.TimerState, error) {
	var t domain.TimerState
	var description sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,project_id,work_item_id,description,started_at FROM timers WHERE user_id=?`, userID).
		Scan(&t.UserID, &t.ProjectID, &t.WorkItemID, &description, &t.StartedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if description.Valid {
		t.Description = description.String
	}
	return t, err
}

func (r Repo) GetTimerTx(ctx context.Context, tx *sql.Tx, userID string) (domain.TimerState, error) {
	var t domain.TimerState
	var description sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT user_id,project_id,work_item_id,description,started_at FROM timers WHERE user_id=?`, userID).
		Scan(&t.UserID, &t.ProjectID, &t.WorkItemID, &description, &t.StartedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if description.Valid {
		t.Description = description.String
	}
	return t, err
}

// DeleteTimerIfStartedAt clears the timer row only if it is still the row the
// caller observed, so two concurrent stops produce one time entry.
func (r Repo) DeleteTimerIfStartedAt(ctx context.Context, tx *sql.Tx, userID, startedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM timers WHERE user_id=? AND started_at=?`, userID, startedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r Repo) InsertTimeEntry(ctx context.Context, tx *sql.Tx, e domain.TimeEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO time_entries(id,project_id,work_item_id,user_id,started_at,ended_at,duration_seconds,note,source,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.WorkItemID, e.UserID, e.StartedAt, e.EndedAt, e.DurationSeconds, nullable(e.Note), e.Source, e.CreatedAt)
	return err
}

func (r Repo) GetTimeEntry(ctx context.Context, id string) (domain.TimeEntry, error) {
	var e domain.TimeEntry
	var note sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,work_item_id,user_id,started_at,ended_at,duration_seconds,note,source,created_at FROM time_entries WHERE id=?`, id).
		Scan(&e.ID, &e.ProjectID, &e.WorkItemID, &e.UserID, &e.StartedAt, &e.EndedAt, &e.DurationSeconds, &note, &e.Source, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if note.Valid {
		e.Note = note.String
	}
	return e, err
}

type TimeEntryFilters struct {
	ProjectID  string
	WorkItemID string
	UserID     string
	From       string
	To         string
	Limit      int
}

func (r Repo) ListTimeEntries(ctx context.Context, f TimeEntryFilters) ([]domain.TimeEntry, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.WorkItemID != "" {
		clauses = append(clauses, "work_item_id=?")
		args = append(args, f.WorkItemID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.From != "" {
		clauses = append(clauses, "started_at >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "started_at < ?")
		args = append(args, f.To)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,project_id,work_item_id,user_id,started_at,ended_at,duration_seconds,note,source,created_at FROM time_entries ` + where + ` ORDER BY started_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimeEntry
	for rows.Next() {
		var e domain.TimeEntry
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.WorkItemID, &e.UserID, &e.StartedAt, &e.EndedAt, &e.DurationSeconds, &note, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		if note.Valid {
			e.Note = note.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ReportRow is one grouped total from the time report aggregation.
type ReportRow struct {
	Key             string  `json:"key"`
	TotalSeconds    int64   `json:"total_seconds"`
	EstimateHours   float64 `json:"estimate_hours"`
	VarianceHours   float64 `json:"variance_hours"`
	VariancePercent float64 `json:"variance_percent"`
}

// TimeReport aggregates entries grouped by work item, phase, or member, with
// the summed estimates of the grouped items for variance.
func (r Repo) TimeReport(ctx context.Context, projectID, groupBy, from, to string) ([]ReportRow, error) {
	var keyExpr string
	switch groupBy {
	case "unit":
		keyExpr = "wi.id"
	case "phase":
		keyExpr = "wi.phase"
	case "member":
		keyExpr = "te.user_id"
	default:
		return nil, ErrNotFound
	}
	clauses := []string{"te.project_id=?"}
	args := []any{projectID}
	if from != "" {
		clauses = append(clauses, "te.started_at >= ?")
		args = append(args, from)
	}
	if to != "" {
		clauses = append(clauses, "te.started_at < ?")
		args = append(args, to)
	}
	query := `
SELECT ` + keyExpr + `, wi.id, te.duration_seconds, COALESCE(wi.estimate_hours,0)
FROM time_entries te
JOIN work_items wi ON wi.id = te.work_item_id
WHERE ` + strings.Join(clauses, " AND ") + `
ORDER BY 1`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := map[string]*ReportRow{}
	// estimate counted once per (group, work item) pair
	seen := map[string]bool{}
	var order []string
	for rows.Next() {
		var key, itemID string
		var seconds int64
		var estimate float64
		if err := rows.Scan(&key, &itemID, &seconds, &estimate); err != nil {
			return nil, err
		}
		row, ok := totals[key]
		if !ok {
			row = &ReportRow{Key: key}
			totals[key] = row
			order = append(order, key)
		}
		row.TotalSeconds += seconds
		if pair := key + "\x00" + itemID; !seen[pair] {
			seen[pair] = true
			row.EstimateHours += estimate
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	res := make([]ReportRow, 0, len(order))
	for _, key := range order {
		row := totals[key]
		actual := float64(row.TotalSeconds) / 3600.0
		row.VarianceHours = actual - row.EstimateHours
		if row.EstimateHours > 0 {
			row.VariancePercent = row.VarianceHours / row.EstimateHours * 100
		}
		res = append(res, *row)
	}
	return res, nil
}
