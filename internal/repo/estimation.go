package repo

import (
	"context"
	"database/sql"

	"hyvve/internal/domain"
)

func (r Repo) InsertEstimationMetric(ctx context.Context, tx *sql.Tx, m domain.EstimationMetric) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO estimation_metrics(id,project_id,work_item_id,work_type,estimate_hours,actual_hours,error_hours,error_percent,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.WorkItemID, m.WorkType, m.EstimateHours, m.ActualHours, m.ErrorHours, m.ErrorPercent, m.CreatedAt)
	return err
}

func (r Repo) GetMetricByWorkItem(ctx context.Context, workItemID string) (domain.EstimationMetric, error) {
	var m domain.EstimationMetric
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,work_item_id,work_type,estimate_hours,actual_hours,error_hours,error_percent,created_at FROM estimation_metrics WHERE work_item_id=?`, workItemID).
		Scan(&m.ID, &m.ProjectID, &m.WorkItemID, &m.WorkType, &m.EstimateHours, &m.ActualHours, &m.ErrorHours, &m.ErrorPercent, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) ListMetrics(ctx context.Context, projectID, workType string, limit int) ([]domain.EstimationMetric, error) {
	query := `SELECT id,project_id,work_item_id,work_type,estimate_hours,actual_hours,error_hours,error_percent,created_at FROM estimation_metrics WHERE project_id=?`
	args := []any{projectID}
	if workType != "" {
		query += ` AND work_type=?`
		args = append(args, workType)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EstimationMetric
	for rows.Next() {
		var m domain.EstimationMetric
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.WorkItemID, &m.WorkType, &m.EstimateHours, &m.ActualHours, &m.ErrorHours, &m.ErrorPercent, &m.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) GetMetricByWorkItemTx(ctx context.Context, tx *sql.Tx, workItemID string) (domain.EstimationMetric, error) {
	var m domain.EstimationMetric
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,work_item_id,work_type,estimate_hours,actual_hours,error_hours,error_percent,created_at FROM estimation_metrics WHERE work_item_id=?`, workItemID).
		Scan(&m.ID, &m.ProjectID, &m.WorkItemID, &m.WorkType, &m.EstimateHours, &m.ActualHours, &m.ErrorHours, &m.ErrorPercent, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

// ActualHoursTx sums logged time for a work item inside the caller's transaction.
func (r Repo) ActualHoursTx(ctx context.Context, tx *sql.Tx, workItemID string) (float64, error) {
	var hours float64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(duration_seconds),0)/3600.0 FROM time_entries WHERE work_item_id=?`, workItemID).Scan(&hours)
	return hours, err
}

func (r Repo) GetBaseline(ctx context.Context, projectID, workType string) (domain.EstimationBaseline, error) {
	var b domain.EstimationBaseline
	err := r.DB.QueryRowContext(ctx, `SELECT project_id,work_type,error_percent,sample_count,updated_at FROM estimation_baselines WHERE project_id=? AND work_type=?`, projectID, workType).
		Scan(&b.ProjectID, &b.WorkType, &b.ErrorPercent, &b.SampleCount, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) GetBaselineTx(ctx context.Context, tx *sql.Tx, projectID, workType string) (domain.EstimationBaseline, error) {
	var b domain.EstimationBaseline
	err := tx.QueryRowContext(ctx, `SELECT project_id,work_type,error_percent,sample_count,updated_at FROM estimation_baselines WHERE project_id=? AND work_type=?`, projectID, workType).
		Scan(&b.ProjectID, &b.WorkType, &b.ErrorPercent, &b.SampleCount, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) UpsertBaseline(ctx context.Context, tx *sql.Tx, b domain.EstimationBaseline) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO estimation_baselines(project_id,work_type,error_percent,sample_count,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(project_id,work_type) DO UPDATE SET error_percent=excluded.error_percent, sample_count=excluded.sample_count, updated_at=excluded.updated_at`,
		b.ProjectID, b.WorkType, b.ErrorPercent, b.SampleCount, b.UpdatedAt)
	return err
}
