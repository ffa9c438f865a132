package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"hyvve/internal/config"
	"hyvve/internal/domain"
	"hyvve/internal/events"
	"hyvve/internal/repo"
)

const (
	comparableSampleLimit  = 20
	fallbackBenchmarkHours = 4
)

// Estimate produces an hours/points estimate for a work type from completed
// history, falling back to configured benchmarks when no history exists.
func (e Engine) Estimate(ctx context.Context, projectID, workType string) (domain.Estimate, error) {
	if workType == "" {
		return domain.Estimate{}, fmt.Errorf("work type is required")
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return domain.Estimate{}, err
	}
	cfg := e.projectConfig(ctx, projectID)
	samples, err := e.Repo.CompletedActualHours(ctx, projectID, workType, comparableSampleLimit)
	if err != nil {
		return domain.Estimate{}, err
	}

	if len(samples) == 0 {
		hours, ok := cfg.Estimation.BenchmarksHours[workType]
		if !ok || hours <= 0 {
			hours = fallbackBenchmarkHours
		}
		return domain.Estimate{
			Hours:           round1(hours),
			Points:          pointsFor(hours, cfg),
			ConfidenceLevel: "low",
			Basis:           fmt.Sprintf("no completed %s history; benchmark default", workType),
			ColdStart:       true,
		}, nil
	}

	var sum float64
	for _, h := range samples {
		sum += h
	}
	hours := sum / float64(len(samples))
	basis := fmt.Sprintf("mean of %d completed %s items", len(samples), workType)

	baseline, err := e.Repo.GetBaseline(ctx, projectID, workType)
	switch {
	case err == nil && baseline.ErrorPercent != 0:
		hours *= 1 + baseline.ErrorPercent/100
		basis += fmt.Sprintf(", baseline %+.1f%%", baseline.ErrorPercent)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return domain.Estimate{}, err
	}
	if hours < 0.1 {
		hours = 0.1
	}

	level := "low"
	switch {
	case len(samples) >= 8:
		level = "high"
	case len(samples) >= 3:
		level = "medium"
	}
	return domain.Estimate{
		Hours:           round1(hours),
		Points:          pointsFor(hours, cfg),
		ConfidenceLevel: level,
		Basis:           basis,
	}, nil
}

// RecordActual captures the estimate-vs-actual observation for a completed
// work item and feeds it into the baseline.
func (e Engine) RecordActual(ctx context.Context, workItemID, actorID string) error {
	w, err := e.Repo.GetWorkItem(ctx, workItemID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.recordActualTx(ctx, tx, w, actorID); err != nil {
		return err
	}
	return tx.Commit()
}

// recordActualTx is a no-op when the item carries no estimate, and idempotent
// through the unique metric per work item.
func (e Engine) recordActualTx(ctx context.Context, tx *sql.Tx, w domain.WorkItem, actorID string) error {
	if w.EstimateHours == nil || *w.EstimateHours <= 0 {
		log.Printf("estimation: %s completed without estimate, skipping metric", w.ID)
		return nil
	}
	if _, err := e.Repo.GetMetricByWorkItemTx(ctx, tx, w.ID); err == nil {
		return nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	actual, err := e.Repo.ActualHoursTx(ctx, tx, w.ID)
	if err != nil {
		return err
	}
	estimate := *w.EstimateHours
	m := domain.EstimationMetric{
		ID:            uuid.NewString(),
		ProjectID:     w.ProjectID,
		WorkItemID:    w.ID,
		WorkType:      w.Type,
		EstimateHours: estimate,
		ActualHours:   actual,
		ErrorHours:    actual - estimate,
		ErrorPercent:  (actual - estimate) / estimate * 100,
		CreatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertEstimationMetric(ctx, tx, m); err != nil {
		return err
	}
	cfg := e.projectConfig(ctx, w.ProjectID)
	if err := e.adjustBaselineTx(ctx, tx, cfg, w.ProjectID, w.Type, m.ErrorPercent); err != nil {
		return err
	}
	return e.Events.Append(ctx, tx, "estimation.recorded", w.ProjectID, "work_item", w.ID, actorID, events.EventPayload{
		"estimate_hours": m.EstimateHours,
		"actual_hours":   m.ActualHours,
		"error_percent":  m.ErrorPercent,
	})
}

// adjustBaselineTx moves the running error percentage toward the observation
// with an exponential weight, clamping any single move so one outlier cannot
// swing future estimates.
func (e Engine) adjustBaselineTx(ctx context.Context, tx *sql.Tx, cfg *config.Config, projectID, workType string, observedPercent float64) error {
	current := 0.0
	count := 0
	b, err := e.Repo.GetBaselineTx(ctx, tx, projectID, workType)
	switch {
	case err == nil:
		current = b.ErrorPercent
		count = b.SampleCount
	case errors.Is(err, repo.ErrNotFound):
	default:
		return err
	}
	delta := cfg.SmoothingAlpha() * (observedPercent - current)
	delta = clamp(delta, cfg.MaxStepPercent())
	return e.Repo.UpsertBaseline(ctx, tx, domain.EstimationBaseline{
		ProjectID:    projectID,
		WorkType:     workType,
		ErrorPercent: current + delta,
		SampleCount:  count + 1,
		UpdatedAt:    e.now().UTC().Format(time.RFC3339),
	})
}

func clamp(v, bound float64) float64 {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

func pointsFor(hours float64, cfg *config.Config) int {
	points := int(math.Round(hours / cfg.HoursPerPoint()))
	if points < 1 {
		points = 1
	}
	return points
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
