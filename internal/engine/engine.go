package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"hyvve/internal/approvals"
	"hyvve/internal/config"
	"hyvve/internal/domain"
	"hyvve/internal/engine/actions"
	"hyvve/internal/events"
	"hyvve/internal/repo"
	"hyvve/internal/retrieval"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Executor  actions.Executor
	Approvals approvals.Queue
	Retrieval *retrieval.Client
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	e := Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
	if cfg != nil {
		if url := cfg.Suggestions.ApprovalQueueURL; url != "" {
			e.Approvals = approvals.NewHTTPQueue(url)
		}
		if cfg.Retrieval.URL != "" {
			e.Retrieval = retrieval.New(cfg.Retrieval.URL, cfg.Retrieval.TimeoutSeconds)
		}
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// executor returns the configured action executor, defaulting to the
// dispatcher backed by this engine's own domain operations. Resolved at call
// time so test overrides of Now and Executor take effect.
func (e Engine) executor() actions.Executor {
	if e.Executor != nil {
		return e.Executor
	}
	return actions.NewDispatcher(e)
}

// projectConfig resolves per-project configuration, falling back to the
// workspace config and finally to defaults.
func (e Engine) projectConfig(ctx context.Context, projectID string) *config.Config {
	if cfg, err := e.Repo.GetProjectConfig(ctx, projectID); err == nil {
		return cfg
	}
	if e.Config != nil {
		return e.Config
	}
	return config.Default(projectID)
}

// InitProject creates a project and seeds its stored configuration.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Status:      "active",
		Description: description,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if p.Name == "" {
		p.Name = projectID
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	seed := e.Config
	if seed == nil {
		seed = config.Default(p.ID)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, seed); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}
