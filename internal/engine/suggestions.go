package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"hyvve/internal/domain"
	"hyvve/internal/engine/actions"
	"hyvve/internal/engine/hive"
	"hyvve/internal/events"
	"hyvve/internal/repo"
)

// ProposeOptions are parameters for creating a suggestion.
type ProposeOptions struct {
	ProjectID  string
	Agent      string
	ActionKind string
	Payload    json.RawMessage
	Confidence float64
	Rationale  string
	ActorID    string
}

// ProposeSuggestion validates and persists a pending suggestion, routes it by
// confidence, and notifies the approval queue for below-threshold proposals.
// Queue delivery is best effort; the suggestion exists either way.
func (e Engine) ProposeSuggestion(ctx context.Context, opts ProposeOptions) (domain.Suggestion, error) {
	if opts.ProjectID == "" {
		return domain.Suggestion{}, hive.ValidationError{Field: "project_id", Reason: "required"}
	}
	if opts.Agent == "" {
		return domain.Suggestion{}, hive.ValidationError{Field: "agent", Reason: "required"}
	}
	if math.IsNaN(opts.Confidence) || opts.Confidence < 0 || opts.Confidence > 1 {
		return domain.Suggestion{}, hive.ValidationError{Field: "confidence", Reason: "must be in [0,1]"}
	}
	if err := hive.ValidatePayload(opts.ActionKind, opts.Payload); err != nil {
		return domain.Suggestion{}, err
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Suggestion{}, err
	}
	cfg := e.projectConfig(ctx, opts.ProjectID)
	if len(cfg.Agents.Catalog) > 0 {
		agent, ok := cfg.Agents.Catalog[opts.Agent]
		if !ok {
			return domain.Suggestion{}, hive.ValidationError{Field: "agent", Reason: "unknown agent " + opts.Agent}
		}
		if len(agent.Actions) > 0 && !contains(agent.Actions, opts.ActionKind) {
			return domain.Suggestion{}, hive.ValidationError{Field: "action_kind", Reason: fmt.Sprintf("agent %s may not propose %s", opts.Agent, opts.ActionKind)}
		}
	}

	now := e.now().UTC()
	routing := hive.Route(opts.Confidence, cfg.ConfidenceThreshold())
	s := domain.Suggestion{
		ID:            uuid.NewString(),
		ProjectID:     opts.ProjectID,
		Agent:         opts.Agent,
		ActionKind:    opts.ActionKind,
		PayloadJSON:   string(opts.Payload),
		Confidence:    opts.Confidence,
		Rationale:     opts.Rationale,
		Status:        "pending",
		AutoSurface:   routing.AutoSurface,
		ApprovalQueue: routing.RequiresApprovalQueue,
		CreatedAt:     now.Format(time.RFC3339),
		ExpiresAt:     now.Add(time.Duration(cfg.ExpiryHours()) * time.Hour).Format(time.RFC3339),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSuggestion(ctx, tx, s); err != nil {
		return domain.Suggestion{}, fmt.Errorf("insert suggestion: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "suggestion.created", s.ProjectID, "suggestion", s.ID, opts.ActorID, events.EventPayload{
		"agent":        s.Agent,
		"action_kind":  s.ActionKind,
		"confidence":   s.Confidence,
		"auto_surface": s.AutoSurface,
	}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}

	if s.ApprovalQueue && e.Approvals != nil {
		if err := e.Approvals.Push(ctx, s); err != nil {
			log.Printf("approvals: push %s failed: %v", s.ID, err)
		}
	}
	return s, nil
}

// DecideSuggestion applies a human decision. Accept executes the domain
// action and commits pending->accepted in one transaction; the action ledger
// keyed on suggestion id makes retried accepts run the action at most once.
func (e Engine) DecideSuggestion(ctx context.Context, id, decision, actorID string) (domain.Suggestion, error) {
	if decision != "accept" && decision != "reject" {
		return domain.Suggestion{}, hive.ValidationError{Field: "decision", Reason: "must be accept or reject"}
	}
	s, err := e.Repo.GetSuggestion(ctx, id)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if s.Status != "pending" {
		return domain.Suggestion{}, hive.ConflictError{Kind: hive.ConflictAlreadyTerminal, Message: fmt.Sprintf("suggestion already %s", s.Status)}
	}
	now := e.now().UTC()
	if expired(s, now) {
		if err := e.expireOne(ctx, s, actorID); err != nil {
			return domain.Suggestion{}, err
		}
		return domain.Suggestion{}, hive.ConflictError{Kind: hive.ConflictAlreadyTerminal, Message: "suggestion expired"}
	}
	if decision == "reject" {
		return e.rejectSuggestion(ctx, s, actorID)
	}
	return e.acceptSuggestion(ctx, s, actorID)
}

func (e Engine) acceptSuggestion(ctx context.Context, s domain.Suggestion, actorID string) (domain.Suggestion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	resultJSON, err := e.Repo.GetActionExecution(ctx, tx, s.ID)
	switch {
	case err == nil:
		// action already ran for this suggestion; only the status commit remains
	case errors.Is(err, repo.ErrNotFound):
		result, execErr := e.executor().Execute(ctx, tx, actions.Request{
			SuggestionID: s.ID,
			ProjectID:    s.ProjectID,
			ActorID:      actorID,
			Kind:         s.ActionKind,
			Payload:      []byte(s.PayloadJSON),
		})
		if execErr != nil {
			return domain.Suggestion{}, classifyExecError(execErr)
		}
		data, mErr := json.Marshal(result)
		if mErr != nil {
			return domain.Suggestion{}, mErr
		}
		resultJSON = string(data)
		if err := e.Repo.InsertActionExecution(ctx, tx, s.ID, resultJSON, now); err != nil {
			return domain.Suggestion{}, err
		}
	default:
		return domain.Suggestion{}, err
	}

	ok, err := e.Repo.FinalizeSuggestionIfPending(ctx, tx, s.ID, "accepted", now, actorID, &resultJSON)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if !ok {
		return domain.Suggestion{}, hive.ConflictError{Kind: hive.ConflictAlreadyTerminal, Message: "suggestion already decided"}
	}
	if err := e.Events.Append(ctx, tx, "suggestion.accepted", s.ProjectID, "suggestion", s.ID, actorID, events.EventPayload{
		"action_kind": s.ActionKind,
		"result":      json.RawMessage(resultJSON),
	}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	s.Status = "accepted"
	s.DecidedAt = &now
	s.DecidedBy = &actorID
	s.ResultJSON = &resultJSON
	return s, nil
}

func (e Engine) rejectSuggestion(ctx context.Context, s domain.Suggestion, actorID string) (domain.Suggestion, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	ok, err := e.Repo.FinalizeSuggestionIfPending(ctx, tx, s.ID, "rejected", now, actorID, nil)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if !ok {
		return domain.Suggestion{}, hive.ConflictError{Kind: hive.ConflictAlreadyTerminal, Message: "suggestion already decided"}
	}
	if err := e.Events.Append(ctx, tx, "suggestion.rejected", s.ProjectID, "suggestion", s.ID, actorID, events.EventPayload{
		"action_kind": s.ActionKind,
	}); err != nil {
		return domain.Suggestion{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Suggestion{}, err
	}
	s.Status = "rejected"
	s.DecidedAt = &now
	s.DecidedBy = &actorID
	return s, nil
}

// SweepExpired flips every overdue pending suggestion to expired. Each row is
// expired with its own conditional update, so concurrent sweeps or a racing
// decision yield exactly one terminal transition per suggestion.
func (e Engine) SweepExpired(ctx context.Context, actorID string) (int, error) {
	now := e.now().UTC().Format(time.RFC3339)
	ids, err := e.Repo.ListExpirable(ctx, now)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		s, err := e.Repo.GetSuggestion(ctx, id)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				continue
			}
			return count, err
		}
		if err := e.expireOne(ctx, s, actorID); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (e Engine) expireOne(ctx context.Context, s domain.Suggestion, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	flipped, err := e.Repo.ExpireSuggestionIfPending(ctx, tx, s.ID, now)
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}
	if err := e.Events.Append(ctx, tx, "suggestion.expired", s.ProjectID, "suggestion", s.ID, actorID, events.EventPayload{
		"action_kind": s.ActionKind,
		"expires_at":  s.ExpiresAt,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func expired(s domain.Suggestion, now time.Time) bool {
	t, err := time.Parse(time.RFC3339, s.ExpiresAt)
	if err != nil {
		return false
	}
	return !t.After(now)
}

// classifyExecError keeps caller-correctable errors as-is and wraps everything
// else as a retryable dependency failure; the suggestion stays pending.
func classifyExecError(err error) error {
	var ve hive.ValidationError
	if errors.As(err, &ve) {
		return ve
	}
	var ce hive.ConflictError
	if errors.As(err, &ce) {
		return ce
	}
	if errors.Is(err, repo.ErrNotFound) {
		return err
	}
	return hive.DependencyError{Op: "execute action", Retryable: true, Err: err}
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
