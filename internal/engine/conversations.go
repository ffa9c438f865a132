package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hyvve/internal/domain"
	"hyvve/internal/engine/hive"
	"hyvve/internal/events"
	"hyvve/internal/repo"
)

// TurnOptions are parameters for appending one conversation turn.
type TurnOptions struct {
	ProjectID string
	Agent     string
	UserID    string
	Role      string
	Message   string
	Metadata  map[string]any
}

// AppendTurn appends to the per-(project,agent,user) history. Agent turns are
// grounded with retrieval snippets when a retrieval endpoint is configured;
// retrieval failure degrades to an ungrounded turn, never an error.
func (e Engine) AppendTurn(ctx context.Context, opts TurnOptions) (domain.ConversationTurn, error) {
	if opts.ProjectID == "" {
		return domain.ConversationTurn{}, hive.ValidationError{Field: "project_id", Reason: "required"}
	}
	if opts.Agent == "" {
		return domain.ConversationTurn{}, hive.ValidationError{Field: "agent", Reason: "required"}
	}
	if opts.UserID == "" {
		return domain.ConversationTurn{}, hive.ValidationError{Field: "user_id", Reason: "required"}
	}
	if opts.Role != "user" && opts.Role != "agent" {
		return domain.ConversationTurn{}, hive.ValidationError{Field: "role", Reason: "must be user or agent"}
	}
	if opts.Message == "" {
		return domain.ConversationTurn{}, hive.ValidationError{Field: "message", Reason: "required"}
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.ConversationTurn{}, err
	}
	cfg := e.projectConfig(ctx, opts.ProjectID)
	if len(cfg.Agents.Catalog) > 0 {
		if _, ok := cfg.Agents.Catalog[opts.Agent]; !ok {
			return domain.ConversationTurn{}, hive.ValidationError{Field: "agent", Reason: "unknown agent " + opts.Agent}
		}
	}

	metadata := opts.Metadata
	if opts.Role == "agent" && e.Retrieval.Enabled() {
		if snippets := e.Retrieval.Retrieve(ctx, opts.ProjectID, opts.Message, 5); len(snippets) > 0 {
			if metadata == nil {
				metadata = map[string]any{}
			}
			if _, ok := metadata["grounding"]; !ok {
				metadata["grounding"] = snippets
			}
		}
	}
	var metadataJSON string
	if len(metadata) > 0 {
		data, err := json.Marshal(metadata)
		if err != nil {
			return domain.ConversationTurn{}, fmt.Errorf("marshal turn metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	t := domain.ConversationTurn{
		ProjectID:    opts.ProjectID,
		Agent:        opts.Agent,
		UserID:       opts.UserID,
		Role:         opts.Role,
		Message:      opts.Message,
		MetadataJSON: metadataJSON,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertTurn(ctx, tx, t)
	if err != nil {
		return domain.ConversationTurn{}, err
	}
	t.ID = id
	if err := e.Events.Append(ctx, tx, "conversation.turn", t.ProjectID, "conversation", fmt.Sprintf("%d", t.ID), opts.UserID, events.EventPayload{
		"agent": t.Agent,
		"role":  t.Role,
	}); err != nil {
		return domain.ConversationTurn{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ConversationTurn{}, err
	}
	return t, nil
}

// ListTurns returns history in append order.
func (e Engine) ListTurns(ctx context.Context, f repo.TurnFilters) ([]domain.ConversationTurn, error) {
	if f.ProjectID == "" {
		return nil, hive.ValidationError{Field: "project_id", Reason: "required"}
	}
	return e.Repo.ListTurns(ctx, f)
}
