package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hyvve/internal/domain"
	"hyvve/internal/engine"
	"hyvve/internal/engine/hive"
	"hyvve/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"conflict"`
	Message string         `json:"message" example:"suggestion already accepted"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hyvve API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Hyvve API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerProjects(group, cfg.Engine)
	registerWorkItems(group, cfg.Engine)
	registerSuggestions(group, cfg.Engine)
	registerTimers(group, cfg.Engine)
	registerTimeEntries(group, cfg.Engine)
	registerEstimates(group, cfg.Engine)
	registerConversations(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerEventStream(router, basePath, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps the engine's error taxonomy onto the HTTP envelope.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ve hive.ValidationError
	if errors.As(err, &ve) {
		var details map[string]any
		if ve.Field != "" {
			details = map[string]any{"field": ve.Field}
		}
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), details)
	}
	var ce hive.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, ce.Kind, err.Error(), nil)
	}
	var de hive.DependencyError
	if errors.As(err, &de) {
		return newAPIError(http.StatusBadGateway, "dependency_failed", err.Error(), map[string]any{"retryable": de.Retryable})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusBadGateway:
		return "dependency_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	openPaths := map[string]bool{
		"/" + strings.TrimPrefix(path.Join(basePath, "health"), "/"):         true,
		"/" + strings.TrimPrefix(path.Join(basePath, "auth/dev/login"), "/"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if openPaths[route] {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hyvve API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	type projectPath struct {
		ProjectID string `path:"project_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/status",
		Summary:     "Project status",
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		pending, err := e.Repo.ListSuggestions(ctx, repo.SuggestionFilters{ProjectID: p.ID, Status: "pending"})
		if err != nil {
			return nil, handleError(err)
		}
		latest, err := e.Repo.LatestEventID(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"project_id":          p.ID,
			"status":              p.Status,
			"pending_suggestions": len(pending),
			"latest_event_id":     latest,
		}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.InitProject(ctx, input.Body.ID, stringOrEmpty(input.Body.Name), stringOrEmpty(input.Body.Description), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		p, err := e.Repo.GetProject(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project-config",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/config",
		Summary:     "Get project config",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectConfigResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectConfigResponse `json:"body"`
		}{Body: ProjectConfigResponse{Config: cfg}}, nil
	})
}

func registerWorkItems(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-work-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/work-items",
		Summary:       "Create work item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      CreateWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		w, err := e.CreateWorkItem(ctx, projectID, hive.CreateWorkItemPayload{
			Type:        input.Body.Type,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-work-items",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/work-items",
		Summary:     "List work items",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Phase      string `query:"phase" enum:",backlog,planned,in_progress,review,done,canceled"`
		Type       string `query:"type"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedWorkItems `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListWorkItems(ctx, repo.WorkItemFilters{
			ProjectID:       projectID,
			Phase:           input.Phase,
			Type:            input.Type,
			AssigneeID:      input.AssigneeID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedWorkItems{Items: []WorkItemResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, w := range items {
			resp.Items = append(resp.Items, workItemResponse(w))
		}
		return &struct {
			Body paginatedWorkItems `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-work-item",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/work-items/{id}",
		Summary:     "Get work item",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		w, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, w.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "work item not found in project", nil)
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-work-item",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/work-items/{id}",
		Summary:     "Update work item",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		ID        string                `path:"id"`
		Body      UpdateWorkItemRequest `json:"body"`
	}) (*struct {
		Body WorkItemResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.Repo.GetWorkItem(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, w.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "work item not found in project", nil)
		}
		if input.Body.Title != nil || input.Body.Description != nil {
			w, err = e.UpdateWorkItem(ctx, hive.UpdateWorkItemPayload{
				WorkItemID:  input.ID,
				Title:       input.Body.Title,
				Description: input.Body.Description,
			}, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.AssigneeID != nil {
			w, err = e.AssignWorkItem(ctx, input.ID, *input.Body.AssigneeID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Priority != nil {
			w, err = e.SetPriority(ctx, input.ID, *input.Body.Priority, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.EstimateHours != nil {
			w, err = e.ApplyEstimate(ctx, hive.EstimatePayload{WorkItemID: input.ID, Hours: *input.Body.EstimateHours}, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		if input.Body.Phase != nil {
			w, err = e.ChangePhase(ctx, input.ID, *input.Body.Phase, actorID)
			if err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body WorkItemResponse `json:"body"`
		}{Body: workItemResponse(w)}, nil
	})
}

func registerSuggestions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "propose-suggestion",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/suggestions",
		Summary:       "Propose suggestion",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                   `path:"project_id"`
		Body      ProposeSuggestionRequest `json:"body"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		s, err := e.ProposeSuggestion(ctx, engine.ProposeOptions{
			ProjectID:  projectID,
			Agent:      input.Body.Agent,
			ActionKind: input.Body.ActionKind,
			Payload:    input.Body.Payload,
			Confidence: input.Body.Confidence,
			Rationale:  stringOrEmpty(input.Body.Rationale),
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-suggestions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/suggestions",
		Summary:     "List suggestions",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID   string `path:"project_id"`
		Agent       string `query:"agent"`
		Status      string `query:"status" enum:",pending,accepted,rejected,expired"`
		ActionKind  string `query:"action_kind"`
		AutoSurface string `query:"auto_surface" enum:",true,false"`
		Limit       int    `query:"limit" default:"50"`
		Cursor      string `query:"cursor"`
	}) (*struct {
		Body paginatedSuggestions `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		filters := repo.SuggestionFilters{
			ProjectID:       projectID,
			Agent:           input.Agent,
			Status:          input.Status,
			ActionKind:      input.ActionKind,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		if input.AutoSurface != "" {
			v := input.AutoSurface == "true"
			filters.AutoSurface = &v
		}
		items, err := e.Repo.ListSuggestions(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedSuggestions{Items: []SuggestionResponse{}}
		if len(items) > limit {
			resp.NextCursor = composeCursor(items[limit].CreatedAt, items[limit].ID)
			items = items[:limit]
		}
		for _, s := range items {
			resp.Items = append(resp.Items, suggestionResponse(s))
		}
		return &struct {
			Body paginatedSuggestions `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-suggestion",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/suggestions/{id}",
		Summary:     "Get suggestion",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		s, err := e.Repo.GetSuggestion(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if !projectMatches(input.ProjectID, s.ProjectID) {
			return nil, newAPIError(http.StatusNotFound, "not_found", "suggestion not found in project", nil)
		}
		return &struct {
			Body SuggestionResponse `json:"body"`
		}{Body: suggestionResponse(s)}, nil
	})

	decide := func(decision string) func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		ID        string `path:"id"`
	}) (*struct {
		Body SuggestionResponse `json:"body"`
	}, error) {
		return func(ctx context.Context, input *struct {
			ProjectID string `path:"project_id"`
			ID        string `path:"id"`
		}) (*struct {
			Body SuggestionResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			s, err := e.DecideSuggestion(ctx, input.ID, decision, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			if !projectMatches(input.ProjectID, s.ProjectID) {
				return nil, newAPIError(http.StatusNotFound, "not_found", "suggestion not found in project", nil)
			}
			return &struct {
				Body SuggestionResponse `json:"body"`
			}{Body: suggestionResponse(s)}, nil
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "accept-suggestion",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suggestions/{id}/accept",
		Summary:     "Accept suggestion",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusBadGateway,
			http.StatusInternalServerError,
		},
	}, decide("accept"))

	huma.Register(api, huma.Operation{
		OperationID: "reject-suggestion",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suggestions/{id}/reject",
		Summary:     "Reject suggestion",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, decide("reject"))

	huma.Register(api, huma.Operation{
		OperationID: "sweep-suggestions",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/suggestions/sweep",
		Summary:     "Expire overdue pending suggestions",
		Errors:      []int{http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.SweepExpired(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"expired": n}}, nil
	})
}

func registerTimers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-timer",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/timers/start",
		Summary:       "Start timer",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      StartTimerRequest `json:"body"`
	}) (*struct {
		Body TimerResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		t, err := e.StartTimer(ctx, input.Body.UserID, projectID, input.Body.WorkItemID, stringOrEmpty(input.Body.Description))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimerResponse `json:"body"`
		}{Body: timerResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-timer",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/timers/stop",
		Summary:     "Stop timer",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      StopTimerRequest `json:"body"`
	}) (*struct {
		Body TimeEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		entry, err := e.StopTimer(ctx, input.Body.UserID, stringOrEmpty(input.Body.Note))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeEntryResponse `json:"body"`
		}{Body: timeEntryResponse(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-timer",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/timers/{user_id}",
		Summary:     "Get running timer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		UserID    string `path:"user_id"`
	}) (*struct {
		Body TimerResponse `json:"body"`
	}, error) {
		t, err := e.Repo.GetTimer(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimerResponse `json:"body"`
		}{Body: timerResponse(t)}, nil
	})
}

func registerTimeEntries(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "log-time",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/time-entries",
		Summary:       "Log manual time",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string         `path:"project_id"`
		Body      LogTimeRequest `json:"body"`
	}) (*struct {
		Body TimeEntryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		entry, err := e.LogManualTime(ctx, engine.ManualTimeOptions{
			ProjectID:       projectID,
			WorkItemID:      input.Body.WorkItemID,
			UserID:          input.Body.UserID,
			StartedAt:       stringOrEmpty(input.Body.StartedAt),
			DurationSeconds: input.Body.DurationSeconds,
			Note:            stringOrEmpty(input.Body.Note),
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TimeEntryResponse `json:"body"`
		}{Body: timeEntryResponse(entry)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-time-entries",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/time-entries",
		Summary:     "List time entries",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		WorkItemID string `query:"work_item_id"`
		UserID     string `query:"user_id"`
		From       string `query:"from" format:"date-time"`
		To         string `query:"to" format:"date-time"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TimeEntryResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		items, err := e.Repo.ListTimeEntries(ctx, repo.TimeEntryFilters{
			ProjectID:  projectID,
			WorkItemID: input.WorkItemID,
			UserID:     input.UserID,
			From:       input.From,
			To:         input.To,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TimeEntryResponse, 0, len(items))
		for _, entry := range items {
			res = append(res, timeEntryResponse(entry))
		}
		return &struct {
			Body []TimeEntryResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "time-report",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/time-report",
		Summary:     "Aggregate logged time",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		GroupBy   string `query:"group_by" enum:",unit,phase,member" default:"unit"`
		From      string `query:"from" format:"date-time"`
		To        string `query:"to" format:"date-time"`
	}) (*struct {
		Body []ReportRowResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		rows, err := e.TimeReport(ctx, projectID, input.GroupBy, input.From, input.To)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ReportRowResponse, 0, len(rows))
		for _, row := range rows {
			res = append(res, ReportRowResponse(row))
		}
		return &struct {
			Body []ReportRowResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEstimates(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "estimate",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/estimates",
		Summary:     "Estimate a work type",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string          `path:"project_id"`
		Body      EstimateRequest `json:"body"`
	}) (*struct {
		Body EstimateResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		est, err := e.Estimate(ctx, projectID, input.Body.WorkType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EstimateResponse `json:"body"`
		}{Body: EstimateResponse(est)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-estimation-metrics",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/estimation/metrics",
		Summary:     "List estimate-vs-actual history",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		WorkType  string `query:"work_type"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.EstimationMetric `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		items, err := e.Repo.ListMetrics(ctx, projectID, input.WorkType, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.EstimationMetric{}
		}
		return &struct {
			Body []domain.EstimationMetric `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-estimation-baseline",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/estimation/baselines/{work_type}",
		Summary:     "Get baseline for a work type",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		WorkType  string `path:"work_type"`
	}) (*struct {
		Body domain.EstimationBaseline `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		b, err := e.Repo.GetBaseline(ctx, projectID, input.WorkType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.EstimationBaseline `json:"body"`
		}{Body: b}, nil
	})
}

func registerConversations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "append-turn",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/conversations",
		Summary:       "Append conversation turn",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      AppendTurnRequest `json:"body"`
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		t, err := e.AppendTurn(ctx, engine.TurnOptions{
			ProjectID: projectID,
			Agent:     input.Body.Agent,
			UserID:    input.Body.UserID,
			Role:      input.Body.Role,
			Message:   input.Body.Message,
			Metadata:  input.Body.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-turns",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/conversations",
		Summary:     "List conversation turns",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Agent     string `query:"agent"`
		UserID    string `query:"user_id"`
		AfterID   int64  `query:"after_id"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body []TurnResponse `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		items, err := e.ListTurns(ctx, repo.TurnFilters{
			ProjectID: projectID,
			Agent:     input.Agent,
			UserID:    input.UserID,
			AfterID:   input.AfterID,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]TurnResponse, 0, len(items))
		for _, t := range items {
			res = append(res, turnResponse(t))
		}
		return &struct {
			Body []TurnResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:",project,suggestion,work_item,timer,time_entry,conversation"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		projectID := projectFromPathOrHeader(ctx, input.ProjectID, defaultProject(e))
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, projectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		secret := uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    stringOrEmpty(input.Body.Name),
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:      key.ID,
			ActorID: key.ActorID,
			Name:    key.Name,
			Key:     secret,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(items))
		for _, key := range items {
			res = append(res, APIKeyResponse{
				ID:        key.ID,
				ActorID:   key.ActorID,
				Name:      key.Name,
				CreatedAt: key.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func defaultProject(e engine.Engine) string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Project.ID
}

func projectFromPathOrHeader(ctx context.Context, pathProjectID, fallback string) string {
	if pathProjectID != "" {
		return pathProjectID
	}
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Project-Id")); v != "" {
			return v
		}
	}
	return fallback
}

func projectMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	return expected == actual
}
