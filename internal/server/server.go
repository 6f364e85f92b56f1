package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fundline/internal/checkout"
	"fundline/internal/domain"
	"fundline/internal/ledger"
	"fundline/internal/metrics"
	"fundline/internal/repo"
	"fundline/internal/settlement"
)

// Config for the HTTP API handler.
type Config struct {
	Ledger     *ledger.Ledger
	Dispatcher *settlement.Dispatcher
	Checkout   *checkout.Registry
	Metrics    *metrics.Metrics
	BasePath   string
	Auth       AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"intent abc: not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Fundline API. The management API
// sits under BasePath; webhook and metrics endpoints are registered at the
// router root outside Huma so signature material reaches verifiers raw.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth))

	hcfg := huma.DefaultConfig("Fundline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Ledger)
	registerIntents(group, cfg.Ledger, cfg.Checkout, cfg.Metrics)
	registerTotals(group, cfg.Ledger)
	registerEvents(group, cfg.Ledger)
	registerWebhooks(router, cfg.Dispatcher)
	registerOpenAPI(router, api, basePath)

	if cfg.Metrics != nil {
		router.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{}))
	}

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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var rc *ledger.ErrReferenceConflict
	if errors.As(err, &rc) {
		return newAPIError(http.StatusConflict, "reference_conflict", err.Error(),
			map[string]any{"existing": rc.Existing})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "must") ||
		strings.Contains(lowered, "unknown") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error",
			map[string]any{"error": msg})
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
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerProjects(api huma.API, l *ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		items, err := l.Repo.ListProjects()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Project `json:"body"`
	}, error) {
		p, err := l.Repo.GetProject(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Project `json:"body"`
		}{Body: p}, nil
	})
}

func registerIntents(api huma.API, l *ledger.Ledger, reg *checkout.Registry, m *metrics.Metrics) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-intent",
		Method:        http.MethodPost,
		Path:          "/intents",
		Summary:       "Create funding intent",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateIntentRequest `json:"body"`
	}) (*struct {
		Body CreateIntentResponse `json:"body"`
	}, error) {
		in, err := l.CreateIntent(ledger.CreateIntentParams{
			ProjectID:      input.Body.ProjectID,
			Amount:         input.Body.Amount,
			Provider:       domain.Provider(input.Body.Provider),
			SupporterName:  input.Body.SupporterName,
			SupporterEmail: input.Body.SupporterEmail,
			Message:        input.Body.Message,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if m != nil {
			m.IntentsCreated.WithLabelValues(string(in.Provider)).Inc()
		}

		resp := CreateIntentResponse{Intent: in}
		if input.Body.OpenCheckout {
			if reg == nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "checkout not configured", nil)
			}
			client, err := reg.For(in.Provider)
			if err != nil {
				return nil, handleError(err)
			}
			project, err := l.Repo.GetProject(in.ProjectID)
			if err != nil {
				return nil, handleError(err)
			}
			session, err := client.Open(ctx, in, project)
			if err != nil {
				return nil, handleError(fmt.Errorf("open checkout: %w", err))
			}
			in, err = l.AttachProviderReference(in.ID, session.Reference)
			if err != nil {
				return nil, handleError(err)
			}
			resp.Intent = in
			resp.RedirectURL = session.RedirectURL
		}
		return &struct {
			Body CreateIntentResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-intents",
		Method:      http.MethodGet,
		Path:        "/intents",
		Summary:     "List funding intents",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		State     string `query:"state"`
		Provider  string `query:"provider"`
		Limit     int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Intent `json:"body"`
	}, error) {
		items, err := l.Repo.ListIntents(repo.IntentFilter{
			ProjectID: input.ProjectID,
			State:     domain.IntentState(input.State),
			Provider:  domain.Provider(input.Provider),
			Limit:     input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Intent `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-intent",
		Method:      http.MethodGet,
		Path:        "/intents/{id}",
		Summary:     "Get funding intent",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		in, err := l.Repo.GetIntent(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-reference",
		Method:      http.MethodPost,
		Path:        "/intents/{id}/reference",
		Summary:     "Attach provider reference",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body AttachReferenceRequest `json:"body"`
	}) (*struct {
		Body domain.Intent `json:"body"`
	}, error) {
		in, err := l.AttachProviderReference(input.ID, input.Body.ProviderReference)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Intent `json:"body"`
		}{Body: in}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "intent-audit",
		Method:      http.MethodGet,
		Path:        "/intents/{id}/audit",
		Summary:     "List intent audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.AuditEntry `json:"body"`
	}, error) {
		if _, err := l.Repo.GetIntent(input.ID); err != nil {
			return nil, handleError(err)
		}
		entries, err := l.Repo.ListAudit(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.AuditEntry `json:"body"`
		}{Body: entries}, nil
	})
}

func registerTotals(api huma.API, l *ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "project-totals",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/totals",
		Summary:     "Get project funding totals",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ProjectTotals `json:"body"`
	}, error) {
		t, err := l.ProjectTotals(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProjectTotals `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "all-totals",
		Method:      http.MethodGet,
		Path:        "/totals",
		Summary:     "Get funding totals for all projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ProjectTotals `json:"body"`
	}, error) {
		totals, err := l.AllProjectTotals()
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ProjectTotals `json:"body"`
		}{Body: totals}, nil
	})
}

func registerEvents(api huma.API, l *ledger.Ledger) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the activity log",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Limit     int    `query:"limit" default:"20" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		events, err := l.Repo.LatestEvents(input.ProjectID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Fundline API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css"/>
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        window.ui = SwaggerUIBundle({url: %q, dom_id: "#swagger-ui"});
      };
    </script>
  </body>
</html>`, specURL)
}
