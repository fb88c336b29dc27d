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
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"luvia/internal/domain"
	"luvia/internal/engine"
	"luvia/internal/engine/auth"
	"luvia/internal/repo"
	"luvia/internal/sop"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"state_conflict"`
	Message string         `json:"message" example:"invalid job transition PENDING -> COMPLETED"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"PENDING\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the LUVIA API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
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
	hcfg := huma.DefaultConfig("LUVIA API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerJobs(group, cfg.Engine)
	registerTasks(group, cfg.Engine)
	registerSOPCatalog(group)
	registerPricing(group, cfg.Engine)
	registerMarket(group, cfg.Engine)
	registerUsers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var fe auth.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"action": string(fe.Action)})
	}
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var sc *domain.StateConflictError
	if errors.As(err, &sc) {
		return newAPIError(http.StatusConflict, "state_conflict", err.Error(), nil)
	}
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "state_conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	b, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return b
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>LUVIA API Docs</title>
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

func registerJobs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "book-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Book a job",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body BookJobRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ClientID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "client_id is required", nil)
		}
		if input.Body.PropertySize == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "property_size is required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionBookJob)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.BookJob(ctx, engine.BookJobOptions{
			ClientID:      input.Body.ClientID,
			Service:       domain.ServiceType(input.Body.Service),
			PropertySize:  input.Body.PropertySize,
			Location:      input.Body.Location,
			ServiceName:   input.Body.ServiceName,
			PointsToApply: input.Body.PointsToApply,
			ModuleIDs:     input.Body.ModuleIDs,
			CustomTasks:   customTasks(input.Body.CustomTasks),
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ClientID   string `query:"client_id"`
		ProviderID string `query:"provider_id"`
		Status     string `query:"status"`
		Limit      int    `query:"limit" minimum:"1" maximum:"200"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedJobs `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Status != "" {
			if _, err := domain.ParseJobStatus(input.Status); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
		}
		filters := repo.JobFilters{
			ClientID:   input.ClientID,
			ProviderID: input.ProviderID,
			Status:     input.Status,
			Limit:      input.Limit,
		}
		if input.Cursor != "" {
			createdAt, id, ok := strings.Cut(input.Cursor, "|")
			if !ok {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "malformed cursor", nil)
			}
			filters.CursorCreatedAt = createdAt
			filters.CursorID = id
		}
		items, err := e.Repo.ListJobs(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		res := paginatedJobs{Items: mapJobs(items)}
		if limit := filters.Limit; limit > 0 && len(items) == limit {
			last := items[len(items)-1]
			res.NextCursor = last.CreatedAt + "|" + last.ID
		}
		return &struct {
			Body paginatedJobs `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		job, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "job-progress",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/progress",
		Summary:     "Job execution progress",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body ProgressResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		p, err := e.Progress(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProgressResponse `json:"body"`
		}{Body: progressResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "inject-sop",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/sop",
		Summary:     "Inject SOP checklist",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID string           `path:"job_id"`
		Body  InjectSOPRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionInjectSOP)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.InjectSOP(ctx, input.JobID, input.Body.ModuleIDs, customTasks(input.Body.CustomTasks), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-travel-status",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/status",
		Summary:     "Mark travel progress",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		JobID string              `path:"job_id"`
		Body  TravelStatusRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionMarkTravel)
		if err != nil {
			return nil, handleError(err)
		}
		status, err := domain.ParseJobStatus(input.Body.Status)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		job, err := e.SetTravelStatus(ctx, input.JobID, status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-for-review",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/submit",
		Summary:     "Submit job for review",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, err := requireAction(ctx, auth.ActionSubmitReview)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.SubmitForReview(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "release-escrow",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/release",
		Summary:     "Release escrow",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, err := requireAction(ctx, auth.ActionReleaseEscrow)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.ReleaseEscrow(ctx, input.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})
}

func registerTasks(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "toggle-task",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/tasks/{task_id}/toggle",
		Summary:     "Toggle task completion",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID  string `path:"job_id"`
		TaskID string `path:"task_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, err := requireAction(ctx, auth.ActionMutateTask)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.ToggleTask(ctx, input.JobID, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-task-value",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/tasks/{task_id}/value",
		Summary:     "Record a scientific reading",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID  string             `path:"job_id"`
		TaskID string             `path:"task_id"`
		Body   RecordValueRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionMutateTask)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.RecordValue(ctx, input.JobID, input.TaskID, input.Body.Value, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "attach-task-evidence",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/tasks/{task_id}/evidence",
		Summary:     "Capture task evidence",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		JobID  string `path:"job_id"`
		TaskID string `path:"task_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		actorID, err := requireAction(ctx, auth.ActionMutateTask)
		if err != nil {
			return nil, handleError(err)
		}
		job, err := e.AttachEvidence(ctx, input.JobID, input.TaskID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(job)}, nil
	})
}

func registerSOPCatalog(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-sop-modules",
		Method:      http.MethodGet,
		Path:        "/sop/modules",
		Summary:     "List SOP catalog modules",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []SOPModuleResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		mods := sop.Catalog
		out := make([]SOPModuleResponse, 0, len(mods))
		for _, m := range mods {
			out = append(out, moduleResponse(m))
		}
		return &struct {
			Body []SOPModuleResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerPricing(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "quote-booking",
		Method:      http.MethodPost,
		Path:        "/pricing/quote",
		Summary:     "Quote a booking",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body QuoteRequest `json:"body"`
	}) (*struct {
		Body QuoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		tier := domain.SubscriptionTier(input.Body.Tier)
		if input.Body.Tier == "" {
			tier = domain.TierSeedling
		}
		q, err := e.QuoteBooking(ctx, domain.ServiceType(input.Body.Service), input.Body.PropertySize, tier, input.Body.PointsToApply)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QuoteResponse `json:"body"`
		}{Body: quoteResponse(q)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pricing-factor",
		Method:      http.MethodGet,
		Path:        "/pricing/factor",
		Summary:     "Current demand factor",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body FactorResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		factor, err := e.PricingFactor(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FactorResponse `json:"body"`
		}{Body: FactorResponse{Factor: factor}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-pricing-factor",
		Method:      http.MethodPut,
		Path:        "/pricing/factor",
		Summary:     "Set demand factor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body SetFactorRequest `json:"body"`
	}) (*struct {
		Body FactorResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionSetFactor)
		if err != nil {
			return nil, handleError(err)
		}
		if err := e.SetPricingFactor(ctx, input.Body.Factor, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body FactorResponse `json:"body"`
		}{Body: FactorResponse{Factor: input.Body.Factor}}, nil
	})
}

func registerMarket(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-products",
		Method:      http.MethodGet,
		Path:        "/products",
		Summary:     "List marketplace products",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProductResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListProducts(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]ProductResponse, 0, len(items))
		for _, p := range items {
			out = append(out, productResponse(p))
		}
		return &struct {
			Body []ProductResponse `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "checkout",
		Method:      http.MethodPost,
		Path:        "/checkout",
		Summary:     "Settle a marketplace cart",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CheckoutRequest `json:"body"`
	}) (*struct {
		Body CheckoutResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.UserID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		actorID, err := requireAction(ctx, auth.ActionCheckout)
		if err != nil {
			return nil, handleError(err)
		}
		items := make([]engine.CheckoutItem, 0, len(input.Body.Items))
		for _, line := range input.Body.Items {
			items = append(items, engine.CheckoutItem{ProductID: line.ProductID, Quantity: line.Quantity, AutoRefill: line.AutoRefill})
		}
		res, err := e.Checkout(ctx, input.Body.UserID, items, input.Body.PointsToApply, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckoutResponse `json:"body"`
		}{Body: CheckoutResponse(res)}, nil
	})
}

func registerUsers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUser(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-user-transactions",
		Method:      http.MethodGet,
		Path:        "/users/{user_id}/transactions",
		Summary:     "List user ledger entries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
		Limit  int    `query:"limit" minimum:"1" maximum:"200"`
	}) (*struct {
		Body []TransactionResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetUser(ctx, input.UserID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListTransactions(ctx, input.UserID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]TransactionResponse, 0, len(items))
		for _, t := range items {
			out = append(out, transactionResponse(t))
		}
		return &struct {
			Body []TransactionResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" minimum:"1" maximum:"500"`
		Cursor     int64  `query:"cursor"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		limit := input.Limit
		if limit == 0 {
			limit = 50
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit, input.Cursor, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := paginatedEvents{Items: make([]EventResponse, 0, len(items))}
		for _, ev := range items {
			res.Items = append(res.Items, eventResponse(ev))
		}
		if len(items) == limit {
			res.NextCursor = fmt.Sprintf("%d", items[len(items)-1].ID)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: res}, nil
	})
}
