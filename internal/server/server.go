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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"taskflow/internal/domain"
	"taskflow/internal/engine"
	"taskflow/internal/engine/auth"
	"taskflow/internal/events"
	"taskflow/internal/metrics"
	"taskflow/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine         engine.Engine
	BasePath       string
	Auth           AuthConfig
	Hub            *events.Hub
	AllowedOrigins []string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"permission\":\"categories.manage\"}"`
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

// New returns an HTTP handler exposing the taskflow API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")
	if cfg.Engine.DB == nil {
		return nil, errors.New("engine database required")
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
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
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
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
	hcfg := huma.DefaultConfig("Taskflow API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	router.Handle("/metrics", metrics.Handler())
	registerHealth(group)
	registerActivities(group, cfg.Engine)
	registerAnalytics(group, cfg.Engine)
	registerCategories(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	if cfg.Auth.AllowDevLogin {
		registerDevAuth(group, cfg.Engine, cfg.Auth)
	}
	registerRealtime(router, path.Join(basePath, "ws"), cfg.Hub, cfg.AllowedOrigins)
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
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"permission": fe.Permission})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, engine.ErrInvalid) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	if errors.Is(err, context.Canceled) {
		return newAPIError(499, "canceled", "request canceled", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
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

func requirePermission(ctx context.Context, e engine.Engine, perm string) (Principal, error) {
	principal, authErr := principalFromRequest(ctx)
	if authErr != nil {
		return Principal{}, authErr
	}
	if err := e.Auth.Require(ctx, nil, principal.Actor(), perm); err != nil {
		return Principal{}, err
	}
	return principal, nil
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	public := map[string]bool{
		path.Join(basePath, "health"):         true,
		path.Join(basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if public[route] {
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
    <title>Taskflow API Docs</title>
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

type activityListQuery struct {
	StartDate string `query:"startDate" doc:"YYYY-MM-DD, inclusive"`
	EndDate   string `query:"endDate" doc:"YYYY-MM-DD, inclusive"`
	Type      string `query:"type" enum:"website,application,tab,task"`
}

type saveActivityOutput struct {
	Status int
	Body   ActivityResponse
}

func registerActivities(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "save-activity",
		Method:        http.MethodPost,
		Path:          "/activities",
		Summary:       "Record or continue an activity",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body SaveActivityRequest `json:"body"`
	}) (*saveActivityOutput, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		a, created, err := e.RecordActivity(ctx, principal.Actor(), input.Body.toDomain())
		if err != nil {
			return nil, handleError(err)
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		return &saveActivityOutput{Status: status, Body: mapActivity(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-activity",
		Method:      http.MethodPut,
		Path:        "/activities/{id}",
		Summary:     "Update an owned activity",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateActivityRequest `json:"body"`
	}) (*struct {
		Body ActivityResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		patch := engine.ActivityPatch{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Duration:    input.Body.Duration,
			EndTime:     input.Body.EndTime,
			IsActive:    input.Body.IsActive,
			Metadata:    domain.Metadata(input.Body.Metadata),
		}
		if input.Body.Category != nil {
			ref := domain.ParseCategoryRef(*input.Body.Category)
			patch.Category = &ref
		}
		a, err := e.UpdateActivity(ctx, principal.Actor(), input.ID, patch)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActivityResponse `json:"body"`
		}{Body: mapActivity(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-activities",
		Method:      http.MethodGet,
		Path:        "/activities",
		Summary:     "List own activities by start date",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *activityListQuery) (*struct {
		Body []ActivityResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		loc := e.Config.Location()
		start, err := parseDay(input.StartDate, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid startDate", nil)
		}
		end, err := parseDay(input.EndDate, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid endDate", nil)
		}
		items, err := e.ListActivities(ctx, principal.Actor(), start, end, domain.ActivityType(input.Type))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ActivityResponse `json:"body"`
		}{Body: mapActivities(items)}, nil
	})
}

func registerAnalytics(api huma.API, e engine.Engine) {
	type summaryQuery struct {
		Date string `query:"date" doc:"YYYY-MM-DD, defaults to today"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "daily-summary",
		Method:      http.MethodGet,
		Path:        "/analytics/summary",
		Summary:     "Daily summary",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *summaryQuery) (*struct {
		Body domain.DailySummary `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		date, err := parseDay(input.Date, e.Config.Location())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid date", nil)
		}
		s, err := e.DailySummary(ctx, principal.UserID, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DailySummary `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "range-statistics",
		Method:      http.MethodGet,
		Path:        "/analytics/range",
		Summary:     "Statistics over an inclusive date range",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, input *struct {
		StartDate string `query:"startDate"`
		EndDate   string `query:"endDate"`
	}) (*struct {
		Body domain.RangeStatistics `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.StartDate == "" || input.EndDate == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "startDate and endDate are required", nil)
		}
		loc := e.Config.Location()
		start, err := parseDay(input.StartDate, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid startDate", nil)
		}
		end, err := parseDay(input.EndDate, loc)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid endDate", nil)
		}
		stats, err := e.RangeStatistics(ctx, principal.UserID, start, end)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RangeStatistics `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "refresh-summaries",
		Method:      http.MethodPost,
		Path:        "/analytics/refresh",
		Summary:     "Recompute stored summaries for a day",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *summaryQuery) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		if _, err := requirePermission(ctx, e, auth.PermSummariesRefresh); err != nil {
			return nil, handleError(err)
		}
		date, err := parseDay(input.Date, e.Config.Location())
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid date", nil)
		}
		if date.IsZero() {
			date = time.Now().In(e.Config.Location())
		}
		n, err := e.RefreshDailySummaries(ctx, date)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"refreshed": n}}, nil
	})
}

func registerCategories(api huma.API, e engine.Engine) {
	type categoryPath struct {
		ID string `path:"id"`
	}
	toInput := func(r CategoryRequest) engine.CategoryInput {
		return engine.CategoryInput{
			Name:         r.Name,
			Color:        r.Color,
			Type:         r.Type,
			Domains:      r.Domains,
			Applications: r.Applications,
			Position:     r.Position,
		}
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-categories",
		Method:      http.MethodGet,
		Path:        "/categories",
		Summary:     "List categories",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Category `json:"body"`
	}, error) {
		items, err := e.ListCategories(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Category{}
		}
		return &struct {
			Body []domain.Category `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-category",
		Method:        http.MethodPost,
		Path:          "/categories",
		Summary:       "Create category",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
		},
	}, func(ctx context.Context, input *struct {
		Body CategoryRequest `json:"body"`
	}) (*struct {
		Body domain.Category `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCategory(ctx, principal.Actor(), toInput(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Category `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-category",
		Method:      http.MethodPut,
		Path:        "/categories/{id}",
		Summary:     "Update category",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body CategoryRequest `json:"body"`
	}) (*struct {
		Body domain.Category `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCategory(ctx, principal.Actor(), input.ID, toInput(input.Body))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Category `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-category",
		Method:        http.MethodDelete,
		Path:          "/categories/{id}",
		Summary:       "Delete category",
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *categoryPath) (*struct{}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCategory(ctx, principal.Actor(), input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MeResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		resp := MeResponse{UserID: principal.UserID, Source: principal.Source}
		roles := append([]string(nil), principal.Roles...)
		if u, err := e.Repo.GetUser(ctx, principal.UserID); err == nil {
			resp.Name = u.Name
			for _, r := range u.Roles {
				if !containsString(roles, r) {
					roles = append(roles, r)
				}
			}
		} else if !errors.Is(err, repo.ErrNotFound) {
			return nil, handleError(err)
		}
		resp.Roles = nonNilSlice(roles)
		resp.Permissions = nonNilSlice(e.Auth.Policy.Permissions(roles))
		return &struct {
			Body MeResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerDevAuth(api huma.API, e engine.Engine, authCfg AuthConfig) {
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
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "userId is required", nil)
		}
		if _, err := e.EnsureUser(ctx, domain.User{ID: userID, Name: input.Body.Name}); err != nil {
			return nil, handleError(err)
		}
		token, err := MintToken(authCfg.JWTSecret, userID, input.Body.Roles, 24*time.Hour)
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

// parseDay accepts YYYY-MM-DD in loc or an RFC 3339 timestamp. Empty input
// yields the zero time.
func parseDay(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.ParseInLocation(repo.DateLayout, s, loc); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}

func containsString(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
