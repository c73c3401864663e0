package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/bryanwahyu/permeo/internal/application/uploads"
	domai "github.com/bryanwahyu/permeo/internal/domain/ai"
	"github.com/bryanwahyu/permeo/internal/domain/analysis"
	"github.com/bryanwahyu/permeo/internal/domain/iam"
	"github.com/bryanwahyu/permeo/internal/logger"
	"github.com/bryanwahyu/permeo/internal/middleware"
)

const maxBodyBytes = 64 << 20

// UploadService is the slice of uploads.Service the router needs.
type UploadService interface {
	Create(ctx context.Context, cmd uploads.CreateCommand) (*iam.Upload, error)
	List(ctx context.Context) ([]*iam.Upload, error)
	Snapshot(ctx context.Context, id string) (*iam.Snapshot, error)
	Delete(ctx context.Context, id string) error
	CurrentID(ctx context.Context) (string, bool, error)
	SetCurrent(ctx context.Context, id string) error
	User(ctx context.Context, id string) (*iam.User, error)
	Role(ctx context.Context, id string) (*iam.Role, error)
	Policy(ctx context.Context, id string) (*iam.Policy, error)
	Group(ctx context.Context, id string) (*iam.Group, error)
}

// LLMService is implemented by each analysis coordinator. P is the payload a
// client may persist directly, R the stored record.
type LLMService[P, R any] interface {
	GenerateAndStore(ctx context.Context, pc analysis.PolicyContext) (*R, error)
	Regenerate(ctx context.Context, pc analysis.PolicyContext) (*R, error)
	Get(ctx context.Context, key analysis.Key) (*R, error)
	Persist(ctx context.Context, key analysis.Key, policyName string, payload P) (*R, error)
}

type Deps struct {
	Uploads           UploadService
	Recommendations   LLMService[analysis.Recommendation, analysis.RecommendationRecord]
	RecommendedPolicy LLMService[analysis.RecommendedPolicy, analysis.RecommendedPolicyRecord]
	AttackPath        LLMService[analysis.AttackPath, analysis.AttackPathRecord]

	LLMDisabled  bool
	CORSOrigins  []string
	Health       map[string]middleware.HealthChecker
	Logger       *logger.Logger
	RequestLimit time.Duration
}

type Router struct {
	deps Deps
	log  *logger.Logger
}

func NewRouter(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if len(deps.CORSOrigins) == 0 {
		deps.CORSOrigins = []string{"*"}
	}
	r := &Router{deps: deps, log: deps.Logger}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(deps.Logger))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: deps.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(deps.Health))
	mux.Get("/health/live", middleware.LivenessHandler)
	mux.Get("/health/ready", middleware.ReadinessHandler(deps.Health))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/api", func(rt chi.Router) {
		if deps.RequestLimit > 0 {
			rt.Use(chimw.Timeout(deps.RequestLimit))
		}
		rt.Get("/config", r.wrap(r.handleConfig))

		rt.Post("/uploads", r.wrap(r.handleCreateUpload))
		rt.Get("/uploads", r.wrap(r.handleListUploads))
		rt.Get("/uploads/current/id", r.wrap(r.handleCurrentUpload))
		rt.Post("/uploads/current/{id}", r.wrap(r.handleSetCurrent))
		rt.Get("/uploads/{id}", r.wrap(r.handleGetUpload))
		rt.Delete("/uploads/{id}", r.wrap(r.handleDeleteUpload))

		rt.Get("/iam/users/{id}", r.wrap(resource(deps.Uploads.User)))
		rt.Get("/iam/roles/{id}", r.wrap(resource(deps.Uploads.Role)))
		rt.Get("/iam/policies/{id}", r.wrap(resource(deps.Uploads.Policy)))
		rt.Get("/iam/groups/{id}", r.wrap(resource(deps.Uploads.Group)))

		rt.Route("/llm", func(llm chi.Router) {
			mountLLM(llm, r, "/recommendations", deps.Recommendations)
			mountLLM(llm, r, "/recommended-policy", deps.RecommendedPolicy)
			mountLLM(llm, r, "/attack-path", deps.AttackPath)
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks decode and validation failures that happen in the router itself.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			r.log.Error("request failed", "path", req.URL.Path, "status", status, "error", err)
		}
		writeJSON(w, status, map[string]string{"detail": err.Error()})
	}
}

func statusFor(err error) int {
	var br badRequest
	switch {
	case errors.As(err, &br),
		errors.Is(err, analysis.ErrInvalidInput),
		errors.Is(err, iam.ErrInvalidUpload):
		return http.StatusBadRequest
	case errors.Is(err, analysis.ErrNotFound),
		errors.Is(err, iam.ErrUploadNotFound),
		errors.Is(err, iam.ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, analysis.ErrFeatureDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domai.ErrProviderUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readBody(w http.ResponseWriter, req *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest{msg: fmt.Sprintf("read body: %v", err)}
	}
	return body, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return badRequest{msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return nil
}

func idParam(req *http.Request, name string) (string, error) {
	id := chi.URLParam(req, name)
	if err := middleware.ValidateID(name, id); err != nil {
		return "", badRequest{msg: err.Error()}
	}
	return id, nil
}

// GET /api/config
func (r *Router) handleConfig(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]bool{"llm_disabled": r.deps.LLMDisabled})
	return nil
}

// POST /api/uploads
// Body: {"name", "original_filename", "size", "data": {"users", "roles", "policies", "groups"}}
func (r *Router) handleCreateUpload(w http.ResponseWriter, req *http.Request) error {
	body, err := readBody(w, req)
	if err != nil {
		return err
	}
	var cmd uploads.CreateCommand
	if err := decode(body, &cmd); err != nil {
		return err
	}
	if err := middleware.ValidateName("name", cmd.Name); err != nil {
		return badRequest{msg: err.Error()}
	}
	cmd.Name = middleware.SanitizeString(cmd.Name)
	cmd.OriginalFilename = middleware.SanitizeString(cmd.OriginalFilename)
	if cmd.Size == 0 {
		cmd.Size = int64(len(body))
	}

	u, err := r.deps.Uploads.Create(req.Context(), cmd)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, u)
	return nil
}

// GET /api/uploads
func (r *Router) handleListUploads(w http.ResponseWriter, req *http.Request) error {
	list, err := r.deps.Uploads.List(req.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []*iam.Upload{}
	}
	writeJSON(w, http.StatusOK, list)
	return nil
}

// GET /api/uploads/{id}
func (r *Router) handleGetUpload(w http.ResponseWriter, req *http.Request) error {
	id, err := idParam(req, "id")
	if err != nil {
		return err
	}
	snap, err := r.deps.Uploads.Snapshot(req.Context(), id)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]any{"upload_id": id, "data": snap})
	return nil
}

// DELETE /api/uploads/{id}
func (r *Router) handleDeleteUpload(w http.ResponseWriter, req *http.Request) error {
	id, err := idParam(req, "id")
	if err != nil {
		return err
	}
	if err := r.deps.Uploads.Delete(req.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "upload deleted", "upload_id": id})
	return nil
}

// GET /api/uploads/current/id
func (r *Router) handleCurrentUpload(w http.ResponseWriter, req *http.Request) error {
	id, ok, err := r.deps.Uploads.CurrentID(req.Context())
	if err != nil {
		return err
	}
	var out *string
	if ok {
		out = &id
	}
	writeJSON(w, http.StatusOK, map[string]*string{"upload_id": out})
	return nil
}

// POST /api/uploads/current/{id}
func (r *Router) handleSetCurrent(w http.ResponseWriter, req *http.Request) error {
	id, err := idParam(req, "id")
	if err != nil {
		return err
	}
	if err := r.deps.Uploads.SetCurrent(req.Context(), id); err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, map[string]string{"upload_id": id})
	return nil
}

// GET /api/iam/{kind}/{id}
func resource[T any](get func(context.Context, string) (*T, error)) handlerFunc {
	return func(w http.ResponseWriter, req *http.Request) error {
		id, err := idParam(req, "id")
		if err != nil {
			return err
		}
		v, err := get(req.Context(), id)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, v)
		return nil
	}
}

// generateRequest is the body of the generate and regenerate calls.
type generateRequest struct {
	Policy struct {
		PolicyName    string           `json:"policy_name"`
		PolicyID      string           `json:"policy_id"`
		Statements    []map[string]any `json:"statements"`
		DetectedFlags []any            `json:"detected_flags"`
	} `json:"policy"`
	OrganizationContext string `json:"organization_context"`
}

func (g generateRequest) context() analysis.PolicyContext {
	return analysis.PolicyContext{
		PolicyName:          g.Policy.PolicyName,
		PolicyID:            g.Policy.PolicyID,
		Statements:          g.Policy.Statements,
		DetectedFlags:       g.Policy.DetectedFlags,
		OrganizationContext: g.OrganizationContext,
	}
}

// persistKey is read from the same body as the payload fields.
type persistKey struct {
	analysis.Key
	PolicyName string `json:"policy_name"`
}

func mountLLM[P, R any](rt chi.Router, r *Router, path string, svc LLMService[P, R]) {
	generate := func(call func(context.Context, analysis.PolicyContext) (*R, error)) handlerFunc {
		return func(w http.ResponseWriter, req *http.Request) error {
			body, err := readBody(w, req)
			if err != nil {
				return err
			}
			var in generateRequest
			if err := decode(body, &in); err != nil {
				return err
			}
			rec, err := call(req.Context(), in.context())
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, rec)
			return nil
		}
	}

	rt.Post(path, r.wrap(generate(svc.GenerateAndStore)))
	rt.Post(path+"/regenerate", r.wrap(generate(svc.Regenerate)))

	rt.Post(path+"/persist", r.wrap(func(w http.ResponseWriter, req *http.Request) error {
		body, err := readBody(w, req)
		if err != nil {
			return err
		}
		var key persistKey
		if err := decode(body, &key); err != nil {
			return err
		}
		var payload P
		if err := decode(body, &payload); err != nil {
			return err
		}
		rec, err := svc.Persist(req.Context(), key.Key, key.PolicyName, payload)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, rec)
		return nil
	}))

	rt.Get(path+"/{upload_id}/{policy_id}", r.wrap(func(w http.ResponseWriter, req *http.Request) error {
		uploadID, err := idParam(req, "upload_id")
		if err != nil {
			return err
		}
		policyID, err := idParam(req, "policy_id")
		if err != nil {
			return err
		}
		rec, err := svc.Get(req.Context(), analysis.Key{UploadID: uploadID, PolicyID: policyID})
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, rec)
		return nil
	}))
}
