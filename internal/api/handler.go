package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/medoracle/internal/decision"
	"github.com/opensource-finance/medoracle/internal/domain"
	"github.com/opensource-finance/medoracle/internal/oracle"
	"github.com/opensource-finance/medoracle/internal/repository"
)

const (
	maxClaimBody = 1 << 20
	maxBatchBody = 16 << 20
	maxRuleBody  = 4 << 20

	// ActorHeader identifies who uploads a rule document.
	ActorHeader = "X-Actor"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *oracle.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		svc:     deps.Service,
		repo:    deps.Repo,
		cache:   deps.Cache,
		bus:     deps.Bus,
		version: deps.Version,
	}
}

// ClaimRequest is the request body for POST /claims. Fields carries the
// extractor output with confidences; Values is a shorthand for fields
// extracted with full confidence.
type ClaimRequest struct {
	ClaimID string                           `json:"claimId,omitempty"`
	Source  string                           `json:"source,omitempty"`
	Fields  map[string]domain.ExtractedField `json:"fields,omitempty"`
	Values  map[string]string                `json:"values,omitempty"`
}

func (r *ClaimRequest) extraction() *domain.RawExtraction {
	raw := domain.ExtractionFromValues(r.ClaimID, r.Values)
	raw.Source = r.Source
	for name, f := range r.Fields {
		raw.Fields[name] = f
	}
	return raw
}

// ClaimResponse is the response for POST /claims.
type ClaimResponse struct {
	RecordID            string          `json:"recordId"`
	ClaimID             string          `json:"claimId"`
	Status              domain.Status   `json:"status"`
	ReimbursementAmount string          `json:"reimbursementAmount"`
	Currency            string          `json:"currency"`
	Pending             bool            `json:"pending"`
	Reasons             []string        `json:"reasons,omitempty"`
	Verdict             *domain.Verdict `json:"verdict"`
	Metadata            struct {
		TraceID        string `json:"traceId"`
		CatalogVersion string `json:"catalogVersion"`
		TotalMs        int64  `json:"totalMs"`
		Version        string `json:"version"`
	} `json:"metadata"`
}

func (h *Handler) claimResponse(r *http.Request, out *oracle.Outcome, start time.Time) ClaimResponse {
	resp := ClaimResponse{
		RecordID:            out.RecordID,
		ClaimID:             out.Decision.ClaimID,
		Status:              out.Decision.Status,
		ReimbursementAmount: out.Decision.ReimbursementAmount.StringFixed(2),
		Currency:            out.Decision.Currency,
		Pending:             out.Decision.Pending,
		Reasons:             out.Decision.Reasons,
		Verdict:             out.Verdict,
	}
	resp.Metadata.TraceID = GetTraceID(r.Context())
	resp.Metadata.CatalogVersion = out.Verdict.CatalogVersion
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version
	return resp
}

// SubmitClaim handles POST /claims.
func (h *Handler) SubmitClaim(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ClaimRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClaimBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	out, err := h.svc.SubmitClaim(ctx, tenantID, req.extraction())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, h.claimResponse(r, out, start))
}

// BatchRequest is the request body for POST /claims/batch.
type BatchRequest struct {
	Claims []ClaimRequest `json:"claims"`
}

// BatchItem is the result of one claim in a batch.
type BatchItem struct {
	Index  int            `json:"index"`
	Result *ClaimResponse `json:"result,omitempty"`
	Error  map[string]any `json:"error,omitempty"`
}

// SubmitBatch handles POST /claims/batch. Each claim succeeds or fails on
// its own; the response lists results in request order.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if len(req.Claims) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "claims must not be empty",
		})
		return
	}

	raws := make([]*domain.RawExtraction, len(req.Claims))
	for i := range req.Claims {
		raws[i] = req.Claims[i].extraction()
	}

	results, err := h.svc.SubmitBatch(ctx, tenantID, raws)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]BatchItem, len(results))
	counts := map[string]int{}
	for i, res := range results {
		items[i].Index = i
		if res.Err != nil {
			_, body := errorBody(res.Err)
			items[i].Error = body
			counts["failed"]++
			continue
		}
		resp := h.claimResponse(r, res.Outcome, start)
		items[i].Result = &resp
		counts[string(resp.Status)]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"counts":  counts,
	})
}

// ListClaimDecisions handles GET /claims/{id}/decisions.
func (h *Handler) ListClaimDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claimID := chi.URLParam(r, "id")

	records, err := h.svc.ListByClaim(ctx, GetTenantID(ctx), claimID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claimId": claimID,
		"records": records,
		"count":   len(records),
	})
}

// GetDecision handles GET /decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	rec, err := h.svc.GetRecord(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// Adjudicate handles POST /decisions/{id}/adjudicate.
func (h *Handler) Adjudicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.AdjudicationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxClaimBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	req.RecordID = chi.URLParam(r, "id")

	out, err := h.svc.Adjudicate(ctx, GetTenantID(ctx), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"recordId":   out.RecordID,
		"supersedes": out.Decision.Supersedes,
		"decision":   out.Decision,
	})
}

// VerifyRecord handles GET /records/{id}/verify.
func (h *Handler) VerifyRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	v, err := h.svc.Verify(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, v)
}

// ListRules returns the active catalog.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	cat := h.svc.Engine().Catalog()

	writeJSON(w, http.StatusOK, map[string]any{
		"policy":   cat.Name(),
		"label":    cat.Label(),
		"version":  cat.Version(),
		"loadedAt": cat.LoadedAt(),
		"rules":    cat.Definitions(),
		"count":    cat.Len(),
	})
}

// GetRule retrieves a rule from the active catalog.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.svc.Engine().Catalog().Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "rule not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule.RuleDefinition)
}

// PutRules validates an uploaded YAML rule document, stores it and swaps
// it in. An invalid document leaves the active catalog untouched.
func (h *Handler) PutRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	src, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRuleBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read rule document",
		})
		return
	}

	actor := r.Header.Get(ActorHeader)
	if actor == "" {
		actor = GetTenantID(ctx)
	}

	cat, err := h.svc.PutRules(ctx, src, actor)
	if err != nil {
		writeError(w, err)
		return
	}

	slog.Info("rule catalog uploaded",
		"version", cat.Version(),
		"rules_count", cat.Len(),
		"created_by", actor,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules replaced",
		"version": cat.Version(),
		"count":   cat.Len(),
	})
}

// ReloadRules re-reads the configured rule source and swaps it in.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	cat, err := h.svc.ReloadRules(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"version": cat.Version(),
		"count":   cat.Len(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready reports whether a rule catalog is loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	cat := h.svc.Engine().Catalog()
	if cat.Len() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready":  "false",
			"reason": "no rules loaded",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready":   "true",
		"catalog": cat.Version(),
		"rules":   strconv.Itoa(cat.Len()),
	})
}

// errorBody maps pipeline errors to a status code and a body that names
// the offending fields or rules.
func errorBody(err error) (int, map[string]any) {
	var nerr *domain.NormalizationError
	var lerr *domain.RuleLoadError
	var rerr *domain.RecordError

	switch {
	case errors.As(err, &nerr):
		return http.StatusUnprocessableEntity, map[string]any{
			"error":  "claim could not be normalized",
			"issues": nerr.Issues,
		}
	case errors.As(err, &lerr):
		return http.StatusUnprocessableEntity, map[string]any{
			"error":  "rule document rejected",
			"detail": lerr,
		}
	case errors.As(err, &rerr):
		return http.StatusServiceUnavailable, map[string]any{
			"error":    "decision could not be recorded, retry the request",
			"recordId": rerr.RecordID,
			"attempts": rerr.Attempts,
		}
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, map[string]any{"error": "not found"}
	case errors.Is(err, decision.ErrInvalidAdjudication):
		return http.StatusBadRequest, map[string]any{"error": err.Error()}
	case errors.Is(err, oracle.ErrNotPending), errors.Is(err, oracle.ErrAlreadyAdjudicated):
		return http.StatusConflict, map[string]any{"error": err.Error()}
	case errors.Is(err, oracle.ErrNoRuleSource):
		return http.StatusConflict, map[string]any{"error": err.Error()}
	case errors.Is(err, oracle.ErrTenantRequired), errors.Is(err, repository.ErrInvalidInput):
		return http.StatusBadRequest, map[string]any{"error": err.Error()}
	default:
		return http.StatusInternalServerError, map[string]any{"error": "internal error"}
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorBody(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
