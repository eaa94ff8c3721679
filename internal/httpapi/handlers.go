package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/runbook-engine/internal/health"
	"github.com/vitaliisemenov/runbook-engine/internal/tools"
)

// Handlers binds the eleven endpoints to the tool layer.
type Handlers struct {
	tools    *tools.Tools
	poller   *health.Poller
	tracker  *health.PerformanceTracker
	validate *validator.Validate
}

// NewHandlers builds the endpoint handlers.
func NewHandlers(t *tools.Tools, poller *health.Poller, tracker *health.PerformanceTracker) *Handlers {
	v := validator.New()
	// Report failures by JSON field name, not Go struct field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Handlers{
		tools:    t,
		poller:   poller,
		tracker:  tracker,
		validate: v,
	}
}

// decodeAndValidate parses the JSON body into dst and runs struct-tag
// validation, reporting every missing or invalid field at once.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, &APIError{
				Code:    CodeRequestTooLarge,
				Message: "request body exceeds the 10 MiB limit",
				Details: ErrorDetails{CorrelationID: CorrelationID(r.Context())},
			})
			return false
		}
		if errors.Is(err, io.EOF) {
			writeError(w, r, validationError(CorrelationID(r.Context()), "request body is required"))
			return false
		}
		writeError(w, r, validationError(CorrelationID(r.Context()), "request body is not valid JSON"))
		return false
	}

	if err := h.validate.Struct(dst); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			problems := make([]string, 0, len(invalid))
			for _, fe := range invalid {
				problems = append(problems, describeFieldError(fe))
			}
			writeError(w, r, validationError(CorrelationID(r.Context()), problems...))
			return false
		}
		writeError(w, r, validationError(CorrelationID(r.Context()), "request validation failed"))
		return false
	}
	return true
}

// describeFieldError renders one validator failure as a stable,
// human-readable string keyed by the JSON field name.
func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "Missing required field: " + field
	case "gte":
		return fmt.Sprintf("Field %s must be >= %s", field, fe.Param())
	default:
		return fmt.Sprintf("Invalid field: %s", field)
	}
}

// Search handles POST /api/search (search-knowledge-base).
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	var in tools.SearchKnowledgeBaseInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	payload, m, err := h.tools.SearchKnowledgeBase(r.Context(), in)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, payload.LimitClamped)
}

// SearchRunbooks handles POST /api/runbooks/search.
func (h *Handlers) SearchRunbooks(w http.ResponseWriter, r *http.Request) {
	var in tools.SearchRunbooksInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	payload, m, err := h.tools.SearchRunbooks(r.Context(), in)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, payload.LimitClamped)
}

// GetRunbook handles GET /api/runbooks/{id}.
func (h *Handlers) GetRunbook(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, m, err := h.tools.GetRunbook(r.Context(), id)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, map[string]any{"runbook": view}, m.Cached, false)
}

// ListRunbooks handles GET /api/runbooks.
func (h *Handlers) ListRunbooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, validationError(CorrelationID(r.Context()), "Invalid field: limit"))
			return
		}
		limit = parsed
	}
	in := tools.ListRunbooksInput{
		Category: q.Get("category"),
		Severity: q.Get("severity"),
		Limit:    limit,
	}
	payload, m, err := h.tools.ListRunbooks(r.Context(), in)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, limit > 100)
}

// decisionTreeRequest is the POST /api/decision-tree body.
type decisionTreeRequest struct {
	RunbookID string `json:"runbook_id" validate:"required"`
	Scenario  string `json:"scenario,omitempty"`
}

// DecisionTree handles POST /api/decision-tree.
func (h *Handlers) DecisionTree(w http.ResponseWriter, r *http.Request) {
	var in decisionTreeRequest
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	payload, m, err := h.tools.GetDecisionTree(r.Context(), in.RunbookID, in.Scenario)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, false)
}

// GetProcedure handles GET /api/procedures/{id}. The id format
// "<runbook-id>_<step-name>" is validated before the lookup.
func (h *Handlers) GetProcedure(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !strings.Contains(id, "_") {
		writeError(w, r, validationError(CorrelationID(r.Context()),
			"Invalid field: procedure_id (expected <runbook-id>_<step-name>)"))
		return
	}
	payload, m, err := h.tools.GetProcedure(r.Context(), id)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, false)
}

// Escalation handles POST /api/escalation.
func (h *Handlers) Escalation(w http.ResponseWriter, r *http.Request) {
	var in tools.EscalationInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	payload, m, err := h.tools.GetEscalationPath(r.Context(), in)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, false)
}

// Sources handles GET /api/sources.
func (h *Handlers) Sources(w http.ResponseWriter, r *http.Request) {
	payload, m, err := h.tools.ListSources(r.Context())
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, false)
}

// Feedback handles POST /api/feedback.
func (h *Handlers) Feedback(w http.ResponseWriter, r *http.Request) {
	var in tools.FeedbackInput
	if !h.decodeAndValidate(w, r, &in) {
		return
	}
	payload, m, err := h.tools.RecordResolutionFeedback(r.Context(), in)
	if err != nil {
		writeError(w, r, fromEngineError(err, CorrelationID(r.Context())))
		return
	}
	writeSuccess(w, r, http.StatusOK, payload, m.Cached, false)
}

// Health handles GET /api/health. Healthy and degraded report 200 (the
// degraded flag rides in the body); unhealthy reports 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	report := h.poller.Check(r.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeSuccess(w, r, status, report, false, false)
}

// Performance handles GET /api/performance.
func (h *Handlers) Performance(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()
	writeSuccess(w, r, http.StatusOK, snap, false, false)
}
