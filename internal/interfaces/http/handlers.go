package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	domainwf "github.com/portal-idjuv/casework/internal/domain/workflow"
	"github.com/portal-idjuv/casework/pkg/utils"
)

// Identity headers set by the portal's auth proxy.
const (
	HeaderActorID    = "X-Actor-ID"
	HeaderActorRoles = "X-Actor-Roles"
)

const actorKey = "actor"

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine   workflow.WorkflowEngine
	registry *domainwf.Registry
	health   HealthFunc
	logger   Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(engine workflow.WorkflowEngine, registry *domainwf.Registry, logger Logger) *Handlers {
	return &Handlers{
		engine:   engine,
		registry: registry,
		logger:   logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Error         string      `json:"error,omitempty"`
	Code          string      `json:"code,omitempty"`
	MissingFields []string    `json:"missing_fields,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// WorkflowResponse describes a workflow definition
type WorkflowResponse struct {
	Type        string               `json:"type"`
	Statuses    []domainwf.Status    `json:"statuses"`
	Initial     domainwf.Status      `json:"initial"`
	Terminal    []domainwf.Status    `json:"terminal"`
	SingleClaim bool                 `json:"single_claim"`
	Transitions []TransitionResponse `json:"transitions,omitempty"`
}

// TransitionResponse describes one row of a transition table
type TransitionResponse struct {
	From         domainwf.Status `json:"from"`
	Action       domainwf.Action `json:"action"`
	To           domainwf.Status `json:"to"`
	Required     []string        `json:"required,omitempty"`
	RequireNote  bool            `json:"require_note,omitempty"`
	Roles        []string        `json:"roles,omitempty"`
	AssigneeOnly bool            `json:"assignee_only,omitempty"`
	Claim        bool            `json:"claim,omitempty"`
}

// CreateCaseRequest is the body of POST /api/workflows/:type/cases
type CreateCaseRequest struct {
	Fields map[string]any `json:"fields"`
}

// TransitionRequest is the body of POST /api/cases/:id/transitions
type TransitionRequest struct {
	Action string         `json:"action" binding:"required"`
	Fields map[string]any `json:"fields"`
	Note   string         `json:"note"`
}

// CaseListResponse wraps a listing
type CaseListResponse struct {
	Cases []*entity.Case `json:"cases"`
	Count int            `json:"count"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	code := http.StatusOK

	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		report := h.health(ctx)
		resp.Components = make(map[string]string, len(report))
		for name, comp := range report {
			switch {
			case !comp.Healthy:
				resp.Components[name] = comp.Message
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			case comp.Message != "":
				resp.Components[name] = "ok: " + comp.Message
			default:
				resp.Components[name] = "ok"
			}
		}
	}

	c.JSON(code, resp)
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	types := h.registry.Types()
	out := make([]WorkflowResponse, 0, len(types))
	for _, t := range types {
		def, err := h.registry.Get(t)
		if err != nil {
			h.writeError(c, err)
			return
		}
		out = append(out, describe(def, false))
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: out})
}

// GetWorkflow handles GET /api/workflows/:type
func (h *Handlers) GetWorkflow(c *gin.Context) {
	def, err := h.registry.Get(c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: describe(def, true)})
}

// ListCases handles GET /api/workflows/:type/cases
//
// Query parameters: status, q (text search), assigned_to, sort (field
// name, pt-BR collation) and limit.
func (h *Handlers) ListCases(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "limit must be a non-negative integer",
				Code:    "invalid_request",
			})
			return
		}
		limit = n
	}

	var opts []workflow.ListOption
	if assignee := c.Query("assigned_to"); assignee != "" {
		opts = append(opts, workflow.HeldBy(assignee))
	}
	sortKey := c.Query("sort")

	seq := h.engine.ListByStatus(c.Request.Context(), c.Param("type"), domainwf.Status(c.Query("status")), workflow.MatchText(c.Query("q")), opts...)

	list := make([]*entity.Case, 0)
	for cs, err := range seq {
		if err != nil {
			h.writeError(c, err)
			return
		}
		list = append(list, cs)
		// Without sorting the first limit matches are the answer.
		if sortKey == "" && limit > 0 && len(list) == limit {
			break
		}
	}

	if sortKey != "" {
		workflow.SortByField(list, sortKey)
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: CaseListResponse{Cases: list, Count: len(list)}})
}

// CountCases handles GET /api/workflows/:type/counts
func (h *Handlers) CountCases(c *gin.Context) {
	counts, err := h.engine.CountByStatus(c.Request.Context(), c.Param("type"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: counts})
}

// CreateCase handles POST /api/workflows/:type/cases
func (h *Handlers) CreateCase(c *gin.Context) {
	var req CreateCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Code: "invalid_request"})
		return
	}

	fields, err := cleanFields(req.Fields)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Code: "invalid_field"})
		return
	}

	cs, err := h.engine.Create(c.Request.Context(), c.Param("type"), fields, actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: cs})
}

// GetCase handles GET /api/cases/:id
func (h *Handlers) GetCase(c *gin.Context) {
	cs, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cs})
}

// GetHistory handles GET /api/cases/:id/history
func (h *Handlers) GetHistory(c *gin.Context) {
	records, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: records})
}

// GetActions handles GET /api/cases/:id/actions
func (h *Handlers) GetActions(c *gin.Context) {
	actions, err := h.engine.PermittedActions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if actions == nil {
		actions = []domainwf.Action{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: actions})
}

// TransitionCase handles POST /api/cases/:id/transitions
func (h *Handlers) TransitionCase(c *gin.Context) {
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Code: "invalid_request"})
		return
	}

	fields, err := cleanFields(req.Fields)
	if err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error(), Code: "invalid_field"})
		return
	}

	in := workflow.TransitionInput{Fields: fields, Note: utils.SanitizeString(req.Note)}
	cs, err := h.engine.Transition(c.Request.Context(), c.Param("id"), domainwf.Action(req.Action), actorFrom(c), in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: cs})
}

// AssignCase handles POST /api/cases/:id/assign
func (h *Handlers) AssignCase(c *gin.Context) {
	cs, err := h.engine.Assign(c.Request.Context(), c.Param("id"), actorFrom(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: cs})
}

// writeError maps engine errors onto status codes and the response envelope.
func (h *Handlers) writeError(c *gin.Context, err error) {
	resp := Response{Success: false, Error: err.Error()}
	status := http.StatusInternalServerError

	var missing *domainwf.MissingFieldsError
	switch {
	case errors.As(err, &missing):
		status = http.StatusUnprocessableEntity
		resp.Code = "missing_required_field"
		resp.MissingFields = missing.Fields
	case errors.Is(err, domainwf.ErrInvalidFieldValue):
		status = http.StatusUnprocessableEntity
		resp.Code = "invalid_field"
	case errors.Is(err, domainwf.ErrCaseNotFound):
		status = http.StatusNotFound
		resp.Code = "case_not_found"
	case errors.Is(err, domainwf.ErrUnknownWorkflowType):
		status = http.StatusNotFound
		resp.Code = "unknown_workflow_type"
	case errors.Is(err, domainwf.ErrIllegalTransition):
		status = http.StatusConflict
		resp.Code = "illegal_transition"
	case errors.Is(err, domainwf.ErrAlreadyAssigned):
		status = http.StatusConflict
		resp.Code = "already_assigned"
	case errors.Is(err, domainwf.ErrConcurrentModification):
		status = http.StatusConflict
		resp.Code = "concurrent_modification"
	case errors.Is(err, domainwf.ErrActorNotAuthorized):
		status = http.StatusForbidden
		resp.Code = "actor_not_authorized"
	case errors.Is(err, domainwf.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
		resp.Code = "persistence_unavailable"
	default:
		resp.Code = "internal"
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
	}

	c.JSON(status, resp)
}

// requireActor rejects mutating requests that carry no actor identity.
func requireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   HeaderActorID + " header is required",
				Code:    "missing_actor",
			})
			return
		}
		if id == entity.SystemActorID {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{
				Success: false,
				Error:   "the system actor cannot act over HTTP",
				Code:    "actor_not_authorized",
			})
			return
		}

		var roles []string
		for _, r := range strings.Split(c.GetHeader(HeaderActorRoles), ",") {
			if r = strings.TrimSpace(r); r != "" {
				roles = append(roles, r)
			}
		}
		c.Set(actorKey, entity.Actor{ID: id, Roles: roles})
		c.Next()
	}
}

func actorFrom(c *gin.Context) entity.Actor {
	if v, ok := c.Get(actorKey); ok {
		if a, ok := v.(entity.Actor); ok {
			return a
		}
	}
	return entity.Actor{}
}

// cleanFields strips control characters from string values and checks the
// identity fields the portal forms collect. cpf and email must be strings;
// a cpf must carry valid check digits.
func cleanFields(fields map[string]any) (map[string]any, error) {
	if fields == nil {
		return nil, nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			if k == "cpf" || k == "email" {
				return nil, fmt.Errorf("%s must be a string", k)
			}
			out[k] = v
			continue
		}
		s = utils.SanitizeString(s)
		switch k {
		case "cpf":
			if err := utils.ValidateCPF(s); err != nil {
				return nil, err
			}
			s = utils.NormalizeCPF(s)
		case "email":
			if err := utils.ValidateEmail(s); err != nil {
				return nil, err
			}
		}
		out[k] = s
	}
	return out, nil
}

func describe(def *domainwf.Definition, withRules bool) WorkflowResponse {
	resp := WorkflowResponse{
		Type:        def.Type(),
		Statuses:    def.Statuses(),
		Initial:     def.Initial(),
		Terminal:    def.Terminal(),
		SingleClaim: def.SingleClaim(),
	}
	if !withRules {
		return resp
	}
	for _, r := range def.Rules() {
		resp.Transitions = append(resp.Transitions, TransitionResponse{
			From:         r.From,
			Action:       r.Action,
			To:           r.To,
			Required:     r.Required,
			RequireNote:  r.RequireNote,
			Roles:        r.Roles,
			AssigneeOnly: r.AssigneeOnly,
			Claim:        r.Claim,
		})
	}
	return resp
}
