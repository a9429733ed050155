package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portal-idjuv/casework/internal/application/port"
	"github.com/portal-idjuv/casework/internal/application/workflow"
	"github.com/portal-idjuv/casework/internal/domain/entity"
	"github.com/portal-idjuv/casework/internal/infrastructure/persistence/memory"
)

type mockLogger struct {
	mu     sync.Mutex
	errors []string
}

func (m *mockLogger) Info(msg string, keysAndValues ...interface{}) {}

func (m *mockLogger) Error(msg string, keysAndValues ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

// brokenCases fails every write as if the disk were gone.
type brokenCases struct {
	port.CaseRepository
}

func (b brokenCases) Create(ctx context.Context, c *entity.Case) error {
	return errors.New("disk I/O error")
}

type envelope struct {
	Success       bool            `json:"success"`
	Data          json.RawMessage `json:"data"`
	Error         string          `json:"error"`
	Code          string          `json:"code"`
	MissingFields []string        `json:"missing_fields"`
}

func newTestServer(t *testing.T, cases port.CaseRepository, opts ...ServerOption) (*Server, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	if cases == nil {
		cases = store
	}
	registry, err := workflow.NewRegistry()
	require.NoError(t, err)

	engine := workflow.NewEngine(registry, cases, store, store)
	return NewServer(DefaultServerConfig(), engine, registry, &mockLogger{}, opts...), store
}

func do(t *testing.T, s *Server, method, path, actor, roles string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set(HeaderActorID, actor)
	}
	if roles != "" {
		req.Header.Set(HeaderActorRoles, roles)
	}

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func decodeCase(t *testing.T, env envelope) entity.Case {
	t.Helper()
	var c entity.Case
	require.NoError(t, json.Unmarshal(env.Data, &c))
	return c
}

func TestHealthCheck(t *testing.T) {
	s, _ := newTestServer(t, nil, WithHealth(func(ctx context.Context) map[string]ComponentHealth {
		return map[string]ComponentHealth{
			"database":  {Healthy: true},
			"scheduler": {Healthy: true, Message: "no pass yet"},
		}
	}))

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "ok", resp.Components["database"])
	assert.Equal(t, "ok: no pass yet", resp.Components["scheduler"])
}

func TestHealthCheckUnhealthy(t *testing.T) {
	s, _ := newTestServer(t, nil, WithHealth(func(ctx context.Context) map[string]ComponentHealth {
		return map[string]ComponentHealth{
			"database": {Healthy: false, Message: "database is closed"},
			"engine":   {Healthy: true},
		}
	}))

	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "database is closed", resp.Components["database"])
}

func TestListWorkflows(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, env := do(t, s, http.MethodGet, "/api/workflows", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var defs []WorkflowResponse
	require.NoError(t, json.Unmarshal(env.Data, &defs))
	require.Len(t, defs, 7)
	assert.Equal(t, "alteracao_orcamentaria", defs[0].Type)

	w, env = do(t, s, http.MethodGet, "/api/workflows/gestor", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var def WorkflowResponse
	require.NoError(t, json.Unmarshal(env.Data, &def))
	assert.Equal(t, "aguardando", string(def.Initial))
	assert.True(t, def.SingleClaim)
	assert.NotEmpty(t, def.Transitions)

	w, env = do(t, s, http.MethodGet, "/api/workflows/nope", "", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_workflow_type", env.Code)
}

func TestGestorFlowOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, nil)

	w, env := do(t, s, http.MethodPost, "/api/workflows/gestor/cases", "portal", "", CreateCaseRequest{
		Fields: map[string]any{"nome": "Maria Souza", "cpf": "529.982.247-25", "email": "maria@escola.ce.gov.br"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decodeCase(t, env)
	assert.Equal(t, "aguardando", created.Status)
	assert.Equal(t, "52998224725", created.Fields["cpf"])

	base := "/api/cases/" + created.ID

	w, env = do(t, s, http.MethodPost, base+"/transitions", "A", "", TransitionRequest{Action: "assumir"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "A", decodeCase(t, env).AssignedTo)

	w, env = do(t, s, http.MethodPost, base+"/transitions", "B", "", TransitionRequest{Action: "assumir"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_assigned", env.Code)

	w, _ = do(t, s, http.MethodPost, base+"/transitions", "A", "", TransitionRequest{Action: "marcar_cadastrado_cbde"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = do(t, s, http.MethodPost, base+"/transitions", "B", "", TransitionRequest{Action: "marcar_contato_realizado"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "actor_not_authorized", env.Code)

	w, env = do(t, s, http.MethodPost, base+"/transitions", "A", "", TransitionRequest{Action: "confirmar_acesso"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", env.Code)

	w, env = do(t, s, http.MethodGet, base+"/actions", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var actions []string
	require.NoError(t, json.Unmarshal(env.Data, &actions))
	assert.Equal(t, []string{"cancelar", "marcar_contato_realizado"}, actions)

	w, env = do(t, s, http.MethodGet, base+"/history", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []entity.TransitionRecord
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history, 3)
	assert.Equal(t, "created", history[0].Action)
	assert.Equal(t, "marcar_cadastrado_cbde", history[2].Action)
}

func TestTransitionMissingFields(t *testing.T) {
	s, _ := newTestServer(t, nil)

	_, env := do(t, s, http.MethodPost, "/api/workflows/alteracao_orcamentaria/cases", "ana", "", CreateCaseRequest{})
	created := decodeCase(t, env)

	w, env := do(t, s, http.MethodPost, "/api/cases/"+created.ID+"/transitions", "ana", "", TransitionRequest{Action: "enviar"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "missing_required_field", env.Code)
	assert.ElementsMatch(t, []string{"valor", "justificativa"}, env.MissingFields)

	w, env = do(t, s, http.MethodPost, "/api/cases/"+created.ID+"/transitions", "ana", "", TransitionRequest{
		Action: "enviar",
		Fields: map[string]any{"valor": 1500.5, "justificativa": "reforma da quadra"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "em_analise", decodeCase(t, env).Status)

	w, _ = do(t, s, http.MethodPost, "/api/cases/"+created.ID+"/transitions", "rui", "financeiro, outro", TransitionRequest{Action: "aprovar"})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestRequestValidation(t *testing.T) {
	s, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		status int
		code   string
	}{
		{"missing actor", http.MethodPost, "/api/workflows/gestor/cases", "", CreateCaseRequest{}, http.StatusUnauthorized, "missing_actor"},
		{"system actor", http.MethodPost, "/api/workflows/gestor/cases", "system", CreateCaseRequest{}, http.StatusForbidden, "actor_not_authorized"},
		{"invalid cpf", http.MethodPost, "/api/workflows/gestor/cases", "portal", CreateCaseRequest{Fields: map[string]any{"cpf": "111.111.111-11"}}, http.StatusBadRequest, "invalid_field"},
		{"cpf check digit", http.MethodPost, "/api/workflows/gestor/cases", "portal", CreateCaseRequest{Fields: map[string]any{"cpf": "11122233344"}}, http.StatusBadRequest, "invalid_field"},
		{"numeric cpf", http.MethodPost, "/api/workflows/gestor/cases", "portal", CreateCaseRequest{Fields: map[string]any{"cpf": 52998224725}}, http.StatusBadRequest, "invalid_field"},
		{"numeric email", http.MethodPost, "/api/workflows/gestor/cases", "portal", CreateCaseRequest{Fields: map[string]any{"email": 42}}, http.StatusBadRequest, "invalid_field"},
		{"invalid email", http.MethodPost, "/api/workflows/gestor/cases", "portal", CreateCaseRequest{Fields: map[string]any{"email": "not-an-email"}}, http.StatusBadRequest, "invalid_field"},
		{"unknown type", http.MethodPost, "/api/workflows/nope/cases", "portal", CreateCaseRequest{}, http.StatusNotFound, "unknown_workflow_type"},
		{"action required", http.MethodPost, "/api/cases/x/transitions", "portal", map[string]any{}, http.StatusBadRequest, "invalid_request"},
		{"unknown case", http.MethodGet, "/api/cases/missing", "", nil, http.StatusNotFound, "case_not_found"},
		{"unknown case history", http.MethodGet, "/api/cases/missing/history", "", nil, http.StatusNotFound, "case_not_found"},
		{"assign unknown case", http.MethodPost, "/api/cases/missing/assign", "portal", nil, http.StatusNotFound, "case_not_found"},
		{"bad limit", http.MethodGet, "/api/workflows/gestor/cases?limit=-1", "", nil, http.StatusBadRequest, "invalid_request"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, s, tt.method, tt.path, tt.actor, "", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, env.Code)
			assert.False(t, env.Success)
		})
	}
}

func TestAssignCase(t *testing.T) {
	s, _ := newTestServer(t, nil)

	_, env := do(t, s, http.MethodPost, "/api/workflows/pre_cadastro/cases", "portal", "", CreateCaseRequest{})
	created := decodeCase(t, env)

	w, env := do(t, s, http.MethodPost, "/api/cases/"+created.ID+"/assign", "joana", "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	c := decodeCase(t, env)
	assert.Equal(t, "joana", c.AssignedTo)
	assert.Equal(t, "aguardando", c.Status)
}

func TestListCases(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for _, nome := range []string{"Úrsula Lima", "álvaro Dias", "Bruno Alves", "João Pedro"} {
		w, _ := do(t, s, http.MethodPost, "/api/workflows/inscricao/cases", "portal", "", CreateCaseRequest{
			Fields: map[string]any{"nome": nome},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	list := func(query string) CaseListResponse {
		w, env := do(t, s, http.MethodGet, "/api/workflows/inscricao/cases"+query, "", "", nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp CaseListResponse
		require.NoError(t, json.Unmarshal(env.Data, &resp))
		return resp
	}

	all := list("?status=inscrito&sort=nome")
	require.Equal(t, 4, all.Count)
	var names []string
	for _, c := range all.Cases {
		names = append(names, c.FieldString("nome"))
	}
	assert.Equal(t, []string{"álvaro Dias", "Bruno Alves", "João Pedro", "Úrsula Lima"}, names)

	found := list("?q=joao")
	require.Equal(t, 1, found.Count)
	assert.Equal(t, "João Pedro", found.Cases[0].FieldString("nome"))

	w, env := do(t, s, http.MethodGet, "/api/workflows/inscricao/counts", "", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var counts map[string]int
	require.NoError(t, json.Unmarshal(env.Data, &counts))
	assert.Equal(t, map[string]int{"inscrito": 4, "confirmado": 0, "presente": 0, "cancelado": 0}, counts)

	w, _ = do(t, s, http.MethodPost, "/api/cases/"+all.Cases[1].ID+"/assign", "joana", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	held := list("?assigned_to=joana&status=inscrito")
	require.Equal(t, 1, held.Count)
	assert.Equal(t, "Bruno Alves", held.Cases[0].FieldString("nome"))
	assert.Equal(t, 0, list("?assigned_to=ninguem").Count)

	assert.Equal(t, 2, list("?limit=2").Count)
	assert.Equal(t, 0, list("?status=presente").Count)
	assert.Equal(t, 0, list("?status=not_a_status").Count)
}

func TestPersistenceFailure(t *testing.T) {
	store := memory.NewStore()
	s, _ := newTestServer(t, brokenCases{CaseRepository: store})

	w, env := do(t, s, http.MethodPost, "/api/workflows/gestor/cases", "portal", "", CreateCaseRequest{})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "persistence_unavailable", env.Code)
}
