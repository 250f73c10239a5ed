package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heraldflow/herald/pkg/ingest"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence/file"
	"github.com/heraldflow/herald/pkg/services"
	"github.com/heraldflow/herald/pkg/web"
)

type testEnv struct {
	app             *fiber.App
	store           *file.Persistence
	workflowService *services.Workflow
	clock           *clockwork.FakeClock
}

func setupTestApp(t *testing.T) *testEnv {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.Default()

	workflowService := services.NewWorkflow(store, clock)
	instanceService := services.NewInstance(store, nil, clock, logger)
	templateService := services.NewNodeTemplate(store, clock)
	ingestService := ingest.NewService(store, nil, clock, logger)
	validate := validator.New(validator.WithRequiredStructEnabled())

	handlers := web.NewAPIHandlers(workflowService, instanceService, templateService, ingestService, validate)

	app := fiber.New()

	app.Post("/triggers", handlers.Trigger)

	i := app.Group("/instances")
	i.Get("/", handlers.GetInstances)
	i.Get("/:id", handlers.GetInstance)
	i.Post("/:id/cancel", handlers.CancelInstance)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Delete("/:id", handlers.DeleteWorkflow)
	w.Post("/:id/publish", handlers.PublishWorkflow)
	w.Post("/groups/:groupId/create-draft", handlers.CreateDraftFromPublished)

	nt := app.Group("/node-templates")
	nt.Get("/", handlers.GetNodeTemplates)
	nt.Get("/:code", handlers.GetNodeTemplate)
	nt.Put("/:code", handlers.SaveNodeTemplate)

	return &testEnv{app: app, store: store, workflowService: workflowService, clock: clock}
}

func (e *testEnv) request(t *testing.T, method, target string, payload any) *http.Response {
	t.Helper()

	var body io.Reader

	if payload != nil {
		if str, ok := payload.(string); ok {
			body = bytes.NewBufferString(str)
		} else {
			data, err := json.Marshal(payload)
			require.NoError(t, err)
			body = bytes.NewBuffer(data)
		}
	}

	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.app.Test(req)
	require.NoError(t, err)

	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	defer func() { _ = resp.Body.Close() }()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))

	return out
}

func (e *testEnv) publishWorkflow(t *testing.T) *models.Workflow {
	t.Helper()

	created, err := e.workflowService.Create(t.Context(), &models.Workflow{
		Name:  "Order Updates",
		Owner: "notifications-team",
		Nodes: []*models.WorkflowNode{
			{
				Name: "Confirmation email",
				Type: models.NodeTypeEmail,
				Email: &models.EmailNodeSpec{
					To:      models.TemplateRef{Text: "{{.email}}"},
					Subject: models.TemplateRef{Text: "Hello"},
					Body:    models.TemplateRef{Text: "Hi"},
				},
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	published, err := e.workflowService.Publish(t.Context(), created.ID)
	require.NoError(t, err)

	return published
}

func TestTrigger(t *testing.T) {
	env := setupTestApp(t)
	workflow := env.publishWorkflow(t)

	payload := web.TriggerRequest{
		WorkflowID:     workflow.ID,
		IdempotencyKey: "order-42-confirm",
		Context:        map[string]any{"email": "ada@example.com"},
	}

	resp := env.request(t, http.MethodPost, "/triggers", payload)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	first := decodeBody[web.TriggerResponse](t, resp)
	assert.True(t, first.Created)
	require.NotNil(t, first.Instance)
	assert.Equal(t, models.InstanceStatusPending, first.Instance.Status)

	// Replaying the same idempotency key returns the existing instance.
	resp = env.request(t, http.MethodPost, "/triggers", payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	replay := decodeBody[web.TriggerResponse](t, resp)
	assert.False(t, replay.Created)
	assert.Equal(t, first.Instance.ID, replay.Instance.ID)
}

func TestTrigger_Validation(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/triggers", web.TriggerRequest{WorkflowID: "wf-1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/triggers", "not-json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTrigger_UnpublishedWorkflow(t *testing.T) {
	env := setupTestApp(t)

	draft, err := env.workflowService.Create(t.Context(), &models.Workflow{
		Name:  "Draft Only",
		Owner: "notifications-team",
	})
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/triggers", web.TriggerRequest{
		WorkflowID:     draft.ID,
		IdempotencyKey: "order-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestTrigger_UnknownWorkflow(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/triggers", web.TriggerRequest{
		WorkflowID:     "wf-missing",
		IdempotencyKey: "order-1",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrigger_ContextSchemaViolation(t *testing.T) {
	env := setupTestApp(t)

	created, err := env.workflowService.Create(t.Context(), &models.Workflow{
		Name:  "Strict Contexts",
		Owner: "notifications-team",
		ContextSchema: map[string]any{
			"type":     "object",
			"required": []any{"email"},
		},
		Nodes: []*models.WorkflowNode{
			{
				Name: "Email",
				Type: models.NodeTypeEmail,
				Email: &models.EmailNodeSpec{
					To:      models.TemplateRef{Text: "{{.email}}"},
					Subject: models.TemplateRef{Text: "Hello"},
					Body:    models.TemplateRef{Text: "Hi"},
				},
				Enabled: true,
			},
		},
	})
	require.NoError(t, err)

	_, err = env.workflowService.Publish(t.Context(), created.ID)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/triggers", web.TriggerRequest{
		WorkflowID:     created.ID,
		IdempotencyKey: "order-1",
		Context:        map[string]any{"name": "Ada"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestGetInstances_Pagination(t *testing.T) {
	env := setupTestApp(t)
	workflow := env.publishWorkflow(t)

	ingestService := ingest.NewService(env.store, nil, env.clock, slog.Default())

	for _, key := range []string{"a", "b", "c"} {
		_, err := ingestService.Ingest(t.Context(), workflow.ID, key, nil)
		require.NoError(t, err)
	}

	resp := env.request(t, http.MethodGet, "/instances/?limit=2&page=1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	page := decodeBody[services.ListInstancesResponse](t, resp)
	assert.Equal(t, int64(3), page.Pagination.Records)
	assert.Equal(t, 2, page.Pagination.Pages)
	assert.Len(t, page.Data, 2)
}

func TestGetInstances_InvalidStatus(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/instances/?status=sleeping", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetInstance_NotFound(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/instances/ti-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelInstance(t *testing.T) {
	env := setupTestApp(t)
	workflow := env.publishWorkflow(t)

	ingestService := ingest.NewService(env.store, nil, env.clock, slog.Default())

	result, err := ingestService.Ingest(t.Context(), workflow.ID, "order-42", nil)
	require.NoError(t, err)

	resp := env.request(t, http.MethodPost, "/instances/"+result.Instance.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancelled := decodeBody[models.TriggerInstance](t, resp)
	assert.Equal(t, models.InstanceStatusCancelled, cancelled.Status)

	// A second cancel hits a terminal instance.
	resp = env.request(t, http.MethodPost, "/instances/"+result.Instance.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWorkflowLifecycle(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		Name:  "Order Updates",
		Owner: "notifications-team",
		Nodes: []web.NodeRequest{
			{
				Name: "Confirmation email",
				Type: models.NodeTypeEmail,
				Email: &models.EmailNodeSpec{
					To:      models.TemplateRef{Text: "{{.email}}"},
					Subject: models.TemplateRef{Text: "Hello"},
					Body:    models.TemplateRef{Text: "Hi"},
				},
			},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusDraft, created.Status)
	require.Len(t, created.Nodes, 1)
	assert.True(t, created.Nodes[0].Enabled)

	newName := "Order Updates v2"
	resp = env.request(t, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{Name: &newName})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	updated := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, newName, updated.Name)

	resp = env.request(t, http.MethodPost, "/workflows/"+created.ID+"/publish", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	published := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusPublished, published.Status)

	// Published versions are immutable.
	resp = env.request(t, http.MethodPatch, "/workflows/"+created.ID, web.UpdateWorkflowRequest{Name: &newName})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = env.request(t, http.MethodDelete, "/workflows/"+created.ID, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Editing continues through a fresh draft in the same group.
	resp = env.request(t, http.MethodPost, "/workflows/groups/"+published.WorkflowGroupID+"/create-draft", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	draft := decodeBody[models.Workflow](t, resp)
	assert.Equal(t, models.WorkflowStatusDraft, draft.Status)
	assert.NotEqual(t, published.ID, draft.ID)
	assert.Equal(t, published.WorkflowGroupID, draft.WorkflowGroupID)
}

func TestCreateWorkflow_Validation(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		Name:  "Ok",
		Owner: "notifications-team",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.request(t, http.MethodPost, "/workflows/", web.CreateWorkflowRequest{
		Name: "No owner set",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetWorkflow_NotFound(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodGet, "/workflows/wf-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNodeTemplates(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPut, "/node-templates/order-confirmation", web.SaveNodeTemplateRequest{
		Type: models.NodeTypeEmail,
		Body: "Thanks {{.name}}",
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	created := decodeBody[models.NodeTemplate](t, resp)
	assert.Equal(t, "order-confirmation", created.Code)

	// Replacing the same code is a 200.
	resp = env.request(t, http.MethodPut, "/node-templates/order-confirmation", web.SaveNodeTemplateRequest{
		Type: models.NodeTypeEmail,
		Body: "Thanks again {{.name}}",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	replaced := decodeBody[models.NodeTemplate](t, resp)
	assert.Equal(t, created.ID, replaced.ID)

	resp = env.request(t, http.MethodGet, "/node-templates/order-confirmation", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := decodeBody[models.NodeTemplate](t, resp)
	assert.Equal(t, "Thanks again {{.name}}", fetched.Body)

	resp = env.request(t, http.MethodGet, "/node-templates/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSaveNodeTemplate_Validation(t *testing.T) {
	env := setupTestApp(t)

	resp := env.request(t, http.MethodPut, "/node-templates/greeting", web.SaveNodeTemplateRequest{
		Type: models.NodeTypeEmail,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
