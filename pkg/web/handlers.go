// Package web provides HTTP handlers and REST API endpoints for workflow and
// trigger instance management.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/heraldflow/herald/pkg/ingest"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	instanceService *services.Instance
	templateService *services.NodeTemplate
	ingestService   *ingest.Service
	validator       *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	instanceService *services.Instance,
	templateService *services.NodeTemplate,
	ingestService *ingest.Service,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		instanceService: instanceService,
		templateService: templateService,
		ingestService:   ingestService,
		validator:       validator,
	}
}

// Trigger fires a workflow trigger. Replays of an already-seen idempotency
// key return the existing instance with 200 instead of 201.
func (h *APIHandlers) Trigger(c fiber.Ctx) error {
	var req TriggerRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.ingestService.Ingest(c.Context(), req.WorkflowID, req.IdempotencyKey, req.Context)
	if err != nil {
		return handleServiceError(c, err)
	}

	status := fiber.StatusOK
	if result.Created {
		status = fiber.StatusCreated
	}

	return c.Status(status).JSON(TriggerResponse{
		Instance: result.Instance,
		Created:  result.Created,
	})
}

func (h *APIHandlers) GetInstances(c fiber.Ctx) error {
	req, err := h.parseListInstancesRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.instanceService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) parseListInstancesRequest(c fiber.Ctx) (*services.ListInstancesRequest, error) {
	req := &services.ListInstancesRequest{}

	if pageStr := c.Query("page"); pageStr != "" {
		page, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, err
		}

		req.Page = page
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	req.WorkflowID = c.Query("workflow_id")

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.InstanceStatus(statusStr)
		req.Status = &status
	}

	return req, nil
}

func (h *APIHandlers) GetInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	instance, err := h.instanceService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(instance)
}

func (h *APIHandlers) CancelInstance(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Instance ID is required")
	}

	cancelled, err := h.instanceService.Cancel(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(cancelled)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	var status *models.WorkflowStatus

	if statusStr := c.Query("status"); statusStr != "" {
		s := models.WorkflowStatus(statusStr)
		status = &s
	}

	workflows, err := h.workflowService.ListWorkflows(c.Context(), status)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"workflows": workflows})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	workflow, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow := &models.Workflow{
		Name:          req.Name,
		Description:   req.Description,
		Owner:         req.Owner,
		ContextSchema: req.ContextSchema,
		Nodes:         transformNodes(req.Nodes),
	}

	created, err := h.workflowService.Create(c.Context(), workflow)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Workflow not found")
		}

		return internalError(c, err)
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}

	if req.ContextSchema != nil {
		existing.ContextSchema = req.ContextSchema
	}

	if req.Nodes != nil {
		existing.Nodes = transformNodes(req.Nodes)
	}

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	err := h.workflowService.Delete(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) PublishWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	published, err := h.workflowService.Publish(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(published)
}

func (h *APIHandlers) CreateDraftFromPublished(c fiber.Ctx) error {
	groupID := c.Params("groupId")
	if groupID == "" {
		return badRequest(c, "Workflow group ID is required")
	}

	draft, err := h.workflowService.CreateDraftFromPublished(c.Context(), groupID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "Published workflow not found")
		}

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(draft)
}

func (h *APIHandlers) GetNodeTemplates(c fiber.Ctx) error {
	templates, err := h.templateService.List(c.Context())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"node_templates": templates})
}

func (h *APIHandlers) GetNodeTemplate(c fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "Template code is required")
	}

	template, err := h.templateService.FetchByCode(c.Context(), code)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(template)
}

func (h *APIHandlers) SaveNodeTemplate(c fiber.Ctx) error {
	code := c.Params("code")
	if code == "" {
		return badRequest(c, "Template code is required")
	}

	var req SaveNodeTemplateRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.templateService.FetchByCode(c.Context(), code)
	if err != nil && !persistence.IsNodeTemplateNotFound(err) {
		return handleServiceError(c, err)
	}

	template := &models.NodeTemplate{
		Code: code,
		Type: req.Type,
		Body: req.Body,
	}

	status := fiber.StatusCreated

	if existing != nil {
		template.ID = existing.ID
		template.CreatedAt = existing.CreatedAt
		status = fiber.StatusOK
	}

	saved, err := h.templateService.Save(c.Context(), template)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(status).JSON(saved)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Herald API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Herald API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}
