// Package web provides HTTP request and response types for the workflow API.
package web

import "github.com/heraldflow/herald/pkg/models"

// ErrorResponse represents a standardized API error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// TriggerRequest represents the request body for firing a workflow trigger.
type TriggerRequest struct {
	WorkflowID     string         `json:"workflow_id"     validate:"required"`
	IdempotencyKey string         `json:"idempotency_key" validate:"required,min=1"`
	Context        map[string]any `json:"context,omitempty"`
}

// TriggerResponse reports the instance that represents the trigger and
// whether this request created it.
type TriggerResponse struct {
	Instance *models.TriggerInstance `json:"instance"`
	Created  bool                    `json:"created"`
}

// NodeRequest represents one node of a workflow chain in a create or update
// request. IDs are assigned server-side when omitted.
type NodeRequest struct {
	ID         string                `json:"id,omitempty"`
	Name       string                `json:"name"    validate:"required,min=1"`
	Type       models.NodeType       `json:"type"    validate:"required,oneof=email sms delay"`
	Email      *models.EmailNodeSpec `json:"email,omitempty"`
	SMS        *models.SMSNodeSpec   `json:"sms,omitempty"`
	Delay      *models.DelayNodeSpec `json:"delay,omitempty"`
	NextNodeID *string               `json:"next_node_id,omitempty"`
	Enabled    *bool                 `json:"enabled,omitempty"`
}

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	Name          string         `json:"name"        validate:"required,min=3"`
	Description   string         `json:"description"`
	Owner         string         `json:"owner"       validate:"required"`
	ContextSchema map[string]any `json:"context_schema,omitempty"`
	Nodes         []NodeRequest  `json:"nodes"       validate:"dive"`
}

// UpdateWorkflowRequest represents the request body for updating a draft
// workflow. Scalar fields are optional to support partial updates; a non-nil
// Nodes replaces the whole chain.
type UpdateWorkflowRequest struct {
	Name          *string        `json:"name,omitempty" validate:"omitempty,min=3"`
	Description   *string        `json:"description,omitempty"`
	ContextSchema map[string]any `json:"context_schema,omitempty"`
	Nodes         []NodeRequest  `json:"nodes,omitempty" validate:"omitempty,dive"`
}

// SaveNodeTemplateRequest represents the request body for creating or
// replacing a node template under its code.
type SaveNodeTemplateRequest struct {
	Type models.NodeType `json:"type" validate:"required,oneof=email sms delay"`
	Body string          `json:"body" validate:"required"`
}

// transformNodes converts node requests into model nodes. Enabled defaults to
// true when unset, matching how authoring clients send new nodes.
func transformNodes(requests []NodeRequest) []*models.WorkflowNode {
	nodes := make([]*models.WorkflowNode, 0, len(requests))

	for _, req := range requests {
		enabled := true
		if req.Enabled != nil {
			enabled = *req.Enabled
		}

		nodes = append(nodes, &models.WorkflowNode{
			ID:         req.ID,
			Name:       req.Name,
			Type:       req.Type,
			Email:      req.Email,
			SMS:        req.SMS,
			Delay:      req.Delay,
			NextNodeID: req.NextNodeID,
			Enabled:    enabled,
		})
	}

	return nodes
}
