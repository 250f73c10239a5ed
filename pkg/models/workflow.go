// Package models defines the core domain models for notification workflow execution.
package models

import (
	"errors"
	"fmt"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft       WorkflowStatus = "draft"       // Editable, not triggerable
	WorkflowStatusPublished   WorkflowStatus = "published"   // Current active, triggerable
	WorkflowStatusUnpublished WorkflowStatus = "unpublished" // Historical, not triggerable
)

// Chain validation errors returned by Workflow.ValidateChain.
var (
	ErrChainEmpty         = errors.New("workflow has no active nodes")
	ErrChainNoHead        = errors.New("workflow chain has no head node")
	ErrChainMultipleHeads = errors.New("workflow chain has more than one head node")
	ErrChainCycle         = errors.New("workflow chain contains a cycle")
	ErrChainDanglingNext  = errors.New("workflow node references a missing next node")
)

// Workflow represents a notification workflow: a singly-linked chain of
// notification nodes executed in order for each trigger instance. Published
// workflows are immutable; edits create a new draft version in the same group.
type Workflow struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"              validate:"required,min=3"`
	Description     string          `json:"description"`
	Status          WorkflowStatus  `json:"status"            validate:"required"`
	WorkflowGroupID string          `json:"workflow_group_id"` // Stable ID linking all versions
	Nodes           []*WorkflowNode `json:"nodes"`
	ContextSchema   map[string]any  `json:"context_schema,omitempty"` // Optional JSON Schema for trigger contexts
	Owner           string          `json:"owner"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	PublishedAt     *time.Time      `json:"published_at,omitempty"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// ActiveNodes returns the nodes that may participate in execution: enabled and
// not soft-deleted.
func (w *Workflow) ActiveNodes() []*WorkflowNode {
	active := make([]*WorkflowNode, 0, len(w.Nodes))

	for _, node := range w.Nodes {
		if node.Enabled && node.DeletedAt == nil {
			active = append(active, node)
		}
	}

	return active
}

// NodeByID returns the node with the given ID, deleted or not, so that
// in-flight cursors can always be resolved and faulted explicitly.
func (w *Workflow) NodeByID(id string) (*WorkflowNode, bool) {
	for _, node := range w.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// Head returns the first node of the chain: the single active node that no
// other active node references as next.
func (w *Workflow) Head() (*WorkflowNode, error) {
	active := w.ActiveNodes()
	if len(active) == 0 {
		return nil, ErrChainEmpty
	}

	referenced := make(map[string]bool, len(active))

	for _, node := range active {
		if node.NextNodeID != nil {
			referenced[*node.NextNodeID] = true
		}
	}

	var head *WorkflowNode

	for _, node := range active {
		if referenced[node.ID] {
			continue
		}

		if head != nil {
			return nil, ErrChainMultipleHeads
		}

		head = node
	}

	if head == nil {
		// Every node is referenced by another one: the chain loops.
		return nil, ErrChainNoHead
	}

	return head, nil
}

// ValidateChain verifies the node chain is executable: every node spec is
// valid, there is exactly one head, every next pointer resolves to an active
// node, and following next pointers never revisits a node. Called at save and
// publish time so the executor never has to detect cycles.
func (w *Workflow) ValidateChain() error {
	active := w.ActiveNodes()
	if len(active) == 0 {
		return ErrChainEmpty
	}

	byID := make(map[string]*WorkflowNode, len(active))

	for _, node := range active {
		if err := node.Validate(); err != nil {
			return fmt.Errorf("node %s: %w", node.ID, err)
		}

		byID[node.ID] = node
	}

	for _, node := range active {
		if node.NextNodeID != nil {
			if _, ok := byID[*node.NextNodeID]; !ok {
				return fmt.Errorf("node %s next %s: %w", node.ID, *node.NextNodeID, ErrChainDanglingNext)
			}
		}
	}

	head, err := w.Head()
	if err != nil {
		return err
	}

	visited := make(map[string]bool, len(active))

	for node := head; node != nil; {
		if visited[node.ID] {
			return fmt.Errorf("node %s revisited: %w", node.ID, ErrChainCycle)
		}

		visited[node.ID] = true

		if node.NextNodeID == nil {
			break
		}

		node = byID[*node.NextNodeID]
	}

	if len(visited) != len(active) {
		// Nodes unreachable from the head form a detached loop.
		return ErrChainCycle
	}

	return nil
}
