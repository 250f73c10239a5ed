package models

import (
	"errors"
	"fmt"
	"time"
)

// NodeType is the tag of the node variant. Exactly one spec struct is
// populated per node, matched exhaustively by the step executor.
type NodeType string

const (
	NodeTypeEmail NodeType = "email"
	NodeTypeSMS   NodeType = "sms"
	NodeTypeDelay NodeType = "delay"
)

// Node validation errors.
var (
	ErrNodeSpecMissing  = errors.New("node spec does not match node type")
	ErrNodeSpecConflict = errors.New("node carries a spec for another type")
	ErrTemplateMissing  = errors.New("template has neither inline text nor a code")
	ErrDelayNotPositive = errors.New("delay duration must be positive")
)

// TemplateRef is a renderable field of a node. Inline text is authoritative;
// a NodeTemplate code is the fallback when no inline text is set.
type TemplateRef struct {
	Text string `json:"text,omitempty"`
	Code string `json:"code,omitempty"`
}

// Inline reports whether the reference carries inline template text.
func (r TemplateRef) Inline() bool {
	return r.Text != ""
}

// Empty reports whether the reference carries neither text nor a code.
func (r TemplateRef) Empty() bool {
	return r.Text == "" && r.Code == ""
}

// EmailNodeSpec carries the templates of an email node.
type EmailNodeSpec struct {
	To      TemplateRef `json:"to"`
	Subject TemplateRef `json:"subject"`
	Body    TemplateRef `json:"body"`
}

// SMSNodeSpec carries the templates of an sms node.
type SMSNodeSpec struct {
	To   TemplateRef `json:"to"`
	Body TemplateRef `json:"body"`
}

// DelayNodeSpec suspends the instance for a fixed duration. The node has no
// side effect; its only output is a wake time.
type DelayNodeSpec struct {
	Duration Duration `json:"duration"`
}

// WorkflowNode is one step in a workflow chain. NextNodeID links to the
// following node; nil marks the end of the chain.
type WorkflowNode struct {
	ID         string         `json:"id"          validate:"required"`
	WorkflowID string         `json:"workflow_id"`
	Name       string         `json:"name"        validate:"required,min=1"`
	Type       NodeType       `json:"type"        validate:"required"`
	Email      *EmailNodeSpec `json:"email,omitempty"`
	SMS        *SMSNodeSpec   `json:"sms,omitempty"`
	Delay      *DelayNodeSpec `json:"delay,omitempty"`
	NextNodeID *string        `json:"next_node_id,omitempty"`
	Enabled    bool           `json:"enabled"`
	DeletedAt  *time.Time     `json:"deleted_at,omitempty"`
}

// Validate checks that the node carries exactly the spec its type requires
// and that the spec itself is usable.
func (n *WorkflowNode) Validate() error {
	switch n.Type {
	case NodeTypeEmail:
		if n.Email == nil {
			return fmt.Errorf("email node: %w", ErrNodeSpecMissing)
		}

		if n.SMS != nil || n.Delay != nil {
			return fmt.Errorf("email node: %w", ErrNodeSpecConflict)
		}

		for field, ref := range map[string]TemplateRef{
			"to": n.Email.To, "subject": n.Email.Subject, "body": n.Email.Body,
		} {
			if ref.Empty() {
				return fmt.Errorf("email %s: %w", field, ErrTemplateMissing)
			}
		}
	case NodeTypeSMS:
		if n.SMS == nil {
			return fmt.Errorf("sms node: %w", ErrNodeSpecMissing)
		}

		if n.Email != nil || n.Delay != nil {
			return fmt.Errorf("sms node: %w", ErrNodeSpecConflict)
		}

		for field, ref := range map[string]TemplateRef{"to": n.SMS.To, "body": n.SMS.Body} {
			if ref.Empty() {
				return fmt.Errorf("sms %s: %w", field, ErrTemplateMissing)
			}
		}
	case NodeTypeDelay:
		if n.Delay == nil {
			return fmt.Errorf("delay node: %w", ErrNodeSpecMissing)
		}

		if n.Email != nil || n.SMS != nil {
			return fmt.Errorf("delay node: %w", ErrNodeSpecConflict)
		}

		if n.Delay.Duration <= 0 {
			return ErrDelayNotPositive
		}
	default:
		return fmt.Errorf("unknown node type %q", n.Type)
	}

	return nil
}
