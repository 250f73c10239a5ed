package models

import "time"

// NodeTemplate is a reusable template fragment, referenced from workflow node
// fields by code. Inline node text always wins over a template reference; the
// library is a convenience for shared copy.
type NodeTemplate struct {
	ID        string    `json:"id"`
	Code      string    `json:"code" validate:"required,min=1"`
	Type      NodeType  `json:"type" validate:"required"`
	Body      string    `json:"body" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
