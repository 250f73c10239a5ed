package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string {
	return &s
}

func emailNode(id string, next *string) *WorkflowNode {
	return &WorkflowNode{
		ID:   id,
		Name: "Email " + id,
		Type: NodeTypeEmail,
		Email: &EmailNodeSpec{
			To:      TemplateRef{Text: "{{.email}}"},
			Subject: TemplateRef{Text: "Hello"},
			Body:    TemplateRef{Text: "Hi {{.name}}"},
		},
		NextNodeID: next,
		Enabled:    true,
	}
}

func delayNode(id string, next *string, d time.Duration) *WorkflowNode {
	return &WorkflowNode{
		ID:         id,
		Name:       "Delay " + id,
		Type:       NodeTypeDelay,
		Delay:      &DelayNodeSpec{Duration: Duration(d)},
		NextNodeID: next,
		Enabled:    true,
	}
}

func TestWorkflow_Head(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", strPtr("n2")),
			delayNode("n2", strPtr("n3"), time.Minute),
			emailNode("n3", nil),
		},
	}

	head, err := workflow.Head()
	require.NoError(t, err)
	assert.Equal(t, "n1", head.ID)
}

func TestWorkflow_HeadEmpty(t *testing.T) {
	workflow := &Workflow{}

	_, err := workflow.Head()
	assert.ErrorIs(t, err, ErrChainEmpty)
}

func TestWorkflow_HeadIgnoresDisabledNodes(t *testing.T) {
	disabled := emailNode("n0", strPtr("n1"))
	disabled.Enabled = false

	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			disabled,
			emailNode("n1", nil),
		},
	}

	head, err := workflow.Head()
	require.NoError(t, err)
	assert.Equal(t, "n1", head.ID)
}

func TestWorkflow_HeadMultipleHeads(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", strPtr("n3")),
			emailNode("n2", strPtr("n3")),
			emailNode("n3", nil),
		},
	}

	_, err := workflow.Head()
	assert.ErrorIs(t, err, ErrChainMultipleHeads)
}

func TestWorkflow_ValidateChain(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", strPtr("n2")),
			delayNode("n2", strPtr("n3"), time.Hour),
			emailNode("n3", nil),
		},
	}

	assert.NoError(t, workflow.ValidateChain())
}

func TestWorkflow_ValidateChainCycle(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", strPtr("n2")),
			emailNode("n2", strPtr("n1")),
		},
	}

	// Every node is referenced, so there is no head to start from.
	err := workflow.ValidateChain()
	assert.ErrorIs(t, err, ErrChainNoHead)
}

func TestWorkflow_ValidateChainDetachedLoop(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", nil),
			emailNode("n2", strPtr("n3")),
			emailNode("n3", strPtr("n2")),
		},
	}

	err := workflow.ValidateChain()
	assert.ErrorIs(t, err, ErrChainCycle)
}

func TestWorkflow_ValidateChainDanglingNext(t *testing.T) {
	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", strPtr("missing")),
		},
	}

	err := workflow.ValidateChain()
	assert.ErrorIs(t, err, ErrChainDanglingNext)
}

func TestWorkflow_ValidateChainInvalidNode(t *testing.T) {
	broken := emailNode("n1", nil)
	broken.Email = nil

	workflow := &Workflow{Nodes: []*WorkflowNode{broken}}

	err := workflow.ValidateChain()
	assert.ErrorIs(t, err, ErrNodeSpecMissing)
}

func TestWorkflow_ActiveNodesSkipsDeleted(t *testing.T) {
	now := time.Now().UTC()
	deleted := emailNode("n2", nil)
	deleted.DeletedAt = &now

	workflow := &Workflow{
		Nodes: []*WorkflowNode{
			emailNode("n1", nil),
			deleted,
		},
	}

	active := workflow.ActiveNodes()
	require.Len(t, active, 1)
	assert.Equal(t, "n1", active[0].ID)

	// NodeByID still resolves deleted nodes so cursors can be faulted.
	_, ok := workflow.NodeByID("n2")
	assert.True(t, ok)
}

func TestWorkflowNode_Validate(t *testing.T) {
	t.Run("email requires all templates", func(t *testing.T) {
		node := emailNode("n1", nil)
		node.Email.Subject = TemplateRef{}

		assert.ErrorIs(t, node.Validate(), ErrTemplateMissing)
	})

	t.Run("spec for another type conflicts", func(t *testing.T) {
		node := emailNode("n1", nil)
		node.Delay = &DelayNodeSpec{Duration: Duration(time.Minute)}

		assert.ErrorIs(t, node.Validate(), ErrNodeSpecConflict)
	})

	t.Run("delay must be positive", func(t *testing.T) {
		node := delayNode("n1", nil, 0)

		assert.ErrorIs(t, node.Validate(), ErrDelayNotPositive)
	})

	t.Run("template code counts as present", func(t *testing.T) {
		node := &WorkflowNode{
			ID:   "n1",
			Name: "SMS",
			Type: NodeTypeSMS,
			SMS: &SMSNodeSpec{
				To:   TemplateRef{Text: "{{.phone}}"},
				Body: TemplateRef{Code: "sms-reminder"},
			},
			Enabled: true,
		}

		assert.NoError(t, node.Validate())
	})

	t.Run("unknown type", func(t *testing.T) {
		node := &WorkflowNode{ID: "n1", Name: "X", Type: "push"}

		assert.Error(t, node.Validate())
	})
}
