// Package engine drives claimed trigger instances through their workflow
// chains: the step executor performs one node's effect and computes the next
// instance state, the scheduler claims due instances and persists the verdict.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/heraldflow/herald/pkg/backoff"
	"github.com/heraldflow/herald/pkg/dispatch"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/persistence"
	"github.com/heraldflow/herald/pkg/template"
)

const DefaultMaxAttempts = 5

// Executor performs one execution cycle for a claimed instance. It never
// mutates the store itself; it returns the full replacement state and leaves
// persistence to the caller.
type Executor struct {
	persistence     persistence.Persistence
	dispatcher      dispatch.Dispatcher
	renderer        *template.Renderer
	backoff         *backoff.Policy
	clock           clockwork.Clock
	maxAttempts     int
	dispatchTimeout time.Duration
	logger          *slog.Logger
}

// NewExecutor creates a step executor. maxAttempts <= 0 falls back to the
// default; dispatchTimeout <= 0 disables the per-dispatch deadline.
func NewExecutor(
	store persistence.Persistence,
	dispatcher dispatch.Dispatcher,
	renderer *template.Renderer,
	policy *backoff.Policy,
	clock clockwork.Clock,
	maxAttempts int,
	dispatchTimeout time.Duration,
	logger *slog.Logger,
) *Executor {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Executor{
		persistence:     store,
		dispatcher:      dispatcher,
		renderer:        renderer,
		backoff:         policy,
		clock:           clock,
		maxAttempts:     maxAttempts,
		dispatchTimeout: dispatchTimeout,
		logger:          logger.With("module", "executor"),
	}
}

// Execute runs the node at the instance's cursor and computes the next
// instance state. A broken definition faults the instance to failed; only
// store-connectivity problems surface as errors, leaving the claim for the
// reaper or a later cycle.
func (e *Executor) Execute(ctx context.Context, instance *models.TriggerInstance) (models.NextState, error) {
	workflow, err := e.persistence.WorkflowByID(ctx, instance.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return e.fault(instance, "", fmt.Sprintf("workflow %s no longer exists", instance.WorkflowID)), nil
		}

		return models.NextState{}, fmt.Errorf("failed to load workflow %s: %w", instance.WorkflowID, err)
	}

	node, faultReason := e.resolveNode(workflow, instance)
	if faultReason != "" {
		return e.fault(instance, "", faultReason), nil
	}

	switch node.Type {
	case models.NodeTypeEmail, models.NodeTypeSMS:
		return e.executeSend(ctx, workflow, node, instance)
	case models.NodeTypeDelay:
		return e.executeDelay(workflow, node, instance), nil
	default:
		return e.fault(instance, node.ID, fmt.Sprintf("unknown node type %q", node.Type)), nil
	}
}

// resolveNode loads the node at the cursor, or the chain head when the cursor
// is unset. The empty string reason means the node is executable.
func (e *Executor) resolveNode(workflow *models.Workflow, instance *models.TriggerInstance) (*models.WorkflowNode, string) {
	if instance.CursorNodeID == nil {
		head, err := workflow.Head()
		if err != nil {
			return nil, fmt.Sprintf("workflow has no executable head: %v", err)
		}

		return head, ""
	}

	node, ok := workflow.NodeByID(*instance.CursorNodeID)
	if !ok {
		return nil, fmt.Sprintf("cursor references missing node %s", *instance.CursorNodeID)
	}

	if node.DeletedAt != nil {
		return nil, fmt.Sprintf("cursor references deleted node %s", node.ID)
	}

	if !node.Enabled {
		return nil, fmt.Sprintf("cursor references disabled node %s", node.ID)
	}

	return node, ""
}

func (e *Executor) executeSend(ctx context.Context, workflow *models.Workflow, node *models.WorkflowNode, instance *models.TriggerInstance) (models.NextState, error) {
	sendErr, fatalReason, err := e.renderAndDispatch(ctx, node, instance)
	if err != nil {
		return models.NextState{}, err
	}

	if fatalReason != "" {
		return e.fault(instance, node.ID, fatalReason), nil
	}

	if sendErr == nil {
		return e.advance(workflow, node, instance, models.OutcomeAdvanced)
	}

	if !dispatch.IsRetryable(sendErr) {
		state := e.fault(instance, node.ID, fmt.Sprintf("delivery failed permanently: %v", sendErr))
		state.Outcome = models.OutcomeFatal

		return state, nil
	}

	attempts := instance.Attempts + 1

	if attempts >= e.maxAttempts {
		state := e.fault(instance, node.ID,
			fmt.Sprintf("delivery failed after %d attempts: %v", attempts, sendErr))
		state.Attempts = attempts
		state.Outcome = models.OutcomeExhausted

		return state, nil
	}

	delay := e.backoff.Delay(attempts)
	cursor := node.ID

	return models.NextState{
		CursorNodeID:  &cursor,
		Status:        models.InstanceStatusPending,
		Attempts:      attempts,
		AvailableAt:   e.clock.Now().UTC().Add(delay),
		FailureReason: "",
		Outcome:       models.OutcomeRetry,
		NodeID:        node.ID,
	}, nil
}

// renderAndDispatch renders the node's templates and calls the channel
// dispatcher. It returns the dispatch error (nil on delivered), a fatal fault
// reason for render/template resolution problems, or a store error.
func (e *Executor) renderAndDispatch(ctx context.Context, node *models.WorkflowNode, instance *models.TriggerInstance) (sendErr error, fatalReason string, storeErr error) {
	dispatchCtx := ctx

	if e.dispatchTimeout > 0 {
		var cancel context.CancelFunc

		dispatchCtx, cancel = context.WithTimeout(ctx, e.dispatchTimeout)
		defer cancel()
	}

	switch node.Type {
	case models.NodeTypeEmail:
		fields, fatalReason, storeErr := e.renderFields(ctx, instance, map[string]models.TemplateRef{
			"to": node.Email.To, "subject": node.Email.Subject, "body": node.Email.Body,
		})
		if fatalReason != "" || storeErr != nil {
			return nil, fatalReason, storeErr
		}

		return e.dispatcher.SendEmail(dispatchCtx, fields["to"], fields["subject"], fields["body"]), "", nil
	case models.NodeTypeSMS:
		fields, fatalReason, storeErr := e.renderFields(ctx, instance, map[string]models.TemplateRef{
			"to": node.SMS.To, "body": node.SMS.Body,
		})
		if fatalReason != "" || storeErr != nil {
			return nil, fatalReason, storeErr
		}

		return e.dispatcher.SendSMS(dispatchCtx, fields["to"], fields["body"]), "", nil
	default:
		return nil, fmt.Sprintf("node type %q is not dispatchable", node.Type), nil
	}
}

func (e *Executor) renderFields(ctx context.Context, instance *models.TriggerInstance, refs map[string]models.TemplateRef) (map[string]string, string, error) {
	rendered := make(map[string]string, len(refs))

	for field, ref := range refs {
		text := ref.Text

		if !ref.Inline() {
			tpl, err := e.persistence.NodeTemplateByCode(ctx, ref.Code)
			if err != nil {
				if errors.Is(err, persistence.ErrNodeTemplateNotFound) {
					return nil, fmt.Sprintf("%s references unknown template %q", field, ref.Code), nil
				}

				return nil, "", fmt.Errorf("failed to load template %q: %w", ref.Code, err)
			}

			text = tpl.Body
		}

		value, err := e.renderer.Render(text, instance.TriggerContext)
		if err != nil {
			// Render failures will not get better on retry.
			return nil, fmt.Sprintf("failed to render %s: %v", field, err), nil
		}

		rendered[field] = value
	}

	return rendered, "", nil
}

func (e *Executor) executeDelay(workflow *models.Workflow, node *models.WorkflowNode, instance *models.TriggerInstance) models.NextState {
	wakeAt := e.clock.Now().UTC().Add(node.Delay.Duration.Std())

	next, faultReason := e.nextCursor(workflow, node)
	if faultReason != "" {
		return e.fault(instance, node.ID, faultReason)
	}

	state := models.NextState{
		CursorNodeID: next,
		Attempts:     0,
		AvailableAt:  wakeAt,
		Outcome:      models.OutcomeDelayed,
		NodeID:       node.ID,
	}

	if next == nil {
		// A trailing delay has nothing left to wake up for.
		state.Status = models.InstanceStatusCompleted
		state.Outcome = models.OutcomeCompleted
	} else {
		state.Status = models.InstanceStatusWaiting
	}

	return state
}

func (e *Executor) advance(workflow *models.Workflow, node *models.WorkflowNode, instance *models.TriggerInstance, outcome models.StepOutcome) (models.NextState, error) {
	next, faultReason := e.nextCursor(workflow, node)
	if faultReason != "" {
		return e.fault(instance, node.ID, faultReason), nil
	}

	state := models.NextState{
		CursorNodeID: next,
		Attempts:     0,
		AvailableAt:  e.clock.Now().UTC(),
		Outcome:      outcome,
		NodeID:       node.ID,
	}

	if next == nil {
		state.Status = models.InstanceStatusCompleted
		state.Outcome = models.OutcomeCompleted
	} else {
		state.Status = models.InstanceStatusPending
	}

	return state, nil
}

// nextCursor resolves the node's next pointer. A dangling or soft-deleted
// target faults the instance instead of letting the cursor walk off the chain.
func (e *Executor) nextCursor(workflow *models.Workflow, node *models.WorkflowNode) (*string, string) {
	if node.NextNodeID == nil {
		return nil, ""
	}

	next, ok := workflow.NodeByID(*node.NextNodeID)
	if !ok {
		return nil, fmt.Sprintf("node %s references missing next node %s", node.ID, *node.NextNodeID)
	}

	if next.DeletedAt != nil || !next.Enabled {
		return nil, fmt.Sprintf("node %s references inactive next node %s", node.ID, next.ID)
	}

	id := next.ID

	return &id, ""
}

// fault freezes the instance as failed with a descriptive reason. The cursor
// keeps its current value so operators can see where the chain broke.
func (e *Executor) fault(instance *models.TriggerInstance, nodeID, reason string) models.NextState {
	e.logger.Warn("Faulting instance",
		"instance_id", instance.ID,
		"node_id", nodeID,
		"reason", reason)

	return models.NextState{
		CursorNodeID:  instance.CursorNodeID,
		Status:        models.InstanceStatusFailed,
		Attempts:      instance.Attempts,
		AvailableAt:   e.clock.Now().UTC(),
		FailureReason: reason,
		Outcome:       models.OutcomeFaulted,
		NodeID:        nodeID,
	}
}
