package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/heraldflow/herald/pkg/eventbus"
	"github.com/heraldflow/herald/pkg/events"
	"github.com/heraldflow/herald/pkg/models"
	"github.com/heraldflow/herald/pkg/otelhelper"
	"github.com/heraldflow/herald/pkg/persistence"
)

// SchedulerConfig bounds the claim loop and the stale-claim reaper.
type SchedulerConfig struct {
	PollInterval  time.Duration // Delay between claim cycles
	BatchSize     int           // Max due instances fetched per cycle
	LeaseDuration time.Duration // Running claims older than this are considered stale
	ReapInterval  time.Duration // Delay between reaper scans
	ReapBatchSize int           // Max stale claims reset per scan
	StoreBackoff  time.Duration // Base process-level backoff on store failures
}

// DefaultSchedulerConfig returns production defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval:  time.Second,
		BatchSize:     25,
		LeaseDuration: 5 * time.Minute,
		ReapInterval:  time.Minute,
		ReapBatchSize: 50,
		StoreBackoff:  2 * time.Second,
	}
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	defaults := DefaultSchedulerConfig()

	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}

	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}

	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaults.LeaseDuration
	}

	if c.ReapInterval <= 0 {
		c.ReapInterval = defaults.ReapInterval
	}

	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = defaults.ReapBatchSize
	}

	if c.StoreBackoff <= 0 {
		c.StoreBackoff = defaults.StoreBackoff
	}

	return c
}

// Scheduler is one worker's claim loop. Multiple schedulers in multiple
// processes run against the same store with no coordination beyond the
// store's conditional claim update: a lost race just skips the candidate.
type Scheduler struct {
	workerID    string
	persistence persistence.Persistence
	executor    *Executor
	bus         eventbus.EventPublisher
	clock       clockwork.Clock
	config      SchedulerConfig
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewScheduler creates a scheduler. The tracer may be nil to disable spans.
func NewScheduler(
	workerID string,
	store persistence.Persistence,
	executor *Executor,
	bus eventbus.EventPublisher,
	clock clockwork.Clock,
	config SchedulerConfig,
	logger *slog.Logger,
	tracer trace.Tracer,
) *Scheduler {
	return &Scheduler{
		workerID:    workerID,
		persistence: store,
		executor:    executor,
		bus:         bus,
		clock:       clock,
		config:      config.withDefaults(),
		logger:      logger.With("module", "scheduler", "worker_id", workerID),
		tracer:      tracer,
	}
}

// Run executes claim cycles and reaper scans until the context is cancelled.
// Store failures back the loop off at process level; per-instance failures
// never abort the cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting scheduler",
		"poll_interval", s.config.PollInterval,
		"batch_size", s.config.BatchSize,
		"lease_duration", s.config.LeaseDuration)

	storeFailures := 0
	nextReap := s.clock.Now()

	for {
		if ctx.Err() != nil {
			s.logger.InfoContext(ctx, "Scheduler stopped")

			return ctx.Err()
		}

		if !s.clock.Now().Before(nextReap) {
			if err := s.reap(ctx); err != nil {
				s.logger.ErrorContext(ctx, "Reaper scan failed", "error", err)
			}

			nextReap = s.clock.Now().Add(s.config.ReapInterval)
		}

		processed, err := s.RunCycle(ctx)
		if err != nil {
			storeFailures++
			delay := s.storeFailureDelay(storeFailures)
			s.logger.ErrorContext(ctx, "Claim cycle failed, backing off",
				"error", err, "failures", storeFailures, "backoff", delay)
			s.sleep(ctx, delay)

			continue
		}

		storeFailures = 0

		if processed == 0 {
			s.sleep(ctx, s.config.PollInterval)
		}
	}
}

// RunCycle performs one claim cycle: fetch a due batch, claim each candidate,
// execute and persist. It returns how many instances this worker processed,
// which lets serverless deployments invoke a single cycle per event.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	now := s.clock.Now().UTC()

	due, err := s.persistence.DueInstances(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, err
	}

	processed := 0

	for _, instance := range due {
		if ctx.Err() != nil {
			return processed, nil
		}

		claimedAt := s.clock.Now().UTC()

		// The claim is fenced on the snapshot's updated_at, so a successful
		// claim guarantees the snapshot handed to the executor is current. A
		// row another worker advanced past the snapshot fails the fence even
		// when its status matches again.
		claimed, err := s.persistence.ClaimInstance(ctx, instance.ID, instance.Status, instance.UpdatedAt, claimedAt)
		if err != nil {
			return processed, err
		}

		if !claimed {
			// Another worker won the race; not an error.
			s.logger.DebugContext(ctx, "Lost claim race", "instance_id", instance.ID)

			continue
		}

		s.process(ctx, instance, claimedAt)

		processed++
	}

	return processed, nil
}

// process executes one claimed instance and persists the executor's verdict,
// fenced on the claim stamp this worker wrote.
func (s *Scheduler) process(ctx context.Context, instance *models.TriggerInstance, claimedAt time.Time) {
	logger := s.logger.With("instance_id", instance.ID, "workflow_id", instance.WorkflowID)

	ctx, span := s.startSpan(ctx, instance)
	defer span.End()

	next, err := s.executor.Execute(ctx, instance)
	if err != nil {
		// Store trouble mid-cycle: leave the claim for the reaper rather
		// than guessing at instance state.
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Execution cycle failed, leaving claim to reaper", "error", err)

		return
	}

	err = s.persistence.CompleteCycle(ctx, instance.ID, next, claimedAt, s.clock.Now().UTC())
	if err != nil {
		if persistence.IsClaimConflict(err) {
			// A cancellation, the reaper or a re-claim won; their state stands.
			logger.InfoContext(ctx, "Cycle result discarded after claim conflict")

			return
		}

		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Failed to persist cycle result", "error", err)

		return
	}

	logger.InfoContext(ctx, "Executed instance step",
		"node_id", next.NodeID,
		"from_status", instance.Status,
		"to_status", next.Status,
		"attempts", next.Attempts,
		"outcome", next.Outcome)

	event := events.InstanceTransitioned{
		BaseEvent:     s.baseEvent(events.InstanceTransitionedEvent, instance),
		NodeID:        next.NodeID,
		FromStatus:    instance.Status,
		ToStatus:      next.Status,
		Attempts:      next.Attempts,
		Outcome:       next.Outcome,
		FailureReason: next.FailureReason,
		AvailableAt:   next.AvailableAt,
	}

	span.SetAttributes(
		attribute.String(otelhelper.NodeIDKey, next.NodeID),
		attribute.String(otelhelper.EventIDKey, event.ID),
	)

	s.publish(ctx, instance.ID, event)
}

func (s *Scheduler) reap(ctx context.Context) error {
	threshold := s.clock.Now().UTC().Add(-s.config.LeaseDuration)

	reaped, err := s.persistence.ReapStale(ctx, threshold, s.config.ReapBatchSize)
	if err != nil {
		return err
	}

	for _, instance := range reaped {
		s.logger.WarnContext(ctx, "Reset stale claim",
			"instance_id", instance.ID,
			"workflow_id", instance.WorkflowID,
			"claimed_at", instance.AvailableAt)

		s.publish(ctx, instance.ID, events.InstanceReaped{
			BaseEvent: s.baseEvent(events.InstanceReapedEvent, instance),
			ClaimedAt: instance.AvailableAt,
		})
	}

	return nil
}

func (s *Scheduler) publish(ctx context.Context, key string, event eventbus.Event) {
	if s.bus == nil {
		return
	}

	if err := s.bus.Publish(ctx, key, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish audit event",
			"event_type", event.GetType(), "error", err)
	}
}

func (s *Scheduler) baseEvent(eventType events.EventType, instance *models.TriggerInstance) events.BaseEvent {
	return events.BaseEvent{
		ID:         "evt-" + uuid.New().String()[:8],
		Type:       eventType,
		Timestamp:  s.clock.Now().UTC(),
		WorkflowID: instance.WorkflowID,
		InstanceID: instance.ID,
		WorkerID:   s.workerID,
	}
}

func (s *Scheduler) startSpan(ctx context.Context, instance *models.TriggerInstance) (context.Context, trace.Span) {
	if s.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, s.tracer, "execute_instance",
		attribute.String(otelhelper.InstanceIDKey, instance.ID),
		attribute.String(otelhelper.WorkflowIDKey, instance.WorkflowID),
		attribute.String(otelhelper.WorkerIDKey, s.workerID),
	)
}

// storeFailureDelay doubles the base backoff per consecutive store failure,
// capped at one minute.
func (s *Scheduler) storeFailureDelay(failures int) time.Duration {
	delay := s.config.StoreBackoff

	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= time.Minute {
			return time.Minute
		}
	}

	return delay
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-s.clock.After(d):
	}
}
