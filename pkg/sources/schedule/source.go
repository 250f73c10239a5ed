// Package schedule fires workflow triggers on cron expressions. Every tick
// carries a tick-derived idempotency key, so overlapping schedulers for the
// same entry still produce one instance per tick.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/heraldflow/herald/pkg/ingest"
)

// Entry binds one cron expression to one workflow.
type Entry struct {
	WorkflowID string `json:"workflow_id"`
	Cron       string `json:"cron"`
}

type Source struct {
	entries []Entry
	cron    *cron.Cron
	ingest  *ingest.Service
	logger  *slog.Logger
}

func NewSource(entries []Entry, ingestService *ingest.Service, logger *slog.Logger) (*Source, error) {
	if len(entries) == 0 {
		return nil, errors.New("schedule source requires at least one entry")
	}

	for _, entry := range entries {
		if entry.WorkflowID == "" {
			return nil, errors.New("schedule entry workflow_id is required")
		}

		if _, err := cron.ParseStandard(entry.Cron); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", entry.Cron, err)
		}
	}

	return &Source{
		entries: entries,
		ingest:  ingestService,
		logger:  logger.With("module", "schedule_source"),
	}, nil
}

func (s *Source) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting schedule source", "entries", len(s.entries))

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	for _, entry := range s.entries {
		entry := entry

		_, err := s.cron.AddFunc(entry.Cron, func() {
			s.fire(ctx, entry)
		})
		if err != nil {
			return fmt.Errorf("failed to register schedule for workflow %s: %w", entry.WorkflowID, err)
		}
	}

	s.cron.Start()

	return nil
}

func (s *Source) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Source) fire(ctx context.Context, entry Entry) {
	tick := time.Now().UTC().Truncate(time.Minute)
	key := fmt.Sprintf("sched-%s-%s", entry.WorkflowID, tick.Format(time.RFC3339))

	result, err := s.ingest.Ingest(ctx, entry.WorkflowID, key, map[string]any{
		"scheduled_at": tick.Format(time.RFC3339),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to ingest scheduled trigger",
			"workflow_id", entry.WorkflowID, "error", err)

		return
	}

	s.logger.InfoContext(ctx, "Fired scheduled trigger",
		"workflow_id", entry.WorkflowID,
		"instance_id", result.Instance.ID,
		"created", result.Created)
}
