// Package queue consumes trigger messages from a Redis list and feeds them
// through the ingest service.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/heraldflow/herald/pkg/ingest"
)

const popTimeout = 1 * time.Second

// TriggerMessage is the wire format expected on the queue. The idempotency
// key travels with the message so redeliveries collapse onto one instance.
type TriggerMessage struct {
	WorkflowID     string         `json:"workflow_id"`
	IdempotencyKey string         `json:"idempotency_key"`
	Context        map[string]any `json:"context,omitempty"`
}

type Source struct {
	Connection map[string]string
	Queue      string

	client  redis.UniversalClient
	ingest  *ingest.Service
	logger  *slog.Logger
	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

func NewSource(connection map[string]string, queue string, ingestService *ingest.Service, logger *slog.Logger) (*Source, error) {
	if queue == "" {
		return nil, errors.New("queue source queue name is required")
	}

	return &Source{
		Connection: connection,
		Queue:      queue,
		ingest:     ingestService,
		stopCh:     make(chan struct{}),
		logger: logger.With(
			"module", "queue_source",
			"queue", queue,
		),
	}, nil
}

func (s *Source) Start(ctx context.Context) error {
	s.logger.InfoContext(ctx, "Starting queue source")

	err := s.initializeClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	s.wg.Add(1)

	go s.consume(ctx)

	return nil
}

func (s *Source) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()

	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.logger.Error("Failed to close Redis client", "error", err)
		}
	}
}

func (s *Source) initializeClient(ctx context.Context) error {
	addr := s.Connection["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}

	password := s.Connection["password"]
	db := 0

	if dbStr := s.Connection["db"]; dbStr != "" {
		var err error
		if db, err = strconv.Atoi(dbStr); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	s.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := s.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.InfoContext(ctx, "Connected to Redis", "addr", addr, "db", db)

	return nil
}

func (s *Source) consume(ctx context.Context) {
	defer s.wg.Done()

	s.logger.InfoContext(ctx, "Starting queue consumer")

	for {
		select {
		case <-s.stopCh:
			s.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := s.processMessage(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (s *Source) processMessage(ctx context.Context) error {
	result, err := s.client.BLPop(ctx, popTimeout, s.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	raw := result[1]

	var msg TriggerMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		// A malformed message would fail forever; drop it rather than loop.
		s.logger.ErrorContext(ctx, "Dropping malformed trigger message", "message", raw, "error", err)

		return nil
	}

	if msg.WorkflowID == "" || msg.IdempotencyKey == "" {
		s.logger.ErrorContext(ctx, "Dropping trigger message without workflow_id or idempotency_key", "message", raw)

		return nil
	}

	ingestResult, err := s.ingest.Ingest(ctx, msg.WorkflowID, msg.IdempotencyKey, msg.Context)
	if err != nil {
		return fmt.Errorf("failed to ingest trigger for workflow %s: %w", msg.WorkflowID, err)
	}

	s.logger.InfoContext(ctx, "Ingested queue trigger",
		"workflow_id", msg.WorkflowID,
		"instance_id", ingestResult.Instance.ID,
		"created", ingestResult.Created)

	return nil
}
