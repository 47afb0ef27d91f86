// Package queue listens on a Redis list and turns each message into a
// workflow execution request.
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

	"github.com/weftwork/weft/pkg/log"
	"github.com/weftwork/weft/pkg/models"
)

// FrontDoor starts workflow executions. The execution service implements it.
type FrontDoor interface {
	Request(ctx context.Context, workflowID string, triggerType models.TriggerType, inputs map[string]any) (*models.Execution, error)
}

// Options configure the Redis connection and the list to consume.
type Options struct {
	Addr     string
	Password string
	DB       string
	Queue    string
}

// Trigger consumes queue messages and requests executions. Messages are JSON
// objects carrying a workflow_id and optional inputs; anything else is logged
// and dropped rather than retried.
type Trigger struct {
	options   Options
	frontDoor FrontDoor

	client redis.UniversalClient
	logger *slog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

type queueMessage struct {
	WorkflowID string         `json:"workflow_id"`
	Inputs     map[string]any `json:"inputs"`
}

// NewTrigger creates a queue trigger. The connection is established on Start.
func NewTrigger(options Options, frontDoor FrontDoor) (*Trigger, error) {
	trigger := &Trigger{
		options:   options,
		frontDoor: frontDoor,
		stopCh:    make(chan struct{}),
		logger:    log.WithModule("queue_trigger").With("queue", options.Queue),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

// Validate checks the trigger configuration.
func (t *Trigger) Validate() error {
	if t.options.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	return nil
}

// Start connects to Redis and begins consuming in a background goroutine.
func (t *Trigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "starting queue trigger")

	if err := t.initializeClient(ctx); err != nil {
		return fmt.Errorf("failed to initialize queue client: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) initializeClient(ctx context.Context) error {
	addr := t.options.Addr
	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if t.options.DB != "" {
		var err error
		if db, err = strconv.Atoi(t.options.DB); err != nil {
			return fmt.Errorf("invalid db value: %w", err)
		}
	}

	t.client = redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: t.options.Password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := t.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.logger.InfoContext(ctx, "connected to Redis", "addr", addr, "db", db)

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "queue consumer stopped")

			return
		case <-ctx.Done():
			t.logger.InfoContext(ctx, "context cancelled, stopping queue consumer")

			return
		default:
			if err := t.processMessage(ctx); err != nil {
				t.logger.ErrorContext(ctx, "error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, 1*time.Second, t.options.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	t.dispatch(ctx, result[1])

	return nil
}

// dispatch parses one raw message and requests the execution. Malformed
// messages are dropped: requeueing them would loop forever.
func (t *Trigger) dispatch(ctx context.Context, raw string) {
	var message queueMessage
	if err := json.Unmarshal([]byte(raw), &message); err != nil {
		t.logger.WarnContext(ctx, "dropping malformed queue message", "error", err)

		return
	}

	if message.WorkflowID == "" {
		t.logger.WarnContext(ctx, "dropping queue message without workflow_id")

		return
	}

	execution, err := t.frontDoor.Request(ctx, message.WorkflowID, models.TriggerTypeQueue, message.Inputs)
	if err != nil {
		t.logger.ErrorContext(ctx, "failed to request execution for queue message",
			"workflow_id", message.WorkflowID,
			"error", err)

		return
	}

	t.logger.InfoContext(ctx, "queue message dispatched",
		"workflow_id", message.WorkflowID,
		"execution_id", execution.ID)
}

// Stop halts the consumer and closes the Redis connection.
func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "stopping queue trigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.logger.ErrorContext(ctx, "error closing Redis client", "error", err)
		}
	}

	return nil
}
