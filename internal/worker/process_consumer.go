package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"gopherai-docqa/internal/model"
	"gopherai-docqa/internal/platform/rabbitmq"
)

// ProcessConsumer consumes ProcessTask messages from RabbitMQ.
type ProcessConsumer struct {
	conn      *amqp.Connection
	queueName string
	workers   int
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewProcessConsumer(conn *amqp.Connection, queueName string, workers int, logger *slog.Logger) *ProcessConsumer {
	if workers <= 0 {
		workers = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessConsumer{
		conn:      conn,
		queueName: queueName,
		workers:   workers,
		logger:    logger,
	}
}

func (c *ProcessConsumer) Start(ctx context.Context, handler Handler) error {
	if c.cancel != nil {
		return nil
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, c.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(c.workers, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker prefetch failed: %w", err)
	}

	deliveries, err := ch.Consume(
		c.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	var consumers sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		consumers.Add(1)
		go func(id int) {
			defer consumers.Done()
			c.consume(workerCtx, c.logger.With("worker", id), deliveries, handler)
		}(i)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consumers.Wait()
		_ = ch.Close()
	}()
	return nil
}

func (c *ProcessConsumer) consume(ctx context.Context, logger *slog.Logger, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}

			var task model.ProcessTask
			if err := json.Unmarshal(d.Body, &task); err != nil || task.DocumentID == "" {
				logger.Error("worker decode task failed", "error", err)
				_ = d.Nack(false, false)
				continue
			}

			run(ctx, logger, handler, task)
			_ = d.Ack(false)
		}
	}
}

func (c *ProcessConsumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}
