package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"novel-engine/shared/messaging"
)

const stopTimeout = 30 * time.Second

// TaskProcessor выполняет задачу стадии.
type TaskProcessor interface {
	Handle(ctx context.Context, payload messaging.StageTaskPayload) error
}

var _ TaskProcessor = (*TaskHandler)(nil)

// DeclareTopology объявляет очередь задач с DLX/DLQ и очередь уведомлений.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		messaging.StageTaskDLXName, // name
		"direct",                   // type
		true,                       // durable
		false,                      // auto-deleted
		false,                      // internal
		false,                      // no-wait
		nil,                        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare DLX '%s': %w", messaging.StageTaskDLXName, err)
	}
	if _, err := ch.QueueDeclare(messaging.StageTaskDLQName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ '%s': %w", messaging.StageTaskDLQName, err)
	}
	if err := ch.QueueBind(messaging.StageTaskDLQName, messaging.StageTaskDLQRoutingKey, messaging.StageTaskDLXName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ '%s': %w", messaging.StageTaskDLQName, err)
	}

	taskArgs := amqp.Table{
		"x-queue-mode":              "lazy",
		"x-dead-letter-exchange":    messaging.StageTaskDLXName,
		"x-dead-letter-routing-key": messaging.StageTaskDLQRoutingKey,
	}
	if _, err := ch.QueueDeclare(messaging.StageTaskQueueName, true, false, false, false, taskArgs); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", messaging.StageTaskQueueName, err)
	}
	if _, err := ch.QueueDeclare(messaging.StageNotificationQueueName, true, false, false, false,
		amqp.Table{"x-queue-mode": "lazy"}); err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", messaging.StageNotificationQueueName, err)
	}
	return nil
}

// Consumer читает задачи стадий из RabbitMQ и передает их обработчику.
// Задачи разных историй обрабатываются параллельно до concurrency штук.
type Consumer struct {
	channel     *amqp.Channel
	processor   TaskProcessor
	concurrency int
	consumerTag string
	logger      *zap.Logger
	wg          sync.WaitGroup
}

// NewConsumer создает консьюмера очереди задач.
func NewConsumer(ch *amqp.Channel, processor TaskProcessor, concurrency int, logger *zap.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		channel:     ch,
		processor:   processor,
		concurrency: concurrency,
		consumerTag: appID,
		logger:      logger.Named("StageConsumer"),
	}
}

// Start регистрирует подписку и запускает обработчики.
// ctx передается в каждую задачу: его отмена прерывает текущие стадии.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.channel.Qos(c.concurrency, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}
	msgs, err := c.channel.Consume(
		messaging.StageTaskQueueName, // queue
		c.consumerTag,                // consumer
		false,                        // auto-ack
		false,                        // exclusive
		false,                        // no-local
		false,                        // no-wait
		nil,                          // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for msg := range msgs {
				c.handleDelivery(ctx, msg)
			}
		}()
	}
	c.logger.Info("Stage consumer started",
		zap.String("queue", messaging.StageTaskQueueName),
		zap.Int("concurrency", c.concurrency))
	return nil
}

// handleDelivery разбирает сообщение и подтверждает его по результату обработки.
// Ошибки в задаче уходят в DLQ, прерванные остановкой задачи возвращаются в очередь.
func (c *Consumer) handleDelivery(ctx context.Context, msg amqp.Delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic recovered while handling stage task", zap.Any("panic", r))
			incTaskFailed("panic")
			_ = msg.Nack(false, false)
		}
	}()

	var payload messaging.StageTaskPayload
	if err := json.Unmarshal(msg.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal stage task, rejecting", zap.Error(err))
		incTaskFailed("deserialization")
		_ = msg.Nack(false, false)
		return
	}

	err := c.processor.Handle(ctx, payload)
	switch {
	case err == nil:
		if ackErr := msg.Ack(false); ackErr != nil {
			c.logger.Warn("Failed to ack stage task", zap.String("task_id", payload.TaskID), zap.Error(ackErr))
		}
	case ctx.Err() != nil && !IsRejected(err):
		c.logger.Info("Stage task interrupted by shutdown, requeueing", zap.String("task_id", payload.TaskID))
		_ = msg.Nack(false, true)
	default:
		c.logger.Warn("Stage task failed, rejecting without requeue",
			zap.String("task_id", payload.TaskID),
			zap.Bool("contract_error", IsRejected(err)),
			zap.Error(err))
		_ = msg.Nack(false, false)
	}
}

// Stop отменяет подписку и ждет завершения текущих задач.
func (c *Consumer) Stop() error {
	c.logger.Info("Stopping stage consumer")
	if err := c.channel.Cancel(c.consumerTag, false); err != nil {
		c.logger.Warn("Failed to cancel consumer", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("Stage consumer stopped")
		return nil
	case <-time.After(stopTimeout):
		return errors.New("timeout waiting for stage consumer to stop")
	}
}
