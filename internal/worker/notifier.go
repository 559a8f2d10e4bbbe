package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"novel-engine/shared/messaging"
)

const appID = "story-worker"

// Notifier отправляет уведомления о завершении задач.
type Notifier interface {
	Notify(ctx context.Context, payload messaging.StageNotificationPayload) error
}

// Publisher - часть amqp.Channel, нужная для публикации.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// RabbitMQNotifier публикует уведомления в очередь RabbitMQ.
// Канал открывается и закрывается вызывающим кодом.
type RabbitMQNotifier struct {
	channel   Publisher
	queueName string
	logger    *zap.Logger
}

var _ Notifier = (*RabbitMQNotifier)(nil)

// NewRabbitMQNotifier создает notifier для уже объявленной очереди.
func NewRabbitMQNotifier(ch Publisher, queueName string, logger *zap.Logger) *RabbitMQNotifier {
	return &RabbitMQNotifier{
		channel:   ch,
		queueName: queueName,
		logger:    logger.Named("RabbitMQNotifier"),
	}
}

// Notify публикует уведомление как persistent JSON-сообщение.
func (n *RabbitMQNotifier) Notify(ctx context.Context, payload messaging.StageNotificationPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal notification for task %s: %w", payload.TaskID, err)
	}

	err = n.channel.PublishWithContext(ctx,
		"",
		n.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
			Timestamp:    time.Now(),
			AppId:        appID,
			MessageId:    payload.TaskID + "-notif",
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish notification for task %s: %w", payload.TaskID, err)
	}

	n.logger.Debug("Notification published",
		zap.String("task_id", payload.TaskID),
		zap.String("queue", n.queueName),
		zap.String("status", string(payload.Status)))
	return nil
}
