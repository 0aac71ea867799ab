package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// NoticeQueue is the queue notices are published to.
const NoticeQueue = "storefront.notices"

// Publisher is the subset of *amqp.Channel used for publishing.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes notices as persistent JSON messages.
type AMQPNotifier struct {
	pub   Publisher
	queue string
}

// NewAMQPNotifier builds a notifier on an open channel.
func NewAMQPNotifier(pub Publisher, queue string) *AMQPNotifier {
	if queue == "" {
		queue = NoticeQueue
	}
	return &AMQPNotifier{pub: pub, queue: queue}
}

// DeclareNoticeQueue declares the durable notice queue on ch.
func DeclareNoticeQueue(ch *amqp.Channel, queue string) error {
	if queue == "" {
		queue = NoticeQueue
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", queue, err)
	}
	return nil
}

// Send publishes message to the default exchange, routed by queue name.
func (n *AMQPNotifier) Send(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode notice: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         message.Kind,
		Body:         body,
	}
	if err := n.pub.PublishWithContext(ctx, "", n.queue, false, false, pub); err != nil {
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}
