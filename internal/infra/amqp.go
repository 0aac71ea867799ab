package infra

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is an open AMQP connection with one publishing channel.
type Broker struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
}

// NewBroker dials the broker and opens a channel.
func NewBroker(url string) (*Broker, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &Broker{Conn: conn, Channel: ch}, nil
}

// Healthy reports whether the connection is still open.
func (b *Broker) Healthy() bool {
	return b != nil && b.Conn != nil && !b.Conn.IsClosed()
}

// Close closes the channel and the connection.
func (b *Broker) Close() error {
	if b == nil {
		return nil
	}
	if b.Channel != nil {
		_ = b.Channel.Close()
	}
	if b.Conn != nil {
		return b.Conn.Close()
	}
	return nil
}
