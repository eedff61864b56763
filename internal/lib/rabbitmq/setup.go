package rabbitmq

import (
	"fmt"

	"github.com/streadway/amqp"
)

// Имена объектов брокера для рассылок.
const (
	BroadcastExchange   = "broadcasts"
	BroadcastQueue      = "broadcast.messages"
	BroadcastRoutingKey = "message"
)

// QueueConfig очередь и ключ, которым она привязана к exchange.
type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// BroadcastQueues очереди, которые объявляет бот.
func BroadcastQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: BroadcastQueue, RoutingKey: BroadcastRoutingKey},
	}
}

// SetupChannel открывает канал, объявляет direct exchange и привязывает к нему очереди.
func SetupChannel(conn *amqp.Connection, exchange string, queues []QueueConfig) (*amqp.Channel, error) {
	const op = "rabbitmq.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// Рассылка тяжёлая: одна задача на потребителя.
	if err := ch.Qos(1, 0, false); err != nil {
		return nil, fmt.Errorf("%s: failed to set QoS: %w", op, err)
	}

	err = ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	for _, q := range queues {
		if _, err := ch.QueueDeclare(q.QueueName, true, false, false, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to declare queue %s: %w", op, q.QueueName, err)
		}
		if err := ch.QueueBind(q.QueueName, q.RoutingKey, exchange, false, nil); err != nil {
			return nil, fmt.Errorf("%s: failed to bind queue %s with routing key %s: %w", op, q.QueueName, q.RoutingKey, err)
		}
	}

	return ch, nil
}
