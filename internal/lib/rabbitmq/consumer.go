package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
)

// ErrDrop сообщает потребителю, что сообщение нельзя обработать и не нужно
// возвращать в очередь.
var ErrDrop = errors.New("drop message")

// Consumer часть amqp.Channel, нужная для чтения очереди.
type Consumer interface {
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// ConsumerMessage читает очередь и передаёт тела сообщений handler до отмены ctx.
// Сообщения обрабатываются по одному. Успех подтверждается Ack, ошибка
// возвращает сообщение в очередь, ErrDrop отбрасывает его.
func ConsumerMessage(ctx context.Context, ch Consumer, queueName string, log *slog.Logger, handler func(context.Context, []byte) error) error {
	const op = "rabbitmq.ConsumerMessage"
	delivery, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-delivery:
			if !ok {
				return fmt.Errorf("%s: delivery channel closed", op)
			}
			handle(ctx, d, log, handler)
		}
	}
}

func handle(ctx context.Context, d amqp.Delivery, log *slog.Logger, handler func(context.Context, []byte) error) {
	log = log.With(slog.String("message_id", d.MessageId))
	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			log.Error("failed to ack message", sl.Err(ackErr))
		}
	case errors.Is(err, ErrDrop):
		log.Warn("message dropped", sl.Err(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	default:
		log.Warn("message requeued", sl.Err(err))
		if nackErr := d.Nack(false, true); nackErr != nil {
			log.Error("failed to nack message", sl.Err(nackErr))
		}
	}
}
