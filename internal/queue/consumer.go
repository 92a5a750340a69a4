package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const confirmedQueueName = "reservation.confirmed"

// StartConfirmationConsumer connects to RabbitMQ and consumes
// reservation.confirmed events, emitting one structured log line per
// reservation.  In production a notification service sits here; this
// consumer is the in-repo stand-in that keeps the contract exercised.
// It runs a reconnect loop with exponential backoff and never returns
// under normal operation; failed messages are rejected without requeue
// to avoid tight redelivery loops.
func StartConfirmationConsumer(url string, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	backoff := time.Second
	for {
		conn, err := amqp.Dial(url)
		if err != nil {
			log.Warn("broker dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeLoop(conn, log); err != nil {
			log.Warn("consume loop ended, reconnecting", zap.Error(err))
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeLoop(conn *amqp.Connection, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Warn("set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(confirmedQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(confirmedQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		var ev ReservationConfirmedEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			log.Warn("bad event payload", zap.Error(err))
			_ = d.Nack(false, false)
			continue
		}
		log.Info("reservation confirmed",
			zap.String("reservation_id", ev.ReservationID),
			zap.Uint64("client_id", ev.ClientID),
			zap.Uint64("show_id", ev.ShowID),
			zap.Uint64s("seat_ids", ev.SeatIDs),
			zap.String("confirmed_at", ev.ConfirmedAt))
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}
