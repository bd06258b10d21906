// Package queue publishes confirmed reservations to RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/service/reservation"
)

// ReservationQueue is the durable queue confirmed reservations land in.
const ReservationQueue = "reservation.confirmed"

// Event is the message body.
type Event struct {
	ID string `json:"id"`
	reservation.Confirmation
}

// Publisher sends one message per confirmed reservation. It dials per
// publish; reservations are rare and this survives broker restarts without a
// reconnect loop.
type Publisher struct {
	url   string
	queue string
	dial  func(url string, cfg amqp.Config) (*amqp.Connection, error)
}

// dialTimeout bounds the TCP connect and AMQP handshake.
const dialTimeout = 5 * time.Second

var _ reservation.Notifier = (*Publisher)(nil)

// NewPublisher returns a publisher for the broker at url.
func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, queue: ReservationQueue, dial: amqp.DialConfig}
}

// ReservationConfirmed publishes c as a persistent JSON message.
func (p *Publisher) ReservationConfirmed(ctx context.Context, c reservation.Confirmation) error {
	body, err := Encode(c)
	if err != nil {
		return err
	}

	timeout, err := connectTimeout(ctx)
	if err != nil {
		return errors.Wrap(err, "rabbitmq: dial failed")
	}
	conn, err := p.dial(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return errors.Wrap(err, "rabbitmq: dial failed")
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return errors.Wrap(err, "rabbitmq: channel open failed")
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		return errors.Wrap(err, "rabbitmq: queue declare failed")
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		p.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return errors.Wrap(err, "rabbitmq: publish failed")
	}

	log.WithFields(log.Fields{"queue": p.queue, "item": c.ItemKey}).Debug("reservation published")
	return nil
}

// connectTimeout is the time left before ctx's deadline, capped at
// dialTimeout.
func connectTimeout(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return dialTimeout, nil
	}
	left := time.Until(deadline)
	if left <= 0 {
		return 0, context.DeadlineExceeded
	}
	return min(left, dialTimeout), nil
}

// Encode builds the message body with a fresh event id.
func Encode(c reservation.Confirmation) ([]byte, error) {
	body, err := json.Marshal(Event{ID: uuid.NewString(), Confirmation: c})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode reservation event")
	}
	return body, nil
}
