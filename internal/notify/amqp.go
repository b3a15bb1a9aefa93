package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const (
	InviteEventType = "meetings.invite.v1"
	producer        = "convene"
)

// Meta describes an event on the bus.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Producer      *string   `json:"producer,omitempty"`
	Time          time.Time `json:"time"`
	Type          string    `json:"type"`
}

type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

// NewInviteEnvelope wraps an invite; the meeting id doubles as correlation id
// so the mailer can group retries of the same booking.
func NewInviteEnvelope(invite Invite, now time.Time) Envelope {
	cid := invite.MeetingID
	p := producer
	return Envelope{
		Meta: Meta{
			ID:            uuid.NewString(),
			CorrelationID: &cid,
			Producer:      &p,
			Time:          now.UTC(),
			Type:          InviteEventType,
		},
		Data: invite,
	}
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQP publishes invite envelopes to a topic exchange, where a mailer
// service delivers them to every attendee.
type AMQP struct {
	conn        *amqp091.Connection
	openChannel func() (channel, error)
	exchange    string
	routingKey  string
	now         func() time.Time
	logger      *slog.Logger
}

// DialAMQP connects with exponential backoff and declares a durable topic exchange.
func DialAMQP(ctx context.Context, url, exchange, routingKey string, attempts int, logger *slog.Logger) (*AMQP, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if attempts < 1 {
		attempts = 1
	}

	var conn *amqp091.Connection
	var err error
	for i := 1; i <= attempts; i++ {
		conn, err = amqp091.Dial(url)
		if err == nil {
			break
		}
		if i == attempts {
			return nil, fmt.Errorf("connecting to broker after %d attempts: %w", attempts, err)
		}
		sleep := time.Duration(math.Pow(2, float64(i-1))) * time.Second
		logger.Warn("broker dial failed", "attempt", i, "sleep", sleep, "error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-time.After(sleep):
		}
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange %s: %w", exchange, err)
	}

	a := newAMQP(func() (channel, error) { return conn.Channel() }, exchange, routingKey, logger)
	a.conn = conn
	return a, nil
}

func newAMQP(open func() (channel, error), exchange, routingKey string, logger *slog.Logger) *AMQP {
	if routingKey == "" {
		routingKey = InviteEventType
	}
	return &AMQP{
		openChannel: open,
		exchange:    exchange,
		routingKey:  routingKey,
		now:         time.Now,
		logger:      logger,
	}
}

func (a *AMQP) Notify(ctx context.Context, invite Invite) error {
	env := NewInviteEnvelope(invite, a.now())
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding invite: %w", err)
	}

	ch, err := a.openChannel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, a.exchange, a.routingKey, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: *env.Meta.CorrelationID,
		Timestamp:     env.Meta.Time,
		Type:          env.Meta.Type,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publishing invite for %s: %w", invite.MeetingID, err)
	}
	a.logger.Info("invite published", "key", a.routingKey, "exchange", a.exchange, "meeting", invite.MeetingID)
	return nil
}

func (a *AMQP) Close() error {
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}
