package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seiixin/PakbetTV-sub001/internal/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

type Notifier interface {
	Publish(ctx context.Context, evt Event) error
}

// channel is the subset of *amqp.Channel the publisher needs.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares a durable topic exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, evt Event) error {
	log := logger.FromCtx(ctx).With(
		zap.String("layer", "notification"),
		zap.String("method", "Publish"),
		zap.String("event", string(evt.Type)),
		zap.Uint("order_id", evt.OrderID),
	)

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.ch.Publish(p.exchange, string(evt.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	})
	if err != nil {
		log.Error("publish failed", zap.Error(err))
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}

	log.Debug("event published")
	return nil
}

func (p *AMQPPublisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// LogNotifier writes events to the request logger. Used when no broker is
// configured.
type LogNotifier struct{}

func (LogNotifier) Publish(ctx context.Context, evt Event) error {
	logger.FromCtx(ctx).Info("order event",
		zap.String("event", string(evt.Type)),
		zap.Uint("order_id", evt.OrderID),
		zap.String("order_code", evt.OrderCode),
		zap.String("reason", evt.Reason),
	)
	return nil
}
