package exporter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"evalcollab/internal/activity/model"
	"evalcollab/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// channel is the slice of *amqp.Channel the exporter needs.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPExporter publishes every logged feed item to a topic exchange, routed
// by "activity.<type>". With no URL it is disabled and drops items.
type AMQPExporter struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  channel
	exchange string
	enabled  bool
}

func NewAMQPExporter(url, exchange string) (*AMQPExporter, error) {
	if url == "" {
		logger.Sugar.Warn("RabbitMQ URL is empty, activity export is disabled")
		return &AMQPExporter{exchange: exchange}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Sugar.Infof("Activity exporter publishing to exchange %s", exchange)
	return &AMQPExporter{conn: conn, channel: ch, exchange: exchange, enabled: true}, nil
}

func (e *AMQPExporter) Enabled() bool { return e.enabled }

func RoutingKey(t model.Type) string { return "activity." + string(t) }

func (e *AMQPExporter) Export(ctx context.Context, item *model.FeedItem) error {
	if !e.enabled {
		return nil
	}

	body, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal feed item: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err = e.channel.PublishWithContext(ctx, e.exchange, RoutingKey(item.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    item.ID,
		Body:         body,
		Headers: amqp.Table{
			"activity_type": string(item.Type),
			"assessment_id": item.AssessmentID,
			"user_id":       item.UserID,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish feed item %s: %w", item.ID, err)
	}
	return nil
}

func (e *AMQPExporter) Close() error {
	if !e.enabled {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.channel != nil {
		if err := e.channel.Close(); err != nil {
			logger.Sugar.Warnf("Failed to close AMQP channel: %v", err)
		}
	}
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}
