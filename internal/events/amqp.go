package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	amqp "github.com/rabbitmq/amqp091-go"
)

const exchangeType = "topic"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// channelPublisher は*amqp.Channelのうち発行に使う部分。
type channelPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher はtopic exchangeへ貸出イベントをJSONで発行する。
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       channelPublisher
	exchange string
	closeFn  func() error
}

// NewAMQPPublisher は既存のチャネルを使うAMQPPublisherを生成する。
func NewAMQPPublisher(ch channelPublisher, exchange string) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, closeFn: func() error { return nil }}
}

// DialAMQP はブローカーに接続し、exchangeを宣言したAMQPPublisherを返す。
// コンテナ起動直後はブローカーが未準備のことがあるため、数回まで接続を再試行する。
func DialAMQP(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("failed to connect to AMQP broker",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("could not connect to AMQP broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,     // name
		exchangeType, // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("could not declare exchange: %w", err)
	}

	p := NewAMQPPublisher(ch, exchange)
	p.closeFn = func() error {
		ch.Close()
		return conn.Close()
	}
	return p, nil
}

// Publish はイベントをルーティングキー loan.borrowed / loan.returned で発行する。
func (p *AMQPPublisher) Publish(ctx context.Context, event LoanEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("could not marshal loan event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.ch.PublishWithContext(ctx,
		p.exchange,         // exchange
		string(event.Type), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    event.LoanID + ":" + string(event.Type),
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("could not publish loan event: %w", err)
	}
	return nil
}

// Close はチャネルと接続を閉じる。
func (p *AMQPPublisher) Close() error {
	return p.closeFn()
}

var _ Publisher = (*AMQPPublisher)(nil)
