// Package amqp is the production broker.Broker backend: each workload
// queue is a durable RabbitMQ queue with a per-queue dead-letter exchange,
// and visibility timeout is enforced with the same local-timer technique
// as the in-memory backend (RabbitMQ has no native per-message visibility
// deadline the way SQS does) so both backends satisfy identical
// behavior. Send and Receive run through a circuit breaker so a
// flapping broker connection fails fast instead of piling up goroutines
// waiting on a dead socket; Ack, Nack and channel opening do not.
package amqp

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"

	"github.com/webitel/journal-sync/internal/broker"
	"github.com/webitel/journal-sync/internal/clock"
)

const dlxName = "journal-sync.dlx"

// Broker is the RabbitMQ-backed broker.Broker.
type Broker struct {
	conn   *amqp.Connection
	clock  clock.Clock
	logger *slog.Logger
	cb     *gobreaker.CircuitBreaker

	mu     sync.Mutex
	queues map[string]*Queue
	dlq    *Queue
}

// Dial connects to the AMQP broker at url and declares the five workload
// queues plus the shared dead-letter queue.
func Dial(url string, clk clock.Clock, logger *slog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp broker: dial: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}

	b := &Broker{
		conn:   conn,
		clock:  clk,
		logger: logger,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "amqp-broker",
			MaxRequests: 1,
			Interval:    30 * time.Second,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
		queues: make(map[string]*Queue),
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp broker: channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(dlxName, "direct", true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp broker: declare dlx: %w", err)
	}

	if _, err := declareQueue(ch, broker.DeadLetters, ""); err != nil {
		return nil, err
	}
	b.dlq = newQueue(b, broker.DeadLetters, broker.Policy{VisibilityTimeout: time.Hour, MaxRedelivery: 1 << 30}, nil)

	for name, policy := range broker.Policies {
		if _, err := declareQueue(ch, name, dlxName); err != nil {
			return nil, err
		}
		b.queues[name] = newQueue(b, name, policy, b.dlq)
	}

	return b, nil
}

func declareQueue(ch *amqp.Channel, name, dlx string) (amqp.Queue, error) {
	args := amqp.Table{}
	if dlx != "" {
		args["x-dead-letter-exchange"] = dlx
		args["x-dead-letter-routing-key"] = name
	}
	return ch.QueueDeclare(name, true, false, false, false, args)
}

func (b *Broker) Queue(name string) (broker.Queue, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[name]
	if !ok {
		return nil, fmt.Errorf("amqp broker: unknown queue %q", name)
	}
	return q, nil
}

func (b *Broker) DeadLetters() broker.Queue { return b.dlq }

func (b *Broker) Close() error {
	return b.conn.Close()
}

// withBreaker executes fn through the circuit breaker, classifying the
// result as a Transient failure for retry purposes (§7).
func (b *Broker) withBreaker(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	return err
}
