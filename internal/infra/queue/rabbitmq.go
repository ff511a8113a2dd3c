package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/domain"
	"github.com/NhuanTDBK/hn-recap-tool-sub000/internal/infra/metrics"
)

// amqpChannel — операции AMQP-канала, которые нужны очереди.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// RabbitRunQueue реализует очередь задач прогона через AMQP.
type RabbitRunQueue struct {
	conn    *amqp.Connection
	channel amqpChannel
	queue   string

	// Подписка регистрируется один раз: каждый вызов Consume создаёт
	// на канале нового потребителя, между которыми брокер делит
	// сообщения, и доставки брошенных потребителей зависают без ack.
	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
}

// NewRabbitRunQueue подключается к RabbitMQ и объявляет устойчивую
// очередь.
func NewRabbitRunQueue(amqpURL, queue string) (*RabbitRunQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitRunQueue{conn: conn, channel: channel, queue: queue}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitRunQueue) Enqueue(ctx context.Context, job domain.RunJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.channel.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// subscribe лениво регистрирует единственного потребителя и переиспользует
// его канал доставок во всех последующих Pop.
func (q *RabbitRunQueue) subscribe() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.deliveries == nil {
		deliveries, err := q.channel.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}
	return q.deliveries, nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitRunQueue) Pop(ctx context.Context) (domain.RunJob, error) {
	deliveries, err := q.subscribe()
	if err != nil {
		return domain.RunJob{}, err
	}
	select {
	case <-ctx.Done():
		return domain.RunJob{}, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return domain.RunJob{}, errors.New("amqp queue: канал доставки закрыт")
		}
		var job domain.RunJob
		if err := json.Unmarshal(d.Body, &job); err != nil {
			_ = d.Nack(false, false)
			return domain.RunJob{}, fmt.Errorf("decode job: %w", err)
		}
		if err := d.Ack(false); err != nil {
			return domain.RunJob{}, fmt.Errorf("ack job: %w", err)
		}
		return job, nil
	}
}

// Close освобождает соединение.
func (q *RabbitRunQueue) Close() error {
	err := q.channel.Close()
	if q.conn != nil {
		if cerr := q.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
