package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"stardiscover/internal/domain"
	"stardiscover/internal/infra/metrics"
)

// RabbitJobQueue реализует очередь задач пайплайна поверх AMQP.
// Сообщения публикуются в default exchange с routing key по имени очереди.
type RabbitJobQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	deliveries <-chan amqp.Delivery
}

// NewRabbitJobQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitJobQueue(amqpURL, queueName string) (*RabbitJobQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queueName == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	return &RabbitJobQueue{conn: conn, ch: ch, queue: queueName}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitJobQueue) Enqueue(ctx context.Context, job domain.PipelineJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди. Сообщение подтверждается
// после успешного декодирования; неразбираемое уходит в отказ без requeue.
func (q *RabbitJobQueue) Pop(ctx context.Context) (domain.PipelineJob, error) {
	if q.deliveries == nil {
		deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
		if err != nil {
			return domain.PipelineJob{}, fmt.Errorf("consume: %w", err)
		}
		q.deliveries = deliveries
	}

	for {
		select {
		case <-ctx.Done():
			return domain.PipelineJob{}, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return domain.PipelineJob{}, errors.New("amqp queue: канал доставки закрыт")
			}
			var job domain.PipelineJob
			if err := json.Unmarshal(d.Body, &job); err != nil {
				if nackErr := d.Nack(false, false); nackErr != nil {
					return domain.PipelineJob{}, fmt.Errorf("nack message: %w", nackErr)
				}
				return domain.PipelineJob{}, fmt.Errorf("decode job: %w", err)
			}
			if err := d.Ack(false); err != nil {
				return domain.PipelineJob{}, fmt.Errorf("ack message: %w", err)
			}
			return job, nil
		}
	}
}

// Close закрывает канал и соединение с брокером.
func (q *RabbitJobQueue) Close() error {
	var errs []error
	if err := q.ch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := q.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
