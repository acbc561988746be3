package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/user/moovie-reviews/internal/model"
)

// EventPublisher 把新建的事件广播到外部，失败只记录日志
type EventPublisher interface {
	Publish(ctx context.Context, event *model.Event) error
	Close() error
}

// NoopPublisher 未配置消息队列时使用
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, *model.Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// AMQPPublisher 发布到 RabbitMQ 的持久化队列
type AMQPPublisher struct {
	conn  *amqp.Connection
	queue string

	mu sync.Mutex
	ch *amqp.Channel
}

// NewAMQPPublisher 连接 RabbitMQ 并声明队列
func NewAMQPPublisher(url, queue string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq 连接失败: %w", err)
	}
	p := &AMQPPublisher{conn: conn, queue: queue}
	if err := p.openChannel(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) openChannel() error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq 打开 channel 失败: %w", err)
	}
	// 持久化队列，broker 重启后消息不丢
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("rabbitmq 声明队列失败: %w", err)
	}
	p.ch = ch
	return nil
}

// Publish 发布事件，channel 已关闭时重新打开一次
func (p *AMQPPublisher) Publish(ctx context.Context, event *model.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.ch.IsClosed() {
		if err := p.openChannel(); err != nil {
			return err
		}
	}

	return p.ch.PublishWithContext(ctx, "", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         event.Type,
		Timestamp:    event.CreatedAt,
		Body:         body,
	})
}

// Close 关闭连接
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	return p.conn.Close()
}
