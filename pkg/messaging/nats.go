// pkg/messaging/nats.go
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// NATSClient NATS JetStream任务队列
type NATSClient struct {
	conn       *nats.Conn
	jetStream  jetstream.JetStream
	stream     string
	maxDeliver int
	logger     *zap.Logger
	wg         sync.WaitGroup
}

// ConsumerSpec 持久化拉取消费者配置
type ConsumerSpec struct {
	Name    string
	Subject string
	// 超过AckWait未确认会重新投递，应大于任务硬超时
	AckWait time.Duration
	// 与其他消费者共享的并发额度，为nil时串行处理
	Slots *semaphore.Weighted
}

// NewNATSClient 连接NATS并创建FILINGS和NOTIFICATIONS两个Stream
func NewNATSClient(ctx context.Context, url, stream string, maxDeliver int, logger *zap.Logger) (*NATSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("filingradar"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS连接断开", zap.Error(err))
		}),
		nats.ReconnectHandler(func(*nats.Conn) {
			logger.Info("NATS重新连接成功")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("连接NATS失败: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("创建JetStream失败: %w", err)
	}

	if stream == "" {
		stream = "FILINGS"
	}
	if maxDeliver <= 0 {
		maxDeliver = 10
	}
	c := &NATSClient{conn: nc, jetStream: js, stream: stream, maxDeliver: maxDeliver, logger: logger}
	if err := c.setupStreams(ctx); err != nil {
		nc.Close()
		return nil, err
	}
	return c, nil
}

func (c *NATSClient) setupStreams(ctx context.Context) error {
	streams := []jetstream.StreamConfig{
		{
			Name:        c.stream,
			Subjects:    []string{SubjectProcess, SubjectNotify},
			Description: "filing处理任务队列",
			Retention:   jetstream.WorkQueuePolicy,
			Storage:     jetstream.FileStorage,
			MaxAge:      7 * 24 * time.Hour,
			Duplicates:  DuplicateWindow,
		},
		{
			Name:        "NOTIFICATIONS",
			Subjects:    []string{"notifications.*"},
			Description: "filing通知事件",
			Retention:   jetstream.LimitsPolicy,
			MaxMsgs:     100000,
			MaxAge:      30 * 24 * time.Hour,
		},
	}
	for _, cfg := range streams {
		if _, err := c.jetStream.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("创建/更新Stream %s 失败: %w", cfg.Name, err)
		}
		c.logger.Info("Stream设置成功", zap.String("stream", cfg.Name))
	}
	return nil
}

// Publish 序列化后发布，等待JetStream确认。载荷实现Deduplicated时设置Nats-Msg-Id
func (c *NATSClient) Publish(ctx context.Context, subject string, v any) error {
	var opts []jetstream.PublishOpt
	if d, ok := v.(Deduplicated); ok {
		if id := d.MsgID(); id != "" {
			opts = append(opts, jetstream.WithMsgID(id))
		}
	}

	var payload []byte
	switch d := v.(type) {
	case []byte:
		payload = d
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("序列化数据失败: %w", err)
		}
		payload = b
	}

	ack, err := c.jetStream.Publish(ctx, subject, payload, opts...)
	if err != nil {
		return fmt.Errorf("发布消息到 %s 失败: %w", subject, err)
	}
	if ack.Duplicate {
		c.logger.Debug("重复消息已合并", zap.String("subject", subject))
		return nil
	}
	c.logger.Debug("发布消息", zap.String("subject", subject), zap.Int("bytes", len(payload)))
	return nil
}

// Consume 创建持久化拉取消费者并处理消息，直到ctx取消
func (c *NATSClient) Consume(ctx context.Context, spec ConsumerSpec, handler Handler) error {
	if spec.AckWait <= 0 {
		spec.AckWait = 11 * time.Minute
	}
	consumer, err := c.jetStream.CreateOrUpdateConsumer(ctx, c.stream, jetstream.ConsumerConfig{
		Durable:       spec.Name,
		Description:   fmt.Sprintf("%s 消费者", spec.Name),
		FilterSubject: spec.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckWait:       spec.AckWait,
		MaxDeliver:    c.maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("创建消费者 %s 失败: %w", spec.Name, err)
	}

	iter, err := consumer.Messages(jetstream.PullMaxMessages(10))
	if err != nil {
		return fmt.Errorf("获取 %s 消息迭代器失败: %w", spec.Name, err)
	}
	stop := context.AfterFunc(ctx, iter.Stop)
	defer stop()

	log := c.logger.With(zap.String("consumer", spec.Name))
	log.Info("开始消费", zap.String("subject", spec.Subject))

	for {
		if spec.Slots != nil {
			if err := spec.Slots.Acquire(ctx, 1); err != nil {
				break
			}
		}
		msg, err := iter.Next()
		if err != nil {
			if spec.Slots != nil {
				spec.Slots.Release(1)
			}
			if errors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
				break
			}
			log.Warn("获取消息失败", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}

		c.wg.Add(1)
		run := func() {
			defer c.wg.Done()
			if spec.Slots != nil {
				defer spec.Slots.Release(1)
			}
			c.dispatch(ctx, log, msg, handler)
		}
		if spec.Slots != nil {
			go run()
		} else {
			run()
		}
	}

	log.Info("消费者停止")
	return nil
}

func (c *NATSClient) dispatch(ctx context.Context, log *zap.Logger, msg jetstream.Msg, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("处理消息panic", zap.Any("panic", r))
			_ = msg.Nak()
		}
	}()

	if wait, ok := deferUntil(msg.Data(), time.Now()); ok {
		if err := msg.NakWithDelay(wait); err != nil {
			log.Warn("延迟消息失败", zap.Error(err))
		}
		return
	}

	m := Message{Subject: msg.Subject(), Data: msg.Data()}
	if md, err := msg.Metadata(); err == nil {
		m.Delivered = md.NumDelivered
	}

	d := handler(ctx, m)
	var err error
	switch d.Action {
	case Ack:
		err = msg.Ack()
	case Nak:
		err = msg.NakWithDelay(d.Delay)
	case Term:
		err = msg.Term()
	}
	if err != nil {
		log.Warn("确认消息失败", zap.Stringer("action", d.Action), zap.Error(err))
	}
}

// Close 等待处理中的消息后关闭连接
func (c *NATSClient) Close() error {
	c.wg.Wait()
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
	c.logger.Info("NATS连接已关闭")
	return nil
}

// IsConnected 检查连接状态
func (c *NATSClient) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// GetStats 获取连接统计信息
func (c *NATSClient) GetStats() nats.Statistics {
	if c.conn != nil {
		return c.conn.Stats()
	}
	return nats.Statistics{}
}
