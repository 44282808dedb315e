package natsx

import (
	"context"

	"PCollab/tools/errs"
)

// NatsManager 统一门面：对外只暴露这一个对象来用
type NatsManager struct {
	client   *NatsxClient
	producer *NatsxProducer
	consumer *NatsxConsumer
}

// NewNatsManager 初始化
func NewNatsManager(cfg NatsxConfig, middlewares ...NatsxMiddleware) (*NatsManager, error) {
	c, err := NewNatsxClient(cfg)
	if err != nil {
		return nil, err
	}
	m := &NatsManager{
		client:   c,
		producer: NewNatsxProducer(c),
		consumer: NewNatsxConsumer(c, middlewares...),
	}
	return m, nil
}

// Close 释放资源（优雅关闭订阅与连接）
func (m *NatsManager) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// RegisterRoute 注册业务路由（biz -> subject / queue）
func (m *NatsManager) RegisterRoute(r NatsxRoute) error {
	if m == nil || m.client == nil {
		return errs.New("nats manager not initialized")
	}
	return m.client.RegisterRoute(r)
}

// Publish 生产消息（按 biz 路由）
func (m *NatsManager) Publish(ctx context.Context, biz, token string, data []byte, hdr map[string]string) error {
	if m == nil || m.producer == nil {
		return errs.New("nats manager not initialized")
	}
	return m.producer.Publish(ctx, biz, token, data, hdr)
}

// Subscribe 订阅，extra 只作用于这一条订阅
func (m *NatsManager) Subscribe(biz string, h NatsxHandler, extra ...NatsxMiddleware) error {
	if m == nil || m.consumer == nil {
		return errs.New("nats manager not initialized")
	}
	return m.consumer.Subscribe(biz, h, extra...)
}

// Unsubscribe 取消订阅
func (m *NatsManager) Unsubscribe(biz string) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Unsubscribe(biz)
}
