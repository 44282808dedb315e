package kafka

import (
	"PCollab/global/config"
	"PCollab/tools/errs"

	"github.com/Shopify/sarama"
)

// Client 持有 sarama client 与同步生产者，Close 时一并释放
type Client struct {
	client   sarama.Client
	Producer sarama.SyncProducer

	brokers []string
	cfg     *sarama.Config
}

func NewClient(kc config.KafkaConfig) (*Client, error) {
	if len(kc.Brokers) == 0 {
		return nil, errs.New("kafka brokers missing")
	}
	cfg := BuildBaseConfig(kc)
	c, err := sarama.NewClient(kc.Brokers, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka client", "brokers", kc.Brokers)
	}
	p, err := sarama.NewSyncProducerFromClient(c)
	if err != nil {
		_ = c.Close()
		return nil, errs.WrapMsg(err, "kafka sync producer")
	}
	return &Client{client: c, Producer: p, brokers: kc.Brokers, cfg: cfg}, nil
}

// Admin 独立连接的管理端（建 topic 用），调用方负责 Close。
// 不能复用 c.client：ClusterAdmin.Close 会连带关闭底层 client
func (c *Client) Admin() (sarama.ClusterAdmin, error) {
	admin, err := sarama.NewClusterAdmin(c.brokers, c.cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka cluster admin", "brokers", c.brokers)
	}
	return admin, nil
}

func (c *Client) Close() error {
	if err := c.Producer.Close(); err != nil {
		_ = c.client.Close()
		return err
	}
	return c.client.Close()
}
