package kafka

import (
	"errors"

	"PCollab/logger"
	"PCollab/tools/errs"

	"github.com/Shopify/sarama"
)

// topicAdmin sarama.ClusterAdmin 的子集
type topicAdmin interface {
	DescribeTopics(topics []string) ([]*sarama.TopicMetadata, error)
	CreateTopic(topic string, detail *sarama.TopicDetail, validateOnly bool) error
	CreatePartitions(topic string, count int32, assignment [][]int32, validateOnly bool) error
}

// EnsureTopic 不存在就创建；已存在且分区数不足时扩分区（Kafka 只能增加分区）
func EnsureTopic(admin topicAdmin, topic string, partitions int32, rf int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if rf <= 0 {
		rf = 1
	}
	descs, err := admin.DescribeTopics([]string{topic})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", topic)
	}
	exists := len(descs) == 1 && errors.Is(descs[0].Err, sarama.ErrNoError)

	minISR := "1"
	if rf >= 3 {
		minISR = "2"
	}

	if !exists {
		td := &sarama.TopicDetail{
			NumPartitions:     partitions,
			ReplicationFactor: rf,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
				"compression.type":               strPtr("producer"),
			},
		}
		if err := admin.CreateTopic(topic, td, false); err != nil {
			var te *sarama.TopicError
			if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
				logger.Infof("[Topic] exists (race): %s", topic)
				return nil
			}
			if errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Infof("[Topic] exists (race): %s", topic)
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", topic)
		}
		logger.Infof("[Topic] created: %s (partitions=%d, rf=%d)", topic, partitions, rf)
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if partitions > cur {
		if err := admin.CreatePartitions(topic, partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", topic, "from", cur, "to", partitions)
		}
		logger.Infof("[Topic] partitions expanded: %s (%d -> %d)", topic, cur, partitions)
		return nil
	}
	logger.Infof("[Topic] exists: %s (partitions=%d)", topic, cur)
	return nil
}

func strPtr(s string) *string { return &s }
