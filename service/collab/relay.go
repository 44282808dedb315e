package collab

import (
	"context"
	"encoding/json"

	"PCollab/logger"
	"PCollab/service/natsx"
	"PCollab/tools/errs"

	"go.uber.org/zap"
)

const (
	relayBiz     = "collab_relay"
	originHeader = "Collab-Origin"
)

// NatsRelay 用 NATS Core 在网关节点间广播房间消息：
// 发布到 <prefix>.<object_id>，订阅 <prefix>.>，忽略本节点发出的消息
type NatsRelay struct {
	mgr    *natsx.NatsManager
	nodeID string
	log    *zap.Logger
}

func NewNatsRelay(mgr *natsx.NatsManager, subjectPrefix, nodeID string) (*NatsRelay, error) {
	if err := mgr.RegisterRoute(natsx.NatsxRoute{Biz: relayBiz, Subject: subjectPrefix + ".>"}); err != nil {
		return nil, err
	}
	return &NatsRelay{mgr: mgr, nodeID: nodeID, log: logger.Named("relay")}, nil
}

func (r *NatsRelay) Publish(ctx context.Context, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return errs.Wrap(err)
	}
	return r.mgr.Publish(ctx, relayBiz, msg.ObjectID, data, map[string]string{originHeader: r.nodeID})
}

func (r *NatsRelay) Subscribe(deliver func(Message)) error {
	return r.mgr.Subscribe(relayBiz, func(_ context.Context, nm natsx.NatsxMessage) error {
		var msg Message
		if err := json.Unmarshal(nm.Data, &msg); err != nil {
			r.log.Warn("drop undecodable relay message", zap.String("subject", nm.Subject), zap.Error(err))
			return nil
		}
		deliver(msg)
		return nil
	}, natsx.SkipHeader(originHeader, r.nodeID))
}

func (r *NatsRelay) Close() error {
	return r.mgr.Unsubscribe(relayBiz)
}
