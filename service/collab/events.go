package collab

import (
	"context"
	"time"

	"PCollab/logger"

	"go.uber.org/zap"
)

const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
)

// SessionEvent 会话生命周期事件（Kafka/Mongo）
type SessionEvent struct {
	Type       string `json:"type" bson:"type"`
	SessionID  string `json:"session_id" bson:"session_id"`
	UID        int64  `json:"uid" bson:"uid"`
	ExternalID string `json:"external_id" bson:"external_id"`
	DeviceID   string `json:"device_id" bson:"device_id"`
	NodeID     string `json:"node_id" bson:"node_id"`
	Reason     string `json:"reason,omitempty" bson:"reason,omitempty"`
	CloseCode  int    `json:"close_code,omitempty" bson:"close_code,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty" bson:"duration_ms,omitempty"`
	At         int64  `json:"at" bson:"at"` // 毫秒
}

type EventSink interface {
	Emit(ctx context.Context, ev SessionEvent) error
}

// MultiSink 依次写入，失败只记日志
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, ev SessionEvent) error {
	for _, s := range m {
		if err := s.Emit(ctx, ev); err != nil {
			logger.Warn("emit session event failed",
				zap.String("type", ev.Type),
				zap.String("session_id", ev.SessionID),
				zap.Error(err))
		}
	}
	return nil
}

func ConnectedEvent(s *ClientSession, nodeID string, at time.Time) SessionEvent {
	id := s.Identity()
	return SessionEvent{
		Type:       EventConnected,
		SessionID:  s.ID(),
		UID:        id.UID,
		ExternalID: id.ExternalID,
		DeviceID:   id.DeviceID,
		NodeID:     nodeID,
		At:         at.UnixMilli(),
	}
}

func DisconnectedEvent(s *ClientSession, nodeID string, since, at time.Time) SessionEvent {
	ev := ConnectedEvent(s, nodeID, at)
	ev.Type = EventDisconnected
	ev.Reason = s.Reason().String()
	ev.CloseCode = s.Reason().CloseCode()
	ev.DurationMs = at.Sub(since).Milliseconds()
	return ev
}
