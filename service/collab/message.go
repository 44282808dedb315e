package collab

import (
	"encoding/json"
	"strings"

	"PCollab/tools/errs"
)

const maxObjectIDLen = 128

// 客户端 <-> hub 的消息类型
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeUpdate      = "update"
	TypeAwareness   = "awareness"
	TypeSubscribed  = "subscribed"
	TypeError       = "error"
)

// Message 一帧应用消息；Payload 对网关透明（文档更新/光标等）
type Message struct {
	Type         string          `json:"type"`
	ObjectID     string          `json:"object_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	SenderUID    int64           `json:"sender_uid,omitempty"`
	SenderDevice string          `json:"sender_device,omitempty"`
	Origin       string          `json:"origin,omitempty"` // 来源节点
	Ts           int64           `json:"ts,omitempty"`     // 毫秒
}

// ParseMessage 解析一帧入站数据
func ParseMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, errs.ErrArgs.WrapMsg("decode message", "err", err.Error())
	}
	switch m.Type {
	case TypeSubscribe, TypeUnsubscribe, TypeUpdate, TypeAwareness:
	default:
		return Message{}, errs.ErrArgs.WrapMsg("unknown message type", "type", m.Type)
	}
	if !validObjectID(m.ObjectID) {
		return Message{}, errs.ErrArgs.WrapMsg("invalid object_id", "type", m.Type)
	}
	return m, nil
}

// validObjectID object_id 会作为 NATS 子主题，不允许通配符/分隔符/空白
func validObjectID(id string) bool {
	if id == "" || len(id) > maxObjectIDLen {
		return false
	}
	return !strings.ContainsAny(id, ".*> \t\r\n")
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

func errorMessage(objectID string, ce *errs.CodeError) Message {
	payload, _ := json.Marshal(struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}{ce.Code, ce.Msg})
	return Message{Type: TypeError, ObjectID: objectID, Payload: payload}
}
