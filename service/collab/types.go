package collab

import (
	"time"

	"PCollab/global/config"

	"github.com/gorilla/websocket"
)

// SessionConfig 会话启动后不可变
type SessionConfig struct {
	HeartbeatInterval time.Duration
	ClientTimeout     time.Duration
	MaxFrameSize      int64
	SendQueueSize     int
}

// SessionConfigFrom 秒 -> Duration
func SessionConfigFrom(ws config.WebsocketConfig) SessionConfig {
	return SessionConfig{
		HeartbeatInterval: time.Duration(ws.HeartbeatInterval) * time.Second,
		ClientTimeout:     time.Duration(ws.ClientTimeout) * time.Second,
		MaxFrameSize:      ws.MaxFrameSize,
		SendQueueSize:     ws.SendQueueSize,
	}
}

// ReadLimit 入站单帧上限为 max_frame_size 的两倍
func (c SessionConfig) ReadLimit() int64 { return 2 * c.MaxFrameSize }

// Conn *websocket.Conn 的子集，测试可替换
type Conn interface {
	SetReadLimit(limit int64)
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	SetWriteDeadline(t time.Time) error
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

type SessionState int32

const (
	StateEstablishing SessionState = iota
	StateActive
	StateClosing
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateEstablishing:
		return "establishing"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type CloseReason int

const (
	ReasonNone CloseReason = iota
	ReasonHeartbeatTimeout
	ReasonFrameTooLarge
	ReasonTransportError
	ReasonPeerClosed
	ReasonShutdown
	ReasonHubRejected
)

// CloseHeartbeatTimeout 应用自定义关闭码（4000-4999）
const CloseHeartbeatTimeout = 4001

func (r CloseReason) String() string {
	switch r {
	case ReasonHeartbeatTimeout:
		return "heartbeat_timeout"
	case ReasonFrameTooLarge:
		return "frame_too_large"
	case ReasonTransportError:
		return "transport_error"
	case ReasonPeerClosed:
		return "peer_closed"
	case ReasonShutdown:
		return "shutdown"
	case ReasonHubRejected:
		return "hub_rejected"
	default:
		return "none"
	}
}

// CloseCode 写给对端的 websocket 关闭码
func (r CloseReason) CloseCode() int {
	switch r {
	case ReasonHeartbeatTimeout:
		return CloseHeartbeatTimeout
	case ReasonFrameTooLarge:
		return websocket.CloseMessageTooBig
	case ReasonTransportError:
		return websocket.CloseInternalServerErr
	case ReasonPeerClosed:
		return websocket.CloseNormalClosure
	case ReasonShutdown:
		return websocket.CloseGoingAway
	case ReasonHubRejected:
		return websocket.ClosePolicyViolation
	default:
		return websocket.CloseNormalClosure
	}
}
