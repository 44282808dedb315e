package collab

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"PCollab/logger"
	"PCollab/service/identity"
	"PCollab/tools/errs"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait        = 10 * time.Second
	defaultSendQueue = 256
	eventQueueSize   = 16
)

// SessionRef hub 持有的会话引用
type SessionRef interface {
	ID() string
	Identity() identity.InternalIdentity
	Deliver(msg Message) bool
}

type ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) Chan() <-chan time.Time { return t.C }

// readEvent 读协程 -> run 协程
type readEvent struct {
	data     []byte
	err      error
	activity bool // ping/pong 控制帧
}

// ClientSession 一条已升级连接：
// Establishing -> Active -> Closing -> Closed，不回退。
// run 协程独占 lastActivity 并负责所有数据写出；读协程只把帧转成事件。
type ClientSession struct {
	id       string
	identity identity.InternalIdentity
	cfg      SessionConfig
	hub      HubHandle
	log      *zap.Logger

	mu         sync.Mutex
	state      SessionState
	reason     CloseReason
	registered bool

	send      chan Message
	events    chan readEvent
	closeCh   chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	lastActivity time.Time

	now       func() time.Time
	newTicker func(time.Duration) ticker
}

func NewClientSession(id string, ident identity.InternalIdentity, cfg SessionConfig, hub HubHandle) *ClientSession {
	q := cfg.SendQueueSize
	if q <= 0 {
		q = defaultSendQueue
	}
	return &ClientSession{
		id:       id,
		identity: ident,
		cfg:      cfg,
		hub:      hub,
		log: logger.Named("session").With(
			zap.String("session_id", id),
			zap.Int64("uid", ident.UID),
			zap.String("device_id", ident.DeviceID),
		),
		state:   StateEstablishing,
		send:    make(chan Message, q),
		events:  make(chan readEvent, eventQueueSize),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
		newTicker: func(d time.Duration) ticker {
			return realTicker{time.NewTicker(d)}
		},
	}
}

func (s *ClientSession) ID() string                          { return s.id }
func (s *ClientSession) Identity() identity.InternalIdentity { return s.identity }
func (s *ClientSession) Config() SessionConfig               { return s.cfg }

// Done 进入 Closed 后关闭
func (s *ClientSession) Done() <-chan struct{} { return s.done }

func (s *ClientSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason 第一个关闭原因；未关闭时为 ReasonNone
func (s *ClientSession) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Abort 升级失败：Establishing 直接进入 Closed，连接从未打开
func (s *ClientSession) Abort(cause error) error {
	s.mu.Lock()
	if s.state != StateEstablishing {
		st := s.state
		s.mu.Unlock()
		return errs.ErrSessionClosed.WrapMsg("abort", "state", st.String())
	}
	s.state = StateClosed
	if s.reason == ReasonNone {
		s.reason = ReasonTransportError
	}
	s.mu.Unlock()

	s.closeOnce.Do(func() { close(s.closeCh) })
	close(s.done)

	msg := "upgrade failed"
	if cause != nil {
		msg = cause.Error()
	}
	return errs.ErrTransportRejected.WrapMsg(msg, "session_id", s.id)
}

// Start 设置读上限、向 hub 注册，成功后进入 Active 并启动读/运行协程
func (s *ClientSession) Start(ctx context.Context, conn Conn) error {
	s.mu.Lock()
	if s.state != StateEstablishing {
		st := s.state
		s.mu.Unlock()
		_ = conn.Close()
		return errs.ErrSessionClosed.WrapMsg("start", "state", st.String())
	}
	if s.reason != ReasonNone {
		// 升级期间已被要求关闭（例如进程退出）
		reason := s.reason
		s.state = StateClosed
		s.mu.Unlock()
		s.finishWithoutRun(conn, reason)
		return errs.ErrSessionClosed.WrapMsg("closed before start", "reason", reason.String())
	}
	s.mu.Unlock()

	conn.SetReadLimit(s.cfg.ReadLimit())

	if err := s.hub.Register(ctx, s, s.identity); err != nil {
		s.mu.Lock()
		if s.reason == ReasonNone {
			s.reason = ReasonHubRejected
		}
		s.state = StateClosed
		s.mu.Unlock()
		s.log.Warn("hub rejected session", zap.Error(err))
		s.finishWithoutRun(conn, ReasonHubRejected)
		return err
	}

	s.mu.Lock()
	s.registered = true
	s.state = StateActive
	s.mu.Unlock()

	s.lastActivity = s.now()
	conn.SetPongHandler(func(string) error {
		s.notify(readEvent{activity: true})
		return nil
	})
	conn.SetPingHandler(func(appData string) error {
		s.notify(readEvent{activity: true})
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == nil || errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	t := s.newTicker(s.cfg.HeartbeatInterval)
	go s.readLoop(conn)
	go s.run(conn, t)

	s.log.Info("session active",
		zap.Duration("heartbeat", s.cfg.HeartbeatInterval),
		zap.Duration("timeout", s.cfg.ClientTimeout),
		zap.Int64("read_limit", s.cfg.ReadLimit()))
	return nil
}

// Close 可从任意协程并发调用；只有第一个原因生效，之后为 no-op
func (s *ClientSession) Close(reason CloseReason) {
	if reason == ReasonNone {
		reason = ReasonShutdown
	}
	s.mu.Lock()
	if s.reason != ReasonNone || s.state >= StateClosing {
		s.mu.Unlock()
		return
	}
	s.reason = reason
	if s.state == StateActive {
		s.state = StateClosing
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// Deliver hub -> 会话出站队列；队列满或会话已关闭返回 false
func (s *ClientSession) Deliver(msg Message) bool {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	if st >= StateClosing {
		return false
	}
	select {
	case <-s.closeCh:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.log.Warn("send queue full, drop message",
			zap.String("type", msg.Type),
			zap.String("object_id", msg.ObjectID))
		return false
	}
}

// notify 会话结束后丢弃
func (s *ClientSession) notify(ev readEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *ClientSession) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if !s.notify(readEvent{data: data, err: err}) || err != nil {
			return
		}
	}
}

func (s *ClientSession) run(conn Conn, t ticker) {
	defer t.Stop()
	for {
		// 关闭优先
		select {
		case <-s.closeCh:
			s.shutdown(conn)
			return
		default:
		}

		select {
		case <-s.closeCh:
			s.shutdown(conn)
			return
		case ev := <-s.events:
			s.handleRead(ev)
		case msg := <-s.send:
			if err := s.write(conn, msg); err != nil {
				s.log.Info("write failed", zap.Error(err))
				s.Close(ReasonTransportError)
			}
		case now := <-t.Chan():
			s.heartbeat(conn, now)
		}
	}
}

func (s *ClientSession) handleRead(ev readEvent) {
	if ev.err != nil {
		reason := classifyReadError(ev.err)
		s.log.Debug("read loop ended", zap.String("reason", reason.String()), zap.Error(ev.err))
		s.Close(reason)
		return
	}
	s.lastActivity = s.now()
	if ev.activity {
		return
	}
	if int64(len(ev.data)) > s.cfg.ReadLimit() {
		s.Close(ReasonFrameTooLarge)
		return
	}

	msg, err := ParseMessage(ev.data)
	if err != nil {
		s.log.Debug("drop undecodable frame", zap.Int("len", len(ev.data)), zap.Error(err))
		return
	}
	msg.SenderUID = s.identity.UID
	msg.SenderDevice = s.identity.DeviceID
	msg.Ts = s.now().UnixMilli()
	s.hub.Publish(s, msg)
}

// heartbeat 以 tick 时刻计算空闲；超过 client_timeout 没有任何入站帧即判死，否则发 ping 并续期在线状态
func (s *ClientSession) heartbeat(conn Conn, now time.Time) {
	idle := now.Sub(s.lastActivity)
	if idle >= s.cfg.ClientTimeout {
		s.log.Info("heartbeat timeout", zap.Duration("idle", idle))
		s.Close(ReasonHeartbeatTimeout)
		return
	}
	if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeWait)); err != nil {
		s.log.Info("ping failed", zap.Error(err))
		s.Close(ReasonTransportError)
		return
	}
	s.hub.Touch(s)
}

func (s *ClientSession) write(conn Conn, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		s.log.Warn("encode outbound message", zap.Error(err))
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// shutdown Closing：注销 hub（仅一次）、冲刷已接收的出站消息、发关闭帧、进入 Closed
func (s *ClientSession) shutdown(conn Conn) {
	s.mu.Lock()
	s.state = StateClosing
	reason := s.reason
	registered := s.registered
	s.registered = false
	s.mu.Unlock()

	if registered {
		s.hub.Deregister(s)
	}

	flushed := s.flush(conn)
	s.writeClose(conn, reason)
	_ = conn.Close()

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	close(s.done)

	s.log.Info("session closed",
		zap.String("reason", reason.String()),
		zap.Int("close_code", reason.CloseCode()),
		zap.Int("flushed", flushed))
}

func (s *ClientSession) flush(conn Conn) int {
	n := 0
	for {
		select {
		case msg := <-s.send:
			if err := s.write(conn, msg); err != nil {
				return n
			}
			n++
		default:
			return n
		}
	}
}

func (s *ClientSession) writeClose(conn Conn, reason CloseReason) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(reason.CloseCode(), reason.String()),
		time.Now().Add(writeWait))
}

// finishWithoutRun 没有启动 run 协程时的收尾
func (s *ClientSession) finishWithoutRun(conn Conn, reason CloseReason) {
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.writeClose(conn, reason)
	_ = conn.Close()
	close(s.done)
}

func classifyReadError(err error) CloseReason {
	if errors.Is(err, websocket.ErrReadLimit) {
		return ReasonFrameTooLarge
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return ReasonPeerClosed
	}
	return ReasonTransportError
}
