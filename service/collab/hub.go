package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"PCollab/logger"
	"PCollab/service/identity"
	"PCollab/tools/errs"
	"PCollab/tools/safe"

	"go.uber.org/zap"
)

// HubHandle 会话访问 hub 的唯一入口
type HubHandle interface {
	// Register 同一 ref 重复注册视为成功；hub 可以拒绝（关闭中/准入失败）
	Register(ctx context.Context, ref SessionRef, id identity.InternalIdentity) error
	// Deregister fire-and-forget，不阻塞调用方
	Deregister(ref SessionRef)
	// Forward 把别处产生的消息投递给指定会话，同一发送方保持顺序
	Forward(ref SessionRef, msg Message) error
	// Publish 会话读到的消息进入 hub
	Publish(ref SessionRef, msg Message)
	// Touch 会话心跳正常时调用，续期在线状态；不阻塞
	Touch(ref SessionRef)
}

// AccessControl 准入决策，由外部系统实现
type AccessControl interface {
	CanConnect(ctx context.Context, id identity.InternalIdentity) error
	CanJoin(ctx context.Context, id identity.InternalIdentity, objectID string) error
}

type AllowAll struct{}

func (AllowAll) CanConnect(context.Context, identity.InternalIdentity) error     { return nil }
func (AllowAll) CanJoin(context.Context, identity.InternalIdentity, string) error { return nil }

// PresenceRecorder storage.Presence 满足该接口
type PresenceRecorder interface {
	Online(ctx context.Context, uid int64, sessionID, deviceID string) (int64, error)
	Offline(ctx context.Context, uid int64, sessionID string) error
	// Touch 会话仍在线时续期 TTL；返回 false 表示记录已不存在
	Touch(ctx context.Context, uid int64, sessionID string) (bool, error)
}

// Relay 跨网关节点转发房间消息
type Relay interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(deliver func(Message)) error
	Close() error
}

type HubOptions struct {
	NodeID    string
	Access    AccessControl
	Presence  PresenceRecorder
	Relay     Relay
	InboxSize int
}

const (
	defaultInboxSize = 4096
	deregisterWait   = time.Second
	publishWait      = 500 * time.Millisecond
	hookTimeout      = 2 * time.Second
)

type opKind int

const (
	opRegister opKind = iota
	opDeregister
	opPublish
	opForward
	opRemote
	opStats
	opTouch
)

type hubOp struct {
	kind  opKind
	ref   SessionRef
	id    identity.InternalIdentity
	msg   Message
	reply chan error
	stats chan HubStats
}

type member struct {
	ref   SessionRef
	id    identity.InternalIdentity
	rooms map[string]struct{}
}

type HubStats struct {
	Sessions int
	Rooms    int
}

// Hub 单协程 actor：所有成员/房间状态只在 loop 里读写
type Hub struct {
	opts HubOptions
	log  *zap.Logger

	inbox   chan hubOp
	members map[string]*member            // sessionID -> member
	rooms   map[string]map[string]*member // objectID -> sessionID -> member

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Access == nil {
		opts.Access = AllowAll{}
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = defaultInboxSize
	}
	h := &Hub{
		opts:    opts,
		log:     logger.Named("hub"),
		inbox:   make(chan hubOp, opts.InboxSize),
		members: make(map[string]*member),
		rooms:   make(map[string]map[string]*member),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if opts.Relay != nil {
		if err := opts.Relay.Subscribe(h.deliverRemote); err != nil {
			return nil, errs.WrapMsg(err, "subscribe relay")
		}
	}
	safe.Go("hub-loop", h.loop)
	return h, nil
}

// Close 停止 loop；之后 Register 一律拒绝
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.quit)
		<-h.done
		if h.opts.Relay != nil {
			if err := h.opts.Relay.Close(); err != nil {
				h.log.Warn("close relay", zap.Error(err))
			}
		}
	})
}

func (h *Hub) Register(ctx context.Context, ref SessionRef, id identity.InternalIdentity) error {
	hookCtx, cancel := context.WithTimeout(ctx, hookTimeout)
	err := h.opts.Access.CanConnect(hookCtx, id)
	cancel()
	if err != nil {
		return errs.ErrHubRejected.WrapMsg("access denied", "uid", id.UID, "err", err.Error())
	}

	reply := make(chan error, 1)
	select {
	case h.inbox <- hubOp{kind: opRegister, ref: ref, id: id, reply: reply}:
	case <-ctx.Done():
		return errs.ErrHubRejected.WrapMsg("register canceled", "err", ctx.Err().Error())
	case <-h.quit:
		return errs.ErrHubRejected.WrapMsg("hub closed")
	}
	select {
	case err = <-reply:
	case <-ctx.Done():
		return errs.ErrHubRejected.WrapMsg("register canceled", "err", ctx.Err().Error())
	case <-h.quit:
		return errs.ErrHubRejected.WrapMsg("hub closed")
	}
	if err != nil {
		return err
	}

	if h.opts.Presence != nil {
		pctx, cancel := context.WithTimeout(ctx, hookTimeout)
		if _, perr := h.opts.Presence.Online(pctx, id.UID, ref.ID(), id.DeviceID); perr != nil {
			h.log.Warn("presence online failed", zap.Int64("uid", id.UID), zap.Error(perr))
		}
		cancel()
	}
	return nil
}

func (h *Hub) Deregister(ref SessionRef) {
	t := time.NewTimer(deregisterWait)
	defer t.Stop()
	select {
	case h.inbox <- hubOp{kind: opDeregister, ref: ref}:
	case <-h.quit:
	case <-t.C:
		h.log.Warn("deregister dropped, hub inbox full", zap.String("session_id", ref.ID()))
	}
}

func (h *Hub) Forward(ref SessionRef, msg Message) error {
	reply := make(chan error, 1)
	select {
	case h.inbox <- hubOp{kind: opForward, ref: ref, msg: msg, reply: reply}:
	case <-h.quit:
		return errs.ErrSessionClosed.WrapMsg("hub closed")
	}
	select {
	case err := <-reply:
		return err
	case <-h.quit:
		return errs.ErrSessionClosed.WrapMsg("hub closed")
	}
}

func (h *Hub) Publish(ref SessionRef, msg Message) {
	if msg.Type == TypeSubscribe {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		err := h.opts.Access.CanJoin(ctx, ref.Identity(), msg.ObjectID)
		cancel()
		if err != nil {
			h.log.Info("join denied",
				zap.String("session_id", ref.ID()),
				zap.String("object_id", msg.ObjectID),
				zap.Error(err))
			ref.Deliver(errorMessage(msg.ObjectID, &errs.ErrAccessDenied))
			return
		}
	}

	t := time.NewTimer(publishWait)
	defer t.Stop()
	select {
	case h.inbox <- hubOp{kind: opPublish, ref: ref, msg: msg}:
	case <-h.quit:
	case <-t.C:
		h.log.Warn("publish dropped, hub inbox full",
			zap.String("session_id", ref.ID()),
			zap.String("type", msg.Type))
	}
}

// Touch 入队失败直接丢弃，下一次心跳会再续期
func (h *Hub) Touch(ref SessionRef) {
	if h.opts.Presence == nil {
		return
	}
	select {
	case h.inbox <- hubOp{kind: opTouch, ref: ref}:
	case <-h.quit:
	default:
		h.log.Debug("presence touch dropped, hub inbox full", zap.String("session_id", ref.ID()))
	}
}

// Stats 当前会话数/房间数
func (h *Hub) Stats() HubStats {
	ch := make(chan HubStats, 1)
	select {
	case h.inbox <- hubOp{kind: opStats, stats: ch}:
	case <-h.quit:
		return HubStats{}
	}
	select {
	case st := <-ch:
		return st
	case <-h.quit:
		return HubStats{}
	}
}

func (h *Hub) deliverRemote(msg Message) {
	select {
	case h.inbox <- hubOp{kind: opRemote, msg: msg}:
	case <-h.quit:
	default:
		h.log.Warn("remote message dropped, hub inbox full", zap.String("object_id", msg.ObjectID))
	}
}

func (h *Hub) loop() {
	defer close(h.done)
	for {
		select {
		case <-h.quit:
			return
		case op := <-h.inbox:
			h.handle(op)
		}
	}
}

func (h *Hub) handle(op hubOp) {
	switch op.kind {
	case opRegister:
		op.reply <- h.register(op.ref, op.id)
	case opDeregister:
		h.deregister(op.ref)
	case opPublish:
		h.publish(op.ref, op.msg)
	case opForward:
		if _, ok := h.members[op.ref.ID()]; !ok || !op.ref.Deliver(op.msg) {
			op.reply <- errs.ErrSessionClosed.WrapMsg("forward", "session_id", op.ref.ID())
			return
		}
		op.reply <- nil
	case opRemote:
		h.fanout(op.msg, "")
	case opStats:
		op.stats <- HubStats{Sessions: len(h.members), Rooms: len(h.rooms)}
	case opTouch:
		h.touch(op.ref)
	}
}

func (h *Hub) register(ref SessionRef, id identity.InternalIdentity) error {
	if m, ok := h.members[ref.ID()]; ok {
		if m.id.UID != id.UID {
			return errs.ErrHubRejected.WrapMsg("session id reused by another user", "session_id", ref.ID())
		}
		return nil
	}
	h.members[ref.ID()] = &member{ref: ref, id: id, rooms: make(map[string]struct{})}
	h.log.Debug("session registered", zap.String("session_id", ref.ID()), zap.Int64("uid", id.UID))
	return nil
}

func (h *Hub) deregister(ref SessionRef) {
	m, ok := h.members[ref.ID()]
	if !ok {
		return
	}
	for obj := range m.rooms {
		h.leave(m, obj)
	}
	delete(h.members, ref.ID())

	if h.opts.Presence != nil {
		uid, sid := m.id.UID, ref.ID()
		safe.Go("presence-offline", func() {
			ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			if err := h.opts.Presence.Offline(ctx, uid, sid); err != nil {
				h.log.Warn("presence offline failed", zap.Int64("uid", uid), zap.Error(err))
			}
		})
	}
}

// touch 只续期仍是成员的会话；记录丢失（TTL 已过）时补写一次
func (h *Hub) touch(ref SessionRef) {
	m, ok := h.members[ref.ID()]
	if !ok || h.opts.Presence == nil {
		return
	}
	uid, sid, device := m.id.UID, ref.ID(), m.id.DeviceID
	safe.Go("presence-touch", func() {
		ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
		defer cancel()
		alive, err := h.opts.Presence.Touch(ctx, uid, sid)
		if err != nil {
			h.log.Debug("presence touch failed", zap.Int64("uid", uid), zap.Error(err))
			return
		}
		if alive {
			return
		}
		if _, err := h.opts.Presence.Online(ctx, uid, sid, device); err != nil {
			h.log.Warn("presence re-online failed", zap.Int64("uid", uid), zap.Error(err))
		}
	})
}

func (h *Hub) publish(ref SessionRef, msg Message) {
	m, ok := h.members[ref.ID()]
	if !ok {
		return
	}
	switch msg.Type {
	case TypeSubscribe:
		room := h.rooms[msg.ObjectID]
		if room == nil {
			room = make(map[string]*member)
			h.rooms[msg.ObjectID] = room
		}
		room[ref.ID()] = m
		m.rooms[msg.ObjectID] = struct{}{}
		payload, _ := json.Marshal(struct {
			Members int `json:"members"`
		}{len(room)})
		ref.Deliver(Message{Type: TypeSubscribed, ObjectID: msg.ObjectID, Payload: payload})

	case TypeUnsubscribe:
		h.leave(m, msg.ObjectID)

	case TypeUpdate, TypeAwareness:
		if _, in := m.rooms[msg.ObjectID]; !in {
			ref.Deliver(errorMessage(msg.ObjectID, &errs.ErrNotSubscribed))
			return
		}
		msg.Origin = h.opts.NodeID
		h.fanout(msg, ref.ID())
		if h.opts.Relay != nil {
			if err := h.opts.Relay.Publish(context.Background(), msg); err != nil {
				h.log.Warn("relay publish failed", zap.String("object_id", msg.ObjectID), zap.Error(err))
			}
		}
	}
}

func (h *Hub) leave(m *member, objectID string) {
	delete(m.rooms, objectID)
	room := h.rooms[objectID]
	if room == nil {
		return
	}
	delete(room, m.ref.ID())
	if len(room) == 0 {
		delete(h.rooms, objectID)
	}
}

// fanout 投递给房间内除 skip 以外的本地会话
func (h *Hub) fanout(msg Message, skip string) {
	for sid, m := range h.rooms[msg.ObjectID] {
		if sid == skip {
			continue
		}
		m.ref.Deliver(msg)
	}
}
