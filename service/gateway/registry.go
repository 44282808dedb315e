package gateway

import (
	"sync"
	"time"

	"PCollab/service/collab"
)

// entry 注册表中的一条会话
type entry struct {
	session     *collab.ClientSession
	connectedAt time.Time
}

// SessionRegistry 本节点存活会话：主索引 sessionID，辅助索引 uid
type SessionRegistry struct {
	mu        sync.RWMutex
	bySession map[string]*entry
	byUser    map[int64]map[string]*entry
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		bySession: make(map[string]*entry),
		byUser:    make(map[int64]map[string]*entry),
	}
}

// Add 同一 sessionID 重复添加返回 false
func (r *SessionRegistry) Add(s *collab.ClientSession, at time.Time) bool {
	uid := s.Identity().UID
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bySession[s.ID()]; ok {
		return false
	}
	e := &entry{session: s, connectedAt: at}
	r.bySession[s.ID()] = e
	if r.byUser[uid] == nil {
		r.byUser[uid] = make(map[string]*entry)
	}
	r.byUser[uid][s.ID()] = e
	return true
}

// Remove 返回登记时间；不存在时 ok=false
func (r *SessionRegistry) Remove(s *collab.ClientSession) (connectedAt time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[s.ID()]
	if !ok {
		return time.Time{}, false
	}
	delete(r.bySession, s.ID())
	uid := s.Identity().UID
	if mm := r.byUser[uid]; mm != nil {
		delete(mm, s.ID())
		if len(mm) == 0 {
			delete(r.byUser, uid)
		}
	}
	return e.connectedAt, true
}

func (r *SessionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}

// ByUser 某用户在本节点的全部会话（多设备）
func (r *SessionRegistry) ByUser(uid int64) []*collab.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mm := r.byUser[uid]
	out := make([]*collab.ClientSession, 0, len(mm))
	for _, e := range mm {
		out = append(out, e.session)
	}
	return out
}

// Snapshot 拷贝一份，调用方可在锁外操作
func (r *SessionRegistry) Snapshot() []*collab.ClientSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*collab.ClientSession, 0, len(r.bySession))
	for _, e := range r.bySession {
		out = append(out, e.session)
	}
	return out
}
