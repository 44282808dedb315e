package storage

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// presence key: collab:presence:<uid>
// field: sessionID，value: <node>|<device>，整个 hash 的 TTL 随上线与会话心跳续期
func presenceKey(uid int64) string { return "collab:presence:" + strconv.FormatInt(uid, 10) }

// 上线：写 field + 续期
// KEYS[1] = presence key
// ARGV[1] = sessionID
// ARGV[2] = node|device
// ARGV[3] = ttlSeconds
const luaPresenceOnline = `
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[3]))
return redis.call("HLEN", KEYS[1])
`

var presenceOnlineScript = redis.NewScript(luaPresenceOnline)

// 心跳续期：field 还在才 EXPIRE，返回 1/0
// KEYS[1] = presence key
// ARGV[1] = sessionID
// ARGV[2] = ttlSeconds
const luaPresenceTouch = `
if redis.call("HEXISTS", KEYS[1], ARGV[1]) == 1 then
  redis.call("EXPIRE", KEYS[1], tonumber(ARGV[2]))
  return 1
end
return 0
`

var presenceTouchScript = redis.NewScript(luaPresenceTouch)

// DevicePresence 某个在线会话所在的节点与设备
type DevicePresence struct {
	SessionID string
	NodeID    string
	DeviceID  string
}

type Presence struct {
	rdb    redis.Cmdable
	nodeID string
	ttl    time.Duration
}

func NewPresence(rdb redis.Cmdable, nodeID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Presence{rdb: rdb, nodeID: nodeID, ttl: ttl}
}

// Online 返回该用户当前在线会话数
func (p *Presence) Online(ctx context.Context, uid int64, sessionID, deviceID string) (int64, error) {
	return presenceOnlineScript.Run(ctx, p.rdb,
		[]string{presenceKey(uid)},
		sessionID, p.nodeID+"|"+deviceID, int64(p.ttl/time.Second),
	).Int64()
}

// Touch 续期；会话记录已过期返回 false
func (p *Presence) Touch(ctx context.Context, uid int64, sessionID string) (bool, error) {
	n, err := presenceTouchScript.Run(ctx, p.rdb,
		[]string{presenceKey(uid)},
		sessionID, int64(p.ttl/time.Second),
	).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Offline 幂等
func (p *Presence) Offline(ctx context.Context, uid int64, sessionID string) error {
	return p.rdb.HDel(ctx, presenceKey(uid), sessionID).Err()
}

func (p *Presence) Devices(ctx context.Context, uid int64) ([]DevicePresence, error) {
	m, err := p.rdb.HGetAll(ctx, presenceKey(uid)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DevicePresence, 0, len(m))
	for sid, v := range m {
		node, device, _ := strings.Cut(v, "|")
		out = append(out, DevicePresence{SessionID: sid, NodeID: node, DeviceID: device})
	}
	return out, nil
}
