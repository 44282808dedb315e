package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// identity key: af:uid:<uuid>，value 为内部 uid
func identityKey(uuid string) string { return "af:uid:" + uuid }

// IdentityCache uuid -> uid 的旁路缓存；只缓存命中，不缓存"不存在"
type IdentityCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdentityCache(rdb redis.Cmdable, ttl time.Duration) *IdentityCache {
	return &IdentityCache{rdb: rdb, ttl: ttl}
}

// Get ok=false 表示未命中；err 只代表 redis 故障
func (c *IdentityCache) Get(ctx context.Context, uuid string) (uid int64, ok bool, err error) {
	val, err := c.rdb.Get(ctx, identityKey(uuid)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	uid, err = strconv.ParseInt(val, 10, 64)
	if err != nil {
		// 脏值，当作未命中
		return 0, false, nil
	}
	return uid, true, nil
}

func (c *IdentityCache) Set(ctx context.Context, uuid string, uid int64) error {
	return c.rdb.Set(ctx, identityKey(uuid), strconv.FormatInt(uid, 10), c.ttl).Err()
}
