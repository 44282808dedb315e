package identity

import (
	"context"
	"errors"

	"PCollab/logger"
	"PCollab/service/storage"
	"PCollab/tools/errs"

	"go.uber.org/zap"
)

// InternalIdentity 一条连接的 (用户, 设备)，构造后不可变
type InternalIdentity struct {
	UID        int64
	ExternalID string
	DeviceID   string
}

// Cache 可选的 uuid -> uid 缓存
type Cache interface {
	Get(ctx context.Context, uuid string) (uid int64, ok bool, err error)
	Set(ctx context.Context, uuid string, uid int64) error
}

type Resolver struct {
	store storage.UserStore
	cache Cache
	log   *zap.Logger
}

func NewResolver(store storage.UserStore, cache Cache) *Resolver {
	return &Resolver{store: store, cache: cache, log: logger.Named("identity")}
}

// Resolve 外部身份 -> 内部 uid
// 失败只有两类：ErrUserNotFound / ErrStoreUnavailable，不做重试
func (r *Resolver) Resolve(ctx context.Context, externalID string) (int64, error) {
	if r.cache != nil {
		uid, ok, err := r.cache.Get(ctx, externalID)
		if err != nil {
			r.log.Debug("identity cache get failed", zap.String("external_id", externalID), zap.Error(err))
		} else if ok {
			return uid, nil
		}
	}

	uid, err := r.store.SelectUIDFromUUID(ctx, externalID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		r.log.Warn("unknown user", zap.String("external_id", externalID))
		return 0, errs.ErrUserNotFound.WrapMsg("no internal account", "external_id", externalID)
	}
	if err != nil {
		r.log.Error("identity store unavailable", zap.String("external_id", externalID), zap.Error(err))
		return 0, errs.ErrStoreUnavailable.WrapMsg(err.Error())
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, externalID, uid); err != nil {
			r.log.Debug("identity cache set failed", zap.String("external_id", externalID), zap.Error(err))
		}
	}
	return uid, nil
}

// ResolveDevice Resolve + 组装 InternalIdentity
func (r *Resolver) ResolveDevice(ctx context.Context, externalID, deviceID string) (InternalIdentity, error) {
	uid, err := r.Resolve(ctx, externalID)
	if err != nil {
		return InternalIdentity{}, err
	}
	return InternalIdentity{UID: uid, ExternalID: externalID, DeviceID: deviceID}, nil
}
