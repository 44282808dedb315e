package storage

import (
	"context"
	"errors"
	"time"

	"PCollab/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound 查询成功但没有匹配行
var ErrRecordNotFound = errors.New("record not found")

const selectUIDByUUID = `SELECT uid FROM af_user WHERE uuid = $1`

// rowQuerier pgxpool.Pool / pgx.Conn / pgx.Tx 都满足
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// UserStore 外部 UUID -> 内部 uid 的只读查询
type UserStore interface {
	SelectUIDFromUUID(ctx context.Context, uuid string) (int64, error)
}

type PgUserStore struct {
	db      rowQuerier
	timeout time.Duration
}

func NewPgUserStore(db rowQuerier) *PgUserStore {
	return &PgUserStore{db: db, timeout: 3 * time.Second}
}

// SelectUIDFromUUID 无匹配返回 ErrRecordNotFound，其余错误原样包装（连接/超时等）
func (s *PgUserStore) SelectUIDFromUUID(ctx context.Context, uuid string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var uid int64
	err := s.db.QueryRow(ctx, selectUIDByUUID, uuid).Scan(&uid)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrRecordNotFound
	}
	if err != nil {
		return 0, errs.WrapMsg(err, "select uid from af_user", "uuid", uuid)
	}
	return uid, nil
}

// NewPgPool 建连接池并 Ping
func NewPgPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, errs.WrapMsg(err, "parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.WrapMsg(err, "create pgx pool")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errs.WrapMsg(err, "ping postgres")
	}
	return pool, nil
}
