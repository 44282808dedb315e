package global

import (
	"context"
	"time"

	"PCollab/global/config"
	"PCollab/logger"
	"PCollab/service/kafka"
	"PCollab/service/mgo"
	"PCollab/service/natsx"
	"PCollab/service/storage"
	redisx "PCollab/service/storage/redis"
	"PCollab/tools/ids"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Deps 进程级外部依赖；nil 表示未启用或启动时不可用
type Deps struct {
	Pg     *pgxpool.Pool
	Redis  *redis.Client
	Nats   *natsx.NatsManager
	Kafka  *kafka.Client
	Events *kafka.EventPublisher
	Mongo  *mgo.MongoManager

	mongoCancel context.CancelFunc
}

// ConfigIds 节点号由 node_id 派生，保证多节点 session id 不冲突；
// gateway 默认用 ids.GenerateString 生成 session id
func ConfigIds(cfg *config.AppConfig) {
	ids.SetNodeID(ids.NodeIDFromString(cfg.NodeId))
}

// ConfigAll Postgres 必需，其余失败只告警
func ConfigAll(ctx context.Context, cfg *config.AppConfig) (*Deps, error) {
	ConfigIds(cfg)

	d := &Deps{}
	pool, err := ConfigPostgres(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.Pg = pool

	if rdb, err := ConfigRedis(cfg); err != nil {
		logger.Warnf("[Redis] disabled: %v", err)
	} else {
		d.Redis = rdb
	}

	if cfg.Nats.Enabled {
		if m, err := ConfigNats(cfg); err != nil {
			logger.Warnf("[NATS] relay disabled: %v", err)
		} else {
			d.Nats = m
		}
	}

	if cfg.Kafka.Enabled {
		if c, err := ConfigKafka(cfg); err != nil {
			logger.Warnf("[Kafka] session events disabled: %v", err)
		} else {
			d.Kafka = c
			d.Events = kafka.NewEventPublisher(c.Producer, cfg.Kafka.Topic)
		}
	}

	if cfg.Mongo.Enabled {
		mctx, cancel := context.WithCancel(context.Background())
		d.Mongo = ConfigMgo(mctx, cfg)
		d.mongoCancel = cancel
	}
	return d, nil
}

func ConfigPostgres(ctx context.Context, cfg *config.AppConfig) (*pgxpool.Pool, error) {
	return storage.NewPgPool(ctx, cfg.Postgres.Url, cfg.Postgres.MaxConns)
}

func ConfigRedis(cfg *config.AppConfig) (*redis.Client, error) {
	err := redisx.InitRedis(redisx.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	return redisx.GetRedis(), nil
}

func ConfigNats(cfg *config.AppConfig) (*natsx.NatsManager, error) {
	return natsx.NewNatsManager(natsx.NatsxConfig{
		Servers:       cfg.Nats.Servers,
		Name:          cfg.Nats.Name + "-" + cfg.NodeId,
		User:          cfg.Nats.User,
		Password:      cfg.Nats.Password,
		ReconnectWait: 2 * time.Second,
		Timeout:       3 * time.Second,
	})
}

// ConfigKafka 建 client/producer，按需创建事件 topic
func ConfigKafka(cfg *config.AppConfig) (*kafka.Client, error) {
	c, err := kafka.NewClient(cfg.Kafka)
	if err != nil {
		return nil, err
	}
	if cfg.Kafka.EnsureTopic {
		admin, err := c.Admin()
		if err != nil {
			logger.Warnf("[Kafka] create admin: %v", err)
			return c, nil
		}
		if err := kafka.EnsureTopic(admin, cfg.Kafka.Topic, cfg.Kafka.Partitions, cfg.Kafka.Replication); err != nil {
			logger.Warnf("[Kafka] ensure topic %s: %v", cfg.Kafka.Topic, err)
		}
		_ = admin.Close()
	}
	return c, nil
}

// ConfigMgo 后台连接，不阻塞启动；未就绪时 SessionLogStore 写入直接报错
func ConfigMgo(ctx context.Context, cfg *config.AppConfig) *mgo.MongoManager {
	m := mgo.NewManager()
	m.StartAsync(ctx, &mgo.Config{
		Uri:         cfg.Mongo.Uri,
		Database:    cfg.Mongo.Database,
		MaxPoolSize: cfg.Mongo.MaxPoolSize,
		MaxRetry:    1, // StartAsync 自己做指数退避
	})
	return m
}

// Close 逆序释放
func (d *Deps) Close() {
	if d.mongoCancel != nil {
		d.mongoCancel()
		<-d.Mongo.Stopped()
	}
	if d.Kafka != nil {
		if err := d.Kafka.Close(); err != nil {
			logger.Warnf("[Kafka] close: %v", err)
		}
	}
	if d.Nats != nil {
		if err := d.Nats.Close(); err != nil {
			logger.Warnf("[NATS] close: %v", err)
		}
	}
	if d.Redis != nil {
		if err := redisx.CloseRedis(); err != nil {
			logger.Warnf("[Redis] close: %v", err)
		}
	}
	if d.Pg != nil {
		d.Pg.Close()
	}
}
