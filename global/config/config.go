package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"PCollab/tools/errs"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxFrameSize      = 65_536 // 64 KiB
	DefaultHeartbeatInterval = 5      // 秒
	DefaultClientTimeout     = 15     // 秒
)

// AppConfig 进程级配置，启动时读取一次，之后只读
type AppConfig struct {
	NodeId    string          `mapstructure:"node_id"`
	Port      int             `mapstructure:"port"`
	GrpcPort  int             `mapstructure:"grpc_port"`
	LogLevel  string          `mapstructure:"log_level"`
	Jwt       JwtConfig       `mapstructure:"jwt"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Nats      NatsConfig      `mapstructure:"nats"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Mongo     MongoConfig     `mapstructure:"mongo"`
}

type JwtConfig struct {
	Secret   string `mapstructure:"secret"`
	Alg      string `mapstructure:"alg"`
	Audience string `mapstructure:"audience"`
	Leeway   int    `mapstructure:"leeway"` // 秒
}

// WebsocketConfig 心跳与超时单位为秒
type WebsocketConfig struct {
	HeartbeatInterval int   `mapstructure:"heartbeat_interval"`
	ClientTimeout     int   `mapstructure:"client_timeout"`
	MaxFrameSize      int64 `mapstructure:"max_frame_size"`
	SendQueueSize     int   `mapstructure:"send_queue_size"`
	// 为空时不校验 Origin
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresConfig struct {
	Url      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type RedisConfig struct {
	Addr        string `mapstructure:"addr"`
	Password    string `mapstructure:"password"`
	DB          int    `mapstructure:"db"`
	PoolSize    int    `mapstructure:"pool_size"`
	IdentityTTL int    `mapstructure:"identity_ttl"` // 秒，<=0 关闭 uid 缓存
	PresenceTTL int    `mapstructure:"presence_ttl"` // 秒
}

type NatsConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Servers       []string `mapstructure:"servers"`
	Name          string   `mapstructure:"name"`
	User          string   `mapstructure:"user"`
	Password      string   `mapstructure:"password"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
}

type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Compression string   `mapstructure:"compression"`
	Retries     int      `mapstructure:"retries"`
	Partitions  int32    `mapstructure:"partitions"`
	Replication int16    `mapstructure:"replication"`
	EnsureTopic bool     `mapstructure:"ensure_topic"`
}

type MongoConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Uri         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

func Default() AppConfig {
	return AppConfig{
		NodeId:   "collab_gw_01",
		Port:     8080,
		GrpcPort: 50052,
		LogLevel: "info",
		Jwt:      JwtConfig{Alg: "HS256"},
		Websocket: WebsocketConfig{
			HeartbeatInterval: DefaultHeartbeatInterval,
			ClientTimeout:     DefaultClientTimeout,
			MaxFrameSize:      DefaultMaxFrameSize,
			SendQueueSize:     256,
		},
		Postgres: PostgresConfig{MaxConns: 20},
		Redis: RedisConfig{
			Addr:        "127.0.0.1:6379",
			PoolSize:    20,
			IdentityTTL: 600,
			PresenceTTL: 120,
		},
		Nats: NatsConfig{
			Servers:       []string{"nats://127.0.0.1:4222"},
			Name:          "collab-gateway",
			SubjectPrefix: "collab.obj",
		},
		Kafka: KafkaConfig{
			Brokers:     []string{"127.0.0.1:9092"},
			Topic:       "collab_session_events",
			Compression: "snappy",
			Retries:     3,
			Partitions:  8,
			Replication: 1,
			EnsureTopic: true,
		},
		Mongo: MongoConfig{
			Uri:         "mongodb://localhost:27017",
			Database:    "collab",
			MaxPoolSize: 20,
		},
	}
}

// Load 读取 .env（可选）+ YAML 文件（可选）+ 环境变量覆盖，最后校验
func Load(path string) (*AppConfig, error) {
	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config file", "path", path)
		}
		if err := Decode(raw, &cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Decode YAML -> map -> AppConfig，允许 "5" 这类弱类型写法
func Decode(raw []byte, cfg *AppConfig) error {
	var m map[string]any
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return errs.WrapMsg(err, "parse yaml config")
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(","),
	})
	if err != nil {
		return errs.Wrap(err)
	}
	if err := dec.Decode(m); err != nil {
		return errs.WrapMsg(err, "decode config")
	}
	return nil
}

// Validate 心跳/超时/帧大小必须有限且为正
func (c *AppConfig) Validate() error {
	ws := c.Websocket
	if ws.HeartbeatInterval <= 0 {
		return errs.New("websocket.heartbeat_interval must be positive", "value", ws.HeartbeatInterval)
	}
	if ws.ClientTimeout <= 0 {
		return errs.New("websocket.client_timeout must be positive", "value", ws.ClientTimeout)
	}
	if ws.MaxFrameSize <= 0 {
		return errs.New("websocket.max_frame_size must be positive", "value", ws.MaxFrameSize)
	}
	if ws.SendQueueSize <= 0 {
		return errs.New("websocket.send_queue_size must be positive", "value", ws.SendQueueSize)
	}
	if strings.TrimSpace(c.Jwt.Secret) == "" {
		return errs.New("jwt.secret is required")
	}
	if c.Port <= 0 {
		return errs.New("port must be positive", "value", c.Port)
	}
	return nil
}

// TimeoutTooShort client_timeout 不大于心跳间隔时，每条连接都会在首个心跳被判死
func (c *AppConfig) TimeoutTooShort() bool {
	return c.Websocket.ClientTimeout <= c.Websocket.HeartbeatInterval
}

func applyEnv(cfg *AppConfig) error {
	setString("PCOLLAB_NODE_ID", &cfg.NodeId)
	setString("PCOLLAB_LOG_LEVEL", &cfg.LogLevel)
	setString("PCOLLAB_JWT_SECRET", &cfg.Jwt.Secret)
	setString("PCOLLAB_DATABASE_URL", &cfg.Postgres.Url)
	setString("PCOLLAB_REDIS_ADDR", &cfg.Redis.Addr)
	setString("PCOLLAB_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("PCOLLAB_MONGO_URI", &cfg.Mongo.Uri)

	if v, ok := lookup("PCOLLAB_NATS_SERVERS"); ok {
		cfg.Nats.Servers = splitList(v)
	}
	if v, ok := lookup("PCOLLAB_KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"PCOLLAB_PORT", &cfg.Port},
		{"PCOLLAB_GRPC_PORT", &cfg.GrpcPort},
		{"PCOLLAB_WS_HEARTBEAT_INTERVAL", &cfg.Websocket.HeartbeatInterval},
		{"PCOLLAB_WS_CLIENT_TIMEOUT", &cfg.Websocket.ClientTimeout},
	}
	for _, it := range ints {
		v, ok := lookup(it.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", it.key, v, err)
		}
		*it.dst = n
	}
	return nil
}

func lookup(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v := strings.TrimSpace(raw)
	return v, v != ""
}

func setString(key string, dst *string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
