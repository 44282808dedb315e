package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
node_id: gw-test
port: "9090"
jwt:
  secret: test-secret
websocket:
  heartbeat_interval: 10
  client_timeout: 30
nats:
  enabled: true
  servers: "nats://a:4222,nats://b:4222"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NodeId != "gw-test" || cfg.Port != 9090 {
		t.Fatalf("unexpected node/port: %s %d", cfg.NodeId, cfg.Port)
	}
	if cfg.Websocket.HeartbeatInterval != 10 || cfg.Websocket.ClientTimeout != 30 {
		t.Fatalf("unexpected websocket config: %+v", cfg.Websocket)
	}
	if cfg.Websocket.MaxFrameSize != DefaultMaxFrameSize {
		t.Fatalf("max frame size default lost: %d", cfg.Websocket.MaxFrameSize)
	}
	if len(cfg.Nats.Servers) != 2 || cfg.Nats.Servers[1] != "nats://b:4222" {
		t.Fatalf("unexpected nats servers: %v", cfg.Nats.Servers)
	}
	if cfg.Redis.Addr != "127.0.0.1:6379" {
		t.Fatalf("redis default lost: %s", cfg.Redis.Addr)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PCOLLAB_JWT_SECRET", "env-secret")
	t.Setenv("PCOLLAB_WS_CLIENT_TIMEOUT", "45")
	t.Setenv("PCOLLAB_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Jwt.Secret != "env-secret" {
		t.Fatalf("jwt secret not overridden: %s", cfg.Jwt.Secret)
	}
	if cfg.Websocket.ClientTimeout != 45 {
		t.Fatalf("client timeout not overridden: %d", cfg.Websocket.ClientTimeout)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"zero heartbeat": "jwt:\n  secret: s\nwebsocket:\n  heartbeat_interval: 0\n",
		"negative timeout": "jwt:\n  secret: s\nwebsocket:\n  client_timeout: -1\n",
		"zero frame size":  "jwt:\n  secret: s\nwebsocket:\n  max_frame_size: 0\n",
		"missing secret":   "port: 8080\n",
		"unknown key":      "jwt:\n  secret: s\nbogus: 1\n",
		"bad env int":      "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if name == "bad env int" {
				t.Setenv("PCOLLAB_JWT_SECRET", "s")
				t.Setenv("PCOLLAB_PORT", "eighty")
			}
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestTimeoutTooShort(t *testing.T) {
	cfg := Default()
	if cfg.TimeoutTooShort() {
		t.Fatalf("defaults (5s/15s) should be fine")
	}
	cfg.Websocket.ClientTimeout = cfg.Websocket.HeartbeatInterval
	if !cfg.TimeoutTooShort() {
		t.Fatalf("timeout equal to interval should be flagged")
	}
}
