package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PCollab/global"
	"PCollab/global/config"
	"PCollab/logger"
	mid "PCollab/middleware"
	"PCollab/service/collab"
	"PCollab/service/gateway"
	"PCollab/service/identity"
	"PCollab/service/mgo"
	"PCollab/service/storage"
	"PCollab/tools/security"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthService = "collab.Gateway"

func main() {
	cfgPath := flag.String("config", os.Getenv("PCOLLAB_CONFIG"), "path to gateway yaml config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		logger.Warnf("invalid log_level %q, keep default: %v", cfg.LogLevel, err)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("gateway exited", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.AppConfig) error {
	if cfg.TimeoutTooShort() {
		logger.Warn("client_timeout should exceed heartbeat_interval; every session will time out on its first tick",
			zap.Int("heartbeat_interval", cfg.Websocket.HeartbeatInterval),
			zap.Int("client_timeout", cfg.Websocket.ClientTimeout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1) 外部依赖
	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := global.ConfigAll(bootCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer deps.Close()

	// 2) 鉴权 / 身份解析
	auth, err := security.NewAuthenticator(security.Options{
		Secret:   []byte(cfg.Jwt.Secret),
		Alg:      cfg.Jwt.Alg,
		Audience: cfg.Jwt.Audience,
		Leeway:   time.Duration(cfg.Jwt.Leeway) * time.Second,
	})
	if err != nil {
		return err
	}
	var cache identity.Cache
	if deps.Redis != nil && cfg.Redis.IdentityTTL > 0 {
		cache = storage.NewIdentityCache(deps.Redis, time.Duration(cfg.Redis.IdentityTTL)*time.Second)
	}
	resolver := identity.NewResolver(storage.NewPgUserStore(deps.Pg), cache)

	// 3) hub
	hubOpts := collab.HubOptions{NodeID: cfg.NodeId}
	var presence gateway.DeviceLister
	if deps.Redis != nil {
		p := storage.NewPresence(deps.Redis, cfg.NodeId, time.Duration(cfg.Redis.PresenceTTL)*time.Second)
		hubOpts.Presence = p
		presence = p
	}
	if deps.Nats != nil {
		relay, err := collab.NewNatsRelay(deps.Nats, cfg.Nats.SubjectPrefix, cfg.NodeId)
		if err != nil {
			logger.Warnf("[NATS] relay route: %v", err)
		} else {
			hubOpts.Relay = relay
		}
	}
	hub, err := collab.NewHub(hubOpts)
	if err != nil {
		return err
	}
	defer hub.Close()

	// 4) 会话事件
	var sinks collab.MultiSink
	if deps.Events != nil {
		sinks = append(sinks, deps.Events)
	}
	if deps.Mongo != nil {
		store := mgo.NewSessionLogStore(deps.Mongo)
		sinks = append(sinks, store)
		go func() {
			wctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()
			if err := deps.Mongo.WaitReady(wctx); err != nil {
				logger.Warnf("[Mongo] not ready, session log indexes skipped: %v", err)
				return
			}
			if err := store.EnsureIndexes(wctx); err != nil {
				logger.Warnf("[Mongo] ensure indexes: %v", err)
			}
		}()
	}
	var sink collab.EventSink
	if len(sinks) > 0 {
		sink = sinks
	}

	// 5) gateway + HTTP
	gw := gateway.New(gateway.Options{
		NodeID:    cfg.NodeId,
		Websocket: cfg.Websocket,
		Auth:      auth,
		Resolver:  resolver,
		Hub:       hub,
		Sink:      sink,
		Presence:  presence,
	})

	gin.SetMode(gin.ReleaseMode)
	mids := mid.NewManager()
	mids.Add("recovery", mid.Recovery())
	mids.Add("origin", mid.Origin(cfg.Websocket.AllowedOrigins))

	r := gin.New()
	r.Use(mid.RequestLog(), mids.Use())
	gw.RegisterRoutes(r)
	r.GET("/healthz", func(c *gin.Context) {
		st := hub.Stats()
		c.JSON(http.StatusOK, gin.H{
			"node_id":  cfg.NodeId,
			"sessions": gw.Sessions().Count(),
			"hub":      gin.H{"sessions": st.Sessions, "rooms": st.Rooms},
		})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 6) gRPC health
	gs := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(gs, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(healthService, healthpb.HealthCheckResponse_SERVING)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GrpcPort))
	if err != nil {
		return fmt.Errorf("grpc listen :%d: %w", cfg.GrpcPort, err)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("[gRPC] health listening on :%d", cfg.GrpcPort)
		if err := gs.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Infof("[HTTP] listening on :%d node=%s", cfg.Port, cfg.NodeId)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	// 7) 优雅退出：先摘流量，再关会话
	healthServer.Shutdown()
	shutCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutCtx); err != nil {
		logger.Warn("gateway shutdown", zap.Error(err))
	}
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	gs.GracefulStop()
	return runErr
}
