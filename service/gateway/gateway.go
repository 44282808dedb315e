package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"PCollab/global/config"
	"PCollab/logger"
	"PCollab/service/collab"
	"PCollab/service/identity"
	"PCollab/service/storage"
	"PCollab/tools/errs"
	"PCollab/tools/ids"
	"PCollab/tools/safe"
	"PCollab/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	RoutePath    = "/ws/:credential/:device_id"
	PresencePath = "/presence/:uid"
	emitTimeout  = 3 * time.Second
)

// Authenticator security.Authenticator 满足
type Authenticator interface {
	Authenticate(credential string) (*security.VerifiedAuth, error)
}

// IdentityResolver identity.Resolver 满足
type IdentityResolver interface {
	ResolveDevice(ctx context.Context, externalID, deviceID string) (identity.InternalIdentity, error)
}

type Options struct {
	NodeID    string
	Websocket config.WebsocketConfig
	Auth      Authenticator
	Resolver  IdentityResolver
	Hub       collab.HubHandle

	// NewID 会话 id；默认用 ids 包的全局雪花生成器（节点号由 global.ConfigIds 设置）
	NewID    func() string
	Sink     collab.EventSink // 可选
	Presence DeviceLister     // 可选，挂 /presence/:uid
}

// DeviceLister storage.Presence 满足
type DeviceLister interface {
	Devices(ctx context.Context, uid int64) ([]storage.DevicePresence, error)
}

// Gateway 建连入口：鉴权 -> 身份解析 -> 升级 -> 启动会话
type Gateway struct {
	opts     Options
	sessions *SessionRegistry
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func New(opts Options) *Gateway {
	if opts.NewID == nil {
		opts.NewID = ids.GenerateString
	}
	return &Gateway{
		opts:     opts,
		sessions: NewSessionRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: logger.Named("gateway"),
		now: time.Now,
	}
}

func (g *Gateway) Sessions() *SessionRegistry { return g.sessions }

func (g *Gateway) RegisterRoutes(r gin.IRoutes) {
	r.GET(RoutePath, g.Establish)
	if g.opts.Presence != nil {
		r.GET(PresencePath, g.Devices)
	}
}

// Devices GET /presence/:uid：全集群在线设备（redis）+ 本节点会话数
func (g *Gateway) Devices(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Param("uid"), 10, 64)
	if err != nil || uid <= 0 {
		g.reject(c, errs.ErrArgs.WrapMsg("invalid uid", "uid", c.Param("uid")))
		return
	}
	devs, err := g.opts.Presence.Devices(c.Request.Context(), uid)
	if err != nil {
		g.reject(c, errs.ErrStoreUnavailable.WrapMsg(err.Error()))
		return
	}
	out := make([]gin.H, 0, len(devs))
	for _, d := range devs {
		out = append(out, gin.H{"session_id": d.SessionID, "node_id": d.NodeID, "device_id": d.DeviceID})
	}
	c.JSON(http.StatusOK, gin.H{
		"uid":     uid,
		"devices": out,
		"local":   len(g.sessions.ByUser(uid)),
	})
}

// Establish GET /ws/:credential/:device_id
func (g *Gateway) Establish(c *gin.Context) {
	credential := strings.TrimSpace(c.Param("credential"))
	deviceID := strings.TrimSpace(c.Param("device_id"))
	if credential == "" {
		g.reject(c, errs.ErrTokenMalformed.WrapMsg("empty credential"))
		return
	}
	if deviceID == "" {
		g.reject(c, errs.ErrArgs.WrapMsg("empty device id"))
		return
	}
	if g.isDraining() {
		g.reject(c, errs.ErrHubRejected.WrapMsg("gateway shutting down"))
		return
	}

	auth, err := g.opts.Auth.Authenticate(credential)
	if err != nil {
		g.reject(c, err)
		return
	}

	ident, err := g.opts.Resolver.ResolveDevice(c.Request.Context(), auth.ExternalID, deviceID)
	if err != nil {
		g.reject(c, err)
		return
	}

	sid := g.opts.NewID()
	sess := collab.NewClientSession(sid, ident, collab.SessionConfigFrom(g.opts.Websocket), g.opts.Hub)

	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 已经写回了 HTTP 错误
		aerr := sess.Abort(err)
		g.log.Info("upgrade failed",
			zap.String("session_id", sid),
			zap.Int64("uid", ident.UID),
			zap.Error(aerr))
		return
	}

	if err := sess.Start(context.Background(), ws); err != nil {
		g.log.Info("session start failed",
			zap.String("session_id", sid),
			zap.Int64("uid", ident.UID),
			zap.Error(err))
		return
	}

	connectedAt := g.now()
	g.sessions.Add(sess, connectedAt)
	g.emit(collab.ConnectedEvent(sess, g.opts.NodeID, connectedAt))
	g.log.Info("ws connected",
		zap.String("session_id", sid),
		zap.Int64("uid", ident.UID),
		zap.String("device_id", deviceID),
		zap.String("remote", c.ClientIP()))

	// 与 Shutdown 的快照竞争：进入 draining 后登记的会话直接关闭
	g.mu.Lock()
	draining := g.draining
	if !draining {
		g.wg.Add(1)
	}
	g.mu.Unlock()
	if draining {
		sess.Close(collab.ReasonShutdown)
	}

	safe.Go("session-watch", func() {
		if !draining {
			defer g.wg.Done()
		}
		<-sess.Done()
		since, ok := g.sessions.Remove(sess)
		if !ok {
			since = connectedAt
		}
		g.emit(collab.DisconnectedEvent(sess, g.opts.NodeID, since, g.now()))
	})
}

// Shutdown 拒绝新连接，以 Shutdown 关闭所有会话并等待收尾
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()

	list := g.sessions.Snapshot()
	for _, s := range list {
		s.Close(collab.ReasonShutdown)
	}
	g.log.Info("gateway draining", zap.Int("sessions", len(list)))

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "gateway shutdown", "remaining", g.sessions.Count())
	}
}

func (g *Gateway) isDraining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

func (g *Gateway) emit(ev collab.SessionEvent) {
	if g.opts.Sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()
	if err := g.opts.Sink.Emit(ctx, ev); err != nil {
		g.log.Warn("emit session event", zap.String("type", ev.Type), zap.Error(err))
	}
}

// reject 升级前失败：{code,msg}，Detail 只进日志
func (g *Gateway) reject(c *gin.Context, err error) {
	ce := errs.AsCode(err)
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		g.log.Error("establish failed", zap.Int("status", status), zap.Error(err))
	} else {
		g.log.Info("establish rejected", zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"code": ce.Code, "msg": ce.Msg})
}

// StatusFor 建连错误 -> HTTP 状态码
func StatusFor(err error) int {
	switch {
	case errors.Is(err, &errs.ErrToken):
		return http.StatusUnauthorized
	case errors.Is(err, &errs.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, &errs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, &errs.ErrArgs):
		return http.StatusBadRequest
	case errors.Is(err, &errs.ErrHubRejected):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
