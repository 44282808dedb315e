package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"PCollab/global/config"
	"PCollab/service/collab"
	"PCollab/service/identity"
	"PCollab/service/storage"
	"PCollab/tools/ids"
	"PCollab/tools/errs"
	"PCollab/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const testSecret = "gateway-test-secret"

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	uid   int64
	err   error
}

func (f *fakeResolver) ResolveDevice(_ context.Context, ext, dev string) (identity.InternalIdentity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return identity.InternalIdentity{}, f.err
	}
	return identity.InternalIdentity{UID: f.uid, ExternalID: ext, DeviceID: dev}, nil
}

func (f *fakeResolver) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordSink struct {
	mu     sync.Mutex
	events []collab.SessionEvent
}

func (r *recordSink) Emit(_ context.Context, ev collab.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordSink) Events() []collab.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]collab.SessionEvent(nil), r.events...)
}

type fakeLister struct {
	devs []storage.DevicePresence
	err  error
}

func (f fakeLister) Devices(context.Context, int64) ([]storage.DevicePresence, error) {
	return f.devs, f.err
}

type harness struct {
	gw       *Gateway
	hub      *collab.Hub
	resolver *fakeResolver
	sink     *recordSink
	engine   *gin.Engine
}

func newHarness(t *testing.T, resolver *fakeResolver, ws config.WebsocketConfig) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth, err := security.NewAuthenticator(security.DefaultOptions([]byte(testSecret)))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	hub, err := collab.NewHub(collab.HubOptions{NodeID: "gw-test"})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	t.Cleanup(hub.Close)

	sink := &recordSink{}
	gw := New(Options{
		NodeID:    "gw-test",
		Websocket: ws,
		Auth:      auth,
		Resolver:  resolver,
		Hub:       hub,
		Sink:      sink,
	})
	engine := gin.New()
	gw.RegisterRoutes(engine)
	return &harness{gw: gw, hub: hub, resolver: resolver, sink: sink, engine: engine}
}

func defaultWS() config.WebsocketConfig {
	return config.Default().Websocket
}

func token(t *testing.T) string {
	t.Helper()
	tok, _, err := security.Generate(security.DefaultOptions([]byte(testSecret)),
		"5b6f0c4e-6a57-4c6b-9d0b-2f4f3f0d8a11", "a@example.com")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return tok
}

func doGet(h *harness, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	h.engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) (int, string) {
	t.Helper()
	var body struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body.Code, body.Msg
}

func TestEstablishRejectsBadCredential(t *testing.T) {
	h := newHarness(t, &fakeResolver{uid: 42}, defaultWS())

	rec := doGet(h, "/ws/not-a-jwt/dev-1")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	code, _ := decodeBody(t, rec)
	if code != errs.TokenMalformedError {
		t.Fatalf("code = %d", code)
	}
	if h.resolver.Calls() != 0 {
		t.Fatalf("resolver must not be called for invalid credentials")
	}
	if h.hub.Stats().Sessions != 0 {
		t.Fatalf("no session expected")
	}
}

func TestEstablishEmptyDevice(t *testing.T) {
	h := newHarness(t, &fakeResolver{uid: 42}, defaultWS())
	rec := doGet(h, "/ws/"+token(t)+"/%20")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if h.resolver.Calls() != 0 {
		t.Fatalf("resolver must not be called")
	}
}

func TestEstablishResolutionFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"not found", errs.ErrUserNotFound.WrapMsg("no internal account"), http.StatusNotFound, errs.UserNotFoundError},
		{"store down", errs.ErrStoreUnavailable.WrapMsg("conn refused"), http.StatusServiceUnavailable, errs.StoreUnavailableError},
		{"other", errors.New("boom"), http.StatusInternalServerError, errs.ServerInternalError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, &fakeResolver{err: tc.err}, defaultWS())
			rec := doGet(h, "/ws/"+token(t)+"/dev-1")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			code, msg := decodeBody(t, rec)
			if code != tc.code {
				t.Fatalf("code = %d, want %d", code, tc.code)
			}
			if strings.Contains(msg, "conn refused") || strings.Contains(msg, "boom") {
				t.Fatalf("detail leaked into body: %q", msg)
			}
			if h.hub.Stats().Sessions != 0 {
				t.Fatalf("hub must not see a registration")
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[int]error{
		http.StatusUnauthorized:        errs.ErrTokenExpired.WrapMsg("exp"),
		http.StatusNotFound:            errs.ErrUserNotFound.Wrap(),
		http.StatusServiceUnavailable:  errs.ErrStoreUnavailable.Wrap(),
		http.StatusBadRequest:          errs.ErrArgs.Wrap(),
		http.StatusInternalServerError: errors.New("x"),
	}
	for want, err := range cases {
		if got := StatusFor(err); got != want {
			t.Errorf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
	if got := StatusFor(errs.ErrTokenSignatureInvalid.Wrap()); got != http.StatusUnauthorized {
		t.Errorf("signature invalid = %d", got)
	}
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestEstablishUpgradesAndTracksSession(t *testing.T) {
	h := newHarness(t, &fakeResolver{uid: 42}, defaultWS())
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	conn := dial(t, srv, "/ws/"+token(t)+"/dev-1")
	waitFor(t, "registry entry", func() bool { return h.gw.Sessions().Count() == 1 })

	sessions := h.gw.Sessions().ByUser(42)
	if len(sessions) != 1 {
		t.Fatalf("ByUser = %d", len(sessions))
	}
	s := sessions[0]
	if s.State() != collab.StateActive || s.Identity().DeviceID != "dev-1" {
		t.Fatalf("session = %s %+v", s.State(), s.Identity())
	}
	if s.Config().ReadLimit() != 2*config.DefaultMaxFrameSize {
		t.Fatalf("read limit = %d", s.Config().ReadLimit())
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","object_id":"doc-1"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ack collab.Message
	if err := json.Unmarshal(data, &ack); err != nil || ack.Type != collab.TypeSubscribed || ack.ObjectID != "doc-1" {
		t.Fatalf("ack = %s (%v)", data, err)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	<-s.Done()
	waitFor(t, "registry cleanup", func() bool { return h.gw.Sessions().Count() == 0 })
	waitFor(t, "disconnect event", func() bool { return len(h.sink.Events()) == 2 })

	evs := h.sink.Events()
	if evs[0].Type != collab.EventConnected || evs[1].Type != collab.EventDisconnected {
		t.Fatalf("events = %+v", evs)
	}
	if evs[1].Reason != collab.ReasonPeerClosed.String() || evs[1].UID != 42 {
		t.Fatalf("disconnect event = %+v", evs[1])
	}
	if h.hub.Stats().Sessions != 0 {
		t.Fatalf("hub still holds the session")
	}
}

func TestEstablishSameUserTwoDevices(t *testing.T) {
	h := newHarness(t, &fakeResolver{uid: 7}, defaultWS())
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	dial(t, srv, "/ws/"+token(t)+"/phone")
	dial(t, srv, "/ws/"+token(t)+"/laptop")
	waitFor(t, "two sessions", func() bool { return len(h.gw.Sessions().ByUser(7)) == 2 })
}

func TestFrameLimitOverRealConnection(t *testing.T) {
	ws := defaultWS()
	ws.MaxFrameSize = 64
	h := newHarness(t, &fakeResolver{uid: 42}, ws)
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	conn := dial(t, srv, "/ws/"+token(t)+"/dev-1")
	waitFor(t, "registry entry", func() bool { return h.gw.Sessions().Count() == 1 })

	// 恰好 2*max 的帧被接受，之后的订阅照常应答
	if err := conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 128))); err != nil {
		t.Fatalf("write 128: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe","object_id":"doc-1"}`)); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("session closed after a 2*max frame: %v", err)
	}
	var ack collab.Message
	if err := json.Unmarshal(data, &ack); err != nil || ack.Type != collab.TypeSubscribed {
		t.Fatalf("ack = %s (%v)", data, err)
	}
	if h.gw.Sessions().Count() != 1 || h.hub.Stats().Sessions != 1 {
		t.Fatalf("session dropped after a 2*max frame")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(strings.Repeat("x", 129))); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("expected close 1009, got %v", err)
	}
	waitFor(t, "registry cleanup", func() bool { return h.gw.Sessions().Count() == 0 })
}

func TestShutdownClosesSessions(t *testing.T) {
	h := newHarness(t, &fakeResolver{uid: 42}, defaultWS())
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	conn := dial(t, srv, "/ws/"+token(t)+"/dev-1")
	waitFor(t, "registry entry", func() bool { return h.gw.Sessions().Count() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.gw.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected close 1001, got %v", err)
	}
	if h.gw.Sessions().Count() != 0 {
		t.Fatalf("sessions left after shutdown: %d", h.gw.Sessions().Count())
	}

	rec := doGet(h, "/ws/"+token(t)+"/dev-2")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status after shutdown = %d", rec.Code)
	}
}

func TestSessionIDCarriesNodeBits(t *testing.T) {
	node := ids.NodeIDFromString("gw-test")
	ids.SetNodeID(node)
	h := newHarness(t, &fakeResolver{uid: 42}, defaultWS())
	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	dial(t, srv, "/ws/"+token(t)+"/dev-1")
	waitFor(t, "registry entry", func() bool { return h.gw.Sessions().Count() == 1 })

	sid, err := strconv.ParseInt(h.gw.Sessions().ByUser(42)[0].ID(), 10, 64)
	if err != nil {
		t.Fatalf("session id not a snowflake: %v", err)
	}
	if got := (sid >> 12) & 0x3FF; got != node {
		t.Fatalf("node bits = %d, want %d", got, node)
	}
}

func TestPresenceRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	newGateway := func(l DeviceLister) *gin.Engine {
		gw := New(Options{NodeID: "gw-test", Websocket: defaultWS(), Presence: l})
		r := gin.New()
		gw.RegisterRoutes(r)
		return r
	}
	get := func(r *gin.Engine, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	r := newGateway(fakeLister{devs: []storage.DevicePresence{
		{SessionID: "1", NodeID: "gw-a", DeviceID: "phone"},
		{SessionID: "2", NodeID: "gw-b", DeviceID: "laptop"},
	}})
	rec := get(r, "/presence/42")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		UID     int64            `json:"uid"`
		Devices []map[string]any `json:"devices"`
		Local   int              `json:"local"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.UID != 42 || len(body.Devices) != 2 || body.Local != 0 {
		t.Fatalf("body = %+v", body)
	}

	if rec := get(r, "/presence/abc"); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad uid status = %d", rec.Code)
	}
	down := newGateway(fakeLister{err: errors.New("redis down")})
	if rec := get(down, "/presence/42"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("store down status = %d", rec.Code)
	}
	if rec := get(newGateway(nil), "/presence/42"); rec.Code != http.StatusNotFound {
		t.Fatalf("route mounted without presence: %d", rec.Code)
	}
}
