package natsx

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestPublishSubject(t *testing.T) {
	cases := []struct{ subject, token, want string }{
		{"collab.obj.>", "doc1", "collab.obj.doc1"},
		{"collab.obj.*", "doc1", "collab.obj.doc1"},
		{"collab.obj", "doc1", "collab.obj.doc1"},
		{"collab.obj", "", "collab.obj"},
	}
	for _, tc := range cases {
		if got := publishSubject(tc.subject, tc.token); got != tc.want {
			t.Fatalf("publishSubject(%q,%q) = %q want %q", tc.subject, tc.token, got, tc.want)
		}
	}
}

func TestSkipHeader(t *testing.T) {
	called := 0
	h := NatsxChain(func(context.Context, NatsxMessage) error {
		called++
		return nil
	}, SkipHeader("Origin", "gw-1"))

	_ = h(context.Background(), NatsxMessage{Header: map[string]string{"Origin": "gw-1"}})
	_ = h(context.Background(), NatsxMessage{Header: map[string]string{"Origin": "gw-2"}})
	_ = h(context.Background(), NatsxMessage{})
	if called != 2 {
		t.Fatalf("handler called %d times, want 2", called)
	}
}

// 需要本地 nats-server；不可达时跳过
func TestManagerRoundTrip(t *testing.T) {
	url := os.Getenv("PCOLLAB_NATS_SERVERS")
	if url == "" {
		url = "nats://127.0.0.1:4222"
	}
	m, err := NewNatsManager(NatsxConfig{Servers: []string{url}, Name: "natsx-test", Timeout: 300 * time.Millisecond})
	if err != nil {
		t.Skipf("nats not reachable: %v", err)
	}
	defer m.Close()

	if err := m.RegisterRoute(NatsxRoute{Biz: "t", Subject: "natsx.test.>"}); err != nil {
		t.Fatalf("RegisterRoute: %v", err)
	}
	got := make(chan NatsxMessage, 1)
	if err := m.Subscribe("t", func(_ context.Context, msg NatsxMessage) error {
		got <- msg
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := m.Publish(context.Background(), "t", "doc1", []byte("hi"), map[string]string{"Origin": "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	select {
	case msg := <-got:
		if msg.Subject != "natsx.test.doc1" || string(msg.Data) != "hi" || msg.Header["Origin"] != "x" {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}
