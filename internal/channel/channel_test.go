package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type captureSink struct {
	got []Message
}

func (s *captureSink) Notify(msg Message) { s.got = append(s.got, msg) }

func TestRegistryResolvesByName(t *testing.T) {
	sink := &captureSink{}
	reg := NewRegistry(NewInAppChannel(sink), NewWebhookChannel("push", "http://example.invalid", 0))

	if _, ok := reg["in_app"]; !ok {
		t.Fatalf("expected in_app channel in registry")
	}
	if _, ok := reg["push"]; !ok {
		t.Fatalf("expected push channel in registry")
	}
	if _, ok := reg["sms"]; ok {
		t.Fatalf("did not expect sms channel")
	}
}

func TestInAppChannelDeliversToSink(t *testing.T) {
	sink := &captureSink{}
	ch := NewInAppChannel(sink)

	msg := Message{ID: "itm-1", Kind: KindNotification, Body: "hello", CreatedAt: time.Now()}
	if err := ch.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sink.got) != 1 || sink.got[0].ID != "itm-1" {
		t.Fatalf("sink got %+v", sink.got)
	}
}

func TestWebhookChannelPostsJSON(t *testing.T) {
	var gotKey string
	var gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Idempotency-Key")
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("push", srv.URL, time.Second)
	err := ch.Send(context.Background(), Message{ID: "itm-9", Kind: KindAccessLink})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotKey != "itm-9" {
		t.Fatalf("idempotency key = %q, want itm-9", gotKey)
	}
	if gotType != "application/json" {
		t.Fatalf("content type = %q", gotType)
	}
}

func TestWebhookChannelNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("push", srv.URL, time.Second)
	if err := ch.Send(context.Background(), Message{ID: "itm-2"}); err == nil {
		t.Fatalf("expected error on 502")
	}
}

func TestWebhookChannelRequiresEndpoint(t *testing.T) {
	ch := NewWebhookChannel("push", "", time.Second)
	if err := ch.Send(context.Background(), Message{ID: "itm-3"}); err == nil {
		t.Fatalf("expected error when endpoint unset")
	}
}
