package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/toolgate-io/toolgate/internal/port/outbound"
)

func TestSinkDeliversEvent(t *testing.T) {
	var gotBody outbound.UsageEvent
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL, WithSecret("s3cret"))
	event := outbound.UsageEvent{
		ID:         "evt-1",
		ServerID:   "srv",
		Tool:       "search",
		Version:    "1.0.0",
		Success:    true,
		DurationMs: 42,
		OccurredAt: time.Now().UTC(),
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotBody.ID != "evt-1" || gotBody.Tool != "search" || !gotBody.Success {
		t.Errorf("delivered event = %+v", gotBody)
	}
	if gotHeaders.Get("X-Event-ID") != "evt-1" {
		t.Errorf("X-Event-ID = %q", gotHeaders.Get("X-Event-ID"))
	}
	if gotHeaders.Get("Authorization") != "Bearer s3cret" {
		t.Errorf("Authorization = %q", gotHeaders.Get("Authorization"))
	}
	if ct := gotHeaders.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestSinkAssignsEventID(t *testing.T) {
	var headerID string
	var bodyID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headerID = r.Header.Get("X-Event-ID")
		var ev outbound.UsageEvent
		json.NewDecoder(r.Body).Decode(&ev)
		bodyID = ev.ID
	}))
	defer srv.Close()

	sink := NewSink(srv.URL)
	if err := sink.Send(context.Background(), outbound.UsageEvent{Tool: "search"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if headerID == "" {
		t.Error("empty event ID not assigned before delivery")
	}
	if headerID != bodyID {
		t.Errorf("header ID %q != body ID %q", headerID, bodyID)
	}
}

func TestSinkNoSecretNoAuthHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	sink := NewSink(srv.URL)
	if err := sink.Send(context.Background(), outbound.UsageEvent{Tool: "search"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if auth != "" {
		t.Errorf("Authorization = %q, want unset", auth)
	}
}

func TestSinkNon2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewSink(srv.URL)
	err := sink.Send(context.Background(), outbound.UsageEvent{ID: "evt-1", Tool: "search"})
	if err == nil {
		t.Fatal("Send succeeded against a 502 response")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestSinkContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	sink := NewSink(srv.URL)
	if err := sink.Send(ctx, outbound.UsageEvent{Tool: "search"}); err == nil {
		t.Error("Send succeeded despite cancelled context")
	}
}
