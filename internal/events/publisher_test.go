package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/Clark-Hu/movie-reviews/internal/domain"
	"github.com/Clark-Hu/movie-reviews/internal/review"
)

func startJetStream(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		ServerName: "reviews-test",
		Host:       "127.0.0.1",
		Port:       -1,
		JetStream:  true,
		StoreDir:   t.TempDir(),
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		t.Fatalf("create NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("NATS server not ready within timeout")
	}
	t.Cleanup(ns.Shutdown)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func TestPublisherStubMode(t *testing.T) {
	p, err := New("", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	change := review.Change{Op: review.OpCreated, MovieID: "m1"}
	if err := p.ReviewChanged(context.Background(), change); err != nil {
		t.Fatalf("stub publish: %v", err)
	}
	p.Close()

	var nilPublisher *Publisher
	if err := nilPublisher.Publish(context.Background(), SubjectReviewCreated, ReviewEvent{}); err != nil {
		t.Fatalf("nil publisher: %v", err)
	}
}

func TestPublisherRejectsUnknownOp(t *testing.T) {
	p, _ := New("", nil)
	if err := p.ReviewChanged(context.Background(), review.Change{Op: "renamed"}); err == nil {
		t.Fatal("expected error for unknown op")
	}
}

func TestPublisherPublishesToStream(t *testing.T) {
	nc := startJetStream(t)
	p, err := NewWithConn(nc, nil)
	if err != nil {
		t.Fatalf("NewWithConn: %v", err)
	}

	ctx := context.Background()
	changes := []review.Change{
		{Op: review.OpCreated, MovieID: "m1", AverageRating: 4, ReviewCount: 1,
			Review: domain.Review{ID: "r1", MovieID: "m1", UserID: "u1", Rating: 4}},
		{Op: review.OpUpdated, MovieID: "m1", AverageRating: 5, ReviewCount: 1,
			Review: domain.Review{ID: "r1", MovieID: "m1", UserID: "u1", Rating: 5}},
		{Op: review.OpDeleted, MovieID: "m1", AverageRating: 0, ReviewCount: 0,
			Review: domain.Review{ID: "r1", MovieID: "m1", UserID: "u1", Rating: 5}},
	}
	for _, c := range changes {
		if err := p.ReviewChanged(ctx, c); err != nil {
			t.Fatalf("publish %s: %v", c.Op, err)
		}
	}

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	info, err := js.StreamInfo(StreamName)
	if err != nil {
		t.Fatalf("stream info: %v", err)
	}
	if info.State.Msgs != 3 {
		t.Fatalf("stream holds %d messages, want 3", info.State.Msgs)
	}

	msg, err := js.GetLastMsg(StreamName, SubjectReviewUpdated)
	if err != nil {
		t.Fatalf("last updated msg: %v", err)
	}
	var evt ReviewEvent
	if err := json.Unmarshal(msg.Data, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.EventType != SubjectReviewUpdated || evt.ReviewID != "r1" || evt.Rating != 5 || evt.AverageRating != 5 {
		t.Fatalf("unexpected event %+v", evt)
	}
	if evt.EventID == "" || evt.OccurredAt.IsZero() {
		t.Fatalf("event is missing id or timestamp: %+v", evt)
	}
}
