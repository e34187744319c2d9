// Package events publishes committed review mutations to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Clark-Hu/movie-reviews/internal/review"
)

const (
	SubjectReviewCreated = "reviews.created"
	SubjectReviewUpdated = "reviews.updated"
	SubjectReviewDeleted = "reviews.deleted"
	StreamName           = "REVIEWS"

	publishTimeout = 5 * time.Second
)

// ReviewEvent is the payload published for every committed review mutation.
type ReviewEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	OccurredAt    time.Time `json:"occurred_at"`
	ReviewID      string    `json:"review_id"`
	MovieID       string    `json:"movie_id"`
	UserID        string    `json:"user_id"`
	Rating        int       `json:"rating"`
	AverageRating float64   `json:"average_rating"`
	ReviewCount   int       `json:"review_count"`
}

// Publisher publishes review events. A Publisher without a JetStream
// context is a stub that only logs.
type Publisher struct {
	nc  *nats.Conn
	js  nats.JetStreamContext
	log *zap.Logger
}

var _ review.Listener = (*Publisher)(nil)

// New connects to NATS and ensures the REVIEWS stream exists.
// If natsURL is empty, returns a no-op publisher.
func New(natsURL string, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if natsURL == "" {
		log.Warn("NATS_URL not set, review events will not be published (stub mode)")
		return &Publisher{log: log}, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p, err := NewWithConn(nc, log)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return p, nil
}

// NewWithConn builds a publisher over an existing connection.
func NewWithConn(nc *nats.Conn, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"reviews.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		log.Warn("failed to create NATS stream (may already exist)", zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", StreamName))
	return &Publisher{nc: nc, js: js, log: log}, nil
}

// ReviewChanged publishes change on the subject matching its operation.
func (p *Publisher) ReviewChanged(ctx context.Context, change review.Change) error {
	subject, err := subjectFor(change.Op)
	if err != nil {
		return err
	}
	evt := ReviewEvent{
		EventID:       uuid.NewString(),
		EventType:     subject,
		OccurredAt:    time.Now().UTC(),
		ReviewID:      change.Review.ID,
		MovieID:       change.MovieID,
		UserID:        change.Review.UserID,
		Rating:        change.Review.Rating,
		AverageRating: change.AverageRating,
		ReviewCount:   change.ReviewCount,
	}
	return p.Publish(ctx, subject, evt)
}

// Publish sends evt to subject. Stub publishers log and return nil.
func (p *Publisher) Publish(ctx context.Context, subject string, evt ReviewEvent) error {
	if p == nil {
		return nil
	}
	if p.js == nil {
		p.log.Debug("NATS stub: skipping publish", zap.String("subject", subject), zap.String("event_id", evt.EventID))
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	ack, err := p.js.Publish(subject, data, nats.Context(pubCtx), nats.MsgId(evt.EventID))
	if err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.EventID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close drains the underlying connection, if any.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	if err := p.nc.Drain(); err != nil {
		p.log.Warn("drain NATS connection", zap.Error(err))
	}
}

func subjectFor(op review.Op) (string, error) {
	switch op {
	case review.OpCreated:
		return SubjectReviewCreated, nil
	case review.OpUpdated:
		return SubjectReviewUpdated, nil
	case review.OpDeleted:
		return SubjectReviewDeleted, nil
	default:
		return "", fmt.Errorf("unknown review op %q", op)
	}
}
