package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

const (
	// StreamName is the name of the conversation events stream.
	StreamName = "CONVERSATIONS"

	// SubjectPrefix is the prefix for all conversation subjects.
	SubjectPrefix = "conv"
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStream ensures the conversations stream exists with proper configuration.
func (m *StreamManager) EnsureStream(ctx context.Context) error {
	js := m.client.JetStream()

	_, err := js.Stream(ctx, StreamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream: %w", err)
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      90 * 24 * time.Hour,
		MaxBytes:    10 * 1024 * 1024 * 1024,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Conversation lifecycle events",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	m.client.logger.Info("created JetStream stream", zap.String("stream", StreamName))
	return nil
}

// EventSubject returns the subject for an event.
func EventSubject(userID, conversationID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s.event.%s", SubjectPrefix, token(userID), token(conversationID), eventType)
}

// ConversationFilter returns the filter subject for all events of a conversation.
func ConversationFilter(userID, conversationID string) string {
	return fmt.Sprintf("%s.%s.%s.event.>", SubjectPrefix, token(userID), token(conversationID))
}

// token makes s safe to use as a single subject token.
func token(s string) string {
	out := []byte(s)
	for i, c := range out {
		switch c {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			out[i] = '_'
		}
	}
	return string(out)
}

// PublishEvent publishes an event to JetStream.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.ConversationEvent) error {
	subject := EventSubject(event.UserID, event.ConversationID, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	_, err = m.client.JetStream().Publish(ctx, subject, data, jetstream.WithMsgID(event.ID))
	metrics.RecordEvent(string(event.Type), err)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// replayBatch is the number of events pulled per request while replaying.
const replayBatch = 256

// ListEvents returns the newest limit events of a conversation, oldest first.
// The whole filtered history is replayed and only the tail is kept.
func (m *StreamManager) ListEvents(ctx context.Context, userID, conversationID string, limit int) ([]model.ConversationEvent, error) {
	if limit <= 0 {
		return []model.ConversationEvent{}, nil
	}
	js := m.client.JetStream()

	consumer, err := js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{ConversationFilter(userID, conversationID)},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	recent := newEventTail(limit)
	for {
		batch, err := consumer.FetchNoWait(replayBatch)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch events: %w", err)
		}

		received := 0
		for msg := range batch.Messages() {
			received++
			var event model.ConversationEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				m.client.logger.Warn("skipping undecodable event", zap.String("subject", msg.Subject()), zap.Error(err))
				continue
			}
			recent.add(event)
		}

		if err := batch.Error(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, jetstream.ErrNoMessages) {
			return nil, fmt.Errorf("batch error: %w", err)
		}
		if received < replayBatch {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if stream, err := js.Stream(ctx, StreamName); err == nil {
		if si, err := stream.Info(ctx); err == nil {
			metrics.NATSStreamMessages.WithLabelValues(StreamName).Set(float64(si.State.Msgs))
		}
	}

	return recent.list(), nil
}

// eventTail keeps the last limit events added to it, in insertion order.
type eventTail struct {
	limit  int
	events []model.ConversationEvent
}

func newEventTail(limit int) *eventTail {
	return &eventTail{limit: limit, events: make([]model.ConversationEvent, 0, limit)}
}

func (t *eventTail) add(event model.ConversationEvent) {
	t.events = append(t.events, event)
	if len(t.events) > 2*t.limit {
		t.events = append(t.events[:0], t.events[len(t.events)-t.limit:]...)
	}
}

func (t *eventTail) list() []model.ConversationEvent {
	if len(t.events) > t.limit {
		return t.events[len(t.events)-t.limit:]
	}
	return t.events
}
