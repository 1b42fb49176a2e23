// Package store persists conversations. Every driver appends messages
// atomically, so concurrent turns never overwrite each other's messages.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kaya7oast/FSDP-sub000/internal/config"
	"github.com/kaya7oast/FSDP-sub000/internal/model"
	"github.com/kaya7oast/FSDP-sub000/pkg/logger"
	"github.com/kaya7oast/FSDP-sub000/pkg/metrics"
)

var (
	// ErrNotFound is returned when no conversation matches.
	ErrNotFound = errors.New("conversation not found")

	// ErrDuplicate is returned by Insert when the id is taken.
	ErrDuplicate = errors.New("conversation already exists")

	// ErrInactive is returned by writes that require an active
	// conversation when the conversation has been deleted.
	ErrInactive = errors.New("conversation is not active")
)

// ConversationStore is the persistence contract shared by all drivers.
type ConversationStore interface {
	// Insert stores a new conversation with its initial messages.
	Insert(ctx context.Context, conv *model.Conversation) error

	// Get returns a conversation by id, deleted ones included.
	Get(ctx context.Context, id string) (*model.Conversation, error)

	// FindLatestActive returns the most recently updated active
	// conversation between userID and agentID.
	FindLatestActive(ctx context.Context, userID, agentID string) (*model.Conversation, error)

	// AppendMessages adds messages to the end of an active conversation in
	// one atomic write. A deleted conversation yields ErrInactive.
	AppendMessages(ctx context.Context, id string, msgs ...model.Message) error

	SetStatus(ctx context.Context, id string, status model.Status) error

	// SetProvider and SetSummary only touch active conversations and
	// yield ErrInactive otherwise.
	SetProvider(ctx context.Context, id, provider string) error
	SetSummary(ctx context.Context, id, summary string) error

	// ListActive returns the user's active conversations, most recently
	// updated first.
	ListActive(ctx context.Context, userID string) ([]model.Conversation, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open connects the driver selected by cfg.StoreDriver.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (ConversationStore, error) {
	var (
		s   ConversationStore
		err error
	)

	switch cfg.StoreDriver {
	case config.DriverMemory:
		s = NewMemoryStore()
	case config.DriverMongo:
		s, err = NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case config.DriverRedis:
		s, err = NewRedisStore(ctx, cfg.RedisURL)
	case config.DriverPostgres:
		s, err = NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	log.Info("conversation store ready", zap.String("driver", cfg.StoreDriver))
	return Instrument(s, cfg.StoreDriver), nil
}

// Instrument records latency and outcome of every store call.
func Instrument(s ConversationStore, driver string) ConversationStore {
	return &instrumented{next: s, driver: driver}
}

type instrumented struct {
	next   ConversationStore
	driver string
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInactive) {
		err = nil
	}
	metrics.RecordStoreOp(i.driver, op, err, time.Since(start).Seconds())
}

func (i *instrumented) Insert(ctx context.Context, conv *model.Conversation) error {
	start := time.Now()
	err := i.next.Insert(ctx, conv)
	i.observe("insert", start, err)
	return err
}

func (i *instrumented) Get(ctx context.Context, id string) (*model.Conversation, error) {
	start := time.Now()
	conv, err := i.next.Get(ctx, id)
	i.observe("get", start, err)
	return conv, err
}

func (i *instrumented) FindLatestActive(ctx context.Context, userID, agentID string) (*model.Conversation, error) {
	start := time.Now()
	conv, err := i.next.FindLatestActive(ctx, userID, agentID)
	i.observe("find_latest_active", start, err)
	return conv, err
}

func (i *instrumented) AppendMessages(ctx context.Context, id string, msgs ...model.Message) error {
	start := time.Now()
	err := i.next.AppendMessages(ctx, id, msgs...)
	i.observe("append_messages", start, err)
	return err
}

func (i *instrumented) SetStatus(ctx context.Context, id string, status model.Status) error {
	start := time.Now()
	err := i.next.SetStatus(ctx, id, status)
	i.observe("set_status", start, err)
	return err
}

func (i *instrumented) SetProvider(ctx context.Context, id, provider string) error {
	start := time.Now()
	err := i.next.SetProvider(ctx, id, provider)
	i.observe("set_provider", start, err)
	return err
}

func (i *instrumented) SetSummary(ctx context.Context, id, summary string) error {
	start := time.Now()
	err := i.next.SetSummary(ctx, id, summary)
	i.observe("set_summary", start, err)
	return err
}

func (i *instrumented) ListActive(ctx context.Context, userID string) ([]model.Conversation, error) {
	start := time.Now()
	convs, err := i.next.ListActive(ctx, userID)
	i.observe("list_active", start, err)
	return convs, err
}

func (i *instrumented) Ping(ctx context.Context) error {
	return i.next.Ping(ctx)
}

func (i *instrumented) Close(ctx context.Context) error {
	return i.next.Close(ctx)
}
