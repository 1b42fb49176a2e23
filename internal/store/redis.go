package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
)

// RedisStore layout:
//
//	conv:{id}               hash of conversation fields
//	conv:{id}:messages      list of JSON-encoded messages
//	user:{userId}:active    zset of active conversation ids scored by updatedAt
//	pair:{userId}:{agentId} zset of active conversation ids scored by updatedAt
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to url (redis://host:port/db).
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.DialTimeout = 5 * time.Second

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func convKey(id string) string          { return "conv:" + id }
func messagesKey(id string) string      { return "conv:" + id + ":messages" }
func userIndexKey(userID string) string { return "user:" + userID + ":active" }

func pairIndexKey(userID, agentID string) string {
	return "pair:" + userID + ":" + agentID
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Insert implements ConversationStore.
func (s *RedisStore) Insert(ctx context.Context, conv *model.Conversation) error {
	exists, err := s.rdb.Exists(ctx, convKey(conv.ID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrDuplicate
	}

	encoded, err := encodeMessages(conv.Messages)
	if err != nil {
		return err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, convKey(conv.ID), map[string]any{
			"id":        conv.ID,
			"userId":    conv.UserID,
			"agentId":   conv.AgentID,
			"provider":  conv.Provider,
			"name":      conv.Name,
			"summary":   conv.Summary,
			"status":    string(conv.Status),
			"createdAt": conv.CreatedAt.Format(time.RFC3339Nano),
			"updatedAt": conv.UpdatedAt.Format(time.RFC3339Nano),
		})
		if len(encoded) > 0 {
			pipe.RPush(ctx, messagesKey(conv.ID), encoded...)
		}
		if !conv.IsDeleted() {
			member := redis.Z{Score: score(conv.UpdatedAt), Member: conv.ID}
			pipe.ZAdd(ctx, userIndexKey(conv.UserID), member)
			pipe.ZAdd(ctx, pairIndexKey(conv.UserID, conv.AgentID), member)
		}
		return nil
	})
	return err
}

// Get implements ConversationStore.
func (s *RedisStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		fields *redis.MapStringStringCmd
		msgs   *redis.StringSliceCmd
	)
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		fields = pipe.HGetAll(ctx, convKey(id))
		msgs = pipe.LRange(ctx, messagesKey(id), 0, -1)
		return nil
	})
	if err != nil {
		return nil, err
	}

	h := fields.Val()
	if len(h) == 0 {
		return nil, ErrNotFound
	}

	conv := &model.Conversation{
		ID:       h["id"],
		UserID:   h["userId"],
		AgentID:  h["agentId"],
		Provider: h["provider"],
		Name:     h["name"],
		Summary:  h["summary"],
		Status:   model.Status(h["status"]),
	}
	conv.CreatedAt, _ = time.Parse(time.RFC3339Nano, h["createdAt"])
	conv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, h["updatedAt"])

	for _, raw := range msgs.Val() {
		var msg model.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message of %s: %w", id, err)
		}
		conv.Messages = append(conv.Messages, msg)
	}
	return conv, nil
}

// FindLatestActive implements ConversationStore.
func (s *RedisStore) FindLatestActive(ctx context.Context, userID, agentID string) (*model.Conversation, error) {
	ids, err := s.rdb.ZRevRange(ctx, pairIndexKey(userID, agentID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, ids[0])
}

// AppendMessages implements ConversationStore.
func (s *RedisStore) AppendMessages(ctx context.Context, id string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	encoded, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	return s.touch(ctx, id, msgs[len(msgs)-1].CreatedAt, nil, func(pipe redis.Pipeliner) {
		pipe.RPush(ctx, messagesKey(id), encoded...)
	})
}

// SetStatus implements ConversationStore.
func (s *RedisStore) SetStatus(ctx context.Context, id string, status model.Status) error {
	owner, err := s.owner(ctx, s.rdb, id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, convKey(id), "status", string(status), "updatedAt", now.Format(time.RFC3339Nano))
		if status == model.StatusDeleted {
			pipe.ZRem(ctx, userIndexKey(owner.userID), id)
			pipe.ZRem(ctx, pairIndexKey(owner.userID, owner.agentID), id)
			return nil
		}
		member := redis.Z{Score: score(now), Member: id}
		pipe.ZAdd(ctx, userIndexKey(owner.userID), member)
		pipe.ZAdd(ctx, pairIndexKey(owner.userID, owner.agentID), member)
		return nil
	})
	return err
}

// SetProvider implements ConversationStore.
func (s *RedisStore) SetProvider(ctx context.Context, id, provider string) error {
	return s.touch(ctx, id, time.Now().UTC(), map[string]any{"provider": provider}, nil)
}

// SetSummary implements ConversationStore.
func (s *RedisStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.touch(ctx, id, time.Now().UTC(), map[string]any{"summary": summary}, nil)
}

type conversationOwner struct {
	userID  string
	agentID string
	status  model.Status
}

func (s *RedisStore) owner(ctx context.Context, c redis.Cmdable, id string) (*conversationOwner, error) {
	vals, err := c.HMGet(ctx, convKey(id), "userId", "agentId", "status").Result()
	if err != nil {
		return nil, err
	}
	userID, _ := vals[0].(string)
	agentID, _ := vals[1].(string)
	status, _ := vals[2].(string)
	if userID == "" {
		return nil, ErrNotFound
	}
	return &conversationOwner{userID: userID, agentID: agentID, status: model.Status(status)}, nil
}

// maxTouchAttempts bounds the WATCH retries of touch under contention.
const maxTouchAttempts = 5

// touch updates fields and updatedAt of an active conversation and rescores
// it in the active indexes. The conversation hash is WATCHed so a delete
// landing between the status read and the write aborts the transaction.
func (s *RedisStore) touch(ctx context.Context, id string, at time.Time, fields map[string]any, extra func(redis.Pipeliner)) error {
	if fields == nil {
		fields = make(map[string]any, 1)
	}
	fields["updatedAt"] = at.Format(time.RFC3339Nano)

	txf := func(tx *redis.Tx) error {
		owner, err := s.owner(ctx, tx, id)
		if err != nil {
			return err
		}
		if owner.status == model.StatusDeleted {
			return ErrInactive
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if extra != nil {
				extra(pipe)
			}
			pipe.HSet(ctx, convKey(id), fields)
			member := redis.Z{Score: score(at), Member: id}
			pipe.ZAddXX(ctx, userIndexKey(owner.userID), member)
			pipe.ZAddXX(ctx, pairIndexKey(owner.userID, owner.agentID), member)
			return nil
		})
		return err
	}

	for i := 0; i < maxTouchAttempts; i++ {
		err := s.rdb.Watch(ctx, txf, convKey(id))
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", id, redis.TxFailedErr)
}

// ListActive implements ConversationStore.
func (s *RedisStore) ListActive(ctx context.Context, userID string) ([]model.Conversation, error) {
	ids, err := s.rdb.ZRevRange(ctx, userIndexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(ids))
	for _, id := range ids {
		conv, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, nil
}

// Ping checks the redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisStore) Close(context.Context) error {
	return s.rdb.Close()
}

func encodeMessages(msgs []model.Message) ([]any, error) {
	out := make([]any, 0, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		out = append(out, string(raw))
	}
	return out, nil
}
