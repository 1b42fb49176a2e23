package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/kaya7oast/FSDP-sub000/internal/model"
)

// conversationRow is the postgres shape of a conversation. Messages live in
// a jsonb array so an append is a single UPDATE.
type conversationRow struct {
	ID        string         `gorm:"primaryKey"`
	UserID    string         `gorm:"not null;index:idx_conversations_pair"`
	AgentID   string         `gorm:"not null;index:idx_conversations_pair"`
	Provider  string         `gorm:"not null"`
	Name      string
	Summary   string         `gorm:"type:text"`
	Status    string         `gorm:"not null;index"`
	Messages  datatypes.JSON `gorm:"type:jsonb;default:'[]'"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// TableName sets the gorm table name.
func (conversationRow) TableName() string {
	return "conversations"
}

func toRow(conv *model.Conversation) (*conversationRow, error) {
	msgs := conv.Messages
	if msgs == nil {
		msgs = []model.Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}
	return &conversationRow{
		ID:        conv.ID,
		UserID:    conv.UserID,
		AgentID:   conv.AgentID,
		Provider:  conv.Provider,
		Name:      conv.Name,
		Summary:   conv.Summary,
		Status:    string(conv.Status),
		Messages:  datatypes.JSON(raw),
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}, nil
}

func (r *conversationRow) toModel() (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:        r.ID,
		UserID:    r.UserID,
		AgentID:   r.AgentID,
		Provider:  r.Provider,
		Name:      r.Name,
		Summary:   r.Summary,
		Status:    model.Status(r.Status),
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if len(r.Messages) > 0 {
		if err := json.Unmarshal(r.Messages, &conv.Messages); err != nil {
			return nil, fmt.Errorf("decode messages of %s: %w", r.ID, err)
		}
	}
	return conv, nil
}

// PostgresStore persists conversations with gorm.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore opens dsn and migrates the conversations table.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.WithContext(ctx).AutoMigrate(&conversationRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Insert implements ConversationStore.
func (s *PostgresStore) Insert(ctx context.Context, conv *model.Conversation) error {
	row, err := toRow(conv)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Get implements ConversationStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (*model.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	return s.rowOrNotFound(&row, err)
}

// FindLatestActive implements ConversationStore.
func (s *PostgresStore) FindLatestActive(ctx context.Context, userID, agentID string) (*model.Conversation, error) {
	var row conversationRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND agent_id = ? AND status = ?", userID, agentID, model.StatusActive).
		Order("updated_at DESC").
		Take(&row).Error
	return s.rowOrNotFound(&row, err)
}

func (s *PostgresStore) rowOrNotFound(row *conversationRow, err error) (*model.Conversation, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// AppendMessages concatenates msgs onto the jsonb column of an active
// conversation in one UPDATE.
func (s *PostgresStore) AppendMessages(ctx context.Context, id string, msgs ...model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode messages: %w", err)
	}
	return s.update(ctx, id, true, map[string]any{
		"messages":   gorm.Expr("messages || ?::jsonb", string(raw)),
		"updated_at": msgs[len(msgs)-1].CreatedAt,
	})
}

// SetStatus implements ConversationStore.
func (s *PostgresStore) SetStatus(ctx context.Context, id string, status model.Status) error {
	return s.update(ctx, id, false, map[string]any{"status": string(status), "updated_at": time.Now().UTC()})
}

// SetProvider implements ConversationStore.
func (s *PostgresStore) SetProvider(ctx context.Context, id, provider string) error {
	return s.update(ctx, id, true, map[string]any{"provider": provider, "updated_at": time.Now().UTC()})
}

// SetSummary implements ConversationStore.
func (s *PostgresStore) SetSummary(ctx context.Context, id, summary string) error {
	return s.update(ctx, id, true, map[string]any{"summary": summary, "updated_at": time.Now().UTC()})
}

// update applies fields to one row. With activeOnly the WHERE clause also
// requires status active, and a deleted row reports ErrInactive.
func (s *PostgresStore) update(ctx context.Context, id string, activeOnly bool, fields map[string]any) error {
	q := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id)
	if activeOnly {
		q = q.Where("status = ?", string(model.StatusActive))
	}
	res := q.Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if !activeOnly {
		return ErrNotFound
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&conversationRow{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrInactive
	}
	return ErrNotFound
}

// ListActive implements ConversationStore.
func (s *PostgresStore) ListActive(ctx context.Context, userID string) ([]model.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, model.StatusActive).
		Order("updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(rows))
	for i := range rows {
		conv, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *conv)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
