package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"webchat-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreateConversation(ctx context.Context, channelID string) (models.Conversation, error)
	FindConversation(ctx context.Context, channelID string) (models.Conversation, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db, now: time.Now}
}

// GetOrCreateConversation returns the conversation for channelID, creating it
// on first use. Concurrent first writers converge on one row: the insert is
// a no-op for everyone but the winner and all of them read the winner's row.
func (r *ConversationRepo) GetOrCreateConversation(ctx context.Context, channelID string) (models.Conversation, error) {
	conv, err := r.FindConversation(ctx, channelID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return models.Conversation{}, err
	}

	query := r.db.Rebind(`INSERT INTO conversations (channel_id, created_at) VALUES (?, ?) ON CONFLICT (channel_id) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, query, channelID, r.now().UTC()); err != nil {
		return models.Conversation{}, err
	}
	return r.FindConversation(ctx, channelID)
}

// FindConversation fetches the conversation for channelID.
func (r *ConversationRepo) FindConversation(ctx context.Context, channelID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, r.db.Rebind(`SELECT id, channel_id, created_at FROM conversations WHERE channel_id=?`), channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}
