package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"webchat-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
	ListMessages(ctx context.Context, channelID string) ([]models.MessageWithSender, error)
	GetMessage(ctx context.Context, messageID int) (models.MessageWithSender, error)
	UpdateMessageContent(ctx context.Context, messageID int, senderID int, content string) (models.MessageWithSender, error)
	DeleteMessage(ctx context.Context, messageID int, senderID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db, now: time.Now}
}

const messageWithSenderColumns = `m.id, m.conversation_id, m.sender_id, m.content, m.timestamp_created, m.timestamp_updated,
        a.username AS sender_username, a.avatar AS sender_avatar`

// CreateMessage stores a message; both timestamps are assigned here.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	now := r.now().UTC()
	var id int
	query := r.db.Rebind(`INSERT INTO messages (conversation_id, sender_id, content, timestamp_created, timestamp_updated)
        VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := r.db.QueryRowxContext(ctx, query, conversationID, senderID, content, now, now).Scan(&id); err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err := r.db.GetContext(ctx, &msg, r.db.Rebind(`SELECT id, conversation_id, sender_id, content, timestamp_created, timestamp_updated FROM messages WHERE id=?`), id)
	return msg, err
}

// ListMessages returns the messages of a channel ordered by creation.
func (r *MessageRepo) ListMessages(ctx context.Context, channelID string) ([]models.MessageWithSender, error) {
	query := r.db.Rebind(`SELECT ` + messageWithSenderColumns + `
        FROM messages m
        JOIN conversations c ON c.id = m.conversation_id
        JOIN accounts a ON a.id = m.sender_id
        WHERE c.channel_id=?
        ORDER BY m.timestamp_created ASC, m.id ASC`)
	msgs := []models.MessageWithSender{}
	err := r.db.SelectContext(ctx, &msgs, query, channelID)
	return msgs, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.MessageWithSender, error) {
	var msg models.MessageWithSender
	query := r.db.Rebind(`SELECT ` + messageWithSenderColumns + `
        FROM messages m
        JOIN accounts a ON a.id = m.sender_id
        WHERE m.id=?`)
	err := r.db.GetContext(ctx, &msg, query, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MessageWithSender{}, ErrMessageNotFound
	}
	return msg, err
}

// UpdateMessageContent replaces the content of a message owned by senderID
// and touches its updated timestamp.
func (r *MessageRepo) UpdateMessageContent(ctx context.Context, messageID int, senderID int, content string) (models.MessageWithSender, error) {
	query := r.db.Rebind(`UPDATE messages SET content=?, timestamp_updated=? WHERE id=? AND sender_id=?`)
	res, err := r.db.ExecContext(ctx, query, content, r.now().UTC(), messageID, senderID)
	if err != nil {
		return models.MessageWithSender{}, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return models.MessageWithSender{}, err
	}
	if count == 0 {
		return models.MessageWithSender{}, ErrMessageNotFound
	}
	return r.GetMessage(ctx, messageID)
}

// DeleteMessage removes a message owned by senderID.
func (r *MessageRepo) DeleteMessage(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM messages WHERE id=? AND sender_id=?`), messageID, senderID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}
