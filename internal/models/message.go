package models

import "time"

// Conversation groups the messages of one channel.
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	ChannelID string    `db:"channel_id" json:"channel_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Message is a persisted chat message.
type Message struct {
	ID             int       `db:"id" json:"id"`
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	SenderID       int       `db:"sender_id" json:"sender_id"`
	Content        string    `db:"content" json:"content"`
	CreatedAt      time.Time `db:"timestamp_created" json:"timestamp_created"`
	UpdatedAt      time.Time `db:"timestamp_updated" json:"timestamp_updated"`
}

// MessageWithSender is a message joined with its sender's account row.
type MessageWithSender struct {
	Message
	SenderUsername string  `db:"sender_username"`
	SenderAvatar   *string `db:"sender_avatar"`
}

// Sender returns the joined sender as an Identity.
func (m MessageWithSender) Sender() Identity {
	return Identity{ID: m.SenderID, Username: m.SenderUsername, Avatar: m.SenderAvatar}
}
