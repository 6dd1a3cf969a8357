package models

import "time"

// InboundEvent is what a client sends over the socket.
// Message is a pointer so a missing field can be told apart from "".
type InboundEvent struct {
	Message *string `json:"message"`
}

// UserPayload describes the sender of an outbound message.
type UserPayload struct {
	ID       int     `json:"id"`
	Username string  `json:"username"`
	ImageURL *string `json:"image_url"`
}

// MessagePayload is the wire form of a stored message.
type MessagePayload struct {
	ID               int         `json:"id"`
	User             UserPayload `json:"user"`
	Content          string      `json:"content"`
	TimestampCreated time.Time   `json:"timestamp_created"`
	TimestampUpdated time.Time   `json:"timestamp_updated"`
}

// ErrorPayload reports a session-local failure to the client that caused it.
type ErrorPayload struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// ChatEvent is emitted over WebSocket connections.
type ChatEvent struct {
	Message *MessagePayload `json:"message,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// NewMessagePayload builds the wire form of msg sent by sender.
func NewMessagePayload(msg Message, sender Identity, imageURL *string) MessagePayload {
	return MessagePayload{
		ID: msg.ID,
		User: UserPayload{
			ID:       sender.ID,
			Username: sender.Username,
			ImageURL: imageURL,
		},
		Content:          msg.Content,
		TimestampCreated: msg.CreatedAt,
		TimestampUpdated: msg.UpdatedAt,
	}
}
