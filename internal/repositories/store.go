package repositories

import "github.com/jmoiron/sqlx"

// SQLStore is the message store consumed by the chat core.
type SQLStore struct {
	*ConversationRepo
	*MessageRepo
}

// NewSQLStore builds a store over db.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{
		ConversationRepo: NewConversationRepo(db),
		MessageRepo:      NewMessageRepo(db),
	}
}
