package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"webchat-service/internal/models"
)

var ErrAccountNotFound = errors.New("account not found")

// AccountRepository reads accounts owned by the account service.
type AccountRepository interface {
	GetIdentity(ctx context.Context, userID int) (models.Identity, error)
}

// AccountRepo is the sqlx implementation of AccountRepository.
type AccountRepo struct {
	db *sqlx.DB
}

// NewAccountRepo constructs an AccountRepo.
func NewAccountRepo(db *sqlx.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// GetIdentity loads the identity for userID.
func (r *AccountRepo) GetIdentity(ctx context.Context, userID int) (models.Identity, error) {
	var identity models.Identity
	err := r.db.GetContext(ctx, &identity, r.db.Rebind(`SELECT id, username, avatar FROM accounts WHERE id=?`), userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Identity{}, ErrAccountNotFound
	}
	return identity, err
}

// SaveIdentity mirrors an identity resolved elsewhere into the local
// accounts table, so messages can reference and join it.
func (r *AccountRepo) SaveIdentity(ctx context.Context, identity models.Identity) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`INSERT INTO accounts (id, username, avatar) VALUES (?, ?, ?)
        ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, avatar = EXCLUDED.avatar`),
		identity.ID, identity.Username, identity.Avatar)
	return err
}
