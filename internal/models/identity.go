package models

// Identity is the account a connection acts as.
type Identity struct {
	ID       int     `db:"id" json:"id"`
	Username string  `db:"username" json:"username"`
	Avatar   *string `db:"avatar" json:"-"`
}
