package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"webchat-service/internal/config"
)

func TestConnectSQLiteMigratesTwice(t *testing.T) {
	ctx := context.Background()
	database, err := Connect(ctx, config.DriverSQLite, "file::memory:?_foreign_keys=on")
	require.NoError(t, err)
	defer database.Close()

	require.NoError(t, Migrate(ctx, database))

	var tables []string
	require.NoError(t, database.SelectContext(ctx, &tables,
		`SELECT name FROM sqlite_master WHERE type='table' AND name IN ('accounts','conversations','messages') ORDER BY name`))
	require.Equal(t, []string{"accounts", "conversations", "messages"}, tables)
}
