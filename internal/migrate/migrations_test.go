package migrate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"taskflow/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	st, err := Inspect(conn)
	require.NoError(t, err)
	require.Equal(t, 0, st.Current)
	require.NotEmpty(t, st.Pending)

	require.NoError(t, Migrate(conn))
	require.NoError(t, Migrate(conn))

	st, err = Inspect(conn)
	require.NoError(t, err)
	require.Equal(t, st.Latest, st.Current)
	require.Empty(t, st.Pending)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&n))
	require.Equal(t, 1, n)
	require.NoError(t, conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='activities_start'`).Scan(&n))
	require.Equal(t, 1, n)
}

func TestLoadMigrationsOrdered(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(ms), 2)
	for i := 1; i < len(ms); i++ {
		require.Less(t, ms[i-1].Version, ms[i].Version)
	}
}
