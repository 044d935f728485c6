package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFilesAreOrderedAndEmbedded(t *testing.T) {
	names, err := Files()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_init.sql", names[0])

	body, err := files.ReadFile(names[0])
	require.NoError(t, err)
	schema := string(body)
	for _, table := range []string{"users", "companies", "audit_logs"} {
		require.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" "), table)
	}
	require.Contains(t, schema, "phone_number TEXT NOT NULL UNIQUE")
	require.Contains(t, schema, "name       TEXT NOT NULL UNIQUE")
}
