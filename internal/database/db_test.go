package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain path",
			input: "supercache.db",
			want:  "file:supercache.db?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL",
		},
		{
			name:  "sqlite scheme",
			input: "sqlite:///var/lib/supercache.db",
			want:  "file:/var/lib/supercache.db?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL",
		},
		{
			name:  "full DSN passed through",
			input: "file:custom.db?_journal_mode=DELETE",
			want:  "file:custom.db?_journal_mode=DELETE",
		},
		{name: "empty", input: "", wantErr: true},
		{name: "blank", input: "   ", wantErr: true},
		{name: "scheme without path", input: "sqlite://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := normalizeDSN(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpen_MigratesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "supercache.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Health(ctx))

	require.NoError(t, db.UpsertRecord(ctx, "example.com.", "A", "content", 100, 100))
	require.NoError(t, db.Close())

	// Reopen: migrations are idempotent and data persists.
	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	content, receivedAt, ok, err := db.TouchAndFetch(ctx, "example.com.", "A", 200)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "content", content)
	assert.Equal(t, int64(100), receivedAt)
}
