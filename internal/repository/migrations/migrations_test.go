package migrations

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestGooseLogger_Printf(t *testing.T) {
	var buf bytes.Buffer
	l := gooseLogger{logger: slog.New(slog.NewJSONHandler(&buf, nil))}

	l.Printf("OK   %s (%s)\n", "00001_users.sql", "1ms")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "OK   00001_users.sql (1ms)", line["msg"])
}

func TestUp_LogsThroughSlog(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Up(context.Background(), db, SQLite))

	out := buf.String()
	assert.Contains(t, out, "component=goose")
	assert.Contains(t, out, "00001_users.sql")
	assert.Contains(t, out, "00002_history_entries.sql")

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM history_entries`).Scan(&n))
	assert.Zero(t, n)

	// A second run has nothing to apply.
	buf.Reset()
	require.NoError(t, Up(context.Background(), db, SQLite))
	assert.False(t, strings.Contains(buf.String(), "OK "), buf.String())
}

func TestUp_UnknownDialect(t *testing.T) {
	err := Up(context.Background(), nil, "oracle")
	assert.ErrorContains(t, err, "unknown dialect")
}
