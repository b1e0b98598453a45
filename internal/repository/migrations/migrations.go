// Package migrations embeds the SQL schema for every supported database and
// applies it with goose.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed sqlite/*.sql postgres/*.sql
var files embed.FS

// Dialects understood by Up. The value doubles as the migrations directory.
const (
	SQLite   = "sqlite"
	Postgres = "postgres"
)

var gooseDialects = map[string]string{
	SQLite:   "sqlite3",
	Postgres: "postgres",
}

// goose keeps its base FS and dialect in package globals.
var mu sync.Mutex

// Up applies all pending migrations for the given dialect.
func Up(ctx context.Context, db *sql.DB, dialect string) error {
	gooseDialect, ok := gooseDialects[dialect]
	if !ok {
		return fmt.Errorf("migrations: unknown dialect %q", dialect)
	}

	mu.Lock()
	defer mu.Unlock()

	goose.SetLogger(gooseLogger{logger: slog.Default().With(slog.String("component", "goose"))})
	goose.SetBaseFS(files)
	defer goose.SetBaseFS(nil)

	if err := goose.SetDialect(gooseDialect); err != nil {
		return fmt.Errorf("migrations: setting dialect %s: %w", gooseDialect, err)
	}
	if err := goose.UpContext(ctx, db, dialect); err != nil {
		return fmt.Errorf("migrations: applying %s migrations: %w", dialect, err)
	}
	return nil
}

// gooseLogger routes goose's progress lines through slog instead of the
// stdlib log package.
type gooseLogger struct {
	logger *slog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Fatalf keeps goose's contract: the process exits.
func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
	os.Exit(1)
}
