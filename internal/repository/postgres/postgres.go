// Package postgres implements the repository interfaces on PostgreSQL through
// the pgx database/sql driver. It is selected when DATABASE_DSN is set.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/xid"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
	"github.com/sakif/plantdoc/internal/repository/migrations"
)

const uniqueViolation = "23505"

var _ repository.Store = (*DB)(nil)

type DB struct {
	conn *sql.DB
}

// New connects to dsn, verifies the connection and applies migrations.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	if err := migrations.Up(ctx, conn, migrations.Postgres); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) CreateUser(ctx context.Context, user *model.User) error {
	user.ID = xid.New().String()
	user.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		user.ID, user.Username, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("Email in use")
		}
		return fmt.Errorf("postgres: inserting user %s: %w", user.Email, err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	return db.getUser(ctx, "id", id)
}

func (db *DB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return db.getUser(ctx, "email", email)
}

// getUser looks a user up by one of the two indexed columns. column is never
// user input.
func (db *DB) getUser(ctx context.Context, column, value string) (*model.User, error) {
	var u model.User
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at
		 FROM users WHERE `+column+` = $1`,
		value,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", value)
		}
		return nil, fmt.Errorf("postgres: getting user by %s: %w", column, err)
	}
	return &u, nil
}

func (db *DB) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry.AnalyzedAt.IsZero() {
		entry.AnalyzedAt = time.Now().UTC()
	}

	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO history_entries
		   (user_id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		entry.UserID,
		entry.PlantType,
		entry.Status,
		entry.Recommendation,
		entry.ImageURL,
		entry.ThumbnailURL,
		entry.AnalyzedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("postgres: appending history for user %s: %w", entry.UserID, err)
	}
	return nil
}

func (db *DB) ListHistory(ctx context.Context, userID string, opts repository.PageOptions) ([]model.HistoryEntry, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_entries WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("postgres: counting history for user %s: %w", userID, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at
		 FROM history_entries
		 WHERE user_id = $1
		 ORDER BY id ASC
		 LIMIT $2 OFFSET $3`,
		userID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: listing history for user %s: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0, opts.Limit)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.PlantType, &e.Status, &e.Recommendation,
			&e.ImageURL, &e.ThumbnailURL, &e.AnalyzedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("postgres: scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("postgres: iterating history rows: %w", err)
	}

	return entries, total, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
