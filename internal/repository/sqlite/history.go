package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
)

var _ repository.HistoryRepository = (*DB)(nil)

// AppendHistory inserts one entry. A single INSERT is atomic, so concurrent
// analyze requests for the same user never overwrite each other; the
// AUTOINCREMENT id records insertion order.
func (db *DB) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if entry.AnalyzedAt.IsZero() {
		entry.AnalyzedAt = time.Now().UTC()
	}

	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO history_entries
		   (user_id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.UserID,
		entry.PlantType,
		entry.Status,
		entry.Recommendation,
		entry.ImageURL,
		entry.ThumbnailURL,
		entry.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending history for user %s: %w", entry.UserID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading history entry id: %w", err)
	}
	entry.ID = id

	return nil
}

// ListHistory returns entries [Offset, Offset+Limit) in insertion order and
// the user's total entry count. Limit and Offset are assumed to be clamped
// by the caller.
func (db *DB) ListHistory(ctx context.Context, userID string, opts repository.PageOptions) ([]model.HistoryEntry, int, error) {
	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM history_entries WHERE user_id = ?`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting history for user %s: %w", userID, err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, plant_type, status, recommendation, image_url, thumbnail_url, analyzed_at
		 FROM history_entries
		 WHERE user_id = ?
		 ORDER BY id ASC
		 LIMIT ? OFFSET ?`,
		userID,
		opts.Limit,
		opts.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing history for user %s: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]model.HistoryEntry, 0, opts.Limit)
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.PlantType, &e.Status, &e.Recommendation,
			&e.ImageURL, &e.ThumbnailURL, &e.AnalyzedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlite: iterating history rows: %w", err)
	}

	return entries, total, nil
}
