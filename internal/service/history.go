package service

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
)

// Pagination bounds for GET /history.
const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// HistoryService reads a user's diagnosis history.
type HistoryService struct {
	users   repository.UserRepository
	history repository.HistoryRepository
	logger  *slog.Logger
}

func NewHistoryService(users repository.UserRepository, history repository.HistoryRepository, logger *slog.Logger) *HistoryService {
	return &HistoryService{users: users, history: history, logger: logger}
}

// ClampPage forces page to at least 1 and limit into [1, MaxLimit].
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 1
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return page, limit
}

// pageOffset is (page-1)*limit, saturating at math.MaxInt so a huge page
// number reads past the end instead of wrapping to a negative offset.
func pageOffset(page, limit int) int {
	if page-1 > math.MaxInt/limit {
		return math.MaxInt
	}
	return (page - 1) * limit
}

// Page returns one page of the user's history, oldest entry first. A page
// past the end is empty, not an error. Returns apperror.ErrNotFound when the
// user does not exist.
func (s *HistoryService) Page(ctx context.Context, userID string, page, limit int) (*model.HistoryPage, error) {
	page, limit = ClampPage(page, limit)

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/history: looking up user %s: %w", userID, err)
	}

	entries, total, err := s.history.ListHistory(ctx, userID, repository.PageOptions{
		Limit:  limit,
		Offset: pageOffset(page, limit),
	})
	if err != nil {
		return nil, fmt.Errorf("service/history: listing history for user %s: %w", userID, err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}

	s.logger.Debug("history page read",
		slog.String("userID", userID),
		slog.Int("page", page),
		slog.Int("returned", len(entries)),
		slog.Int("total", total),
	)

	return &model.HistoryPage{
		Username: user.Username,
		History:  entries,
		Page:     page,
		Limit:    limit,
		Total:    total,
		Pages:    (total + limit - 1) / limit,
	}, nil
}
