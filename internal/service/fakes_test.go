package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sakif/plantdoc/internal/apperror"
	"github.com/sakif/plantdoc/internal/imaging"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/repository"
	"github.com/sakif/plantdoc/internal/storage"
	"github.com/sakif/plantdoc/internal/upstream"
)

// =========================================================================
// FAKES
// =========================================================================
//
// Hand-written in-memory fakes: each implements exactly one interface the
// services depend on, and exposes knobs to inject failures.

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*model.User
	byEmail map[string]*model.User
	nextID  int

	createErr error
	getErr    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]*model.User),
	}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byEmail[user.Email]; ok {
		return apperror.Conflict("Email in use")
	}
	f.nextID++
	user.ID = fmt.Sprintf("user-%d", f.nextID)
	user.CreatedAt = time.Now()
	stored := *user
	f.byID[user.ID] = &stored
	f.byEmail[user.Email] = &stored
	return nil
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byID[id]
	if !ok {
		return nil, apperror.NotFound("user", id)
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, apperror.NotFound("user", email)
	}
	copied := *u
	return &copied, nil
}

// seed inserts a user directly and returns it.
func (f *fakeUserRepo) seed(username, email string) *model.User {
	u := &model.User{Username: username, Email: email, PasswordHash: "x"}
	if err := f.CreateUser(context.Background(), u); err != nil {
		panic(err)
	}
	return u
}

type fakeHistoryRepo struct {
	mu        sync.Mutex
	entries   []model.HistoryEntry
	appendErr error
	delay     time.Duration
}

func (f *fakeHistoryRepo) AppendHistory(ctx context.Context, entry *model.HistoryEntry) error {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	entry.ID = int64(len(f.entries) + 1)
	if entry.AnalyzedAt.IsZero() {
		entry.AnalyzedAt = time.Now()
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeHistoryRepo) ListHistory(_ context.Context, userID string, opts repository.PageOptions) ([]model.HistoryEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var mine []model.HistoryEntry
	for _, e := range f.entries {
		if e.UserID == userID {
			mine = append(mine, e)
		}
	}
	total := len(mine)
	if opts.Offset >= total {
		return []model.HistoryEntry{}, total, nil
	}
	end := opts.Offset + opts.Limit
	if end > total {
		end = total
	}
	return mine[opts.Offset:end], total, nil
}

func (f *fakeHistoryRepo) all() []model.HistoryEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.HistoryEntry(nil), f.entries...)
}

// directWriter persists synchronously so pipeline tests can assert on the
// repository right after Analyze returns.
type directWriter struct {
	repo *fakeHistoryRepo
}

func (w directWriter) Record(entry *model.HistoryEntry) {
	_ = w.repo.AppendHistory(context.Background(), entry)
}

type fakeClassifier struct {
	label upstream.Label
	err   error
	calls int
	got   []byte
}

func (f *fakeClassifier) Predict(_ context.Context, image []byte) (upstream.Label, error) {
	f.calls++
	f.got = image
	return f.label, f.err
}

type fakeRecommender struct {
	text  string
	err   error
	calls int
	got   upstream.RecommendationRequest
}

func (f *fakeRecommender) Recommend(_ context.Context, req upstream.RecommendationRequest) (string, error) {
	f.calls++
	f.got = req
	return f.text, f.err
}

type fakeNormalizer struct {
	result *imaging.Result
	err    error
}

func (f *fakeNormalizer) Normalize([]byte) (*imaging.Result, error) {
	return f.result, f.err
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  func(name string) bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: make(map[string][]byte)}
}

func (f *fakeStore) Put(_ context.Context, name, _ string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != nil && f.failOn(name) {
		return errors.New("disk full")
	}
	f.objects[name] = data
	return nil
}

func (f *fakeStore) Open(_ context.Context, name string) (io.ReadCloser, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[name]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), "image/jpeg", nil
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}
