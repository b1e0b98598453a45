package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/plantdoc/internal/config"
	"github.com/sakif/plantdoc/internal/model"
	"github.com/sakif/plantdoc/internal/server"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig(t *testing.T, classifierURL, recommenderURL, authMode string) *config.Config {
	t.Helper()
	return &config.Config{
		Port:               0,
		DBPath:             ":memory:",
		JWTSecret:          "integration-test-secret-value",
		AuthMode:           authMode,
		TokenTTL:           time.Hour,
		AccessTokenTTL:     15 * time.Minute,
		RefreshTokenTTL:    24 * time.Hour,
		BcryptCost:         4,
		ClassifierURL:      classifierURL,
		ClassifierTimeout:  2 * time.Second,
		RecommenderURL:     recommenderURL,
		RecommenderTimeout: 2 * time.Second,
		NormalizeImages:    true,
		MaxImageDimension:  64,
		ThumbnailSize:      16,
		JPEGQuality:        80,
		MaxInputPixels:     40_000_000,
		MaxUploadBytes:     1 << 20,
		StorageBackend:     config.StorageDisk,
		UploadDir:          t.TempDir(),
		CORSOrigins:        []string{"http://localhost:5173"},
		HistoryQueueSize:   8,
		LogLevel:           "error",
		LogFormat:          "text",
	}
}

func upstreams(t *testing.T) (classifier, recommender *httptest.Server) {
	t.Helper()
	classifier = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prediction":"Tomato___Early_blight"}`))
	}))
	recommender = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"recommendation":"Remove infected leaves."}`))
	}))
	t.Cleanup(classifier.Close)
	t.Cleanup(recommender.Close)
	return classifier, recommender
}

func newServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	srv, err := server.New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func leafPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 120, 80))
	for x := 0; x < 120; x++ {
		for y := 0; y < 80; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 160, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func analyzeRequest(t *testing.T, token string, img []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("plantType", "Tomato"))
	require.NoError(t, mw.WriteField("waterFreq", "3"))
	part, err := mw.CreateFormFile("image", "leaf.png")
	require.NoError(t, err)
	_, err = part.Write(img)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func registerAndLogin(t *testing.T, h http.Handler) map[string]string {
	t.Helper()
	rr := do(t, h, jsonRequest(http.MethodPost, "/register",
		`{"username":"ana","email":"Ana@Example.com","password":"secret1"}`))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, jsonRequest(http.MethodPost, "/login",
		`{"email":"ana@example.com","password":"secret1"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var tokens map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&tokens))
	return tokens
}

func TestServer_DiagnosisFlow(t *testing.T) {
	classifier, recommender := upstreams(t)
	h := newServer(t, testConfig(t, classifier.URL, recommender.URL, config.AuthModeSingle))

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	tokens := registerAndLogin(t, h)
	token := tokens["token"]
	require.NotEmpty(t, token)

	rr = do(t, h, analyzeRequest(t, token, leafPNG(t)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var diagnosis model.Diagnosis
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&diagnosis))
	assert.Equal(t, "Tomato___Early_blight", diagnosis.Prediction)
	assert.Equal(t, "Tomato___Early_blight", diagnosis.Status)
	assert.Equal(t, "Remove infected leaves.", diagnosis.Recommendation)
	require.True(t, strings.HasPrefix(diagnosis.ImageURL, "/uploads/"))
	require.True(t, strings.HasPrefix(diagnosis.ThumbnailURL, "/uploads/thumb-"))

	rr = do(t, h, httptest.NewRequest(http.MethodGet, diagnosis.ImageURL, nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/jpeg", rr.Header().Get("Content-Type"))

	// The append is asynchronous.
	var page model.HistoryPage
	assert.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/history", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := do(t, h, req)
		if rr.Code != http.StatusOK {
			return false
		}
		page = model.HistoryPage{}
		if err := json.NewDecoder(rr.Body).Decode(&page); err != nil {
			return false
		}
		return page.Total == 1
	}, 2*time.Second, 20*time.Millisecond)

	require.Len(t, page.History, 1)
	assert.Equal(t, "ana", page.Username)
	assert.Equal(t, "Tomato", page.History[0].PlantType)
	assert.Equal(t, "Tomato___Early_blight", page.History[0].Status)
	assert.Equal(t, diagnosis.ImageURL, page.History[0].ImageURL)
	assert.Equal(t, 1, page.Pages)
}

func TestServer_AuthRequired(t *testing.T) {
	classifier, recommender := upstreams(t)
	h := newServer(t, testConfig(t, classifier.URL, recommender.URL, config.AuthModeSingle))

	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rr = do(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	body, _ := io.ReadAll(rr.Body)
	assert.Contains(t, string(body), "Invalid token")

	// /refresh is only mounted in pair mode.
	rr = do(t, h, jsonRequest(http.MethodPost, "/refresh", `{"refreshToken":"x"}`))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServer_PairMode(t *testing.T) {
	classifier, recommender := upstreams(t)
	h := newServer(t, testConfig(t, classifier.URL, recommender.URL, config.AuthModePair))

	tokens := registerAndLogin(t, h)
	require.NotEmpty(t, tokens["accessToken"])
	require.NotEmpty(t, tokens["refreshToken"])
	assert.Empty(t, tokens["token"])

	rr := do(t, h, jsonRequest(http.MethodPost, "/refresh",
		`{"refreshToken":"`+tokens["refreshToken"]+`"}`))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var res map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
	require.NotEmpty(t, res["accessToken"])

	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer "+res["accessToken"])
	rr = do(t, h, req)
	assert.Equal(t, http.StatusOK, rr.Code)

	// A refresh token is not an access token.
	req = httptest.NewRequest(http.MethodGet, "/history", nil)
	req.Header.Set("Authorization", "Bearer "+tokens["refreshToken"])
	rr = do(t, h, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestServer_ClassifierDown(t *testing.T) {
	classifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer classifier.Close()
	_, recommender := upstreams(t)

	cfg := testConfig(t, classifier.URL, recommender.URL, config.AuthModeSingle)
	h := newServer(t, cfg)

	token := registerAndLogin(t, h)["token"]
	rr := do(t, h, analyzeRequest(t, token, leafPNG(t)))
	assert.Equal(t, http.StatusBadGateway, rr.Code)

	entries, err := os.ReadDir(cfg.UploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServer_CORS(t *testing.T) {
	classifier, recommender := upstreams(t)
	h := newServer(t, testConfig(t, classifier.URL, recommender.URL, config.AuthModeSingle))

	req := httptest.NewRequest(http.MethodOptions, "/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization")
	rr := do(t, h, req)

	assert.Equal(t, "http://localhost:5173", rr.Header().Get("Access-Control-Allow-Origin"))
}
