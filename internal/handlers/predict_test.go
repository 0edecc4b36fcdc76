package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/agrinova/apiserver/internal/model"
	"github.com/agrinova/apiserver/internal/services"
	"github.com/agrinova/apiserver/internal/storage"
	"github.com/agrinova/apiserver/internal/store"
	"github.com/agrinova/apiserver/internal/vision"
	"github.com/agrinova/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	label      string
	confidence float64
	ready      bool
}

func (c *fakeClassifier) Classify(vision.Tensor) (string, float64, error) {
	if !c.ready {
		return "", 0, model.ErrUnavailable
	}
	return c.label, c.confidence, nil
}

func (c *fakeClassifier) Ready() bool {
	return c.ready
}

type memoryScanRepo struct {
	scans   []types.Scan
	nextID  int
	failure error
}

func (r *memoryScanRepo) Create(_ context.Context, scan types.Scan) (types.Scan, error) {
	if r.failure != nil {
		return types.Scan{}, r.failure
	}
	r.nextID++
	scan.ID = r.nextID
	scan.CreatedAt = time.Now()
	r.scans = append(r.scans, scan)
	return scan, nil
}

func (r *memoryScanRepo) GetByID(_ context.Context, id int) (types.Scan, error) {
	for _, scan := range r.scans {
		if scan.ID == id {
			return scan, nil
		}
	}
	return types.Scan{}, store.ErrNotFound
}

func (r *memoryScanRepo) ListByUser(_ context.Context, userID int) ([]types.Scan, error) {
	var out []types.Scan
	for i := len(r.scans) - 1; i >= 0; i-- {
		if r.scans[i].UserID == userID {
			out = append(out, r.scans[i])
		}
	}
	return out, nil
}

func newPredictRouter(classifier Classifier, repo *memoryScanRepo) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := chi.NewRouter()
	router.Use(WithSession(testSecret))
	PredictRouter(router, classifier, services.NewScanService(repo, logger), logger)
	return router
}

type memoryObjects struct {
	objects map[string][]byte
}

func (s *memoryObjects) EnsureBucket(context.Context) error { return nil }

func (s *memoryObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.objects[key] = data
	return nil
}

func (s *memoryObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memoryObjects) Bucket() string { return "test-bucket" }

func newPredictRouterWithStorage(classifier Classifier, repo *memoryScanRepo) *chi.Mux {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	service := services.NewScanService(repo, logger).
		WithStorage(storage.NewStorage(&memoryObjects{objects: map[string][]byte{}}))
	router := chi.NewRouter()
	router.Use(WithSession(testSecret))
	PredictRouter(router, classifier, service, logger)
	return router
}

func leafUpload(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	var encoded bytes.Buffer
	require.NoError(t, png.Encode(&encoded, img))

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formFieldFile, "leaf.png"))
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(encoded.Bytes())
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func sessionCookie(t *testing.T, userID int, username string) *http.Cookie {
	t.Helper()
	token, err := issueSession(userID, username, []byte(testSecret), defaultSessionTTL)
	require.NoError(t, err)
	return &http.Cookie{Name: sessionCookieName, Value: token}
}

func doPredict(t *testing.T, router http.Handler, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := leafUpload(t)
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPredictAnonymous(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouter(&fakeClassifier{label: "Apple_scab", confidence: 0.91, ready: true}, repo)

	rec := doPredict(t, router)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Apple_scab", resp.Prediction)
	require.InDelta(t, 0.91, resp.Confidence, 1e-9)

	// anonymous use is allowed but never persisted
	require.Empty(t, repo.scans)
}

func TestPredictAuthenticatedRecordsScan(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouter(&fakeClassifier{label: "Healthy", confidence: 0.98, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, repo.scans, 1)
	require.Equal(t, 5, repo.scans[0].UserID)
	require.Equal(t, "Healthy", repo.scans[0].Prediction)
	require.InDelta(t, 0.98, repo.scans[0].Confidence, 1e-9)
}

func TestPredictPersistenceFailureDoesNotMaskResult(t *testing.T) {
	repo := &memoryScanRepo{failure: errors.New("connection refused")}
	router := newPredictRouter(&fakeClassifier{label: "Others", confidence: 0.42, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Others", resp.Prediction)
}

func TestPredictNoFile(t *testing.T) {
	router := newPredictRouter(&fakeClassifier{ready: true}, &memoryScanRepo{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "No file uploaded", resp.Error)
}

func TestPredictInvalidImage(t *testing.T) {
	router := newPredictRouter(&fakeClassifier{ready: true}, &memoryScanRepo{})

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(formFieldFile, "notes.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("not an image"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Invalid image file", resp.Error)
}

func TestPredictModelUnavailableIsPermanent(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouter(&fakeClassifier{ready: false}, repo)

	for i := 0; i < 3; i++ {
		rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Equal(t, "Model not loaded", resp.Error)
	}
	require.Empty(t, repo.scans)
}

func TestHistory(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouter(&fakeClassifier{label: "Apple_scab", confidence: 0.91, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	req.AddCookie(sessionCookie(t, 5, "kisan"))
	historyRec := httptest.NewRecorder()
	router.ServeHTTP(historyRec, req)
	require.Equal(t, http.StatusOK, historyRec.Code)

	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(historyRec.Body.Bytes(), &resp))
	require.Len(t, resp.Scans, 1)
	require.Equal(t, "Apple_scab", resp.Scans[0].Prediction)
}

func TestHistoryRequiresAuth(t *testing.T) {
	router := newPredictRouter(&fakeClassifier{ready: true}, &memoryScanRepo{})

	req := httptest.NewRequest(http.MethodGet, "/scans", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestScanImage(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouterWithStorage(&fakeClassifier{label: "Apple_scab", confidence: 0.91, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.scans, 1)
	require.NotEmpty(t, repo.scans[0].ImageFilename)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/scans/%d/image", repo.scans[0].ID), nil)
	req.AddCookie(sessionCookie(t, 5, "kisan"))
	imageRec := httptest.NewRecorder()
	router.ServeHTTP(imageRec, req)
	require.Equal(t, http.StatusOK, imageRec.Code)
	require.Equal(t, "image/png", imageRec.Header().Get("Content-Type"))
	require.NotEmpty(t, imageRec.Body.Bytes())
}

func TestScanImageIsOwnerOnly(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouterWithStorage(&fakeClassifier{label: "Healthy", confidence: 0.9, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.scans, 1)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/scans/%d/image", repo.scans[0].ID), nil)
	req.AddCookie(sessionCookie(t, 6, "other"))
	imageRec := httptest.NewRecorder()
	router.ServeHTTP(imageRec, req)
	require.Equal(t, http.StatusNotFound, imageRec.Code)
}

func TestScanImageWithoutRetention(t *testing.T) {
	repo := &memoryScanRepo{}
	router := newPredictRouter(&fakeClassifier{label: "Healthy", confidence: 0.9, ready: true}, repo)

	rec := doPredict(t, router, sessionCookie(t, 5, "kisan"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, repo.scans, 1)
	require.Empty(t, repo.scans[0].ImageFilename)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/scans/%d/image", repo.scans[0].ID), nil)
	req.AddCookie(sessionCookie(t, 5, "kisan"))
	imageRec := httptest.NewRecorder()
	router.ServeHTTP(imageRec, req)
	require.Equal(t, http.StatusNotFound, imageRec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(imageRec.Body.Bytes(), &resp))
	require.Equal(t, "No image retained for this scan", resp.Error)
}

func TestScanImageUnknownScan(t *testing.T) {
	router := newPredictRouter(&fakeClassifier{ready: true}, &memoryScanRepo{})

	req := httptest.NewRequest(http.MethodGet, "/scans/999/image", nil)
	req.AddCookie(sessionCookie(t, 5, "kisan"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	unauthenticated := httptest.NewRequest(http.MethodGet, "/scans/999/image", nil)
	unauthRec := httptest.NewRecorder()
	router.ServeHTTP(unauthRec, unauthenticated)
	require.Equal(t, http.StatusUnauthorized, unauthRec.Code)
}
