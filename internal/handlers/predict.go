package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/agrinova/apiserver/internal/model"
	"github.com/agrinova/apiserver/internal/services"
	"github.com/agrinova/apiserver/internal/vision"
	"github.com/go-chi/chi/v5"
)

const (
	maxMultipartMemory = 16 << 20
	maxImageBytes      = 16 << 20
	formFieldFile      = "file"
)

var (
	errMissingUpload  = errors.New("missing upload")
	errNoSelectedFile = errors.New("no selected file")
	errUploadTooLarge = errors.New("upload too large")
)

// Classifier is the inference capability behind the predict endpoint.
// It must be safe for concurrent use; the handler never mutates it.
type Classifier interface {
	Classify(t vision.Tensor) (label string, confidence float64, err error)
	Ready() bool
}

// PredictHandler orchestrates the diagnosis pipeline: normalize the
// uploaded image, classify it, and record the result for the current
// user if one is authenticated.
type PredictHandler struct {
	classifier  Classifier
	scanService *services.ScanService
	logger      *slog.Logger
}

// NewPredictHandler constructs a handler with the provided dependencies.
func NewPredictHandler(classifier Classifier, scanService *services.ScanService, logger *slog.Logger) *PredictHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PredictHandler{
		classifier:  classifier,
		scanService: scanService,
		logger:      logger,
	}
}

// PredictRouter registers the diagnosis routes on the given router.
func PredictRouter(r chi.Router, classifier Classifier, scanService *services.ScanService, logger *slog.Logger) {
	handler := NewPredictHandler(classifier, scanService, logger)

	r.Post("/predict", handler.Predict)
	r.With(RequireAuth).Get("/scans", handler.History)
	r.With(RequireAuth).Get("/scans/{id}/image", handler.Image)
}

type PredictResponse struct {
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// Predict classifies an uploaded plant image. Authentication is
// optional: an authenticated caller gets the result recorded in their
// scan history, an anonymous caller just gets the result. A recording
// failure is logged and never changes the outcome of a successful
// classification.
func (h *PredictHandler) Predict(w http.ResponseWriter, r *http.Request) {
	if !h.classifier.Ready() {
		writeError(w, http.StatusInternalServerError, "Model not loaded")
		return
	}

	data, contentType, err := parseImageUpload(r)
	if err != nil {
		switch {
		case errors.Is(err, errNoSelectedFile):
			writeError(w, http.StatusBadRequest, "No selected file")
		case errors.Is(err, errUploadTooLarge):
			writeError(w, http.StatusBadRequest, "Uploaded file is too large")
		default:
			writeError(w, http.StatusBadRequest, "No file uploaded")
		}
		return
	}

	tensor, err := vision.Normalize(data)
	if err != nil {
		switch {
		case errors.Is(err, vision.ErrEmptyUpload):
			writeError(w, http.StatusBadRequest, "No file uploaded")
		case errors.Is(err, vision.ErrInvalidImage):
			writeError(w, http.StatusBadRequest, "Invalid image file")
		default:
			writeError(w, http.StatusBadRequest, "Invalid image file")
		}
		return
	}

	label, confidence, err := h.classifier.Classify(tensor)
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			writeError(w, http.StatusInternalServerError, "Model not loaded")
			return
		}
		writeError(w, http.StatusInternalServerError, "classification failed")
		return
	}

	if identity, ok := identityFromContext(r.Context()); ok {
		if _, err := h.scanService.Record(r.Context(), identity.UserID, label, confidence, data, contentType); err != nil {
			h.logger.ErrorContext(r.Context(), "record scan",
				"user_id", identity.UserID, "prediction", label, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, PredictResponse{Prediction: label, Confidence: confidence})
}

type HistoryResponse struct {
	Scans []ScanEntry `json:"scans"`
}

type ScanEntry struct {
	ID            int     `json:"id"`
	Prediction    string  `json:"prediction"`
	Confidence    float64 `json:"confidence"`
	ImageFilename string  `json:"image_filename,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// History returns the authenticated user's scans, newest first.
func (h *PredictHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	scans, err := h.scanService.History(r.Context(), identity.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load scan history")
		return
	}

	entries := make([]ScanEntry, 0, len(scans))
	for _, scan := range scans {
		entries = append(entries, ScanEntry{
			ID:            scan.ID,
			Prediction:    scan.Prediction,
			Confidence:    scan.Confidence,
			ImageFilename: scan.ImageFilename,
			CreatedAt:     scan.CreatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Scans: entries})
}

// Image streams the retained upload behind one of the user's scans.
// Scans recorded while image retention was disabled have no image.
func (h *PredictHandler) Image(w http.ResponseWriter, r *http.Request) {
	identity, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	scanID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || scanID < 1 {
		writeError(w, http.StatusNotFound, "Scan not found")
		return
	}

	reader, contentType, err := h.scanService.Image(r.Context(), identity.UserID, scanID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrScanNotFound):
			writeError(w, http.StatusNotFound, "Scan not found")
		case errors.Is(err, services.ErrNoImage):
			writeError(w, http.StatusNotFound, "No image retained for this scan")
		default:
			writeError(w, http.StatusInternalServerError, "failed to load scan image")
		}
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func parseImageUpload(r *http.Request) (data []byte, contentType string, err error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return nil, "", errMissingUpload
	}

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		return nil, "", errMissingUpload
	}
	defer file.Close()

	if header.Filename == "" {
		return nil, "", errNoSelectedFile
	}

	data, err = readFileLimited(file, maxImageBytes)
	if err != nil {
		return nil, "", err
	}
	return data, header.Header.Get("Content-Type"), nil
}

func readFileLimited(reader io.Reader, limit int64) ([]byte, error) {
	limited := io.LimitReader(reader, limit+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}
