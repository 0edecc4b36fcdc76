package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/agrinova/apiserver/internal/mq"
	"github.com/agrinova/apiserver/internal/storage"
	"github.com/agrinova/apiserver/internal/store"
	"github.com/agrinova/apiserver/types"
	"github.com/google/uuid"
)

// ErrScanNotFound is returned when a scan does not exist or belongs to
// a different user; the two cases are deliberately indistinguishable.
var ErrScanNotFound = errors.New("scan not found")

// ErrNoImage is returned when a scan has no retained image, either
// because retention was disabled when it was recorded or because the
// image upload failed.
var ErrNoImage = errors.New("no image retained")

// ScanRepository defines persistence operations for scans.
type ScanRepository interface {
	Create(ctx context.Context, scan types.Scan) (types.Scan, error)
	GetByID(ctx context.Context, id int) (types.Scan, error)
	ListByUser(ctx context.Context, userID int) ([]types.Scan, error)
}

// ScanEvent is the payload published to the scan channel after a scan
// is recorded.
type ScanEvent struct {
	ScanID     int     `json:"scan_id"`
	UserID     int     `json:"user_id"`
	Prediction string  `json:"prediction"`
	Confidence float64 `json:"confidence"`
}

// ScanService records classification results against users and reads
// scan history. Object storage and the event broker are optional; when
// absent, scans are recorded without image retention or fan-out.
type ScanService struct {
	repo    ScanRepository
	storage *storage.Storage
	broker  *mq.MQ
	channel string
	logger  *slog.Logger
}

func NewScanService(repo ScanRepository, logger *slog.Logger) *ScanService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScanService{repo: repo, logger: logger}
}

// WithStorage enables image retention on the given object storage.
func (s *ScanService) WithStorage(st *storage.Storage) *ScanService {
	s.storage = st
	return s
}

// WithBroker enables scan-event publishing on the given channel.
func (s *ScanService) WithBroker(broker *mq.MQ, channel string) *ScanService {
	s.broker = broker
	s.channel = channel
	return s
}

// Record persists one immutable scan row for the user. Image retention
// and event publishing are best-effort: their failures are logged and
// never fail the recording, and a recording failure in turn must never
// mask the classification result the caller already holds.
func (s *ScanService) Record(ctx context.Context, userID int, prediction string, confidence float64, image []byte, contentType string) (types.Scan, error) {
	scan := types.Scan{
		UserID:     userID,
		Prediction: prediction,
		Confidence: confidence,
	}

	if s.storage != nil && len(image) > 0 {
		key := fmt.Sprintf("scans/%s%s", uuid.NewString(), extensionFor(contentType))
		if err := s.storage.Put(ctx, key, bytes.NewReader(image), int64(len(image)), contentType); err != nil {
			s.logger.ErrorContext(ctx, "store scan image", "key", key, "error", err)
		} else {
			scan.ImageFilename = key
		}
	}

	created, err := s.repo.Create(ctx, scan)
	if err != nil {
		return types.Scan{}, fmt.Errorf("record scan: %w", err)
	}

	s.publish(ctx, created)
	return created, nil
}

// History returns the user's scans, newest first.
func (s *ScanService) History(ctx context.Context, userID int) ([]types.Scan, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Image opens the retained upload behind one of the user's scans. The
// scan must belong to the user; scans of other users read as not found.
func (s *ScanService) Image(ctx context.Context, userID, scanID int) (io.ReadCloser, string, error) {
	scan, err := s.repo.GetByID(ctx, scanID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrScanNotFound
		}
		return nil, "", err
	}
	if scan.UserID != userID {
		return nil, "", ErrScanNotFound
	}
	if s.storage == nil || scan.ImageFilename == "" {
		return nil, "", ErrNoImage
	}

	reader, err := s.storage.Get(ctx, scan.ImageFilename)
	if err != nil {
		return nil, "", fmt.Errorf("open scan image: %w", err)
	}
	return reader, contentTypeFor(scan.ImageFilename), nil
}

func (s *ScanService) publish(ctx context.Context, scan types.Scan) {
	if s.broker == nil || s.channel == "" {
		return
	}
	payload, err := json.Marshal(ScanEvent{
		ScanID:     scan.ID,
		UserID:     scan.UserID,
		Prediction: scan.Prediction,
		Confidence: scan.Confidence,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "encode scan event", "error", err)
		return
	}
	if _, err := s.broker.Publish(ctx, s.channel, payload, map[string]string{"prediction": scan.Prediction}); err != nil {
		s.logger.ErrorContext(ctx, "publish scan event", "channel", s.channel, "error", err)
	}
}

func extensionFor(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func contentTypeFor(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
