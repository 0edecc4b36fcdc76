package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/generative-ai-go/genai"
	"github.com/rs/cors"
	"google.golang.org/api/option"

	"github.com/agrinova/apiserver/config"
	"github.com/agrinova/apiserver/internal/db"
	"github.com/agrinova/apiserver/internal/handlers"
	"github.com/agrinova/apiserver/internal/model"
	"github.com/agrinova/apiserver/internal/mq"
	"github.com/agrinova/apiserver/internal/services"
	"github.com/agrinova/apiserver/internal/storage"
	"github.com/agrinova/apiserver/internal/store"
)

// Server wraps the HTTP server, router, and owned resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	closers    []io.Closer
}

// New constructs a Server with all dependencies wired. The classifier
// is loaded once here; if its artifact cannot be loaded the predict
// endpoint stays permanently unavailable rather than retrying.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	jwtSecret := strings.TrimSpace(cfg.JWTSecret)
	if jwtSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	srv := &Server{db: dbConn}

	userRepo := store.NewUserRepository(dbConn)
	scanRepo := store.NewScanRepository(dbConn)

	userService := services.NewUserService(userRepo)
	scanService := services.NewScanService(scanRepo, logger)

	if st, err := newStorage(ctx, cfg.Storage); err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	} else if st != nil {
		if err := st.EnsureBucket(ctx); err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
		scanService.WithStorage(st)
	}

	if broker, err := newBroker(ctx, cfg.MQ); err != nil {
		_ = srv.Close()
		return nil, fmt.Errorf("init broker: %w", err)
	} else if broker != nil {
		scanService.WithBroker(broker, cfg.MQ.Channel)
		srv.closers = append(srv.closers, broker)
	}

	var classifier handlers.Classifier
	network, err := model.Load(cfg.Model.Path)
	if err != nil {
		logger.Error("model loading failed, predict endpoint unavailable", "path", cfg.Model.Path, "error", err)
		classifier = model.Unavailable{}
	} else {
		classifier = network
	}

	var genaiClient *genai.Client
	if strings.TrimSpace(cfg.Chatbot.APIKey) != "" {
		genaiClient, err = genai.NewClient(ctx, option.WithAPIKey(cfg.Chatbot.APIKey))
		if err != nil {
			_ = srv.Close()
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		srv.closers = append(srv.closers, genaiClient)
	}

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
		cors.New(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}).Handler,
		handlers.WithSession(jwtSecret),
	)

	router.Get("/", handlers.Home)
	router.Get("/healthz", handlers.Healthz)
	handlers.AuthRouter(router, userService, jwtSecret)
	handlers.PredictRouter(router, classifier, scanService, logger)

	weatherHandler := handlers.NewWeatherHandler(cfg.Weather)
	router.Get("/weather", weatherHandler.Get)

	chatbotHandler := handlers.NewChatbotHandler(genaiClient, cfg.Chatbot.Model)
	router.Get("/chatbot", chatbotHandler.Usage)
	router.Post("/chatbot", chatbotHandler.Post)

	marketHandler := handlers.NewMarketHandler()
	router.Post("/market_price", marketHandler.Lookup)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	srv.router = router
	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return srv, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	err := s.Close()
	if s.httpServer != nil {
		if closeErr := s.httpServer.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// Close releases owned resources without touching the HTTP listener.
func (s *Server) Close() error {
	for _, closer := range s.closers {
		_ = closer.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func newStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "minio":
		backend, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case "gcs":
		backend, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case "s3":
		backend, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newBroker(ctx context.Context, cfg config.MQConfig) (*mq.MQ, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "none":
		return nil, nil
	case "rabbitmq":
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case "pubsub":
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
