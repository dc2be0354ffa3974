// Package api is the HTTP adapter the application shell uses to upload
// operator files, inspect batches and run correlations.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/hunter-cli/internal/correlate"
	"github.com/sells-group/hunter-cli/internal/ingest"
	"github.com/sells-group/hunter-cli/internal/metrics"
	"github.com/sells-group/hunter-cli/internal/store"
)

// DefaultMaxUploadBytes bounds an uploaded file.
const DefaultMaxUploadBytes = 256 << 20

// Options configures the HTTP adapter.
type Options struct {
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
	// Location is used for correlation bounds given without a zone.
	Location *time.Location
}

// Server wires the ingestor, correlation service and store to HTTP routes.
type Server struct {
	store    store.Store
	ingestor *ingest.Ingestor
	service  *correlate.Service
	metrics  *metrics.Metrics
	opts     Options
	log      *zap.Logger
}

// NewServer creates a Server. A nil metrics disables /metrics.
func NewServer(st store.Store, ing *ingest.Ingestor, svc *correlate.Service, m *metrics.Metrics, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Server{
		store:    st,
		ingestor: ing,
		service:  svc,
		metrics:  m,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "api")),
	}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/missions/{missionID}", func(r chi.Router) {
			r.Post("/uploads", s.handleUpload)
			r.Get("/correlation", s.handleCorrelation)
			r.Get("/batches", s.handleListBatches)
		})
		r.Get("/batches/{batchID}", s.handleGetBatch)
		r.Delete("/batches/{batchID}", s.handlePurgeBatch)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
