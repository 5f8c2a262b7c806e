// Package web serves the tagview page and wires the upload and analytics
// panels to per-visitor session state.
package web

import (
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drummonds/tagview/internal/analytics"
	"github.com/drummonds/tagview/internal/preview"
	"github.com/drummonds/tagview/internal/session"
	"github.com/drummonds/tagview/internal/tagapi"
	"github.com/drummonds/tagview/internal/upload"
)

//go:embed templates/*.html
var templateFS embed.FS

type Options struct {
	RequestTimeout time.Duration
	SessionTTL     time.Duration
	SecureCookie   bool
	BackendURL     string
}

type Server struct {
	opts      Options
	sessions  *session.Manager
	uploads   *upload.Panel
	analytics *analytics.Panel
	thumbs    *preview.Thumbnailer
	tmpl      *template.Template
	logger    *zap.Logger

	samplesMu     sync.Mutex
	samples       []tagapi.SampleImage
	samplesLoaded bool
	samplesTried  time.Time

	// background requests outlive the HTTP request that started them
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options, sessions *session.Manager, uploads *upload.Panel, ap *analytics.Panel, thumbs *preview.Thumbnailer, logger *zap.Logger) (*Server, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.L()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap(funcMap)).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:      opts,
		sessions:  sessions,
		uploads:   uploads,
		analytics: ap,
		thumbs:    thumbs,
		tmpl:      tmpl,
		logger:    logger,
		baseCtx:   ctx,
		cancel:    cancel,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		r.Use(s.withSession)

		r.Get("/", s.handleIndex)
		r.Post("/upload", s.handleUpload)
		r.Post("/samples/{id}/analyze", s.handleAnalyzeSample)
		r.Post("/analytics/refresh", s.handleRefreshAnalytics)
		r.Get("/analytics/chart.png", s.handleChart)
		r.Get("/image/current", s.handleCurrentImage)
		r.Get("/image/preview", s.handlePreview)
		r.Get("/api/state", s.handleState)
		r.Get("/ws", s.handleWebSocket)
	})
	return r
}

// LoadSamples fetches the sample list once at start-up. Failure is logged;
// the page retries later.
func (s *Server) LoadSamples(ctx context.Context) {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	s.fetchSamplesLocked(ctx)
}

// Wait blocks until background requests finish.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close cancels outstanding background requests and waits for them.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Server) background(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RequestTimeout)
		defer cancel()
		fn(ctx)
	}()
}

const sampleRetryInterval = 30 * time.Second

// currentSamples returns the cached list, refetching when the last attempt
// failed and enough time has passed. ok is false when a fetch failed during
// this call.
func (s *Server) currentSamples(ctx context.Context) (samples []tagapi.SampleImage, ok bool) {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	if s.samplesLoaded || time.Since(s.samplesTried) < sampleRetryInterval {
		return s.samples, true
	}
	return s.samples, s.fetchSamplesLocked(ctx)
}

func (s *Server) fetchSamplesLocked(ctx context.Context) bool {
	s.samplesTried = time.Now()
	samples, err := s.uploads.Samples(ctx)
	s.samples = samples
	if err != nil {
		return false
	}
	s.samplesLoaded = true
	s.logger.Info("sample images loaded", zap.Int("count", len(samples)))
	return true
}

func (s *Server) findSample(id int) (tagapi.SampleImage, bool) {
	s.samplesMu.Lock()
	defer s.samplesMu.Unlock()
	for _, smp := range s.samples {
		if smp.ID == id {
			return smp, true
		}
	}
	return tagapi.SampleImage{}, false
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
