// Package web serves the verification pages that let restricted users prove
// they are human and get their rights back.
package web

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/pborman/uuid"
	"github.com/uptrace/bunrouter"
	"go.uber.org/zap"

	"github.com/iamwavecut/antispambot/internal/observability"
	"github.com/iamwavecut/antispambot/internal/verification"
	"github.com/iamwavecut/antispambot/resources"
)

const (
	readTimeout     = 5 * time.Second
	writeTimeout    = 30 * time.Second
	shutdownTimeout = 10 * time.Second
	maxBodyBytes    = 64 << 10

	// maxChallengeWait leaves room to write the reply before writeTimeout.
	maxChallengeWait = writeTimeout - 5*time.Second
)

// Store is the token bookkeeping the verification flow needs.
type Store interface {
	Lookup(token string) (verification.Request, error)
	Checkout(token string) (verification.Request, error)
	Return(token string)
	Consume(token string) bool
}

// ChallengeVerifier validates a proof-of-work token from the CAP widget.
type ChallengeVerifier interface {
	Verify(ctx context.Context, token string) error
}

// Unrestricter gives a verified user their sending rights back.
type Unrestricter interface {
	UnrestrictMember(ctx context.Context, chatID, userID int64) error
}

type Config struct {
	Port             int
	Language         string
	ChallengeEnabled bool
	CapEndpoint      string
	// ChallengeTimeout bounds one CAP check; it is capped below the write timeout.
	ChallengeTimeout time.Duration
	MetricsEnabled   bool
}

type Server struct {
	cfg      Config
	store    Store
	verifier ChallengeVerifier
	members  Unrestricter
	logger   *zap.Logger
	page     *template.Template
	handler  http.Handler

	mu   sync.Mutex
	srv  *http.Server
	addr net.Addr
	done chan struct{}
}

func NewServer(cfg Config, store Store, verifier ChallengeVerifier, members Unrestricter, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChallengeTimeout <= 0 || cfg.ChallengeTimeout > maxChallengeWait {
		cfg.ChallengeTimeout = maxChallengeWait
	}
	s := &Server{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		members:  members,
		logger:   logger.With(zap.String("component", "web")),
		page:     template.Must(template.ParseFS(resources.FS, "web/verify.html")),
	}

	router := bunrouter.New(bunrouter.Use(s.accessLog))
	router.GET("/verify/:token", s.showChallenge)
	router.POST("/verify/:token", s.submitAnswer)
	router.GET("/healthz", s.health)
	if cfg.MetricsEnabled {
		router.GET("/metrics", bunrouter.HTTPHandler(observability.MetricsHandler()))
	}
	s.handler = gzhttp.GzipHandler(router)
	return s
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("listen web server: %w", err)
	}
	s.srv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	s.addr = ln.Addr()
	s.done = make(chan struct{})

	srv, done := s.srv, s.done
	go func() {
		defer close(done)
		s.logger.Info("web server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server failed", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the bound address, nil until Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	<-done
	s.logger.Info("web server stopped")
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ bunrouter.Request) error {
	return bunrouter.JSON(w, bunrouter.H{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog tags every request with an id, a span and a structured log line.
// The route pattern is logged instead of the path so tokens stay out of logs.
func (s *Server) accessLog(next bunrouter.HandlerFunc) bunrouter.HandlerFunc {
	return func(w http.ResponseWriter, req bunrouter.Request) error {
		start := time.Now()
		requestID := uuid.New()
		ctx, span := observability.Tracer().Start(req.Context(), req.Method+" "+req.Route())
		defer span.End()

		w.Header().Set("X-Request-Id", requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		err := next(rec, req.WithContext(ctx))

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", req.Method),
			zap.String("route", req.Route()),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
			s.logger.Error("request failed", fields...)
			return err
		}
		s.logger.Info("request", fields...)
		return nil
	}
}
