// Package trackerd is a reference implementation of the remote tracker API:
// per-user completions with at most one record per item per day, the item
// catalog and the user profile. It backs local development and the
// end-to-end tests of the remote gateway.
package trackerd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Server holds the tracker's dependencies.
type Server struct {
	repo    *Repo
	secret  []byte
	origins []string
	logger  *zap.Logger
	tp      trace.TracerProvider
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and error logs.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAllowedOrigins sets the CORS origins. "*" allows any origin.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithTracerProvider enables request spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tp = tp
	}
}

// New creates a server over db, validating bearer tokens with secret.
func New(db *gorm.DB, secret []byte, opts ...Option) (*Server, error) {
	if len(secret) == 0 {
		return nil, errors.New("trackerd: jwt secret is required")
	}
	s := &Server{
		repo:   NewRepo(db),
		secret: secret,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Repo exposes the data layer, for seeding.
func (s *Server) Repo() *Repo {
	return s.repo
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("trackerd listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("trackerd: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("trackerd: shutdown: %w", err)
		}
		s.logger.Info("trackerd stopped")
		return nil
	}
}

func respondError(c *gin.Context, status int, code, message string) {
	body := gin.H{"message": message}
	if code != "" {
		body["code"] = code
	}
	c.AbortWithStatusJSON(status, body)
}

func (s *Server) internalError(c *gin.Context, err error) {
	s.logger.Error("trackerd request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	respondError(c, http.StatusInternalServerError, "INTERNAL", "Internal server error")
}
