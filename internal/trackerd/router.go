package trackerd

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/roach88/sadhana/internal/remote"
)

// Router wires middleware and routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		s.logger.Error("trackerd panic", zap.Any("panic", recovered), zap.String("path", c.Request.URL.Path))
		respondError(c, http.StatusInternalServerError, "INTERNAL", "Internal server error")
	}))
	r.Use(s.requestLogger())

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(s.origins) == 0 || (len(s.origins) == 1 && s.origins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = s.origins
	}
	r.Use(cors.New(corsCfg))

	if s.tp != nil {
		r.Use(otelgin.Middleware("trackerd", otelgin.WithTracerProvider(s.tp)))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")
	v1.Use(s.requireAuth())
	{
		v1.GET(stripV1(remote.TrackerPath), s.listTracker)
		v1.POST(stripV1(remote.TrackerPath), s.optSadana)
		v1.DELETE(stripV1(remote.TrackerPath), s.unoptSadana)
		v1.GET(stripV1(remote.CatalogPath), s.listCatalog)
		v1.GET(stripV1(remote.UserPath), s.getUser)
		v1.PATCH(stripV1(remote.UserPath), s.patchUser)
	}
	return r
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if id := c.GetHeader("X-Request-ID"); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if uid := c.GetString(ctxUserID); uid != "" {
			fields = append(fields, zap.String("user", uid))
		}
		switch {
		case c.Writer.Status() >= 500:
			s.logger.Error("request", fields...)
		case c.Writer.Status() >= 400:
			s.logger.Info("request", fields...)
		default:
			s.logger.Debug("request", fields...)
		}
	}
}

func stripV1(path string) string {
	return path[len("/v1"):]
}
