package httptransport

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/Lucke514/ImageConverter/internal/platform/config"
	"github.com/Lucke514/ImageConverter/internal/platform/errors"
	"github.com/Lucke514/ImageConverter/internal/platform/logging"
	"github.com/Lucke514/ImageConverter/internal/platform/observability"
)

// Options configures the HTTP router builder.
type Options struct {
	Config *config.Config
	Logger *logging.Logger
	// StaticRoot overrides Config.Server.StaticDir.
	StaticRoot string
}

// Router bundles together the gin engine and common route groups.
type Router struct {
	Engine *gin.Engine
	API    *gin.RouterGroup
}

// Build constructs a gin engine pre-configured with logging, recovery, CORS and observability middlewares.
func Build(opts Options) (*Router, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.KindConfig, "http.build", "http router requires config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	if opts.Config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(loggingMiddleware(logger))
	engine.Use(observabilityMiddleware())

	if err := engine.SetTrustedProxies(nil); err != nil {
		return nil, errors.Wrap(errors.KindTransport, "http.build", "cannot configure proxies", err)
	}
	engine.MaxMultipartMemory = opts.Config.Server.MaxUploadBytes

	origins := opts.Config.Server.AllowOrigins
	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length"},
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}
	engine.Use(cors.New(corsCfg))

	staticRoot := opts.StaticRoot
	if staticRoot == "" {
		staticRoot = opts.Config.Server.StaticDir
	}
	if staticRoot != "" {
		if info, err := os.Stat(staticRoot); err == nil && info.IsDir() {
			engine.Use(static.Serve("/", static.LocalFile(staticRoot, false)))
		} else {
			logger.WarnTag("HTTP", "static dir %s not found, drop page disabled", staticRoot)
		}
	}

	return &Router{
		Engine: engine,
		API:    engine.Group("/api"),
	}, nil
}

func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		status := c.Writer.Status()

		logger.InfoTag("HTTP", "%s %s -> %d (%s)",
			c.Request.Method,
			c.Request.URL.Path,
			status,
			duration,
		)
	}
}

func observabilityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		reqCtx, spanEnd := observability.StartSpan(c.Request.Context(), "http.server", path)
		var spanErr error
		c.Request = c.Request.WithContext(reqCtx)

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if len(c.Errors) > 0 {
			spanErr = c.Errors.Last().Err
		} else if status := c.Writer.Status(); status >= http.StatusInternalServerError {
			spanErr = fmt.Errorf("status %d", status)
		}
		spanEnd(spanErr)

		observability.RecordMetric(reqCtx, "http.requests", 1, map[string]string{
			"component": "http.server",
			"method":    c.Request.Method,
			"path":      path,
			"status":    strconv.Itoa(c.Writer.Status()),
		})
		observability.RecordMetric(reqCtx, "http.request.duration_ms", float64(duration.Milliseconds()), map[string]string{
			"component": "http.server",
			"method":    c.Request.Method,
			"path":      path,
		})
	}
}
