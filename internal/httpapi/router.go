// Package httpapi exposes the analysis service over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Skufu/deprescribe/internal/analysis"
)

const defaultMaxBody = 1 << 20

// HealthChecker is satisfied by *pgxpool.Pool.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Options configures the router. Service is required; a nil DB reports the
// database as disabled on /readyz.
type Options struct {
	Service      *analysis.Service
	DB           HealthChecker
	Logger       zerolog.Logger
	MaxBodyBytes int64
	AllowOrigins []string
	Refinement   bool
	Cache        bool
	Version      string
}

type handler struct {
	svc        *analysis.Service
	db         HealthChecker
	logger     zerolog.Logger
	refinement bool
	cache      bool
	version    string
	started    time.Time
}

func NewRouter(opts Options) *gin.Engine {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBody
	}
	origins := opts.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	h := &handler{
		svc:        opts.Service,
		db:         opts.DB,
		logger:     opts.Logger,
		refinement: opts.Refinement,
		cache:      opts.Cache,
		version:    opts.Version,
		started:    time.Now(),
	}

	router := gin.New()
	router.Use(
		RequestID(),
		AccessLog(opts.Logger),
		Recovery(opts.Logger),
		limitBodySize(opts.MaxBodyBytes),
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
			ExposeHeaders: []string{requestIDHeader, "Content-Disposition"},
			MaxAge:        12 * time.Hour,
		}),
	)
	router.NoRoute(func(c *gin.Context) {
		abort(c, http.StatusNotFound, codeNotFound, "no route for "+c.Request.Method+" "+c.Request.URL.Path, nil)
	})

	router.GET("/health", h.health)
	router.GET("/healthz", h.health)
	router.GET("/readyz", h.ready)
	router.GET("/supported-drugs", h.supportedDrugs)

	router.POST("/analyze-patient", h.analyzePatient)
	router.POST("/analyze-patient/export", h.exportPatient)
	router.POST("/get-taper-plan", h.taperPlan)
	router.POST("/interaction-checker", h.interactionChecker)

	return router
}
