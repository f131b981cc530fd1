package router

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/prescription-api/internal/middleware"
	"github.com/jwalitptl/prescription-api/pkg/metrics"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type Router struct {
	engine         *gin.Engine
	prescriptionH  Handler
	lookupH        Handler
	healthH        Handler
	metricsHandler gin.HandlerFunc
	sizeLimit      middleware.SizeLimitConfig
}

type RouterConfig struct {
	RateLimitEnabled bool
	RateLimit        rate.Limit
	RateBurst        int
	CORSConfig       middleware.CORSConfig
	SizeLimit        middleware.SizeLimitConfig
}

func NewRouter(
	logger zerolog.Logger,
	m *metrics.Metrics,
	prescriptionH Handler,
	lookupH Handler,
	healthH Handler,
	metricsHandler gin.HandlerFunc,
	config RouterConfig,
) *Router {
	engine := gin.New()

	r := &Router{
		engine:         engine,
		prescriptionH:  prescriptionH,
		lookupH:        lookupH,
		healthH:        healthH,
		metricsHandler: metricsHandler,
		sizeLimit:      config.SizeLimit,
	}
	if r.sizeLimit.MaxBodySize <= 0 {
		r.sizeLimit = middleware.DefaultSizeLimitConfig()
	}

	engine.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.Metrics(m),
		middleware.CORS(config.CORSConfig),
	)

	if config.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
		engine.Use(rateLimiter.RateLimit())
	}

	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	// Health check endpoints
	r.healthH.RegisterRoutes(api)

	doctorView := api.Group("")
	doctorView.Use(
		middleware.SizeLimit(r.sizeLimit),
		middleware.Validation(middleware.DefaultValidationConfig()),
	)
	r.lookupH.RegisterRoutes(doctorView)
	r.prescriptionH.RegisterRoutes(doctorView)

	if r.metricsHandler != nil {
		r.engine.GET("/metrics", r.metricsHandler)
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
