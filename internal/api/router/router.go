package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/device"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/generate"
	"github.com/aliskhannn/pixmix-relay/internal/api/handlers/health"
	"github.com/aliskhannn/pixmix-relay/internal/api/middleware"
	"github.com/aliskhannn/pixmix-relay/internal/config"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Generate *generate.Handler
	Probe    *generate.ProbeHandler
	Device   *device.Handler
	Health   *health.Handler
	Metrics  http.Handler
}

// Options configures the middleware chain. A nil Validator disables authentication.
type Options struct {
	CORSOrigins []string
	RateLimit   config.RateLimit
	Validator   middleware.TokenValidator
}

func Setup(h Handlers, opts Options) *ginext.Engine {
	r := ginext.New()

	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(ginext.Logger())
	r.Use(ginext.Recovery())

	auth := middleware.Auth(opts.Validator)

	r.POST("/generate", auth, middleware.RateLimit(opts.RateLimit), h.Generate.Generate) // filter an upload
	r.GET("/test-image", auth, h.Probe.TestImage)                                        // probe the edit API

	r.POST("/register-token", h.Device.Register)
	r.POST("/register-device", h.Device.Register)
	r.GET("/register-token/:userId", h.Device.Get)
	r.DELETE("/register-token/:userId", h.Device.Delete)

	r.GET("/filters", h.Health.Filters)
	r.GET("/health", h.Health.Health)

	if h.Metrics != nil {
		r.GET("/metrics", func(c *ginext.Context) {
			h.Metrics.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}
