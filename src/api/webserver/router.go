package webserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/api/config"
	"github.com/stake-plus/stakegate/src/api/governance"
	"github.com/stake-plus/stakegate/src/api/locks"
	"github.com/stake-plus/stakegate/src/api/store"
	"github.com/stake-plus/stakegate/src/api/sweeps"
	"github.com/stake-plus/stakegate/src/api/verify"
	"github.com/stake-plus/stakegate/src/logging"
)

// Deps are the engines and clients the HTTP surface is built on.
type Deps struct {
	Store      *store.Store
	Redis      *redis.Client
	Verify     *verify.Service
	Locks      *locks.Engine
	Governance *governance.Engine
	Sweeps     *sweeps.Runner
	Gatherer   prometheus.Gatherer
	Log        *zap.Logger
}

// New builds the gin engine with every route attached.
func New(cfg config.Config, d Deps) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	d.Log = logging.OrNop(d.Log)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))
	attachRoutes(r, cfg, d)
	return r
}

func attachRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	r.GET("/healthz", health(d))
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	}

	walletH := NewWallets(d.Verify, d.Store, d.Log)
	lockH := NewLocks(d.Locks, d.Governance, d.Log)
	propH := NewProposals(d.Governance, d.Log)
	limiter := NewRateLimiter(d.Redis, cfg.RateLimit, cfg.RateWindow, d.Log)

	v1 := r.Group("/v1")
	v1.GET("/tiers", lockH.Tiers)

	secured := v1.Group("")
	secured.Use(JWTMiddleware([]byte(cfg.JWTSecret), d.Store, d.Log), RateLimitMiddleware(limiter))
	{
		secured.POST("/wallets/challenge", walletH.Challenge)
		secured.POST("/wallets/verify", walletH.Verify)
		secured.POST("/wallets/confirm", walletH.Confirm)
		secured.GET("/wallets", walletH.List)
		secured.PATCH("/wallets/:address", walletH.Update)
		secured.DELETE("/wallets/:address", walletH.Delete)

		secured.GET("/locks", lockH.List)
		secured.POST("/locks", lockH.Create)
		secured.POST("/locks/:id/unlock", lockH.Unlock)
		secured.GET("/me/tier", lockH.MyTier)

		secured.GET("/proposals", propH.List)
		secured.GET("/proposals/:id", propH.Get)
		secured.POST("/proposals", propH.Create)
		secured.POST("/proposals/:id/votes", propH.Vote)
	}

	admin := v1.Group("/admin")
	admin.Use(AdminMiddleware(cfg.AdminToken))
	{
		adminH := NewAdmin(d.Sweeps, d.Log)
		admin.POST("/sweeps/:name", adminH.Sweep)
	}
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Retry-After"},
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func health(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		out := gin.H{"db": "ok", "redis": "disabled"}
		status := http.StatusOK
		if err := d.Store.Ping(ctx); err != nil {
			out["db"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if d.Redis != nil {
			out["redis"] = "ok"
			if err := d.Redis.Ping(ctx).Err(); err != nil {
				out["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		c.JSON(status, out)
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
