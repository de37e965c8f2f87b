package routes

import (
	"log/slog"

	_ "signaling-service/docs"
	"signaling-service/internal/api/handlers"
	"signaling-service/internal/api/middleware"
	"signaling-service/internal/auth"
	"signaling-service/internal/config"
	"signaling-service/internal/websocket"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type Router struct {
	engine       *gin.Engine
	cfg          *config.Config
	wsHandler    *handlers.WSHandler
	statsHandler *handlers.StatsHandler
	authMW       *middleware.AuthMiddleware
	rateLimitMW  *middleware.RateLimitMiddleware
}

// NewRouter builds the HTTP surface of the relay. limiter may be nil, in which
// case handshakes are not rate limited.
func NewRouter(
	cfg *config.Config,
	hub *websocket.Hub,
	authenticator *auth.TokenAuthenticator,
	limiter middleware.RateLimiter,
	logger *slog.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(cfg.WebSocket.AllowedOrigins))
	engine.Use(middleware.LogApi(logger))

	r := &Router{
		engine:       engine,
		cfg:          cfg,
		wsHandler:    handlers.NewWSHandler(hub),
		statsHandler: handlers.NewStatsHandler(hub),
		authMW:       middleware.NewAuthMiddleware(authenticator),
	}
	if limiter != nil {
		r.rateLimitMW = middleware.NewRateLimitMiddleware(limiter, logger)
	}
	return r
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/healthz", handlers.Health)

	api := r.engine.Group("/api/v1")

	// WebSocket endpoint: rate limit first so refused handshakes are counted too
	wsChain := []gin.HandlerFunc{}
	if r.rateLimitMW != nil {
		ws := r.cfg.WebSocket
		wsChain = append(wsChain, r.rateLimitMW.RateLimitIP(ws.HandshakeRateLimit, ws.HandshakeRateWindow))
	}
	wsChain = append(wsChain, r.authMW.WSAuth(), r.wsHandler.HandleWebSocket)
	api.GET("/ws", wsChain...)

	// Authenticated routes
	authed := api.Group("/")
	authed.Use(r.authMW.RequireAuth())
	{
		authed.GET("/stats", r.statsHandler.GetStats)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
