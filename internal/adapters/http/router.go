package http

import (
	"context"
	"net/http"

	"github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type createChannelRequest struct {
	ID   domain.ChannelID `json:"id" binding:"required,max=36"`
	Name string           `json:"name" binding:"max=64"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ICEServers:   cfg.WebRTCICEServers(),
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		RateLimit:    cfg.Signal.RateLimit,
		RateInterval: cfg.Signal.RateInterval,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/channels", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Channels.List())
	})

	api.POST("/channels", func(c *gin.Context) {
		var req createChannelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid channel"})
			return
		}
		ch := o.Channels.Create(req.ID, req.Name)
		log.Info().Str("module", "adapters.http").Str("channel", string(req.ID)).Msg("channel created")
		c.JSON(http.StatusCreated, ch.Channel())
	})

	api.DELETE("/channels/:id", func(c *gin.Context) {
		id := domain.ChannelID(c.Param("id"))
		if _, ok := o.Channels.Get(id); !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown channel"})
			return
		}
		ctrl.EvictChannel(id)
		c.Status(http.StatusNoContent)
	})

	api.GET("/ice", func(c *gin.Context) {
		c.JSON(http.StatusOK, cfg.WebRTCICEServers())
	})

	return r
}
