package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"nebula-chat/internal/config"
	"nebula-chat/internal/model"
)

// NewRouter wires the conversation endpoints. Everything except /health
// requires the bearer token when one is configured.
func NewRouter(cfg *config.Config, h *ChatHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	}
	router.Use(cors.New(corsConfig))

	router.GET("/health", h.Health)

	api := router.Group("/", bearerAuth(cfg.Server.AuthToken))
	{
		api.POST("/session", h.CreateSession)
		api.GET("/session/list", h.ListSessions)
		api.GET("/session/:session_id", h.GetSession)
		api.PUT("/session/:session_id", h.UpdateSession)
		api.DELETE("/session/:session_id", h.DeleteSession)
		api.POST("/chat", h.StreamChat)
	}

	return router
}

func bearerAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got, found := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !found || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{Error: "unauthorized"})
			return
		}
		c.Next()
	}
}
