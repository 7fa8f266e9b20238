package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/dkeye/ringcall/internal/auth"
	"github.com/dkeye/ringcall/internal/config"
	"github.com/dkeye/ringcall/internal/hub"
	handlers "github.com/dkeye/ringcall/internal/transport/http"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// TokenVerifier checks party tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Claims, error)
}

func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return c.Query("token")
}

// PartyTokenMiddleware rejects requests without a valid party token and
// stores the party on the context.
func PartyTokenMiddleware(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.Verify(bearer(c))
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.http").Str("ip", c.ClientIP()).Msg("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("party", string(claims.Party))
		c.Next()
	}
}

// SetupRouter mounts the relay. history may be nil when no store is
// configured.
func SetupRouter(ctx context.Context, cfg *config.Server, h *hub.Hub, v TokenVerifier, history handlers.HistoryReader) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": h.Registry.Count()})
	})
	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api", PartyTokenMiddleware(v))
	api.GET("/ws/bus", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("party", c.GetString("party")).Msg("ws bus endpoint hit")
		h.HandleWS(ctx, c)
	})
	if history != nil {
		api.GET("/calls/history", handlers.HandleHistory(history))
	}

	return r
}
