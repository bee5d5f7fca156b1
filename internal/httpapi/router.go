package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"voicedial-platform/internal/auth"
	"voicedial-platform/pkg/logger"
)

// Deps is everything the router needs wired in.
type Deps struct {
	Log      *slog.Logger
	Auth     *auth.Manager
	Webhooks *WebhookHandler
	Admin    *AdminHandler

	// DB and Redis feed the health endpoint; either may be nil.
	DBHealth func() error
	Redis    *redis.Client
}

// NewRouter assembles the gin engine: public health and webhook routes, and
// a JWT-protected operator group.
func NewRouter(d Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(d.Log))

	r.GET("/healthz", healthHandler(d))

	wh := r.Group("/webhook")
	{
		wh.POST("/engine", d.Webhooks.Engine)
		wh.POST("/twilio/status", d.Webhooks.TwilioStatus)
		wh.POST("/plivo/status", d.Webhooks.PlivoStatus)
		wh.GET("/plivo/answer", d.Webhooks.PlivoAnswer)
		wh.POST("/telnyx/status", d.Webhooks.TelnyxStatus)
	}

	admin := r.Group("/api/v1/campaigns",
		auth.RequireAccessToken(d.Auth),
		auth.RequireAnyRole(auth.RoleOperator, auth.RoleAdmin),
	)
	{
		admin.POST("/:id/start", d.Admin.StartCampaign)
		admin.POST("/:id/pause", d.Admin.PauseCampaign)
		admin.POST("/:id/resume", d.Admin.ResumeCampaign)
		admin.POST("/:id/generate-instant-call", d.Admin.GenerateInstantCall)
		admin.GET("/:id/state", d.Admin.CampaignState)

		admin.POST("/reset-call-state", auth.RequireAnyRole(auth.RoleAdmin), d.Admin.ResetCallState)
		admin.GET("/call-state", d.Admin.CallState)
		admin.GET("/resumable", d.Admin.ResumableCampaigns)
		admin.GET("/pending-summary", d.Admin.PendingSummary)
	}

	return r
}

func healthHandler(d Deps) gin.HandlerFunc {
	return func(c *gin.Context) {
		out := gin.H{"status": "ok"}
		healthy := true
		if d.DBHealth != nil {
			if err := d.DBHealth(); err != nil {
				out["database"] = "down"
				healthy = false
			} else {
				out["database"] = "up"
			}
		}
		if d.Redis != nil {
			if err := d.Redis.Ping(c.Request.Context()).Err(); err != nil {
				out["redis"] = "down"
				healthy = false
			} else {
				out["redis"] = "up"
			}
		}
		if !healthy {
			out["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, out)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}
