package main

import (
	"database/sql"
	"net/http"
	"time"

	"voicebridge/internal/httpapi"
	"voicebridge/internal/rbac"
	"voicebridge/internal/telephony"
	"voicebridge/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	webhooks  telephony.WebhookHandlers
	api       httpapi.Handlers
	signature telephony.SignatureValidator
	authMW    gin.HandlerFunc
	baseURL   string

	db  *sql.DB
	rdb *redis.Client
}

func registerRoutes(r *gin.Engine, deps routeDeps) {
	r.GET("/healthz", healthHandler(deps.db, deps.rdb))

	// Carrier webhooks. Every route that mutates state sits behind the
	// signature gate; the two document-only routes (outbound-connect and
	// hold-music) are fetched by carrier legs that do not sign requests.
	signed := r.Group("/webhooks", telephony.RequireSignature(deps.signature, deps.baseURL))
	{
		voice := signed.Group("/voice")
		voice.POST("/inbound", deps.webhooks.HandleInboundCall)
		voice.POST("/screen", deps.webhooks.HandleScreenDigits)
		voice.POST("/transfer/hold", deps.webhooks.HandleTransferHold)
		voice.POST("/transfer/announce", deps.webhooks.HandleTransferAnnounce)
		voice.POST("/transfer/decision", deps.webhooks.HandleTransferDecision)
		voice.POST("/transfer/events", deps.webhooks.HandleConferenceEvents)
		voice.POST("/status", deps.webhooks.HandleCallStatus)
		voice.POST("/recording", deps.webhooks.HandleRecordingStatus)

		signed.POST("/sms/status", deps.webhooks.HandleMessageStatus)
	}

	r.POST("/webhooks/voice/outbound-connect", deps.webhooks.HandleOutboundConnect)
	r.POST("/webhooks/voice/hold-music", deps.webhooks.HandleHoldMusic)

	// Operator API.
	v1 := r.Group("/v1", deps.authMW, rbac.RequireOrg())
	{
		calls := v1.Group("/calls", rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleAgent))
		calls.POST("", deps.api.PlaceCall)
		calls.GET("/:sid", deps.api.GetCall)
		calls.POST("/:sid/transfer", deps.api.StartTransfer)
		calls.GET("/:sid/transfer", deps.api.GetTransfer)
	}
}

func healthHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
				return
			}
		}
		if rdb != nil {
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
