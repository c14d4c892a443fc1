package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnTengye/contractdesk/config"
	"github.com/AnTengye/contractdesk/middleware"
	"github.com/AnTengye/contractdesk/pkg/metrics"
)

// NewRouter wires the simulated backend: the REST API under /api, reports,
// the push endpoint and a health probe. With a non-nil m, every component is
// instrumented and /metrics is served.
func NewRouter(cfg *config.Config, contracts *ContractHandler, types *ContractTypeHandler, hub *PushHub, m *metrics.Backend) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger("/health", "/ws", "/metrics"))
	router.Use(middleware.CORS())
	router.Use(middleware.CacheControl())
	if m != nil {
		router.Use(middleware.Metrics(m))
		contracts.Instrument(m)
		hub.Instrument(m)
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/ws", hub.Serve)
	router.GET("/reports/:id", contracts.Report)

	api := router.Group("/api")
	{
		api.GET("/info", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"name": "contractdesk mock backend",
				"endpoints": gin.H{
					"contract_types": "/api/contract-type",
					"contracts":      "/api/contracts",
					"push":           "/ws",
				},
			})
		})

		api.POST("/contract/upload",
			middleware.RateLimit(cfg.Server.UploadLimitPerMinute, time.Minute),
			contracts.Upload,
		)
		api.GET("/contracts", contracts.List)
		api.GET("/contract/:id", contracts.Get)
		api.GET("/contract/status/:id", contracts.GetStatus)

		api.GET("/contract-type/all", types.All)
		api.GET("/contract-type/:code", types.Get)
		api.POST("/contract-type/", types.Create)
	}

	return router
}
