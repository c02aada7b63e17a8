package router

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"github.com/BVStecnologia/Healt-Solution-sub001/handlers"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
	"github.com/BVStecnologia/Healt-Solution-sub001/workers"
)

func NewGinRouter(pg *sql.DB, handoff *services.HandoffService, gateway *services.GatewayService, scheduler *workers.Scheduler) *gin.Engine {
	r := gin.Default()

	// Add CORS middleware
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	adminHandler := handlers.NewAdminHandler(pg, handoff, gateway, scheduler)

	r.GET("/health", adminHandler.Health)

	api := r.Group("/api")
	{
		api.GET("/handoff/sessions", adminHandler.ListHandoffSessions)
		api.POST("/handoff/sessions/:id/resolve", adminHandler.ResolveHandoffSession)
		api.GET("/logs/failed", adminHandler.ListFailedMessages)
		api.POST("/jobs/run", adminHandler.RunJobs)
	}

	return r
}
