package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"floatingtimer/backend/internal/handler"
	"floatingtimer/backend/internal/middleware"
)

func New(
	timerHandler *handler.TimerHandler,
	layoutHandler *handler.LayoutHandler,
	corsOrigins []string,
) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery(), middleware.CORS(corsOrigins))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := engine.Group("/api")
	api.GET("/layout", layoutHandler.Get)
	api.PUT("/layout", layoutHandler.Update)

	timer := api.Group("/timer")
	timer.GET("/state", timerHandler.GetState)
	timer.POST("/start", timerHandler.Start)
	timer.POST("/pause", timerHandler.Pause)
	timer.POST("/resume", timerHandler.Resume)
	timer.POST("/stop", timerHandler.Stop)
	timer.POST("/save", timerHandler.Save)
	timer.POST("/reset", timerHandler.Reset)
	timer.PUT("/description", timerHandler.UpdateDescription)
	timer.PUT("/tags", timerHandler.UpdateTags)
	timer.POST("/rehydrate", timerHandler.Rehydrate)
	timer.POST("/refresh", timerHandler.Refresh)
	timer.GET("/entries/today", timerHandler.TodayEntries)
	timer.GET("/totals", timerHandler.Totals)
	timer.DELETE("/entries/:id", timerHandler.DeleteEntry)

	return engine
}
