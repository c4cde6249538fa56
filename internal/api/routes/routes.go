package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/baymax-09/roobet-casino-sub000/internal/api/handlers"
	"github.com/baymax-09/roobet-casino-sub000/internal/api/middleware"
	"github.com/baymax-09/roobet-casino-sub000/pkg/logger"
)

// SetupRoutes configures the operational endpoints of the settlement worker
func SetupRoutes(core *handlers.CoreHandlers, log *logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))

	router.GET("/health", core.Health)
	router.GET("/live", core.Live)
	router.GET("/metrics", handlers.Metrics())

	return router
}
