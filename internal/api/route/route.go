package route

import (
	"net/http"

	"github.com/bassista/go_lanatus/internal/api/middleware"
	"github.com/bassista/go_lanatus/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRoutes builds the main engine: health, account, cache admin and metrics routes.
func SetupRoutes(appCtx *app.App, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(logger.Writer()))
	r.Use(middleware.HoneybadgerMiddleware(logger))
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(appCtx.Config.Server.CORSAllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "UP"})
	})

	publicRouter := r.Group("")
	timeout := appCtx.Config.Server.RequestTimeout

	NewAccountRouter(timeout, publicRouter.Group(""), appCtx.Accounts)
	NewCacheRouter(publicRouter.Group(""), appCtx.Accounts)
	NewMetricsRouter(publicRouter.Group(""), appCtx.Accounts)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}
