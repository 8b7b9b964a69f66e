package route

import (
	"github.com/bassista/go_lanatus/internal/api/controller"
	"github.com/gin-gonic/gin"
)

// NewCacheRouter sets up cache administration routes.
func NewCacheRouter(group *gin.RouterGroup, cache controller.CacheAdmin) {
	cc := controller.NewCacheController(cache)

	group.GET("cache/stats", cc.Stats)
	group.DELETE("cache", cc.InvalidateAll)
	group.DELETE("cache/accounts/:id", cc.InvalidateAccount)
}

// NewMetricsRouter exposes repository counters for Prometheus scraping.
func NewMetricsRouter(group *gin.RouterGroup, source controller.StatsSource) {
	mc := controller.NewMetricsController(source)
	group.GET("metrics", mc.Metrics)
}
