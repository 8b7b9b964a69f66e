package controller

import (
	"net/http"

	"github.com/bassista/go_lanatus/internal/logger"
	"github.com/bassista/go_lanatus/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CacheAdmin is the cache management part of account.Repository.
type CacheAdmin interface {
	Invalidate(playerID uuid.UUID)
	InvalidateAll()
	Stats() repository.Stats
}

// CacheController exposes cache statistics and invalidation.
type CacheController struct {
	cache CacheAdmin
}

func NewCacheController(cache CacheAdmin) *CacheController {
	return &CacheController{cache: cache}
}

// Stats handles GET /cache/stats.
func (cc *CacheController) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, cc.cache.Stats())
}

// InvalidateAll handles DELETE /cache.
func (cc *CacheController) InvalidateAll(c *gin.Context) {
	cc.cache.InvalidateAll()
	logger.WithComponent("cache-controller").Info("account cache cleared")
	c.Status(http.StatusNoContent)
}

// InvalidateAccount handles DELETE /cache/accounts/:id.
func (cc *CacheController) InvalidateAccount(c *gin.Context) {
	id, ok := parsePlayerID(c)
	if !ok {
		return
	}
	cc.cache.Invalidate(id)
	logger.WithKey("cache-controller", id).Debug("cache entry invalidated")
	c.Status(http.StatusNoContent)
}
