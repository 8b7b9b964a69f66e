package route

import (
	"time"

	"github.com/bassista/go_lanatus/internal/api/controller"
	"github.com/bassista/go_lanatus/internal/api/middleware"
	"github.com/gin-gonic/gin"
)

func NewAccountRouter(timeout time.Duration, group *gin.RouterGroup, accounts controller.AccountService) {
	group.Use(middleware.RequestTimeout(timeout))

	ac := controller.NewAccountController(accounts)

	group.GET("accounts/:id", ac.GetAccount)
	group.GET("accounts/:id/effective", ac.GetEffectiveAccount)
	group.POST("accounts/:id/refresh", ac.RefreshAccount)
	group.PATCH("accounts/:id", ac.UpdateAccount)
}
