package handler

import (
	"coffeeshop/internal/config"
	"coffeeshop/internal/metrics"
	"coffeeshop/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func SetupRouter(cfg *config.Config, svc Services, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log.Named("http")))
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware())

	h := NewHandler(svc, log)
	qrLimiter := NewRateLimiter(cfg.Business.QRGenerateRatePerMinute, log.Named("ratelimit"))
	staffOnly := RequireRole(service.RoleStaff, service.RoleAdmin)

	api := r.Group("/api/v1", IdentityMiddleware())
	{
		orders := api.Group("/orders")
		{
			orders.POST("", h.PlaceOrder)
			orders.GET("", h.ListOrders)
			orders.GET("/:order_no", h.GetOrder)
			orders.PUT("/:order_no/cancel", h.CancelOrder)
			orders.PUT("/:order_no/status", h.UpdateOrderStatus)
		}

		balance := api.Group("/balance")
		{
			balance.GET("", h.GetBalance)
			balance.GET("/history", h.BalanceHistory)
			balance.POST("/generate-qr", qrLimiter.Middleware(), h.GenerateQR)
			balance.POST("/redeem-qr", staffOnly, h.RedeemQR)
		}

		api.GET("/loyalty", h.GetLoyalty)

		admin := api.Group("/admin", staffOnly)
		{
			admin.GET("/orders", h.AdminListOrders)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
