package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tickets-next/internal/cache"
	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/constants"
	adminhandlers "github.com/tickets-next/internal/http/handlers/admin"
	publichandlers "github.com/tickets-next/internal/http/handlers/public"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = constants.RedisPrefixDefault
	}
	redisClient := cache.Client()
	paymentRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:payment", redisPrefix),
		WindowSeconds: cfg.Security.PaymentRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.PaymentRateLimit.MaxAttempts,
		Message:       "payment attempts too frequent",
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(SecurityHeadersMiddleware())
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// 托管支付页面入口（浏览器/网关直接访问，无统一响应包裹）
	pay := r.Group("/pay/cashfree")
	{
		pay.GET("/return", publicHandler.CashfreeReturn)
		pay.GET("/redirect", publicHandler.CashfreeRedirect)
		pay.POST("/webhook", publicHandler.CashfreeWebhook)
	}

	api := r.Group("/api")
	{
		api.POST("/orders", publicHandler.CreateOrder)
		api.GET("/orders/:order_no", publicHandler.GetOrder)
		api.POST("/orders/:order_no/payments",
			RateLimitMiddleware(redisClient, paymentRule, KeyByIPAndParam("order_no")),
			publicHandler.CreatePayment,
		)

		admin := api.Group("/admin")
		{
			admin.POST("/login", adminHandler.AdminLogin)

			authed := admin.Group("")
			authed.Use(JWTAuthMiddleware(cfg.JWT.SecretKey, c.AdminRepo))
			{
				authed.GET("/profile", adminHandler.GetProfile)
				authed.PUT("/password", adminHandler.ChangePassword)
				authed.GET("/orders", adminHandler.GetAdminOrders)
				authed.GET("/orders/:id", adminHandler.GetAdminOrder)
				authed.GET("/payments", adminHandler.GetAdminPayments)
				authed.GET("/payments/:id", adminHandler.GetAdminPayment)
				authed.GET("/webhook-events", adminHandler.GetAdminWebhookEvents)
			}
		}
	}

	return r
}
