package main

import (
	"fmt"
	"os"
	"time"

	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/constants"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/models"

	"github.com/shopspring/decimal"
)

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	// 默认管理员
	if err := models.InitDefaultAdmin(os.Getenv("TN_DEFAULT_ADMIN_USERNAME"), os.Getenv("TN_DEFAULT_ADMIN_PASSWORD")); err != nil {
		stdLog.Printf("Failed to init default admin: %v", err)
	}

	// Cashfree 网关配置（数据库设置项覆盖部署配置，便于后台调整）
	gatewaySetting := models.JSON{
		"sandbox":     true,
		"api_version": "2023-08-01",
	}
	if clientID := os.Getenv("TN_CASHFREE_CLIENT_ID"); clientID != "" {
		gatewaySetting["client_id"] = clientID
	}
	if clientSecret := os.Getenv("TN_CASHFREE_CLIENT_SECRET"); clientSecret != "" {
		gatewaySetting["client_secret"] = clientSecret
	}
	var existingSetting models.Setting
	if err := models.DB.Where("key = ?", constants.SettingKeyCashfreeConfig).First(&existingSetting).Error; err != nil {
		setting := models.Setting{
			Key:       constants.SettingKeyCashfreeConfig,
			ValueJSON: gatewaySetting,
		}
		if err := models.DB.Create(&setting).Error; err != nil {
			stdLog.Printf("Failed to create gateway setting: %v", err)
		} else {
			stdLog.Printf("Created setting: %s", constants.SettingKeyCashfreeConfig)
		}
	} else {
		stdLog.Printf("Setting already exists: %s", constants.SettingKeyCashfreeConfig)
	}

	// 示例票务订单
	now := time.Now()
	sampleOrders := []models.Order{
		{
			OrderNo:       fmt.Sprintf("TK%s000001", now.Format("20060102150405")),
			EventName:     "Indie Night Live",
			TicketType:    "general",
			Quantity:      2,
			UnitPrice:     models.NewMoneyFromDecimal(decimal.NewFromInt(250)),
			TotalAmount:   models.NewMoneyFromDecimal(decimal.NewFromInt(500)),
			Currency:      constants.SiteCurrencyDefault,
			Status:        constants.OrderStatusPendingPayment,
			CustomerEmail: "fan@example.com",
			CustomerPhone: "+91-98765 43210",
			ExpiresAt:     timePtr(now.Add(30 * time.Minute)),
		},
		{
			OrderNo:       fmt.Sprintf("TK%s000002", now.Format("20060102150405")),
			EventName:     "Classical Evening",
			TicketType:    "vip",
			Quantity:      1,
			UnitPrice:     models.NewMoneyFromDecimal(decimal.NewFromInt(1200)),
			TotalAmount:   models.NewMoneyFromDecimal(decimal.NewFromInt(1200)),
			Currency:      constants.SiteCurrencyDefault,
			Status:        constants.OrderStatusPendingPayment,
			CustomerEmail: "maestro@example.com",
			CustomerPhone: "9876501234",
			ExpiresAt:     timePtr(now.Add(30 * time.Minute)),
		},
	}
	for _, order := range sampleOrders {
		var existing models.Order
		if err := models.DB.Where("order_no = ?", order.OrderNo).First(&existing).Error; err != nil {
			if err := models.DB.Create(&order).Error; err != nil {
				stdLog.Printf("Failed to create order %s: %v", order.OrderNo, err)
			} else {
				stdLog.Printf("Created order: %s", order.OrderNo)
			}
		}
	}

	stdLog.Printf("Seed completed")
}

func timePtr(t time.Time) *time.Time {
	return &t
}
