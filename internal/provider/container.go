package provider

import (
	"github.com/tickets-next/internal/cache"
	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/models"
	"github.com/tickets-next/internal/queue"
	"github.com/tickets-next/internal/repository"
	"github.com/tickets-next/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	AdminRepo        repository.AdminRepository
	OrderRepo        repository.OrderRepository
	PaymentRepo      repository.PaymentRepository
	ReferenceRepo    repository.PaymentReferenceRepository
	WebhookEventRepo repository.PaymentWebhookEventRepository
	SettingRepo      repository.SettingRepository

	// Services
	AuthService    *service.AuthService
	OrderService   *service.OrderService
	PaymentService *service.PaymentService
	SessionBinder  service.SessionBinder
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	c.initRepositories()
	c.initServices()

	return c
}

func (c *Container) initRepositories() {
	db := models.DB
	c.AdminRepo = repository.NewAdminRepository(db)
	c.OrderRepo = repository.NewOrderRepository(db)
	c.PaymentRepo = repository.NewPaymentRepository(db)
	c.ReferenceRepo = repository.NewPaymentReferenceRepository(db)
	c.WebhookEventRepo = repository.NewPaymentWebhookEventRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
}

func (c *Container) initServices() {
	c.SessionBinder = service.NewSessionBinder()
	c.AuthService = service.NewAuthService(c.Config, c.AdminRepo)
	c.OrderService = service.NewOrderService(c.OrderRepo, c.QueueClient, c.Config.Order.PaymentExpireMinutes)
	c.PaymentService = service.NewPaymentService(
		c.OrderRepo,
		c.PaymentRepo,
		c.ReferenceRepo,
		c.WebhookEventRepo,
		c.SettingRepo,
		c.SessionBinder,
		c.QueueClient,
		c.Config,
	)
}
