package worker

import (
	"context"
	"errors"
	"time"

	"github.com/tickets-next/internal/config"
	"github.com/tickets-next/internal/logger"
	"github.com/tickets-next/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	pendingSweepInterval    = time.Minute
	expiredOrderSweepLimit  = 100
	pendingPaymentSweepSize = defaultSweepLimit
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	go s.runSweepLoop(ctx)
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// runSweepLoop 兜底轮询
// webhook 偶发丢失时由该循环把挂起支付与远端对齐，并关闭超时订单
func (s *Service) runSweepLoop(ctx context.Context) {
	if s == nil || s.consumer == nil {
		return
	}
	runOnce := func() {
		if s.consumer.PaymentService != nil {
			if processed, err := s.consumer.PaymentService.SweepPendingPayments(ctx, pendingPaymentSweepSize); err != nil {
				logger.Warnw("worker_pending_sweep_failed", "error", err)
			} else if processed > 0 {
				logger.Infow("worker_pending_sweep_done", "processed", processed)
			}
		}
		if s.consumer.OrderService != nil {
			if closed, err := s.consumer.OrderService.SweepExpiredOrders(expiredOrderSweepLimit); err != nil {
				logger.Warnw("worker_expired_order_sweep_failed", "error", err)
			} else if closed > 0 {
				logger.Infow("worker_expired_order_sweep_done", "closed", closed)
			}
		}
	}

	runOnce()
	ticker := time.NewTicker(pendingSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
