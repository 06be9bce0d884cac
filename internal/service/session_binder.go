package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tickets-next/internal/cache"
)

const checkoutBindingTTL = 2 * time.Hour

// SessionBinder 结账会话与支付单的单槽位绑定
// 同一会话重新发起支付即覆盖旧绑定；回跳时校验绑定是否指向当前支付
type SessionBinder interface {
	Bind(ctx context.Context, sid string, paymentNo string) error
	Current(ctx context.Context, sid string) (string, error)
}

// checkoutBinding 绑定快照，仅用于服务端缓存
type checkoutBinding struct {
	PaymentNo string `json:"payment_no"`
	BoundAt   int64  `json:"bound_at"`
}

func checkoutBindingKey(sid string) string {
	return fmt.Sprintf("checkout:session:%s", sid)
}

// NewSessionBinder 创建会话绑定器
// Redis 可用时走缓存，否则退化为进程内存（单机 sqlite 部署场景）
func NewSessionBinder() SessionBinder {
	if cache.Enabled() {
		return &redisSessionBinder{}
	}
	return &memorySessionBinder{bindings: map[string]checkoutBinding{}}
}

type redisSessionBinder struct{}

// Bind 写入绑定
func (b *redisSessionBinder) Bind(ctx context.Context, sid string, paymentNo string) error {
	sid = strings.TrimSpace(sid)
	paymentNo = strings.TrimSpace(paymentNo)
	if sid == "" || paymentNo == "" {
		return nil
	}
	binding := checkoutBinding{
		PaymentNo: paymentNo,
		BoundAt:   time.Now().Unix(),
	}
	return cache.SetJSON(ctx, checkoutBindingKey(sid), binding, checkoutBindingTTL)
}

// Current 读取绑定，未绑定返回空串
func (b *redisSessionBinder) Current(ctx context.Context, sid string) (string, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return "", nil
	}
	var binding checkoutBinding
	hit, err := cache.GetJSON(ctx, checkoutBindingKey(sid), &binding)
	if err != nil || !hit {
		return "", err
	}
	return binding.PaymentNo, nil
}

type memorySessionBinder struct {
	mu       sync.RWMutex
	bindings map[string]checkoutBinding
}

// Bind 写入绑定
func (b *memorySessionBinder) Bind(_ context.Context, sid string, paymentNo string) error {
	sid = strings.TrimSpace(sid)
	paymentNo = strings.TrimSpace(paymentNo)
	if sid == "" || paymentNo == "" {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[sid] = checkoutBinding{
		PaymentNo: paymentNo,
		BoundAt:   time.Now().Unix(),
	}
	return nil
}

// Current 读取绑定，未绑定或已过期返回空串
func (b *memorySessionBinder) Current(_ context.Context, sid string) (string, error) {
	sid = strings.TrimSpace(sid)
	if sid == "" {
		return "", nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.bindings[sid]
	if !ok {
		return "", nil
	}
	if time.Since(time.Unix(binding.BoundAt, 0)) > checkoutBindingTTL {
		return "", nil
	}
	return binding.PaymentNo, nil
}
