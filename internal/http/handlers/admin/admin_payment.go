package admin

import (
	"errors"
	"strconv"

	"github.com/tickets-next/internal/http/response"
	"github.com/tickets-next/internal/repository"
	"github.com/tickets-next/internal/service"

	"github.com/gin-gonic/gin"
)

// GetAdminPayments 获取支付列表 (Admin)
func (h *Handler) GetAdminPayments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	orderID, _ := strconv.ParseUint(c.Query("order_id"), 10, 64)
	payments, total, err := h.PaymentService.ListPayments(repository.PaymentListFilter{
		Page:        page,
		PageSize:    pageSize,
		OrderID:     uint(orderID),
		OrderNo:     c.Query("order_no"),
		ProviderRef: c.Query("provider_ref"),
		Status:      c.Query("status"),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "payment fetch failed", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, payments, pagination)
}

// GetAdminPayment 获取支付详情 (Admin)
func (h *Handler) GetAdminPayment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, response.CodeBadRequest, "bad request", nil)
		return
	}

	payment, err := h.PaymentService.GetPayment(uint(id))
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			respondError(c, response.CodeNotFound, "payment not found", nil)
			return
		}
		respondError(c, response.CodeInternal, "payment fetch failed", err)
		return
	}
	response.Success(c, payment)
}

// GetAdminWebhookEvents 获取回调事件列表 (Admin)
func (h *Handler) GetAdminWebhookEvents(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	page, pageSize = normalizePagination(page, pageSize)

	events, total, err := h.PaymentService.ListWebhookEvents(repository.WebhookEventListFilter{
		Page:      page,
		PageSize:  pageSize,
		EventType: c.Query("event_type"),
		OrderNo:   c.Query("order_no"),
	})
	if err != nil {
		respondError(c, response.CodeInternal, "webhook event fetch failed", err)
		return
	}

	pagination := response.Pagination{
		Page:      page,
		PageSize:  pageSize,
		Total:     total,
		TotalPage: (total + int64(pageSize) - 1) / int64(pageSize),
	}
	response.SuccessWithPage(c, events, pagination)
}
