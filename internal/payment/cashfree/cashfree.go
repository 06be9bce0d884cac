package cashfree

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrConfigInvalid    = errors.New("cashfree config invalid")
	ErrRequestFailed    = errors.New("cashfree request failed")
	ErrResponseInvalid  = errors.New("cashfree response invalid")
	ErrSignatureInvalid = errors.New("cashfree signature invalid")
)

const (
	productionAPIBaseURL     = "https://api.cashfree.com/pg"
	sandboxAPIBaseURL        = "https://sandbox.cashfree.com/pg"
	defaultAPIVersion        = "2023-08-01"
	defaultTimeout           = 12 * time.Second
	defaultWebhookToleranceS = 300

	headerSignature = "x-webhook-signature"
	headerTimestamp = "x-webhook-timestamp"
)

// 远端订单状态。
const (
	OrderStatusActive               = "ACTIVE"
	OrderStatusPaid                 = "PAID"
	OrderStatusExpired              = "EXPIRED"
	OrderStatusTerminated           = "TERMINATED"
	OrderStatusTerminationRequested = "TERMINATION_REQUESTED"
)

// Webhook 事件类型。
const (
	EventPaymentSuccess = "PAYMENT_SUCCESS_WEBHOOK"
	EventPaymentFailed  = "PAYMENT_FAILED_WEBHOOK"
	EventUserDropped    = "PAYMENT_USER_DROPPED_WEBHOOK"
)

// Config Cashfree 渠道配置。
type Config struct {
	ClientID                string `json:"client_id"`
	ClientSecret            string `json:"client_secret"`
	WebhookSecret           string `json:"webhook_secret"`
	Sandbox                 bool   `json:"sandbox"`
	APIVersion              string `json:"api_version"`
	APIBaseURL              string `json:"api_base_url"`
	WebhookToleranceSeconds int    `json:"webhook_tolerance_seconds"`
}

// CreateOrderInput 创建远端订单输入。
type CreateOrderInput struct {
	OrderID       string
	Amount        string
	Currency      string
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
	OrderNote     string
	ReturnURL     string
	NotifyURL     string
}

// CreateOrderResult 创建远端订单返回。
type CreateOrderResult struct {
	OrderID          string
	Status           string
	PaymentSessionID string
	Raw              map[string]interface{}
}

// RemoteOrder 校验后的远端订单。
// Amount 为规范化的两位小数字符串，Status 保留远端原始值
type RemoteOrder struct {
	OrderID          string
	Status           string
	Amount           string
	Currency         string
	PaymentSessionID string
	Raw              map[string]interface{}
}

// AmountDecimal 返回金额的 decimal 表示。
func (o *RemoteOrder) AmountDecimal() decimal.Decimal {
	if o == nil {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(o.Amount)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}

// FetchOrderResult 查询远端订单返回。
// 远端 404 不是错误：Found=false 且 err=nil
type FetchOrderResult struct {
	Found bool
	Order *RemoteOrder
}

// WebhookResult Cashfree Webhook 解析结果。
type WebhookResult struct {
	EventType       string
	OrderID         string
	RemotePaymentID string
	PaymentStatus   string
	Amount          string
	Currency        string
	PaidAt          *time.Time
	Raw             map[string]interface{}
}

// ParseConfig 解析配置。
func ParseConfig(raw map[string]interface{}) (*Config, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty config", ErrConfigInvalid)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal config failed", ErrConfigInvalid)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal config failed", ErrConfigInvalid)
	}
	cfg.normalize()
	return &cfg, nil
}

// ValidateConfig 校验配置。
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("%w: client_id is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return fmt.Errorf("%w: client_secret is required", ErrConfigInvalid)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return fmt.Errorf("%w: api_base_url is required", ErrConfigInvalid)
	}
	if _, err := url.ParseRequestURI(strings.TrimSpace(cfg.APIBaseURL)); err != nil {
		return fmt.Errorf("%w: api_base_url is invalid", ErrConfigInvalid)
	}
	return nil
}

// CreateOrder 创建 Cashfree 托管支付订单。
func CreateOrder(ctx context.Context, cfg *Config, input CreateOrderInput) (*CreateOrderResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrConfigInvalid)
	}
	amount, err := normalizeAmount(input.Amount)
	if err != nil {
		return nil, err
	}
	returnURL := strings.TrimSpace(input.ReturnURL)
	if returnURL == "" {
		return nil, fmt.Errorf("%w: return_url is required", ErrConfigInvalid)
	}

	customerID := strings.TrimSpace(input.CustomerID)
	if customerID == "" {
		customerID = orderID
	}
	orderNote := strings.TrimSpace(input.OrderNote)
	if orderNote == "" {
		orderNote = orderID
	}

	amountNumber, _ := strconv.ParseFloat(amount, 64)
	payload := map[string]interface{}{
		"order_id":       orderID,
		"order_amount":   amountNumber,
		"order_currency": currency,
		"order_note":     orderNote,
		"customer_details": map[string]interface{}{
			"customer_id":    customerID,
			"customer_email": strings.TrimSpace(input.CustomerEmail),
			"customer_phone": SanitizePhone(input.CustomerPhone),
		},
		"order_meta": buildOrderMeta(returnURL, strings.TrimSpace(input.NotifyURL)),
	}

	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodPost, "/orders", payload)
	if err != nil {
		return nil, err
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: create order status %d: %s", ErrRequestFailed, statusCode, readErrorMessage(respBody))
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	result := &CreateOrderResult{Raw: raw}
	result.OrderID = strings.TrimSpace(readString(raw, "order_id"))
	result.Status = strings.ToUpper(strings.TrimSpace(readString(raw, "order_status")))
	result.PaymentSessionID = strings.TrimSpace(readString(raw, "payment_session_id"))
	if result.OrderID == "" || result.PaymentSessionID == "" {
		return nil, fmt.Errorf("%w: missing order id or payment session id", ErrResponseInvalid)
	}
	return result, nil
}

// FetchOrder 查询远端订单。
func FetchOrder(ctx context.Context, cfg *Config, orderID string) (*FetchOrderResult, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrConfigInvalid)
	}

	path := fmt.Sprintf("/orders/%s", url.PathEscape(orderID))
	respBody, statusCode, err := doJSONRequest(ctx, cfg, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if statusCode == http.StatusNotFound {
		return &FetchOrderResult{Found: false}, nil
	}
	if statusCode < 200 || statusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch order status %d: %s", ErrRequestFailed, statusCode, readErrorMessage(respBody))
	}

	raw, err := decodeRawMap(respBody)
	if err != nil {
		return nil, err
	}
	order, err := parseRemoteOrder(raw)
	if err != nil {
		return nil, err
	}
	return &FetchOrderResult{Found: true, Order: order}, nil
}

// VerifyAndParseWebhook 校验并解析 Cashfree webhook。
// 签名为 base64(HMAC-SHA256(timestamp + body))，任一环节缺失或不符即拒绝
func VerifyAndParseWebhook(cfg *Config, headers map[string]string, body []byte, now time.Time) (*WebhookResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", ErrConfigInvalid)
	}
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		secret = strings.TrimSpace(cfg.ClientSecret)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook secret is required", ErrConfigInvalid)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: body is empty", ErrResponseInvalid)
	}
	if now.IsZero() {
		now = time.Now()
	}

	signature := getHeaderValue(headers, headerSignature)
	if signature == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrSignatureInvalid, headerSignature)
	}
	timestampRaw := getHeaderValue(headers, headerTimestamp)
	if timestampRaw == "" {
		return nil, fmt.Errorf("%w: %s is required", ErrSignatureInvalid, headerTimestamp)
	}
	timestamp, err := parseTimestamp(timestampRaw)
	if err != nil {
		return nil, err
	}
	tolerance := cfg.WebhookToleranceSeconds
	if tolerance <= 0 {
		tolerance = defaultWebhookToleranceS
	}
	delta := math.Abs(float64(now.Unix() - timestamp))
	if delta > float64(tolerance) {
		return nil, fmt.Errorf("%w: timestamp outside tolerance", ErrSignatureInvalid)
	}

	expected := computeSignature(secret, timestampRaw, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, fmt.Errorf("%w: verify failed", ErrSignatureInvalid)
	}

	eventRaw, err := decodeRawMap(body)
	if err != nil {
		return nil, err
	}
	eventType := strings.TrimSpace(readString(eventRaw, "type"))
	if eventType == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrResponseInvalid)
	}

	result := &WebhookResult{
		EventType: eventType,
		Raw:       eventRaw,
	}
	dataRaw := readMap(eventRaw, "data")
	if orderRaw := readMap(dataRaw, "order"); orderRaw != nil {
		result.OrderID = strings.TrimSpace(readString(orderRaw, "order_id"))
		result.Currency = strings.ToUpper(strings.TrimSpace(readString(orderRaw, "order_currency")))
		if amount := readString(orderRaw, "order_amount"); amount != "" {
			if normalized, err := normalizeAmount(amount); err == nil {
				result.Amount = normalized
			}
		}
	}
	if paymentRaw := readMap(dataRaw, "payment"); paymentRaw != nil {
		result.RemotePaymentID = strings.TrimSpace(readString(paymentRaw, "cf_payment_id"))
		result.PaymentStatus = strings.ToUpper(strings.TrimSpace(readString(paymentRaw, "payment_status")))
		if result.Amount == "" {
			if amount := readString(paymentRaw, "payment_amount"); amount != "" {
				if normalized, err := normalizeAmount(amount); err == nil {
					result.Amount = normalized
				}
			}
		}
		if paidAtRaw := strings.TrimSpace(readString(paymentRaw, "payment_time")); paidAtRaw != "" {
			if paidAt, err := time.Parse(time.RFC3339, paidAtRaw); err == nil {
				result.PaidAt = &paidAt
			}
		}
	}
	if result.RemotePaymentID == "" {
		return nil, fmt.Errorf("%w: missing cf_payment_id", ErrResponseInvalid)
	}
	if result.OrderID == "" {
		return nil, fmt.Errorf("%w: missing order_id", ErrResponseInvalid)
	}
	return result, nil
}

func parseRemoteOrder(raw map[string]interface{}) (*RemoteOrder, error) {
	order := &RemoteOrder{Raw: raw}
	order.OrderID = strings.TrimSpace(readString(raw, "order_id"))
	order.Status = strings.ToUpper(strings.TrimSpace(readString(raw, "order_status")))
	order.Currency = strings.ToUpper(strings.TrimSpace(readString(raw, "order_currency")))
	order.PaymentSessionID = strings.TrimSpace(readString(raw, "payment_session_id"))
	if order.OrderID == "" {
		return nil, fmt.Errorf("%w: missing order id", ErrResponseInvalid)
	}
	if order.Status == "" {
		return nil, fmt.Errorf("%w: missing order status", ErrResponseInvalid)
	}
	amount, err := normalizeAmount(readString(raw, "order_amount"))
	if err != nil {
		return nil, fmt.Errorf("%w: order amount is invalid", ErrResponseInvalid)
	}
	order.Amount = amount
	return order, nil
}

func buildOrderMeta(returnURL, notifyURL string) map[string]interface{} {
	meta := map[string]interface{}{
		"return_url": returnURL,
	}
	if notifyURL != "" {
		meta["notify_url"] = notifyURL
	}
	return meta
}

func (c *Config) normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.ClientSecret = strings.TrimSpace(c.ClientSecret)
	c.WebhookSecret = strings.TrimSpace(c.WebhookSecret)
	c.APIVersion = strings.TrimSpace(c.APIVersion)
	if c.APIVersion == "" {
		c.APIVersion = defaultAPIVersion
	}
	c.APIBaseURL = strings.TrimRight(strings.TrimSpace(c.APIBaseURL), "/")
	if c.APIBaseURL == "" {
		if c.Sandbox {
			c.APIBaseURL = sandboxAPIBaseURL
		} else {
			c.APIBaseURL = productionAPIBaseURL
		}
	}
	if c.WebhookToleranceSeconds <= 0 {
		c.WebhookToleranceSeconds = defaultWebhookToleranceS
	}
}

func normalizeAmount(amount string) (string, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return "", fmt.Errorf("%w: amount is invalid", ErrConfigInvalid)
	}
	if parsed.LessThanOrEqual(decimal.Zero) {
		return "", fmt.Errorf("%w: amount must be greater than zero", ErrConfigInvalid)
	}
	return parsed.StringFixed(2), nil
}

func doJSONRequest(ctx context.Context, cfg *Config, method, path string, payload map[string]interface{}) ([]byte, int, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/") + path
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: marshal request failed", ErrRequestFailed)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request failed", ErrRequestFailed)
	}
	req.Header.Set("x-client-id", cfg.ClientID)
	req.Header.Set("x-client-secret", cfg.ClientSecret)
	req.Header.Set("x-api-version", cfg.APIVersion)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := (&http.Client{Timeout: defaultTimeout}).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response failed", ErrResponseInvalid)
	}
	return body, resp.StatusCode, nil
}

func readErrorMessage(body []byte) string {
	raw, err := decodeRawMap(body)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(readString(raw, "message"))
}

func computeSignature(secret string, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	_, _ = h.Write([]byte(timestamp))
	_, _ = h.Write(body)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func parseTimestamp(raw string) (int64, error) {
	parsed, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || parsed <= 0 {
		return 0, fmt.Errorf("%w: invalid timestamp", ErrSignatureInvalid)
	}
	// Cashfree 历史上同时出现过秒与毫秒时间戳
	if parsed > 1e12 {
		parsed = parsed / 1000
	}
	return parsed, nil
}

func decodeRawMap(body []byte) (map[string]interface{}, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: decode response failed", ErrResponseInvalid)
	}
	return raw, nil
}

func getHeaderValue(headers map[string]string, key string) string {
	if len(headers) == 0 || strings.TrimSpace(key) == "" {
		return ""
	}
	for h, value := range headers {
		if strings.EqualFold(strings.TrimSpace(h), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func readString(raw map[string]interface{}, key string) string {
	if raw == nil || strings.TrimSpace(key) == "" {
		return ""
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case float64:
		if typed == math.Trunc(typed) {
			return strconv.FormatInt(int64(typed), 10)
		}
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(typed, 10)
	case int:
		return strconv.Itoa(typed)
	default:
		return ""
	}
}

func readMap(raw map[string]interface{}, key string) map[string]interface{} {
	if raw == nil || strings.TrimSpace(key) == "" {
		return nil
	}
	value, ok := raw[key]
	if !ok || value == nil {
		return nil
	}
	mapped, ok := value.(map[string]interface{})
	if !ok {
		return nil
	}
	return mapped
}
