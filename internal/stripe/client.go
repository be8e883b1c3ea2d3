// Package stripe предоставляет клиент для платёжного процессора Stripe.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client инкапсулирует HTTP-взаимодействие с REST API Stripe.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// CheckoutSession описывает чекаут-сессию Stripe.
type CheckoutSession struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	CustomerEmail   string            `json:"customer_email"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *CustomerDetails  `json:"customer_details"`
	TotalDetails    *TotalDetails     `json:"total_details"`
}

// CustomerDetails содержит данные покупателя, заполненные на платёжной странице.
type CustomerDetails struct {
	Email string `json:"email"`
}

// TotalDetails содержит разбивку итоговой суммы сессии.
type TotalDetails struct {
	AmountDiscount int64 `json:"amount_discount"`
}

// Email возвращает адрес покупателя из любого доступного поля сессии.
func (s *CheckoutSession) Email() string {
	if s.CustomerDetails != nil && s.CustomerDetails.Email != "" {
		return s.CustomerDetails.Email
	}
	return s.CustomerEmail
}

// PaymentIntent описывает платёжное намерение Stripe.
type PaymentIntent struct {
	ID               string `json:"id"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// Coupon описывает купон в реестре Stripe.
type Coupon struct {
	ID         string   `json:"id"`
	Valid      bool     `json:"valid"`
	PercentOff *float64 `json:"percent_off"`
	AmountOff  *int64   `json:"amount_off"`
	Currency   string   `json:"currency"`
}

// APIError описывает ошибку, возвращённую API Stripe.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("stripe: %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// NewClient создаёт HTTP-клиент для обращения к API Stripe по указанному адресу.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateCheckoutSessionParams содержит параметры создания чекаут-сессии.
type CreateCheckoutSessionParams struct {
	AmountCents int64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
	CouponID    string
}

// CreateCheckoutSession создаёт чекаут-сессию в Stripe и возвращает её вместе с URL оплаты.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CreateCheckoutSessionParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][price_data][currency]", params.Currency)
	form.Set("line_items[0][price_data][product_data][name]", params.ProductName)
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(params.AmountCents, 10))
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)

	for k, v := range params.Metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	if params.CouponID != "" {
		form.Set("discounts[0][coupon]", params.CouponID)
	}

	var session CheckoutSession
	if err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", form, &session); err != nil {
		return nil, err
	}

	return &session, nil
}

// GetCheckoutSession возвращает чекаут-сессию по идентификатору.
func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetCoupon возвращает купон из реестра Stripe по идентификатору.
func (c *Client) GetCoupon(ctx context.Context, couponID string) (*Coupon, error) {
	var coupon Coupon
	if err := c.do(ctx, http.MethodGet, "/v1/coupons/"+url.PathEscape(couponID), nil, &coupon); err != nil {
		return nil, err
	}
	return &coupon, nil
}

// CreateCouponParams содержит параметры создания купона в Stripe.
type CreateCouponParams struct {
	ID         string
	PercentOff *float64
	AmountOff  *int64
	Currency   string
}

// CreateCoupon создаёт купон в реестре Stripe, зеркалируя локальный промокод.
func (c *Client) CreateCoupon(ctx context.Context, params CreateCouponParams) (*Coupon, error) {
	form := url.Values{}
	form.Set("id", params.ID)
	form.Set("duration", "forever")

	if params.PercentOff != nil {
		form.Set("percent_off", strconv.FormatFloat(*params.PercentOff, 'f', -1, 64))
	}
	if params.AmountOff != nil {
		form.Set("amount_off", strconv.FormatInt(*params.AmountOff, 10))
		form.Set("currency", params.Currency)
	}

	var coupon Coupon
	if err := c.do(ctx, http.MethodPost, "/v1/coupons", form, &coupon); err != nil {
		return nil, err
	}

	return &coupon, nil
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, result any) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("stripe client not configured")
	}

	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiResp struct {
			Error struct {
				Type    string `json:"type"`
				Message string `json:"message"`
			} `json:"error"`
		}
		// Тело ошибки может быть не-JSON, тогда оставляем только статус.
		_ = json.NewDecoder(resp.Body).Decode(&apiResp)
		return &APIError{
			StatusCode: resp.StatusCode,
			Type:       apiResp.Error.Type,
			Message:    apiResp.Error.Message,
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}
