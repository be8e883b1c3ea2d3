package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/Sufyane-M/cv-billing-system/internal/middleware"
	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/service"
)

// validateVia прогоняет запрос проверки купона через маршрутизатор с авторизацией.
func validateVia(t *testing.T, h *Handler, code string) *http.Response {
	t.Helper()

	r := chi.NewRouter()
	r.With(h.authMiddleware.Middleware).Get("/api/coupons/validate/{code}", h.ValidateCoupon)

	req := httptest.NewRequest(http.MethodGet, "/api/coupons/validate/"+code, nil)
	req.AddCookie(authCookie(t, h, 1, model.RoleUser))
	rec := httptest.NewRecorder()

	r.ServeHTTP(rec, req)
	return rec.Result()
}

func TestValidateCoupon_Valid(t *testing.T) {
	svc := &stubService{
		coupon: &model.Coupon{
			Code:          "SAVE10",
			DiscountType:  model.DiscountPercentage,
			DiscountValue: 10,
			Active:        true,
		},
	}
	h := newTestHandler(t, svc)

	res := validateVia(t, h, "SAVE10")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp struct {
		Valid  bool           `json:"valid"`
		Coupon couponResponse `json:"coupon"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Valid || resp.Coupon.Code != "SAVE10" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateCoupon_NotFoundReason(t *testing.T) {
	svc := &stubService{couponErr: repository.ErrCouponNotFound}
	h := newTestHandler(t, svc)

	res := validateVia(t, h, "NOPE")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}

	var resp struct {
		Valid  bool   `json:"valid"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Valid || resp.Reason != "not_found" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestValidateCoupon_ExpiredReason(t *testing.T) {
	svc := &stubService{couponErr: service.ErrCouponExpired}
	h := newTestHandler(t, svc)

	res := validateVia(t, h, "OLD10")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	var resp struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reason != "expired" {
		t.Fatalf("reason = %q, want expired", resp.Reason)
	}
}

func TestValidateCoupon_MalformedCode(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	res := validateVia(t, h, "x")
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestValidateCoupon_BlockedIP(t *testing.T) {
	svc := &stubService{ipBlocked: true}
	h := newTestHandler(t, svc)

	res := validateVia(t, h, "SAVE10")
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusForbidden)
	}
	if len(svc.loggedEvents) != 1 || svc.loggedEvents[0].EventType != "blocked_ip_rejected" {
		t.Fatalf("expected blocked_ip_rejected in security log, got %+v", svc.loggedEvents)
	}
}

func TestApplyCoupon_JSONResponse(t *testing.T) {
	coupon := &model.Coupon{
		Code:          "SAVE10",
		DiscountType:  model.DiscountPercentage,
		DiscountValue: 10,
		Active:        true,
	}
	svc := &stubService{
		applied: &service.AppliedDiscount{
			Coupon:         coupon,
			OriginalAmount: 499,
			DiscountAmount: 50,
			FinalAmount:    449,
		},
	}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(applyCouponRequest{Code: "SAVE10", Amount: 499})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/apply", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1, model.RoleUser))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.ApplyCoupon))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var resp applyCouponResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.OriginalAmount != 499 || resp.DiscountAmount != 50 || resp.FinalAmount != 449 {
		t.Fatalf("unexpected amounts: %+v", resp)
	}
}

func TestApplyCoupon_AlreadyUsed(t *testing.T) {
	svc := &stubService{applyErr: repository.ErrCouponAlreadyUsed}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(applyCouponRequest{Code: "SAVE10", Amount: 499})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/apply", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1, model.RoleUser))

	rec := httptest.NewRecorder()
	handlerWithAuth := h.authMiddleware.Middleware(http.HandlerFunc(h.ApplyCoupon))
	handlerWithAuth.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	var resp struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reason != "already_used" {
		t.Fatalf("reason = %q, want already_used", resp.Reason)
	}
}

func TestAdminCouponRequest_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  adminCouponRequest
		ok   bool
	}{
		{
			name: "valid percentage",
			req:  adminCouponRequest{Code: "save10", DiscountType: "percentage", DiscountValue: 10},
			ok:   true,
		},
		{
			name: "valid fixed",
			req:  adminCouponRequest{Code: "MINUS2", DiscountType: "fixed_amount", DiscountValue: 200},
			ok:   true,
		},
		{
			name: "percentage above 100",
			req:  adminCouponRequest{Code: "SAVE", DiscountType: "percentage", DiscountValue: 150},
			ok:   false,
		},
		{
			name: "zero value",
			req:  adminCouponRequest{Code: "SAVE", DiscountType: "percentage", DiscountValue: 0},
			ok:   false,
		},
		{
			name: "unknown type",
			req:  adminCouponRequest{Code: "SAVE", DiscountType: "bogus", DiscountValue: 10},
			ok:   false,
		},
		{
			name: "malformed code",
			req:  adminCouponRequest{Code: "a!", DiscountType: "percentage", DiscountValue: 10},
			ok:   false,
		},
		{
			name: "bad expiry",
			req:  adminCouponRequest{Code: "SAVE", DiscountType: "percentage", DiscountValue: 10, ExpiresAt: "tomorrow"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coupon, ok := tt.req.toModel()
			if ok != tt.ok {
				t.Fatalf("toModel() ok = %v, want %v", ok, tt.ok)
			}
			if ok && coupon.Code != "" && coupon.Code != "SAVE10" && coupon.Code != "MINUS2" {
				t.Fatalf("code must be normalized, got %q", coupon.Code)
			}
		})
	}
}

func TestCreateCoupon_RequiresAdmin(t *testing.T) {
	h := newTestHandler(t, &stubService{})

	body, _ := json.Marshal(adminCouponRequest{
		Code: "SAVE10", DiscountType: "percentage", DiscountValue: 10,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/admin/create", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1, model.RoleUser))

	rec := httptest.NewRecorder()
	protected := h.authMiddleware.Middleware(middleware.RequireAdmin(http.HandlerFunc(h.CreateCoupon)))
	protected.ServeHTTP(rec, req)

	if rec.Result().StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rec.Result().StatusCode, http.StatusForbidden)
	}
}

func TestCreateCoupon_AdminCreated(t *testing.T) {
	svc := &stubService{createCouponID: 5}
	h := newTestHandler(t, svc)

	body, _ := json.Marshal(adminCouponRequest{
		Code: "SAVE10", DiscountType: "percentage", DiscountValue: 10,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/coupons/admin/create", bytes.NewReader(body))
	req.AddCookie(authCookie(t, h, 1, model.RoleAdmin))

	rec := httptest.NewRecorder()
	protected := h.authMiddleware.Middleware(middleware.RequireAdmin(http.HandlerFunc(h.CreateCoupon)))
	protected.ServeHTTP(rec, req)

	res := rec.Result()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusCreated)
	}

	var resp map[string]int64
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["id"] != 5 {
		t.Fatalf("id = %d, want 5", resp["id"])
	}
}
