package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/middleware"
	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/service"
	"github.com/Sufyane-M/cv-billing-system/internal/validation"
)

type couponResponse struct {
	Code             string `json:"code"`
	DiscountType     string `json:"discount_type"`
	DiscountValue    int64  `json:"discount_value"`
	MaxDiscount      *int64 `json:"max_discount,omitempty"`
	SingleUsePerUser bool   `json:"single_use_per_user"`
}

func toCouponResponse(c *model.Coupon) couponResponse {
	return couponResponse{
		Code:             c.Code,
		DiscountType:     string(c.DiscountType),
		DiscountValue:    c.DiscountValue,
		MaxDiscount:      c.MaxDiscount,
		SingleUsePerUser: c.SingleUsePerUser,
	}
}

func couponReasonStatus(reason string) int {
	if reason == "not_found" {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// checkBlocked проверяет IP клиента по чёрному списку перед чувствительными
// операциями с купонами. Недоступность списка не блокирует запрос.
func (h *Handler) checkBlocked(w http.ResponseWriter, r *http.Request) bool {
	ip := remoteIP(r)
	if h.service.IsIPBlocked(r.Context(), ip) {
		var userID *int64
		if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
			userID = &id
		}
		h.service.LogSecurityEvent(r.Context(), model.SecurityLog{
			EventType: "blocked_ip_rejected",
			Severity:  model.SeverityWarning,
			IP:        ip,
			UserID:    userID,
			Details:   r.URL.Path,
		})
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return true
	}
	return false
}

// ValidateCoupon проверяет пригодность купона для текущего пользователя.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if h.checkBlocked(w, r) {
		return
	}

	code := chi.URLParam(r, "code")
	if !validation.IsValidCouponCode(validation.NormalizeCouponCode(code)) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "reason": "invalid_code"})
		return
	}

	coupon, err := h.service.ValidateCoupon(r.Context(), code, userID)
	if err != nil {
		if reason, ok := service.CouponErrorReason(err); ok {
			writeJSON(w, couponReasonStatus(reason), map[string]any{"valid": false, "reason": reason})
			return
		}
		h.logger.Error("validate coupon error", zap.Error(err), zap.String("code", code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "coupon": toCouponResponse(coupon)})
}

type applyCouponRequest struct {
	Code     string `json:"code"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type applyCouponResponse struct {
	OriginalAmount int64          `json:"originalAmount"`
	DiscountAmount int64          `json:"discountAmount"`
	FinalAmount    int64          `json:"finalAmount"`
	Coupon         couponResponse `json:"coupon"`
}

// ApplyCoupon применяет купон к сумме и фиксирует применение.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	if h.checkBlocked(w, r) {
		return
	}

	var req applyCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code == "" || req.Amount <= 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if req.Currency == "" {
		req.Currency = "eur"
	}

	applied, err := h.service.ApplyCoupon(r.Context(), req.Code, userID, req.Amount, req.Currency)
	if err != nil {
		if reason, ok := service.CouponErrorReason(err); ok {
			writeJSON(w, couponReasonStatus(reason), map[string]any{"valid": false, "reason": reason})
			return
		}
		h.logger.Error("apply coupon error", zap.Error(err), zap.String("code", req.Code), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, applyCouponResponse{
		OriginalAmount: applied.OriginalAmount,
		DiscountAmount: applied.DiscountAmount,
		FinalAmount:    applied.FinalAmount,
		Coupon:         toCouponResponse(applied.Coupon),
	})
}

// ListPublicCoupons возвращает активные публичные купоны.
func (h *Handler) ListPublicCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.service.ListPublicCoupons(r.Context())
	if err != nil {
		h.logger.Error("list public coupons error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]couponResponse, 0, len(coupons))
	for i := range coupons {
		resp = append(resp, toCouponResponse(&coupons[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type adminCouponRequest struct {
	Code             string `json:"code"`
	DiscountType     string `json:"discount_type"`
	DiscountValue    int64  `json:"discount_value"`
	MaxDiscount      *int64 `json:"max_discount"`
	Active           *bool  `json:"active"`
	ExpiresAt        string `json:"expires_at"`
	UsageLimit       *int64 `json:"usage_limit"`
	SingleUsePerUser bool   `json:"single_use_per_user"`
	IsPublic         bool   `json:"is_public"`
}

func (req *adminCouponRequest) toModel() (model.Coupon, bool) {
	code := validation.NormalizeCouponCode(req.Code)
	if !validation.IsValidCouponCode(code) {
		return model.Coupon{}, false
	}

	discountType := model.DiscountType(req.DiscountType)
	if discountType != model.DiscountPercentage && discountType != model.DiscountFixedAmount {
		return model.Coupon{}, false
	}
	if req.DiscountValue <= 0 {
		return model.Coupon{}, false
	}
	if discountType == model.DiscountPercentage && req.DiscountValue > 100 {
		return model.Coupon{}, false
	}

	c := model.Coupon{
		Code:             code,
		DiscountType:     discountType,
		DiscountValue:    req.DiscountValue,
		MaxDiscount:      req.MaxDiscount,
		Active:           true,
		UsageLimit:       req.UsageLimit,
		SingleUsePerUser: req.SingleUsePerUser,
		IsPublic:         req.IsPublic,
	}
	if req.Active != nil {
		c.Active = *req.Active
	}
	if req.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			return model.Coupon{}, false
		}
		c.ExpiresAt = &expires
	}

	return c, true
}
