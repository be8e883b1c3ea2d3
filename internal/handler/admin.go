package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/middleware"
	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/service"
)

// CreateCoupon создаёт новый купон (только для администраторов).
func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req adminCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	coupon, ok := req.toModel()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_coupon")
		return
	}

	id, err := h.service.CreateCoupon(r.Context(), coupon)
	if err != nil {
		if errors.Is(err, repository.ErrCouponExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("create coupon error", zap.Error(err), zap.String("code", coupon.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

// UpdateCoupon обновляет параметры купона (только для администраторов).
func (h *Handler) UpdateCoupon(w http.ResponseWriter, r *http.Request) {
	var req adminCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	coupon, ok := req.toModel()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_coupon")
		return
	}

	if err := h.service.UpdateCoupon(r.Context(), coupon); err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("update coupon error", zap.Error(err), zap.String("code", coupon.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type deleteCouponRequest struct {
	Code string `json:"code"`
}

// DeleteCoupon деактивирует купон. История применений сохраняется.
func (h *Handler) DeleteCoupon(w http.ResponseWriter, r *http.Request) {
	var req deleteCouponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Code == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.DeleteCoupon(r.Context(), req.Code); err != nil {
		if errors.Is(err, repository.ErrCouponNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("delete coupon error", zap.Error(err), zap.String("code", req.Code))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type blockIPRequest struct {
	IP         string `json:"ip"`
	Reason     string `json:"reason"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

// BlockIP добавляет IP-адрес в чёрный список (только для администраторов).
func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req blockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second

	if err := h.service.BlockIP(r.Context(), req.IP, req.Reason, actorID, ttl); err != nil {
		if errors.Is(err, service.ErrInvalidIP) {
			writeError(w, http.StatusBadRequest, "invalid_ip")
			return
		}
		h.logger.Error("block ip error", zap.Error(err), zap.String("ip", req.IP))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type unblockIPRequest struct {
	IP string `json:"ip"`
}

// UnblockIP удаляет IP-адрес из чёрного списка (только для администраторов).
func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	actorID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req unblockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.UnblockIP(r.Context(), req.IP, actorID); err != nil {
		if errors.Is(err, service.ErrInvalidIP) {
			writeError(w, http.StatusBadRequest, "invalid_ip")
			return
		}
		h.logger.Error("unblock ip error", zap.Error(err), zap.String("ip", req.IP))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type securityLogResponse struct {
	EventType string `json:"event_type"`
	Severity  string `json:"severity"`
	IP        string `json:"ip,omitempty"`
	UserID    *int64 `json:"user_id,omitempty"`
	Details   string `json:"details,omitempty"`
	CreatedAt string `json:"created_at"`
}

// GetSecurityLogs возвращает последние записи журнала безопасности.
func (h *Handler) GetSecurityLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	logs, err := h.service.GetSecurityLogs(r.Context(), limit)
	if err != nil {
		h.logger.Error("get security logs error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]securityLogResponse, 0, len(logs))
	for _, entry := range logs {
		resp = append(resp, securityLogResponse{
			EventType: entry.EventType,
			Severity:  string(entry.Severity),
			IP:        entry.IP,
			UserID:    entry.UserID,
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type adjustCreditsRequest struct {
	UserID int64 `json:"user_id"`
	Amount int64 `json:"amount"`
}

// AdjustCredits изменяет баланс пользователя административной операцией.
func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req adjustCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	newBalance, err := h.service.AdjustCredits(r.Context(), req.UserID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrInsufficientCredits):
			// Списание ниже нуля не проходит ограничение баланса.
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("adjust credits error", zap.Error(err), zap.Int64("userID", req.UserID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.Balance{Credits: newBalance})
}
