package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/catalog"
	"github.com/Sufyane-M/cv-billing-system/internal/middleware"
	"github.com/Sufyane-M/cv-billing-system/internal/service"
)

type createSessionRequest struct {
	Bundle     string `json:"bundle"`
	CouponCode string `json:"couponCode"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// CreateCheckoutSession создаёт чекаут-сессию покупки пакета кредитов.
// Личность покупателя берётся из контекста аутентификации, а не из тела запроса.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Bundle == "" {
		writeError(w, http.StatusBadRequest, "invalid_bundle")
		return
	}

	var userID *int64
	if id, ok := middleware.GetUserIDFromContext(r.Context()); ok {
		userID = &id
	}

	session, err := h.service.CreateCheckoutSession(r.Context(), userID, req.Bundle, req.CouponCode)
	if err != nil {
		if errors.Is(err, catalog.ErrBundleNotFound) {
			writeError(w, http.StatusBadRequest, "invalid_bundle")
			return
		}
		h.logger.Error("create checkout session error", zap.Error(err), zap.String("bundle", req.Bundle))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, createSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}

type verifySessionResponse struct {
	Status         string            `json:"status"`
	PaymentStatus  string            `json:"paymentStatus"`
	CustomerEmail  string            `json:"customerEmail"`
	AmountTotal    int64             `json:"amountTotal"`
	Metadata       map[string]string `json:"metadata"`
	CreditsGranted bool              `json:"creditsGranted"`
}

// VerifySession возвращает состояние чекаут-сессии для обновления UI после оплаты.
func (h *Handler) VerifySession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	verified, err := h.service.VerifySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("verify session error", zap.Error(err), zap.String("sessionID", sessionID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	session := verified.Session
	writeJSON(w, http.StatusOK, verifySessionResponse{
		Status:         session.Status,
		PaymentStatus:  session.PaymentStatus,
		CustomerEmail:  session.Email(),
		AmountTotal:    session.AmountTotal,
		Metadata:       session.Metadata,
		CreditsGranted: verified.Payment != nil,
	})
}

// Webhook принимает асинхронные события платёжного процессора.
// Тело читается в исходном виде: подпись вычисляется по сырым байтам.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")

	err = h.service.ProcessWebhook(r.Context(), payload, sigHeader, remoteIP(r))
	if err != nil {
		if errors.Is(err, service.ErrInvalidSignature) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("webhook processing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
