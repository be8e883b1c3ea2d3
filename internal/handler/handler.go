// Package handler содержит HTTP-обработчики API биллинг-сервиса.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/middleware"
	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/service"
	"github.com/Sufyane-M/cv-billing-system/internal/stripe"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, string, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	ConsumeCredit(ctx context.Context, userID, amount int64, analysisID *string) (int64, error)
	AdjustCredits(ctx context.Context, userID, amount int64) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.CreditTransaction, error)
	ListBundles() []model.Bundle

	CreateCheckoutSession(ctx context.Context, userID *int64, bundleID, couponCode string) (*stripe.CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (*service.VerifiedSession, error)
	ProcessWebhook(ctx context.Context, payload []byte, sigHeader, remoteIP string) error

	ValidateCoupon(ctx context.Context, code string, userID int64) (*model.Coupon, error)
	ApplyCoupon(ctx context.Context, code string, userID, amount int64, currency string) (*service.AppliedDiscount, error)
	CreateCoupon(ctx context.Context, c model.Coupon) (int64, error)
	UpdateCoupon(ctx context.Context, c model.Coupon) error
	DeleteCoupon(ctx context.Context, code string) error
	ListPublicCoupons(ctx context.Context) ([]model.Coupon, error)

	IsIPBlocked(ctx context.Context, ip string) bool
	BlockIP(ctx context.Context, ip, reason string, actorID int64, ttl time.Duration) error
	UnblockIP(ctx context.Context, ip string, actorID int64) error
	LogSecurityEvent(ctx context.Context, entry model.SecurityLog)
	GetSecurityLogs(ctx context.Context, limit int) ([]model.SecurityLog, error)
}

// Handler реализует HTTP-обработчики API биллинг-сервиса.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}

// remoteIP извлекает IP клиента из заголовка обратного прокси или адреса соединения.
func remoteIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового пользователя.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, model.RoleUser)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, role, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || err.Error() == "invalid credentials" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, role)
	w.WriteHeader(http.StatusOK)
}

// GetBalance возвращает баланс кредитов текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.logger.Error("get balance error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type consumeRequest struct {
	AnalysisID string `json:"analysisId"`
	Amount     int64  `json:"amount"`
}

// ConsumeCredit списывает кредиты текущего пользователя за запуск анализа.
func (h *Handler) ConsumeCredit(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req consumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Amount == 0 {
		req.Amount = 1
	}

	var analysisID *string
	if req.AnalysisID != "" {
		analysisID = &req.AnalysisID
	}

	newBalance, err := h.service.ConsumeCredit(r.Context(), userID, req.Amount, analysisID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient_credits")
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		default:
			h.logger.Error("consume credit error", zap.Error(err), zap.Int64("userID", userID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, model.Balance{Credits: newBalance})
}

type transactionResponse struct {
	Amount     int64   `json:"amount"`
	Type       string  `json:"type"`
	PaymentID  *string `json:"payment_id,omitempty"`
	AnalysisID *string `json:"analysis_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// GetTransactions возвращает историю движений кредитов текущего пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	transactions, err := h.service.GetTransactionsByUser(r.Context(), userID)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(transactions) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]transactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, transactionResponse{
			Amount:     t.Amount,
			Type:       string(t.Type),
			PaymentID:  t.PaymentID,
			AnalysisID: t.AnalysisID,
			CreatedAt:  t.CreatedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type bundleResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Credits  int64  `json:"credits"`
	Currency string `json:"currency"`
}

// GetBundles возвращает каталог пакетов кредитов.
func (h *Handler) GetBundles(w http.ResponseWriter, r *http.Request) {
	bundles := h.service.ListBundles()

	resp := make([]bundleResponse, 0, len(bundles))
	for _, b := range bundles {
		resp = append(resp, bundleResponse{
			ID:       b.ID,
			Name:     b.Name,
			Price:    b.Price,
			Credits:  b.Credits,
			Currency: b.Currency,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
