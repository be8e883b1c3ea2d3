// Package service реализует бизнес-логику биллинг-сервиса.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/catalog"
	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/stripe"
)

// Ошибки бизнес-правил уровня сервиса.
var (
	// ErrCouponExpired возвращается при попытке применить купон с истёкшим сроком действия.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrInvalidIP возвращается при некорректном формате IP-адреса.
	ErrInvalidIP = errors.New("invalid ip address")
	// ErrInvalidSignature возвращается при неуспешной проверке подписи вебхука.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidAmount возвращается при неположительной сумме операции.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	AddCredits(ctx context.Context, userID, amount int64, txType model.TransactionType, paymentID *string) (int64, error)
	ConsumeCredits(ctx context.Context, userID, amount int64, analysisID *string) (int64, error)
	GetTransactionsByUser(ctx context.Context, userID int64) ([]model.CreditTransaction, error)
	CreateCoupon(ctx context.Context, c model.Coupon) (int64, error)
	GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	UpdateCoupon(ctx context.Context, c model.Coupon) error
	DeactivateCoupon(ctx context.Context, code string) error
	CountCouponUsage(ctx context.Context, couponID int64) (int64, error)
	HasUserUsedCoupon(ctx context.Context, couponID, userID int64) (bool, error)
	RecordCouponUsage(ctx context.Context, usage model.CouponUsage, singleUse bool) error
	ListPublicCoupons(ctx context.Context) ([]model.Coupon, error)
	RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) error
	ApplyCheckoutCompleted(ctx context.Context, eventID string, payload []byte, payment model.Payment) (int64, error)
	GetPaymentBySession(ctx context.Context, sessionID string) (*model.Payment, error)
	IsIPBlocked(ctx context.Context, ip string) (bool, error)
	BlockIP(ctx context.Context, block model.IPBlock) error
	UnblockIP(ctx context.Context, ip string) error
	DeleteExpiredBlocks(ctx context.Context) (int64, error)
	AddSecurityLog(ctx context.Context, entry model.SecurityLog) error
	GetSecurityLogs(ctx context.Context, limit int) ([]model.SecurityLog, error)
}

// StripeClient описывает контракт платёжного процессора, используемый сервисом.
type StripeClient interface {
	CreateCheckoutSession(ctx context.Context, params stripe.CreateCheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	GetCoupon(ctx context.Context, couponID string) (*stripe.Coupon, error)
	CreateCoupon(ctx context.Context, params stripe.CreateCouponParams) (*stripe.Coupon, error)
}

// Service содержит бизнес-логику биллинг-сервиса.
type Service struct {
	repo          Repository
	stripeClient  StripeClient
	catalog       *catalog.Catalog
	logger        *zap.Logger
	webhookSecret string
	successURL    string
	cancelURL     string
}

// Options содержит параметры конструирования сервиса.
type Options struct {
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// NewService создаёт новый сервис с указанным репозиторием, клиентом Stripe и каталогом пакетов.
func NewService(repo Repository, stripeClient StripeClient, cat *catalog.Catalog, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:          repo,
		stripeClient:  stripeClient,
		catalog:       cat,
		logger:        logger,
		webhookSecret: opts.WebhookSecret,
		successURL:    opts.SuccessURL,
		cancelURL:     opts.CancelURL,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			return 0, repository.ErrUserExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор и роль.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, string, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, "", err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, "", errors.New("invalid credentials")
	}

	return u.ID, u.Role, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// GetBalance возвращает текущий баланс кредитов пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	credits, err := s.repo.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.Balance{Credits: credits}, nil
}

// ConsumeCredit списывает кредиты за запуск анализа. При недостатке средств
// возвращает repository.ErrInsufficientCredits, баланс не меняется.
func (s *Service) ConsumeCredit(ctx context.Context, userID, amount int64, analysisID *string) (int64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}
	return s.repo.ConsumeCredits(ctx, userID, amount, analysisID)
}

// AdjustCredits изменяет баланс пользователя административной операцией.
func (s *Service) AdjustCredits(ctx context.Context, userID, amount int64) (int64, error) {
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	return s.repo.AddCredits(ctx, userID, amount, model.TransactionAdminAdjustment, nil)
}

// GetTransactionsByUser возвращает историю движений кредитов пользователя.
func (s *Service) GetTransactionsByUser(ctx context.Context, userID int64) ([]model.CreditTransaction, error) {
	return s.repo.GetTransactionsByUser(ctx, userID)
}

// ListBundles возвращает каталог пакетов кредитов.
func (s *Service) ListBundles() []model.Bundle {
	return s.catalog.List()
}

// StartBlocklistCleanup запускает фоновый процесс удаления истёкших блокировок IP.
func (s *Service) StartBlocklistCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.repo.DeleteExpiredBlocks(ctx)
			if err != nil {
				s.logger.Warn("blocklist cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				s.logger.Info("expired ip blocks removed", zap.Int64("count", removed))
			}
		}
	}
}
