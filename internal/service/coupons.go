package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/stripe"
	"github.com/Sufyane-M/cv-billing-system/internal/validation"
)

// ValidateCoupon проверяет пригодность купона для пользователя.
// Код нормализуется к верхнему регистру до поиска. Возвращает одну из ошибок:
// repository.ErrCouponNotFound, ErrCouponExpired,
// repository.ErrCouponUsageLimitReached, repository.ErrCouponAlreadyUsed.
func (s *Service) ValidateCoupon(ctx context.Context, code string, userID int64) (*model.Coupon, error) {
	code = validation.NormalizeCouponCode(code)

	coupon, err := s.repo.GetCouponByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	// Неактивный купон неотличим для клиента от несуществующего.
	if !coupon.Active {
		return nil, repository.ErrCouponNotFound
	}

	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(time.Now()) {
		return nil, ErrCouponExpired
	}

	if coupon.UsageLimit != nil {
		count, err := s.repo.CountCouponUsage(ctx, coupon.ID)
		if err != nil {
			return nil, err
		}
		if count >= *coupon.UsageLimit {
			return nil, repository.ErrCouponUsageLimitReached
		}
	}

	if coupon.SingleUsePerUser && userID != 0 {
		used, err := s.repo.HasUserUsedCoupon(ctx, coupon.ID, userID)
		if err != nil {
			return nil, err
		}
		if used {
			return nil, repository.ErrCouponAlreadyUsed
		}
	}

	return coupon, nil
}

// ComputeDiscount вычисляет размер скидки и итоговую сумму в центах.
// Процентная скидка округляется до цента арифметически и ограничивается
// MaxDiscount; фиксированная не превышает сумму. Итог не бывает отрицательным.
func ComputeDiscount(coupon *model.Coupon, amount int64) (discount, final int64) {
	if amount <= 0 {
		return 0, 0
	}

	switch coupon.DiscountType {
	case model.DiscountPercentage:
		discount = (amount*coupon.DiscountValue + 50) / 100
		if coupon.MaxDiscount != nil && discount > *coupon.MaxDiscount {
			discount = *coupon.MaxDiscount
		}
	case model.DiscountFixedAmount:
		discount = coupon.DiscountValue
		if discount > amount {
			discount = amount
		}
	default:
		discount = 0
	}

	if discount < 0 {
		discount = 0
	}

	final = amount - discount
	if final < 0 {
		final = 0
	}

	return discount, final
}

// AppliedDiscount описывает результат применения купона к сумме.
type AppliedDiscount struct {
	Coupon         *model.Coupon
	OriginalAmount int64
	DiscountAmount int64
	FinalAmount    int64
}

// ApplyCoupon проверяет купон, вычисляет скидку и фиксирует применение.
// Для одноразовых купонов единственность пары (купон, пользователь)
// гарантирует хранилище, предварительная проверка — только оптимизация.
func (s *Service) ApplyCoupon(ctx context.Context, code string, userID, amount int64, currency string) (*AppliedDiscount, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	coupon, err := s.ValidateCoupon(ctx, code, userID)
	if err != nil {
		return nil, err
	}

	discount, final := ComputeDiscount(coupon, amount)

	err = s.repo.RecordCouponUsage(ctx, model.CouponUsage{
		CouponID:       coupon.ID,
		UserID:         userID,
		DiscountAmount: discount,
		Currency:       currency,
	}, coupon.SingleUsePerUser)
	if err != nil {
		return nil, err
	}

	return &AppliedDiscount{
		Coupon:         coupon,
		OriginalAmount: amount,
		DiscountAmount: discount,
		FinalAmount:    final,
	}, nil
}

// CreateCoupon создаёт купон. Код приводится к верхнему регистру до записи.
// Купон зеркалируется в реестр Stripe по мере возможности: ошибка зеркалирования
// логируется, но не отменяет локальное создание.
func (s *Service) CreateCoupon(ctx context.Context, c model.Coupon) (int64, error) {
	c.Code = validation.NormalizeCouponCode(c.Code)

	id, err := s.repo.CreateCoupon(ctx, c)
	if err != nil {
		return 0, err
	}

	if s.stripeClient != nil {
		params := stripe.CreateCouponParams{ID: c.Code}
		switch c.DiscountType {
		case model.DiscountPercentage:
			pct := float64(c.DiscountValue)
			params.PercentOff = &pct
		case model.DiscountFixedAmount:
			off := c.DiscountValue
			params.AmountOff = &off
			params.Currency = "eur"
		}

		mirrorCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if _, err := s.stripeClient.CreateCoupon(mirrorCtx, params); err != nil {
			s.logger.Warn("coupon mirror to stripe failed",
				zap.String("code", c.Code), zap.Error(err))
		}
	}

	return id, nil
}

// UpdateCoupon обновляет параметры купона.
func (s *Service) UpdateCoupon(ctx context.Context, c model.Coupon) error {
	c.Code = validation.NormalizeCouponCode(c.Code)
	return s.repo.UpdateCoupon(ctx, c)
}

// DeleteCoupon деактивирует купон. История применений сохраняется для аудита.
func (s *Service) DeleteCoupon(ctx context.Context, code string) error {
	return s.repo.DeactivateCoupon(ctx, validation.NormalizeCouponCode(code))
}

// ListPublicCoupons возвращает активные публичные купоны.
func (s *Service) ListPublicCoupons(ctx context.Context) ([]model.Coupon, error) {
	return s.repo.ListPublicCoupons(ctx)
}

// CouponErrorReason переводит ошибку проверки купона в машинно-читаемую причину для клиента.
func CouponErrorReason(err error) (string, bool) {
	switch {
	case errors.Is(err, repository.ErrCouponNotFound):
		return "not_found", true
	case errors.Is(err, ErrCouponExpired):
		return "expired", true
	case errors.Is(err, repository.ErrCouponUsageLimitReached):
		return "usage_limit_reached", true
	case errors.Is(err, repository.ErrCouponAlreadyUsed):
		return "already_used", true
	default:
		return "", false
	}
}
