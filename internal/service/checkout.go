package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/repository"
	"github.com/Sufyane-M/cv-billing-system/internal/stripe"
	"github.com/Sufyane-M/cv-billing-system/internal/validation"
)

// Ключи метаданных чекаут-сессии. Метаданные — единственный канал, по которому
// обработчик вебхука узнаёт, что начислять, поэтому заполняются всегда.
const (
	metaBundleID   = "bundle_id"
	metaCredits    = "credits"
	metaUserID     = "user_id"
	metaCouponCode = "coupon_code"
)

const couponLookupTimeout = 3 * time.Second

// CreateCheckoutSession создаёт чекаут-сессию для покупки пакета кредитов.
// userID равен nil для анонимной оплаты. Количество кредитов берётся только
// из каталога, переданное клиентом значение не используется.
// Ошибка применения купона не блокирует оплату: сессия создаётся без скидки.
func (s *Service) CreateCheckoutSession(ctx context.Context, userID *int64, bundleID, couponCode string) (*stripe.CheckoutSession, error) {
	bundle, err := s.catalog.Get(bundleID)
	if err != nil {
		return nil, err
	}

	userValue := model.AnonymousUser
	if userID != nil {
		userValue = strconv.FormatInt(*userID, 10)
	}

	metadata := map[string]string{
		metaBundleID: bundle.ID,
		metaCredits:  strconv.FormatInt(bundle.Credits, 10),
		metaUserID:   userValue,
	}

	params := stripe.CreateCheckoutSessionParams{
		AmountCents: bundle.Price,
		Currency:    bundle.Currency,
		ProductName: bundle.Name,
		SuccessURL:  s.successURL,
		CancelURL:   s.cancelURL,
		Metadata:    metadata,
	}

	if couponCode != "" {
		code := validation.NormalizeCouponCode(couponCode)
		if s.attachCoupon(ctx, code, userID) {
			params.CouponID = code
			metadata[metaCouponCode] = code
		}
	}

	session, err := s.stripeClient.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return session, nil
}

// attachCoupon решает, прикреплять ли купон к сессии. Любая ошибка проверки —
// локальной или в реестре Stripe — приводит к созданию сессии без скидки.
func (s *Service) attachCoupon(ctx context.Context, code string, userID *int64) bool {
	var uid int64
	if userID != nil {
		uid = *userID
	}

	if _, err := s.ValidateCoupon(ctx, code, uid); err != nil {
		s.logger.Warn("coupon rejected at checkout, proceeding without discount",
			zap.String("code", code), zap.Error(err))
		return false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, couponLookupTimeout)
	defer cancel()

	stripeCoupon, err := s.stripeClient.GetCoupon(lookupCtx, code)
	if err != nil {
		s.logger.Warn("stripe coupon lookup failed, proceeding without discount",
			zap.String("code", code), zap.Error(err))
		return false
	}
	if !stripeCoupon.Valid {
		s.logger.Warn("stripe coupon invalid, proceeding without discount",
			zap.String("code", code))
		return false
	}

	return true
}

// VerifiedSession объединяет состояние сессии в Stripe с локальной записью платежа.
// Payment равен nil, пока вебхук завершённой оплаты не обработан.
type VerifiedSession struct {
	Session *stripe.CheckoutSession
	Payment *model.Payment
}

// VerifySession возвращает состояние чекаут-сессии из Stripe вместе с локальной
// записью платежа, если начисление уже состоялось. Ошибка локального поиска
// не мешает вернуть состояние сессии.
func (s *Service) VerifySession(ctx context.Context, sessionID string) (*VerifiedSession, error) {
	session, err := s.stripeClient.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	verified := &VerifiedSession{Session: session}

	payment, err := s.repo.GetPaymentBySession(ctx, sessionID)
	switch {
	case err == nil:
		verified.Payment = payment
	case errors.Is(err, repository.ErrPaymentNotFound):
		// Вебхук ещё не дошёл, это штатное состояние сразу после оплаты.
	default:
		s.logger.Warn("local payment lookup failed during session verification",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	return verified, nil
}

// ProcessWebhook обрабатывает доставку события от платёжного процессора.
// Проверка подписи — граница доверия: при её провале никакие побочные эффекты
// не выполняются. Повторная доставка уже обработанного события подтверждается
// без повторения побочных эффектов. Возвращаемая ошибка означает, что обработчик
// должен ответить 5xx и процессор повторит доставку.
func (s *Service) ProcessWebhook(ctx context.Context, payload []byte, sigHeader, remoteIP string) error {
	if err := stripe.VerifySignature(payload, sigHeader, s.webhookSecret); err != nil {
		s.LogSecurityEvent(ctx, model.SecurityLog{
			EventType: "webhook_signature_failed",
			Severity:  model.SeverityWarning,
			IP:        remoteIP,
			Details:   err.Error(),
		})
		return fmt.Errorf("%w: %s", ErrInvalidSignature, err)
	}

	event, err := stripe.ParseEvent(payload)
	if err != nil {
		// Подпись верна, но конверт события не разбирается: подтверждаем
		// доставку, ретрай процессора здесь ничего не исправит.
		s.logger.Error("webhook envelope decode failed", zap.Error(err))
		return nil
	}

	decoded, err := event.Payload()
	if err != nil {
		// Подпись верна, но тело не разбирается: подтверждаем доставку,
		// бесконечный ретрай процессора здесь ничего не исправит.
		s.logger.Error("webhook payload decode failed",
			zap.String("event_id", event.ID), zap.String("type", event.Type), zap.Error(err))
		return nil
	}

	switch p := decoded.(type) {
	case stripe.CheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event.ID, payload, p.Session)
	case stripe.PaymentSucceeded:
		s.recordObservedEvent(ctx, event.ID, event.Type, payload)
		s.logger.Info("payment intent succeeded",
			zap.String("event_id", event.ID), zap.String("intent_id", p.Intent.ID),
			zap.Int64("amount", p.Intent.Amount))
		return nil
	case stripe.PaymentFailed:
		s.recordObservedEvent(ctx, event.ID, event.Type, payload)
		reason := ""
		if p.Intent.LastPaymentError != nil {
			reason = p.Intent.LastPaymentError.Message
		}
		s.logger.Info("payment intent failed",
			zap.String("event_id", event.ID), zap.String("intent_id", p.Intent.ID),
			zap.String("reason", reason))
		return nil
	case stripe.UnknownPayload:
		// Неизвестные типы подтверждаются, иначе процессор будет ретраить их вечно.
		s.logger.Debug("ignoring webhook event of unhandled type",
			zap.String("event_id", event.ID), zap.String("type", p.Type))
		return nil
	default:
		return nil
	}
}

// handleCheckoutCompleted начисляет кредиты за завершённую оплату.
// Начисление и идемпотентный затвор выполняются в одной транзакции хранилища;
// учёт применения купона — вторичное обогащение и выполняется отдельно,
// его ошибка не отменяет начисление.
func (s *Service) handleCheckoutCompleted(ctx context.Context, eventID string, payload []byte, session stripe.CheckoutSession) error {
	bundleID := session.Metadata[metaBundleID]

	bundle, err := s.catalog.Get(bundleID)
	if err != nil {
		// Платёж прошёл, но метаданные не восстановимы: ретрай не поможет,
		// подтверждаем доставку и поднимаем тревогу для ручного вмешательства.
		s.logger.Error("completed checkout has unknown bundle, manual intervention required",
			zap.String("event_id", eventID), zap.String("session_id", session.ID),
			zap.String("bundle_id", bundleID))
		s.LogSecurityEvent(ctx, model.SecurityLog{
			EventType: "credit_grant_unrecoverable",
			Severity:  model.SeverityCritical,
			Details:   fmt.Sprintf("event=%s session=%s bundle=%q", eventID, session.ID, bundleID),
		})
		return nil
	}

	var userID *int64
	userValue := session.Metadata[metaUserID]
	if userValue != "" && userValue != model.AnonymousUser {
		id, err := strconv.ParseInt(userValue, 10, 64)
		if err != nil {
			s.logger.Error("completed checkout has malformed user id, manual intervention required",
				zap.String("event_id", eventID), zap.String("session_id", session.ID),
				zap.String("user_id", userValue))
			s.LogSecurityEvent(ctx, model.SecurityLog{
				EventType: "credit_grant_unrecoverable",
				Severity:  model.SeverityCritical,
				Details:   fmt.Sprintf("event=%s session=%s user=%q", eventID, session.ID, userValue),
			})
			return nil
		}
		userID = &id
	}

	var couponCode *string
	if code := session.Metadata[metaCouponCode]; code != "" {
		couponCode = &code
	}

	payment := model.Payment{
		SessionID:   session.ID,
		EventID:     eventID,
		UserID:      userID,
		BundleID:    bundle.ID,
		Credits:     bundle.Credits,
		AmountTotal: session.AmountTotal,
		Currency:    session.Currency,
		CouponCode:  couponCode,
	}

	newBalance, err := s.repo.ApplyCheckoutCompleted(ctx, eventID, payload, payment)
	if err != nil {
		if isAlreadyProcessed(err) {
			s.logger.Info("webhook event already processed, acknowledging",
				zap.String("event_id", eventID), zap.String("session_id", session.ID))
			return nil
		}
		// Деньги получены, кредиты не начислены. Ошибка уходит наверх (5xx),
		// затвор откатился вместе с транзакцией, ретрай процессора повторит начисление.
		s.logger.Error("credit grant failed for completed payment",
			zap.String("event_id", eventID), zap.String("session_id", session.ID), zap.Error(err))
		s.LogSecurityEvent(ctx, model.SecurityLog{
			EventType: "credit_grant_failed",
			Severity:  model.SeverityCritical,
			UserID:    userID,
			Details:   fmt.Sprintf("event=%s session=%s: %v", eventID, session.ID, err),
		})
		return err
	}

	s.logger.Info("credits granted for completed checkout",
		zap.String("event_id", eventID), zap.String("session_id", session.ID),
		zap.String("bundle_id", bundle.ID), zap.Int64("credits", bundle.Credits),
		zap.Int64("new_balance", newBalance))

	s.recordCouponUsageFromSession(ctx, session, userID)

	return nil
}

// recordCouponUsageFromSession фиксирует применение купона по данным сессии.
// Ошибки только логируются: начисление кредитов уже состоялось.
func (s *Service) recordCouponUsageFromSession(ctx context.Context, session stripe.CheckoutSession, userID *int64) {
	code := session.Metadata[metaCouponCode]
	if code == "" || userID == nil {
		return
	}
	if session.TotalDetails == nil || session.TotalDetails.AmountDiscount <= 0 {
		return
	}

	coupon, err := s.repo.GetCouponByCode(ctx, code)
	if err != nil {
		s.logger.Warn("coupon usage bookkeeping failed: coupon lookup",
			zap.String("code", code), zap.Error(err))
		return
	}

	err = s.repo.RecordCouponUsage(ctx, model.CouponUsage{
		CouponID:       coupon.ID,
		UserID:         *userID,
		DiscountAmount: session.TotalDetails.AmountDiscount,
		Currency:       session.Currency,
	}, coupon.SingleUsePerUser)
	if err != nil {
		s.logger.Warn("coupon usage bookkeeping failed",
			zap.String("code", code), zap.Int64("user_id", *userID), zap.Error(err))
	}
}

func (s *Service) recordObservedEvent(ctx context.Context, eventID, eventType string, payload []byte) {
	if err := s.repo.RecordEvent(ctx, eventID, eventType, payload); err != nil && !isAlreadyProcessed(err) {
		s.logger.Warn("webhook event bookkeeping failed",
			zap.String("event_id", eventID), zap.Error(err))
	}
}

func isAlreadyProcessed(err error) bool {
	return errors.Is(err, repository.ErrEventAlreadyProcessed)
}
