package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

// RecordEvent фиксирует событие вебхука как обработанное. Возвращает
// ErrEventAlreadyProcessed, если событие с таким идентификатором уже записано.
// Используется для событий без денежных побочных эффектов.
func (r *PostgresRepository) RecordEvent(ctx context.Context, eventID, eventType string, payload []byte) error {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO webhook_events (event_id, event_type, payload) VALUES ($1, $2, $3)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType, payload,
	)
	if err != nil {
		return fmt.Errorf("insert webhook event: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrEventAlreadyProcessed
	}
	return nil
}

// ApplyCheckoutCompleted применяет завершённую оплату в одной транзакции:
// фиксирует событие вебхука, сохраняет платёж, увеличивает баланс пользователя
// и добавляет запись леджера. Вставка в webhook_events — идемпотентный затвор:
// повторная доставка того же event_id возвращает ErrEventAlreadyProcessed и не
// производит побочных эффектов. При любой ошибке транзакция откатывается целиком,
// включая запись затвора, поэтому ретрай процессора безопасно повторит начисление.
// Возвращает новый баланс пользователя (0 для анонимной оплаты).
func (r *PostgresRepository) ApplyCheckoutCompleted(ctx context.Context, eventID string, payload []byte, payment model.Payment) (int64, error) {
	var newBalance int64

	err := r.withRetry(ctx, func() error {
		newBalance = 0

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`INSERT INTO webhook_events (event_id, event_type, payload) VALUES ($1, $2, $3)
			 ON CONFLICT (event_id) DO NOTHING`,
			eventID, "checkout.session.completed", payload,
		)
		if err != nil {
			return fmt.Errorf("insert webhook event: %w", err)
		}
		if cmdTag.RowsAffected() == 0 {
			return ErrEventAlreadyProcessed
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO payments (session_id, event_id, user_id, bundle_id, credits, amount_total, currency, coupon_code)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			payment.SessionID, eventID, payment.UserID, payment.BundleID,
			payment.Credits, payment.AmountTotal, payment.Currency, payment.CouponCode,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				// Та же сессия пришла под новым event_id: оплата уже учтена,
				// доставку нужно подтвердить, а не ретраить.
				return ErrEventAlreadyProcessed
			}
			return fmt.Errorf("insert payment: %w", err)
		}

		if payment.UserID != nil {
			err = tx.QueryRow(ctx,
				`UPDATE users SET credits = credits + $2 WHERE id = $1 RETURNING credits`,
				*payment.UserID, payment.Credits,
			).Scan(&newBalance)
			if err != nil {
				if errors.Is(err, pgx.ErrNoRows) {
					return fmt.Errorf("%w: id=%d", ErrUserNotFound, *payment.UserID)
				}
				return fmt.Errorf("update credits: %w", err)
			}

			_, err = tx.Exec(ctx,
				`INSERT INTO credit_transactions (user_id, amount, type, payment_id) VALUES ($1, $2, $3, $4)`,
				*payment.UserID, payment.Credits, string(model.TransactionPurchase), payment.SessionID,
			)
			if err != nil {
				return fmt.Errorf("insert transaction: %w", err)
			}
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return 0, err
	}

	return newBalance, nil
}

// GetPaymentBySession возвращает платёж по идентификатору чекаут-сессии.
func (r *PostgresRepository) GetPaymentBySession(ctx context.Context, sessionID string) (*model.Payment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT session_id, event_id, user_id, bundle_id, credits, amount_total, currency, coupon_code, created_at
		 FROM payments
		 WHERE session_id = $1`,
		sessionID,
	)

	var p model.Payment
	var createdAt time.Time
	err := row.Scan(&p.SessionID, &p.EventID, &p.UserID, &p.BundleID, &p.Credits, &p.AmountTotal, &p.Currency, &p.CouponCode, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	p.CreatedAt = createdAt

	return &p, nil
}
