package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

// CreateCoupon создаёт новый купон и возвращает его идентификатор.
func (r *PostgresRepository) CreateCoupon(ctx context.Context, c model.Coupon) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO coupons (code, discount_type, discount_value, max_discount, active, expires_at, usage_limit, single_use_per_user, is_public)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MaxDiscount,
		c.Active, c.ExpiresAt, c.UsageLimit, c.SingleUsePerUser, c.IsPublic,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrCouponExists, c.Code)
		}
		return 0, fmt.Errorf("create coupon: %w", err)
	}
	return id, nil
}

// GetCouponByCode возвращает купон по коду независимо от его активности.
// Решение о пригодности купона принимает вызывающая сторона.
func (r *PostgresRepository) GetCouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, code, discount_type, discount_value, max_discount, active, expires_at, usage_limit, single_use_per_user, is_public, created_at
		 FROM coupons
		 WHERE code = $1`,
		code,
	)

	var c model.Coupon
	var discountType string
	err := row.Scan(&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.MaxDiscount,
		&c.Active, &c.ExpiresAt, &c.UsageLimit, &c.SingleUsePerUser, &c.IsPublic, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	c.DiscountType = model.DiscountType(discountType)

	return &c, nil
}

// UpdateCoupon обновляет параметры купона по коду.
func (r *PostgresRepository) UpdateCoupon(ctx context.Context, c model.Coupon) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons
		 SET discount_type = $2, discount_value = $3, max_discount = $4, active = $5,
		     expires_at = $6, usage_limit = $7, single_use_per_user = $8, is_public = $9
		 WHERE code = $1`,
		c.Code, string(c.DiscountType), c.DiscountValue, c.MaxDiscount,
		c.Active, c.ExpiresAt, c.UsageLimit, c.SingleUsePerUser, c.IsPublic,
	)
	if err != nil {
		return fmt.Errorf("update coupon: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

// DeactivateCoupon снимает флаг активности купона. История применений сохраняется.
func (r *PostgresRepository) DeactivateCoupon(ctx context.Context, code string) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE coupons SET active = FALSE WHERE code = $1`,
		code,
	)
	if err != nil {
		return fmt.Errorf("deactivate coupon: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrCouponNotFound
	}
	return nil
}

// CountCouponUsage возвращает количество применений купона.
func (r *PostgresRepository) CountCouponUsage(ctx context.Context, couponID int64) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1`,
		couponID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count coupon usage: %w", err)
	}
	return count, nil
}

// HasUserUsedCoupon проверяет, применял ли пользователь купон ранее.
// Это предварительная проверка для валидации; гарантией единственности
// служит уникальный индекс usage_key при записи.
func (r *PostgresRepository) HasUserUsedCoupon(ctx context.Context, couponID, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2)`,
		couponID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check coupon usage: %w", err)
	}
	return exists, nil
}

// RecordCouponUsage записывает факт применения купона. Глобальный лимит
// применений сериализуется блокировкой строки купона; для одноразовых купонов
// уникальность пары (купон, пользователь) обеспечивает уникальный индекс
// usage_key, поэтому две параллельные записи не пройдут обе.
func (r *PostgresRepository) RecordCouponUsage(ctx context.Context, usage model.CouponUsage, singleUse bool) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var usageLimit *int64
		err = tx.QueryRow(ctx,
			`SELECT usage_limit FROM coupons WHERE id = $1 FOR UPDATE`,
			usage.CouponID,
		).Scan(&usageLimit)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCouponNotFound
			}
			return fmt.Errorf("lock coupon for update: %w", err)
		}

		if usageLimit != nil {
			var count int64
			err = tx.QueryRow(ctx,
				`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1`,
				usage.CouponID,
			).Scan(&count)
			if err != nil {
				return fmt.Errorf("count coupon usage: %w", err)
			}
			if count >= *usageLimit {
				return ErrCouponUsageLimitReached
			}
		}

		var usageKey *string
		if singleUse {
			key := fmt.Sprintf("%d:%d", usage.CouponID, usage.UserID)
			usageKey = &key
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO coupon_usages (coupon_id, user_id, discount_amount, currency, usage_key)
			 VALUES ($1, $2, $3, $4, $5)`,
			usage.CouponID, usage.UserID, usage.DiscountAmount, usage.Currency, usageKey,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return ErrCouponAlreadyUsed
			}
			return fmt.Errorf("insert coupon usage: %w", err)
		}

		return tx.Commit(ctx)
	})
}

// ListPublicCoupons возвращает активные купоны, помеченные как публичные.
func (r *PostgresRepository) ListPublicCoupons(ctx context.Context) ([]model.Coupon, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, code, discount_type, discount_value, max_discount, active, expires_at, usage_limit, single_use_per_user, is_public, created_at
		 FROM coupons
		 WHERE active AND is_public
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("select public coupons: %w", err)
	}
	defer rows.Close()

	var res []model.Coupon
	for rows.Next() {
		var c model.Coupon
		var discountType string
		if err := rows.Scan(&c.ID, &c.Code, &discountType, &c.DiscountValue, &c.MaxDiscount,
			&c.Active, &c.ExpiresAt, &c.UsageLimit, &c.SingleUsePerUser, &c.IsPublic, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan coupon: %w", err)
		}
		c.DiscountType = model.DiscountType(discountType)
		res = append(res, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
