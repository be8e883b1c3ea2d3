// Package model содержит доменные сущности биллинг-сервиса.
package model

import "time"

// User представляет зарегистрированного пользователя сервиса анализа резюме.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	Credits      int64
	Role         string
	CreatedAt    time.Time
}

// Роли пользователей.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// AnonymousUser — значение user_id в метаданных сессии для неавторизованной оплаты.
const AnonymousUser = "anonymous"

// Bundle описывает покупаемый пакет кредитов. Цена хранится в центах.
type Bundle struct {
	ID       string
	Name     string
	Price    int64
	Credits  int64
	Currency string
}

// DiscountType описывает тип скидки купона.
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
)

// Coupon описывает промокод. Код всегда хранится в верхнем регистре.
type Coupon struct {
	ID               int64
	Code             string
	DiscountType     DiscountType
	DiscountValue    int64
	MaxDiscount      *int64
	Active           bool
	ExpiresAt        *time.Time
	UsageLimit       *int64
	SingleUsePerUser bool
	IsPublic         bool
	CreatedAt        time.Time
}

// CouponUsage описывает факт применения купона пользователем. Запись только добавляется.
type CouponUsage struct {
	CouponID       int64
	UserID         int64
	DiscountAmount int64
	Currency       string
	CreatedAt      time.Time
}

// Payment описывает завершённую оплату чекаут-сессии.
type Payment struct {
	SessionID   string
	EventID     string
	UserID      *int64
	BundleID    string
	Credits     int64
	AmountTotal int64
	Currency    string
	CouponCode  *string
	CreatedAt   time.Time
}

// TransactionType описывает тип движения кредитов в леджере.
type TransactionType string

const (
	TransactionPurchase        TransactionType = "purchase"
	TransactionConsumption     TransactionType = "analysis_consumption"
	TransactionAdminAdjustment TransactionType = "admin_adjustment"
	TransactionRefund          TransactionType = "refund"
)

// CreditTransaction описывает запись леджера кредитов со знаковой суммой.
type CreditTransaction struct {
	ID         int64
	UserID     int64
	Amount     int64
	Type       TransactionType
	PaymentID  *string
	AnalysisID *string
	CreatedAt  time.Time
}

// SecurityEventSeverity описывает серьёзность события безопасности.
type SecurityEventSeverity string

const (
	SeverityInfo     SecurityEventSeverity = "info"
	SeverityWarning  SecurityEventSeverity = "warning"
	SeverityCritical SecurityEventSeverity = "critical"
)

// SecurityLog описывает запись журнала безопасности. Запись только добавляется.
type SecurityLog struct {
	ID        int64
	EventType string
	Severity  SecurityEventSeverity
	IP        string
	UserID    *int64
	Details   string
	CreatedAt time.Time
}

// IPBlock описывает запись чёрного списка IP-адресов.
type IPBlock struct {
	IP        string
	Reason    string
	BlockedBy *int64
	BlockedAt time.Time
	ExpiresAt *time.Time
}

// Balance содержит текущий баланс кредитов пользователя.
type Balance struct {
	Credits int64 `json:"credits"`
}
