package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
	"github.com/Sufyane-M/cv-billing-system/internal/validation"
)

// IsIPBlocked проверяет IP по чёрному списку. Недоступность хранилища трактуется
// как "не заблокирован": это смягчение злоупотреблений, а не граница авторизации,
// и она не должна ронять легитимные запросы.
func (s *Service) IsIPBlocked(ctx context.Context, ip string) bool {
	if !validation.IsValidIPv4(ip) {
		return false
	}

	blocked, err := s.repo.IsIPBlocked(ctx, ip)
	if err != nil {
		s.logger.Warn("blocklist check failed, treating as not blocked",
			zap.String("ip", ip), zap.Error(err))
		return false
	}

	return blocked
}

// BlockIP добавляет IP-адрес в чёрный список. Формат адреса проверяется
// до записи, чтобы в списке не появлялись некорректные записи.
func (s *Service) BlockIP(ctx context.Context, ip, reason string, actorID int64, ttl time.Duration) error {
	if !validation.IsValidIPv4(ip) {
		return ErrInvalidIP
	}

	block := model.IPBlock{
		IP:        ip,
		Reason:    reason,
		BlockedBy: &actorID,
	}
	if ttl > 0 {
		expires := time.Now().Add(ttl)
		block.ExpiresAt = &expires
	}

	if err := s.repo.BlockIP(ctx, block); err != nil {
		return err
	}

	s.LogSecurityEvent(ctx, model.SecurityLog{
		EventType: "ip_blocked",
		Severity:  model.SeverityWarning,
		IP:        ip,
		UserID:    &actorID,
		Details:   reason,
	})

	return nil
}

// UnblockIP удаляет IP-адрес из чёрного списка.
func (s *Service) UnblockIP(ctx context.Context, ip string, actorID int64) error {
	if !validation.IsValidIPv4(ip) {
		return ErrInvalidIP
	}

	if err := s.repo.UnblockIP(ctx, ip); err != nil {
		return err
	}

	s.LogSecurityEvent(ctx, model.SecurityLog{
		EventType: "ip_unblocked",
		Severity:  model.SeverityInfo,
		IP:        ip,
		UserID:    &actorID,
	})

	return nil
}

// LogSecurityEvent добавляет запись в журнал безопасности. Ошибка записи
// логируется и не распространяется: журнал — вспомогательный слой.
func (s *Service) LogSecurityEvent(ctx context.Context, entry model.SecurityLog) {
	if err := s.repo.AddSecurityLog(ctx, entry); err != nil {
		s.logger.Warn("security log write failed",
			zap.String("event_type", entry.EventType), zap.Error(err))
	}
}

// GetSecurityLogs возвращает последние записи журнала безопасности.
func (s *Service) GetSecurityLogs(ctx context.Context, limit int) ([]model.SecurityLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.GetSecurityLogs(ctx, limit)
}
