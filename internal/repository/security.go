package repository

import (
	"context"
	"fmt"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

// IsIPBlocked проверяет, заблокирован ли IP-адрес. Истёкшие блокировки не учитываются.
func (r *PostgresRepository) IsIPBlocked(ctx context.Context, ip string) (bool, error) {
	var blocked bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM ip_blocklist
		     WHERE ip = $1 AND (expires_at IS NULL OR expires_at > now())
		 )`,
		ip,
	).Scan(&blocked)
	if err != nil {
		return false, fmt.Errorf("check blocklist: %w", err)
	}
	return blocked, nil
}

// BlockIP добавляет IP-адрес в чёрный список. Повторная блокировка обновляет причину и срок.
func (r *PostgresRepository) BlockIP(ctx context.Context, block model.IPBlock) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ip_blocklist (ip, reason, blocked_by, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (ip) DO UPDATE
		 SET reason = EXCLUDED.reason, blocked_by = EXCLUDED.blocked_by,
		     blocked_at = now(), expires_at = EXCLUDED.expires_at`,
		block.IP, block.Reason, block.BlockedBy, block.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("block ip: %w", err)
	}
	return nil
}

// UnblockIP удаляет IP-адрес из чёрного списка.
func (r *PostgresRepository) UnblockIP(ctx context.Context, ip string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM ip_blocklist WHERE ip = $1`,
		ip,
	)
	if err != nil {
		return fmt.Errorf("unblock ip: %w", err)
	}
	return nil
}

// DeleteExpiredBlocks удаляет блокировки с истёкшим сроком и возвращает их количество.
func (r *PostgresRepository) DeleteExpiredBlocks(ctx context.Context) (int64, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`DELETE FROM ip_blocklist WHERE expires_at IS NOT NULL AND expires_at <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired blocks: %w", err)
	}
	return cmdTag.RowsAffected(), nil
}

// AddSecurityLog добавляет запись в журнал безопасности.
func (r *PostgresRepository) AddSecurityLog(ctx context.Context, entry model.SecurityLog) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO security_logs (event_type, severity, ip, user_id, details)
		 VALUES ($1, $2, $3, $4, $5)`,
		entry.EventType, string(entry.Severity), entry.IP, entry.UserID, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("insert security log: %w", err)
	}
	return nil
}

// GetSecurityLogs возвращает последние записи журнала безопасности.
func (r *PostgresRepository) GetSecurityLogs(ctx context.Context, limit int) ([]model.SecurityLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_type, severity, ip, user_id, details, created_at
		 FROM security_logs
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select security logs: %w", err)
	}
	defer rows.Close()

	var res []model.SecurityLog
	for rows.Next() {
		var entry model.SecurityLog
		var severity string
		if err := rows.Scan(&entry.ID, &entry.EventType, &severity, &entry.IP, &entry.UserID, &entry.Details, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan security log: %w", err)
		}
		entry.Severity = model.SecurityEventSeverity(severity)
		res = append(res, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
