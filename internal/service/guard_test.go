package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sufyane-M/cv-billing-system/internal/model"
)

func TestIsIPBlocked(t *testing.T) {
	tests := []struct {
		name    string
		ip      string
		blocked bool
		repoErr error
		want    bool
	}{
		{name: "blocked ip", ip: "203.0.113.7", blocked: true, want: true},
		{name: "clean ip", ip: "203.0.113.7", blocked: false, want: false},
		{name: "invalid format", ip: "999.1.1.1", blocked: true, want: false},
		{name: "storage failure is fail open", ip: "203.0.113.7", blocked: true, repoErr: errors.New("db down"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{ipBlocked: tt.blocked, ipBlockedErr: tt.repoErr}
			svc := newTestService(repo, &stubStripe{})

			if got := svc.IsIPBlocked(context.Background(), tt.ip); got != tt.want {
				t.Fatalf("IsIPBlocked(%q) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}

func TestBlockIP_InvalidFormat(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubStripe{})

	err := svc.BlockIP(context.Background(), "not-an-ip", "abuse", 1, 0)
	if !errors.Is(err, ErrInvalidIP) {
		t.Fatalf("expected ErrInvalidIP, got %v", err)
	}
	if len(repo.blockedIPs) != 0 {
		t.Fatalf("invalid ip must not reach storage")
	}
}

func TestBlockIP_RecordsBlockAndLog(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubStripe{})

	if err := svc.BlockIP(context.Background(), "203.0.113.7", "webhook abuse", 5, time.Hour); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.blockedIPs) != 1 {
		t.Fatalf("expected one block record, got %d", len(repo.blockedIPs))
	}
	block := repo.blockedIPs[0]
	if block.IP != "203.0.113.7" || block.Reason != "webhook abuse" {
		t.Fatalf("unexpected block record: %+v", block)
	}
	if block.ExpiresAt == nil {
		t.Fatalf("ttl must set expiry")
	}

	if len(repo.securityLogs) != 1 || repo.securityLogs[0].EventType != "ip_blocked" {
		t.Fatalf("expected ip_blocked in security log, got %+v", repo.securityLogs)
	}
}

func TestBlockIP_NoTTLMeansPermanent(t *testing.T) {
	repo := &stubRepo{}
	svc := newTestService(repo, &stubStripe{})

	if err := svc.BlockIP(context.Background(), "203.0.113.7", "abuse", 5, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.blockedIPs[0].ExpiresAt != nil {
		t.Fatalf("zero ttl must mean permanent block")
	}
}

func TestGetSecurityLogs_LimitClamped(t *testing.T) {
	repo := &stubRepo{getLogs: []model.SecurityLog{{EventType: "ip_blocked"}}}
	svc := newTestService(repo, &stubStripe{})

	logs, err := svc.GetSecurityLogs(context.Background(), -1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one entry, got %d", len(logs))
	}
}
