package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/pawmart/api/internal/domain"
)

type stubHealthRepository struct {
	report domain.SystemHealthReport
	err    error
	calls  int
}

func (s *stubHealthRepository) Collect(context.Context) (domain.SystemHealthReport, error) {
	s.calls++
	return s.report, s.err
}

func TestSystemServiceHealthReportFillsBuildInfo(t *testing.T) {
	started := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	now := started.Add(90 * time.Minute)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Checks: map[string]domain.SystemHealthCheck{
			"mongo":  {Status: domain.HealthStatusOK},
			"pubsub": {Status: domain.HealthStatusDegraded},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		Clock:            fixedClock(now),
		Build:            BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "1.4.0" || report.CommitSHA != "abc123" || report.Environment != "staging" {
		t.Fatalf("unexpected build info %+v", report)
	}
	if report.Uptime != 90*time.Minute {
		t.Fatalf("expected 90m uptime, got %s", report.Uptime)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if !report.GeneratedAt.Equal(now) {
		t.Fatalf("expected generated at %s, got %s", now, report.GeneratedAt)
	}
}

func TestSystemServiceHealthReportKeepsRepositoryValues(t *testing.T) {
	generated := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status:      domain.HealthStatusError,
		Version:     "2.0.0",
		Uptime:      time.Hour,
		GeneratedAt: generated,
	}}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo, Build: BuildInfo{Version: "1.0.0"}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Version != "2.0.0" || report.Uptime != time.Hour || report.Status != domain.HealthStatusError {
		t.Fatalf("repository values overwritten: %+v", report)
	}
	if report.Checks == nil {
		t.Fatal("expected non-nil checks map")
	}
}

func TestSystemServiceHealthReportPropagatesErrors(t *testing.T) {
	repo := &stubHealthRepository{err: errors.New("boom")}
	svc, err := NewSystemService(SystemServiceDeps{HealthRepository: repo})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.HealthReport(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if repo.calls != 1 {
		t.Fatalf("expected one collect call, got %d", repo.calls)
	}
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error without health repository")
	}
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]domain.SystemHealthCheck
		want   domain.HealthStatus
	}{
		{name: "empty", want: domain.HealthStatusOK},
		{name: "all ok", checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusOK}}, want: domain.HealthStatusOK},
		{name: "error wins", checks: map[string]domain.SystemHealthCheck{"a": {Status: domain.HealthStatusDegraded}, "b": {Status: domain.HealthStatusError}}, want: domain.HealthStatusError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := deriveStatus(tc.checks); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSystemServiceOptionalChecksDoNotFailReadiness(t *testing.T) {
	repo := &stubHealthRepository{report: domain.SystemHealthReport{
		Status: domain.HealthStatusError,
		Checks: map[string]domain.SystemHealthCheck{
			"mongo":               {Status: domain.HealthStatusOK},
			"pubsub:order-events": {Status: domain.HealthStatusError, Error: "topic missing"},
		},
	}}
	svc, err := NewSystemService(SystemServiceDeps{
		HealthRepository: repo,
		OptionalChecks:   []string{"pubsub:order-events"},
	})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	report, err := svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected optional failure to be ignored, got %s", report.Status)
	}
	if report.Checks["pubsub:order-events"].Error != "topic missing" {
		t.Fatalf("expected optional check to stay visible, got %+v", report.Checks)
	}

	repo.report.Checks["mongo"] = domain.SystemHealthCheck{Status: domain.HealthStatusError}
	report, err = svc.HealthReport(context.Background())
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected required failure to surface, got %s", report.Status)
	}
}
