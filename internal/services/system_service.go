package services

import (
	"context"
	"errors"
	"time"

	domain "github.com/pawmart/api/internal/domain"
	"github.com/pawmart/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// SystemServiceDeps bundles collaborators required to construct a system service.
// OptionalChecks names probes that are reported but never change the overall status.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Clock            func() time.Time
	Build            BuildInfo
	OptionalChecks   []string
}

type systemService struct {
	probes   repositories.HealthRepository
	now      func() time.Time
	build    BuildInfo
	optional map[string]struct{}
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the service behind the health endpoints.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	svc := &systemService{
		probes:   deps.HealthRepository,
		now:      func() time.Time { return clock().UTC() },
		build:    deps.Build,
		optional: make(map[string]struct{}, len(deps.OptionalChecks)),
	}
	if svc.build.StartedAt.IsZero() {
		svc.build.StartedAt = svc.now()
	}
	for _, name := range deps.OptionalChecks {
		if name != "" {
			svc.optional[name] = struct{}{}
		}
	}
	return svc, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.probes.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	now := s.now()
	s.build.stamp(&report, now)
	if report.Checks == nil {
		report.Checks = map[string]domain.SystemHealthCheck{}
	}
	if report.Status == "" || len(s.optional) > 0 {
		report.Status = s.overallStatus(report.Checks)
	}
	return report, nil
}

// stamp fills release metadata the probes left blank.
func (b BuildInfo) stamp(report *SystemHealthReport, now time.Time) {
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = now
	}
	report.GeneratedAt = report.GeneratedAt.UTC()
	report.Version = chooseFirstNonEmpty(report.Version, b.Version)
	report.CommitSHA = chooseFirstNonEmpty(report.CommitSHA, b.CommitSHA)
	report.Environment = chooseFirstNonEmpty(report.Environment, b.Environment)
	if report.Uptime <= 0 && !b.StartedAt.IsZero() {
		report.Uptime = now.Sub(b.StartedAt)
	}
}

func (s *systemService) overallStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	required := make(map[string]domain.SystemHealthCheck, len(checks))
	for name, check := range checks {
		if _, skip := s.optional[name]; !skip {
			required[name] = check
		}
	}
	return deriveStatus(required)
}

func deriveStatus(checks map[string]domain.SystemHealthCheck) domain.HealthStatus {
	worst := domain.HealthStatusOK
	for _, check := range checks {
		switch check.Status {
		case domain.HealthStatusError:
			return domain.HealthStatusError
		case domain.HealthStatusOK, "":
		default:
			worst = domain.HealthStatusDegraded
		}
	}
	return worst
}
