package healthcheck

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Report is the combined result of every checker.
type Report struct {
	Status string        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Service runs all checkers concurrently and folds their results.
type Service struct {
	checkers []Checker
}

func NewService(checkers ...Checker) *Service {
	filtered := make([]Checker, 0, len(checkers))
	for _, c := range checkers {
		if c != nil {
			filtered = append(filtered, c)
		}
	}
	return &Service{checkers: filtered}
}

// Check returns checker results in registration order. The overall status is
// the worst status seen, or unknown when there is nothing to check.
func (s *Service) Check(ctx context.Context, tenantID uuid.UUID) Report {
	if s == nil || len(s.checkers) == 0 {
		return Report{Status: StatusUnknown, Checks: []CheckResult{}}
	}
	parts := make([][]CheckResult, len(s.checkers))
	var wg sync.WaitGroup
	for i, c := range s.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			parts[i] = c.ListChecks(ctx, tenantID)
		}()
	}
	wg.Wait()

	report := Report{Status: StatusUnknown, Checks: []CheckResult{}}
	for _, items := range parts {
		for _, item := range items {
			report.Checks = append(report.Checks, item)
			if rank(item.Status) > rank(report.Status) {
				report.Status = item.Status
			}
		}
	}
	return report
}

func rank(status string) int {
	switch status {
	case StatusOK:
		return 1
	case StatusWarn:
		return 2
	case StatusError:
		return 3
	}
	return 0
}
