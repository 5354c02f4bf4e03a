package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// SimulatedProcessor stands in for real job execution: it waits for its
// configured duration and reports success. Deployments plug their own
// Processor into the service; this one backs development and tests.
type SimulatedProcessor struct {
	Delay time.Duration
}

func (p *SimulatedProcessor) Process(ctx context.Context, job *domain.Job) (map[string]any, error) {
	select {
	case <-time.After(p.Delay):
		return map[string]any{
			"processed": true,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("job execution canceled: %w", ctx.Err())
	}
}
