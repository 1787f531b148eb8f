package session

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// RunPeriodically runs the orchestrator once immediately, then again
// every periodHours, until ctx is cancelled (§6's -p flag). A tick that
// finds a previous run still in flight is skipped by RunOnce's own
// re-entrancy guard, not by the scheduler.
func (o *Orchestrator) RunPeriodically(ctx context.Context, periodHours int) error {
	if periodHours <= 0 {
		_, err := o.RunOnce(ctx)
		return err
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %dh", periodHours)

	_, err := c.AddFunc(spec, func() {
		if _, err := o.RunOnce(ctx); err != nil {
			o.logger.Error("scheduled session failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule periodic run %q: %w", spec, err)
	}

	if _, err := o.RunOnce(ctx); err != nil {
		o.logger.Error("initial session failed", "error", err)
	}

	c.Start()
	defer c.Stop()

	<-ctx.Done()
	return ctx.Err()
}
