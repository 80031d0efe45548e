package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/stanstork/uxlens-api/internal/temporal"
)

type Activities struct {
	Registry          *temporal.Registry
	HeartbeatInterval time.Duration
}

func New(registry *temporal.Registry) *Activities {
	return &Activities{Registry: registry, HeartbeatInterval: temporal.HeartbeatInterval}
}

// RunJobActivity invokes the registered handler and heartbeats until it returns.
func (a *Activities) RunJobActivity(ctx context.Context, params temporal.JobParams) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Running job", "kind", params.Kind, "id", params.ID)

	h, ok := a.Registry.Get(params.Kind)
	if !ok {
		return fmt.Errorf("no handler registered for job kind %s", params.Kind)
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("job handler panicked: %v", r)
			}
		}()
		done <- h(ctx, params.ID)
	}()

	ticker := time.NewTicker(a.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil {
				logger.Error("Job handler failed", "kind", params.Kind, "id", params.ID, "error", err)
			}
			return err
		case <-ticker.C:
			activity.RecordHeartbeat(ctx, params.ID)
		}
	}
}
