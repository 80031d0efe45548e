package temporal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/stanstork/uxlens-api/internal/jobs"
)

// Registry maps job kinds to handlers. The dispatcher fills it and the worker's
// activity reads it, so both must share one instance in-process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[jobs.Kind]jobs.Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[jobs.Kind]jobs.Handler)}
}

func (r *Registry) Set(kind jobs.Kind, h jobs.Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Registry) Get(kind jobs.Kind) (jobs.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

func (r *Registry) Kinds() []jobs.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]jobs.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// WorkflowStarter is the subset of client.Client the dispatcher needs.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	CancelWorkflow(ctx context.Context, workflowID string, runID string) error
}

// Dispatcher runs jobs as Temporal workflows. It implements jobs.Dispatcher.
type Dispatcher struct {
	client   WorkflowStarter
	registry *Registry
	logger   zerolog.Logger
}

func NewDispatcher(c WorkflowStarter, registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		client:   c,
		registry: registry,
		logger:   logger.With().Str("component", "temporal_dispatcher").Logger(),
	}
}

// Registry returns the handlers shared with the job activity.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) Register(kind jobs.Kind, h jobs.Handler) {
	d.registry.Set(kind, h)
}

func (d *Dispatcher) Dispatch(ctx context.Context, job jobs.Job) error {
	if _, ok := d.registry.Get(job.Kind); !ok {
		return fmt.Errorf("%w: %s", jobs.ErrUnknownKind, job.Kind)
	}
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(job.Kind, job.ID),
		TaskQueue: TaskQueueName,
	}
	run, err := d.client.ExecuteWorkflow(ctx, opts, JobWorkflowName, JobParams{Kind: job.Kind, ID: job.ID})
	if err != nil {
		return fmt.Errorf("start workflow for %s: %w", job, err)
	}
	d.logger.Debug().Str("workflow_id", run.GetID()).Str("run_id", run.GetRunID()).Msg("job workflow started")
	return nil
}

func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	for _, kind := range d.registry.Kinds() {
		err := d.client.CancelWorkflow(ctx, WorkflowID(kind, id), "")
		if err == nil {
			continue
		}
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			continue
		}
		return fmt.Errorf("cancel workflow %s: %w", WorkflowID(kind, id), err)
	}
	return nil
}

// Shutdown is a no-op; the Temporal client and worker are closed by their owner.
func (d *Dispatcher) Shutdown(context.Context) error {
	return nil
}
