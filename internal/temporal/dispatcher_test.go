package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"github.com/stanstork/uxlens-api/internal/jobs"
)

type fakeStarter struct {
	started    []client.StartWorkflowOptions
	params     []JobParams
	cancelled  []string
	cancelErrs map[string]error
}

func (f *fakeStarter) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.started = append(f.started, opts)
	f.params = append(f.params, args[0].(JobParams))
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return(opts.ID)
	run.On("GetRunID").Return("run-1")
	return run, nil
}

func (f *fakeStarter) CancelWorkflow(_ context.Context, workflowID, _ string) error {
	f.cancelled = append(f.cancelled, workflowID)
	return f.cancelErrs[workflowID]
}

func noopHandler(context.Context, string) error { return nil }

func TestDispatcherStartsWorkflowPerKindAndID(t *testing.T) {
	starter := &fakeStarter{}
	d := NewDispatcher(starter, NewRegistry(), zerolog.Nop())
	d.Register(jobs.KindReportGenerate, noopHandler)

	require.NoError(t, d.Dispatch(context.Background(), jobs.Job{Kind: jobs.KindReportGenerate, ID: "r1"}))

	require.Len(t, starter.started, 1)
	assert.Equal(t, "uxlens-report-generate-r1", starter.started[0].ID)
	assert.Equal(t, TaskQueueName, starter.started[0].TaskQueue)
	assert.Equal(t, JobParams{Kind: jobs.KindReportGenerate, ID: "r1"}, starter.params[0])
}

func TestDispatcherRejectsUnknownKind(t *testing.T) {
	d := NewDispatcher(&fakeStarter{}, NewRegistry(), zerolog.Nop())
	err := d.Dispatch(context.Background(), jobs.Job{Kind: jobs.KindAnalysisRun, ID: "a1"})
	assert.True(t, errors.Is(err, jobs.ErrUnknownKind))
}

func TestDispatcherCancelIgnoresMissingWorkflows(t *testing.T) {
	starter := &fakeStarter{cancelErrs: map[string]error{
		WorkflowID(jobs.KindAnalysisRun, "a1"): serviceerror.NewNotFound("workflow not found"),
	}}
	d := NewDispatcher(starter, NewRegistry(), zerolog.Nop())
	d.Register(jobs.KindAnalysisRun, noopHandler)
	d.Register(jobs.KindAnalysisExecute, noopHandler)

	require.NoError(t, d.Cancel(context.Background(), "a1"))
	assert.ElementsMatch(t, []string{
		"uxlens-analysis-run-a1",
		"uxlens-analysis-execute-a1",
	}, starter.cancelled)
}

func TestDispatcherCancelSurfacesOtherErrors(t *testing.T) {
	starter := &fakeStarter{cancelErrs: map[string]error{
		WorkflowID(jobs.KindReportGenerate, "r1"): errors.New("unavailable"),
	}}
	d := NewDispatcher(starter, NewRegistry(), zerolog.Nop())
	d.Register(jobs.KindReportGenerate, noopHandler)

	assert.Error(t, d.Cancel(context.Background(), "r1"))
}
