package fanout

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/trigger"
)

// DeliveryWorkflowName is the registered name of DeliveryWorkflow.
const DeliveryWorkflowName = "TriggerDelivery"

// Delivery is the input of DeliveryWorkflow.
type Delivery struct {
	Target string          `json:"target"`
	Body   json.RawMessage `json:"body"`
}

// workflowStarter is the part of client.Client the emitter uses.
type workflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow any, args ...any) (client.WorkflowRun, error)
}

// TemporalEmitter starts one delayed DeliveryWorkflow per trigger.
type TemporalEmitter struct {
	client    workflowStarter
	taskQueue string
}

// NewTemporalEmitter creates a TemporalEmitter on taskQueue.
func NewTemporalEmitter(c client.Client, taskQueue string) *TemporalEmitter {
	return &TemporalEmitter{client: c, taskQueue: taskQueue}
}

// Emit implements Emitter. Every trigger carries a fresh id, so
// resubmitting the same payload starts another delivery.
func (e *TemporalEmitter) Emit(ctx context.Context, t Trigger) error {
	opts := client.StartWorkflowOptions{
		ID:         "trigger-" + t.ID,
		TaskQueue:  e.taskQueue,
		StartDelay: t.Offset,
	}
	run, err := e.client.ExecuteWorkflow(ctx, opts, DeliveryWorkflowName, Delivery{Target: t.Target, Body: t.Body})
	if err != nil {
		return eris.Wrapf(err, "fanout: start delivery for %s", t.Target)
	}
	zap.L().Debug("fanout: delivery workflow started",
		zap.String("workflow_id", run.GetID()),
		zap.Duration("delay", t.Offset),
	)
	return nil
}

// DeliveryWorkflow posts the delivery body once its start delay elapses.
func DeliveryWorkflow(ctx workflow.Context, d Delivery) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	})
	var a *Deliverer
	return workflow.ExecuteActivity(ctx, a.Deliver, d).Get(ctx, nil)
}

// Deliverer is the activity that performs the HTTP call. The poster mints
// a fresh credential at delivery time, since tokens captured at scheduling
// time may expire before a long delay elapses.
type Deliverer struct {
	poster trigger.Poster
}

// NewDeliverer creates a Deliverer.
func NewDeliverer(poster trigger.Poster) *Deliverer {
	return &Deliverer{poster: poster}
}

// Deliver posts d.Body to d.Target.
func (d *Deliverer) Deliver(ctx context.Context, in Delivery) error {
	return d.poster.Post(ctx, in.Target, in.Body)
}

// NewTemporalWorker registers the delivery workflow and activity on
// taskQueue.
func NewTemporalWorker(c client.Client, taskQueue string, d *Deliverer) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(DeliveryWorkflow, workflow.RegisterOptions{Name: DeliveryWorkflowName})
	w.RegisterActivity(d)
	return w
}
