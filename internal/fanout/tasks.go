package fanout

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	cloudtasks "google.golang.org/api/cloudtasks/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/sells-group/lead-pipeline/internal/resilience"
	"github.com/sells-group/lead-pipeline/internal/trigger"
)

// CloudTasksEmitter creates HTTP tasks in a Cloud Tasks queue.
type CloudTasksEmitter struct {
	svc            *cloudtasks.Service
	parent         string
	serviceAccount string
}

// NewCloudTasksEmitter creates an emitter for the given queue. When
// serviceAccount is set, Cloud Tasks attaches an OIDC token minted for that
// account; otherwise the trigger token is sent as a bearer header.
func NewCloudTasksEmitter(ctx context.Context, project, location, queue, serviceAccount string, opts ...option.ClientOption) (*CloudTasksEmitter, error) {
	svc, err := cloudtasks.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "fanout: create cloud tasks service")
	}
	return &CloudTasksEmitter{
		svc:            svc,
		parent:         QueuePath(project, location, queue),
		serviceAccount: serviceAccount,
	}, nil
}

// QueuePath returns the fully qualified queue name.
func QueuePath(project, location, queue string) string {
	return fmt.Sprintf("projects/%s/locations/%s/queues/%s", project, location, queue)
}

// Emit implements Emitter.
func (e *CloudTasksEmitter) Emit(ctx context.Context, t Trigger) error {
	req := &cloudtasks.HttpRequest{
		Url:        t.Target,
		HttpMethod: "POST",
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       base64.StdEncoding.EncodeToString(t.Body),
	}
	switch {
	case e.serviceAccount != "":
		req.OidcToken = &cloudtasks.OidcToken{
			ServiceAccountEmail: e.serviceAccount,
			Audience:            trigger.Audience(t.Target),
		}
	case t.Token != "":
		req.Headers["Authorization"] = "Bearer " + t.Token
	}

	task := &cloudtasks.Task{
		ScheduleTime: t.ScheduleTime.UTC().Format(time.RFC3339Nano),
		HttpRequest:  req,
	}

	_, err := e.svc.Projects.Locations.Queues.Tasks.
		Create(e.parent, &cloudtasks.CreateTaskRequest{Task: task}).
		Context(ctx).
		Do()
	if err != nil {
		wrapped := eris.Wrapf(err, "fanout: create task for %s", t.Target)
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return resilience.WrapStatus(wrapped, gerr.Code)
		}
		return wrapped
	}
	return nil
}
