package fanout

import (
	"context"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/trigger"
)

// Open builds the emitter selected by fanout.emitter. The returned close
// function releases the emitter's resources.
func Open(ctx context.Context, cfg *config.Config, poster trigger.Poster) (Emitter, func(), error) {
	switch cfg.Fanout.Emitter {
	case "", "local":
		e := NewHTTPEmitter(poster)
		return e, func() { _ = e.Close() }, nil
	case "tasks":
		e, err := NewCloudTasksEmitter(ctx, cfg.Tasks.Project, cfg.Tasks.Location, cfg.Tasks.Queue, cfg.Tasks.ServiceAccount)
		if err != nil {
			return nil, nil, err
		}
		return e, func() {}, nil
	case "temporal":
		c, err := DialTemporal(cfg.Temporal)
		if err != nil {
			return nil, nil, err
		}
		return NewTemporalEmitter(c, cfg.Temporal.TaskQueue), c.Close, nil
	default:
		return nil, nil, eris.Errorf("fanout: unknown emitter %q", cfg.Fanout.Emitter)
	}
}

// DialTemporal connects to the configured Temporal frontend.
func DialTemporal(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "fanout: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// Credentials builds the credential source selected by fanout.credentials.
func Credentials(cfg config.FanoutConfig) trigger.Credentials {
	if cfg.Credentials == "idtoken" {
		return trigger.NewIDTokenCredentials()
	}
	return trigger.StaticCredentials(cfg.StaticToken)
}
