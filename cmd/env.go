package main

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/crawl"
	"github.com/sells-group/lead-pipeline/internal/db"
	"github.com/sells-group/lead-pipeline/internal/discovery"
	"github.com/sells-group/lead-pipeline/internal/enrich"
	"github.com/sells-group/lead-pipeline/internal/fanout"
	"github.com/sells-group/lead-pipeline/internal/mail"
	"github.com/sells-group/lead-pipeline/internal/monitoring"
	"github.com/sells-group/lead-pipeline/internal/outreach"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/score"
	"github.com/sells-group/lead-pipeline/internal/server"
	"github.com/sells-group/lead-pipeline/internal/session"
	"github.com/sells-group/lead-pipeline/internal/trigger"
	anthropicpkg "github.com/sells-group/lead-pipeline/pkg/anthropic"
	"github.com/sells-group/lead-pipeline/pkg/google"
	openaipkg "github.com/sells-group/lead-pipeline/pkg/openai"
)

const geocodeCacheTTL = 24 * time.Hour

// stageEnv holds the clients and stages shared by the commands.
type stageEnv struct {
	Pool     *pgxpool.Pool // may be nil
	Store    session.Store
	Queue    queue.Log // nil unless enrichment continues through the queue
	Poster   *trigger.Client
	Google   google.Client
	Driver   *enrich.Driver
	Discover *discovery.Stage

	// Set by initStages.
	Score    *score.Stage
	Outreach *outreach.Stage
	Reports  *mail.Reporter // nil when mail is not configured

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *stageEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

func (e *stageEnv) onClose(fn func()) {
	e.closers = append(e.closers, fn)
}

// stageURL returns the public URL of a stage endpoint.
func stageURL(path string) string {
	return strings.TrimRight(cfg.Server.PublicURL, "/") + path
}

// needsDatabase reports whether any configured backend lives in Postgres.
func needsDatabase(c *config.Config) bool {
	return c.Session.Driver == "postgres" || c.Queue.Driver == "postgres" || c.Discovery.AuditCells
}

// initCore opens the session store and continuation backend and builds
// the discover stage and the enrichment driver. Callers should defer
// env.Close().
func initCore(ctx context.Context) (*stageEnv, error) {
	env := &stageEnv{}
	pool, err := openBackends(ctx, env)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Poster = trigger.NewClient(trigger.WithCredentials(fanout.Credentials(cfg.Fanout)))
	env.Google = google.NewClient(cfg.Google.Key,
		google.WithBaseURL(cfg.Google.PlacesBaseURL),
		google.WithMapsBaseURL(cfg.Google.MapsBaseURL),
		google.WithHTTPClient(&http.Client{Timeout: config.Seconds(cfg.Google.TimeoutSecs)}),
	)

	next, err := initContinuer(ctx, env, pool)
	if err != nil {
		env.Close()
		return nil, err
	}

	env.Driver = enrich.NewDriver(env.Google, env.Store, next,
		enrich.NewPostCompleter(env.Poster, stageURL(server.PathBatchScore)),
		enrich.WithBatchSize(cfg.Enrich.BatchSize),
		enrich.WithExcerptChars(cfg.Enrich.ExcerptChars),
		enrich.WithConcurrency(cfg.Enrich.Concurrency),
		enrich.WithConflictRetries(cfg.Session.ConflictRetries),
	)

	planner, err := initPlanner(ctx, env.Google, pool)
	if err != nil {
		env.Close()
		return nil, err
	}

	categories := cfg.Discovery.Categories
	if cfg.Discovery.CategoriesFile != "" {
		categories, err = discovery.LoadCategories(cfg.Discovery.CategoriesFile)
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "load categories")
		}
	}

	env.Discover = discovery.NewStage(planner,
		discovery.NewCachedGeocoder(env.Google, geocodeCacheTTL),
		env.Store, next, cfg.Session.Prefix, categories,
	)

	return env, nil
}

// openBackends opens the database pool when a backend needs it and the
// session store. The returned pool is nil when no database is configured.
func openBackends(ctx context.Context, env *stageEnv) (db.Pool, error) {
	var pool db.Pool
	if needsDatabase(cfg) {
		p, err := db.Open(ctx, cfg.Database.URL, db.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, eris.Wrap(err, "open database")
		}
		env.Pool = p
		env.onClose(p.Close)
		pool = p
	}

	st, err := session.Open(ctx, cfg.Session, pool)
	if err != nil {
		return nil, eris.Wrap(err, "open session store")
	}
	env.Store = st
	if c, ok := st.(io.Closer); ok {
		env.onClose(func() { _ = c.Close() })
	}
	return pool, nil
}

// initContinuer selects how enrichment hands the tail of a batch onward.
func initContinuer(ctx context.Context, env *stageEnv, pool db.Pool) (enrich.Continuer, error) {
	switch cfg.Enrich.Continuation {
	case "http":
		return enrich.NewHTTPContinuer(env.Poster, stageURL(server.PathEnrich)), nil
	case "", "queue":
		l, err := queue.Open(ctx, cfg.Queue, pool)
		if err != nil {
			return nil, eris.Wrap(err, "open continuation queue")
		}
		env.Queue = l
		env.onClose(func() { _ = l.Close() })
		return enrich.NewQueueContinuer(l), nil
	default:
		return nil, eris.Errorf("unknown enrich continuation %q", cfg.Enrich.Continuation)
	}
}

func initPlanner(ctx context.Context, search discovery.Searcher, pool db.Pool) (*discovery.Planner, error) {
	opts := []discovery.Option{
		discovery.WithCellSize(cfg.Discovery.CellMeters),
		discovery.WithCooldown(config.Seconds(cfg.Discovery.CooldownSecs)),
		discovery.WithRateLimit(cfg.Google.RateLimit),
	}
	if cfg.Discovery.AuditCells {
		rec := discovery.NewPostgresRecorder(pool)
		if err := rec.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate cell audit")
		}
		opts = append(opts, discovery.WithRecorder(rec))
	}
	return discovery.NewPlanner(search, opts...), nil
}

// initStages adds the fan-out schedulers, the LLM clients, the mailer and
// the scoring and outreach stages to env.
func initStages(ctx context.Context, env *stageEnv) error {
	emitter, closeEmitter, err := fanout.Open(ctx, cfg, env.Poster)
	if err != nil {
		return eris.Wrap(err, "open fanout emitter")
	}
	env.onClose(closeEmitter)

	creds := fanout.Credentials(cfg.Fanout)
	scoreSched := fanout.NewScheduler(emitter, creds, config.Seconds(cfg.Fanout.ScoreStepSecs))
	lettersSched := fanout.NewScheduler(emitter, creds, config.Seconds(cfg.Fanout.LettersStepSecs))
	sendSched := fanout.NewScheduler(emitter, creds, config.Seconds(cfg.Fanout.SendStepSecs))

	var reports score.ReportMailer
	var deliverer outreach.Deliverer
	if err := cfg.Validate("mail"); err != nil {
		zap.L().Warn("mail not configured, reports and letters will not be sent", zap.Error(err))
	} else {
		mailer, err := initMailer(ctx)
		if err != nil {
			return err
		}
		env.Reports = newReporter(mailer)
		reports = env.Reports
		deliverer = mailer
	}

	crawler := crawl.New(crawl.OptionsFromConfig(cfg.Crawl))

	var openaiOpts []openaipkg.Option
	if cfg.OpenAI.BaseURL != "" {
		openaiOpts = append(openaiOpts, openaipkg.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	openaiClient := openaipkg.NewClient(cfg.OpenAI.Key, cfg.OpenAI.Model, openaiOpts...)
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	env.Score = score.NewStage(env.Store, openaiClient, crawler, scoreSched, reports, env.Poster,
		score.Targets{
			Score:   stageURL(server.PathScore),
			Letters: stageURL(server.PathBatchLetters),
		},
		score.Options{
			Model:           cfg.OpenAI.Model,
			ReportRecipient: cfg.Outreach.ReportRecipient,
			ReportDelay:     config.Seconds(cfg.Outreach.ReportDelaySecs),
			HandoffDelay:    config.Seconds(cfg.Outreach.HandoffDelaySecs),
			ConflictRetries: cfg.Session.ConflictRetries,
		},
	)

	env.Outreach = outreach.NewStage(env.Store, anthropicClient, lettersSched, sendSched, deliverer,
		outreach.Targets{
			Letters: stageURL(server.PathLetters),
			Send:    stageURL(server.PathSend),
		},
		outreach.Options{
			Model:           cfg.Anthropic.Model,
			MaxTokens:       cfg.Anthropic.MaxTokens,
			Threshold:       cfg.Outreach.Threshold,
			From:            cfg.Mail.From,
			FromName:        cfg.Mail.FromName,
			ConflictRetries: cfg.Session.ConflictRetries,
		},
	)
	return nil
}

// initMailer opens the configured mail transport.
func initMailer(ctx context.Context) (*mail.Mailer, error) {
	password, err := cfg.Mail.ResolvePassword()
	if err != nil {
		return nil, err
	}
	mailer, err := mail.Open(ctx, cfg.Mail, password)
	if err != nil {
		return nil, eris.Wrap(err, "open mailer")
	}
	return mailer, nil
}

func newReporter(m *mail.Mailer) *mail.Reporter {
	return mail.NewReporter(m, cfg.Mail.From, cfg.Mail.FromName, cfg.Outreach.ReportSubject, cfg.Outreach.AttachSheet)
}

// startMonitor runs the queue alert checker when a webhook is configured.
func startMonitor(ctx context.Context, env *stageEnv) {
	if cfg.Monitoring.WebhookURL == "" || env.Queue == nil {
		return
	}
	counter, ok := env.Queue.(queue.Counter)
	if !ok {
		return
	}
	checker := monitoring.NewChecker(monitoring.NewCollector(counter), monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
	go checker.Run(ctx)
}
