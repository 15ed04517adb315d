package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/config"
	"github.com/sells-group/lead-pipeline/internal/server"
	"github.com/sells-group/lead-pipeline/internal/session"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "discover", "worker", "temporal-worker", "session"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "leadgen", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.Contains(t, rootCmd.Long, "LEADGEN_")
	assert.Equal(t, version, rootCmd.Version)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("worker")
	require.NotNil(t, flag)
	assert.Equal(t, "true", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("drain"))
}

func TestDiscoverCommand_Flags(t *testing.T) {
	for _, name := range []string{"location", "radius", "category"} {
		assert.NotNil(t, discoverCmd.Flags().Lookup(name), "discover should have --%s flag", name)
	}
	assert.Equal(t, "5000", discoverCmd.Flags().Lookup("radius").DefValue)
}

func TestSessionCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range sessionCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"show", "analysis", "report"} {
		assert.True(t, names[name], "session should have subcommand %q", name)
	}
}

// withConfig swaps the global config for the duration of a test.
func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func memoryConfig() *config.Config {
	return &config.Config{
		Session:   config.SessionConfig{Driver: "memory", Prefix: "TEST", ConflictRetries: 3},
		Enrich:    config.EnrichConfig{BatchSize: 40, ExcerptChars: 200, Concurrency: 4, Continuation: "http"},
		Discovery: config.DiscoveryConfig{CellMeters: 2000, CooldownSecs: 5, Categories: []string{"Law Firms"}},
		Fanout:    config.FanoutConfig{Emitter: "local", ScoreStepSecs: 30, LettersStepSecs: 60, SendStepSecs: 15},
		Crawl:     config.CrawlConfig{TimeoutSecs: 5},
		OpenAI:    config.OpenAIConfig{Model: "gpt-4o-mini"},
		Anthropic: config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929", MaxTokens: 2048},
		Outreach:  config.OutreachConfig{Threshold: 50, ReportDelaySecs: 45, HandoffDelaySecs: 30, ReportSubject: "Analysis"},
		Server:    config.ServerConfig{Port: 8080, PublicURL: "http://stages.test/", AllowedOrigins: []string{"*"}},
	}
}

func TestStageURL(t *testing.T) {
	withConfig(t, memoryConfig())
	assert.Equal(t, "http://stages.test/batch/score", stageURL(server.PathBatchScore))
}

func TestNeedsDatabase(t *testing.T) {
	c := memoryConfig()
	assert.False(t, needsDatabase(c))

	c.Queue.Driver = "postgres"
	assert.True(t, needsDatabase(c))

	c = memoryConfig()
	c.Discovery.AuditCells = true
	assert.True(t, needsDatabase(c))
}

func TestInitEnv_MemoryWiring(t *testing.T) {
	withConfig(t, memoryConfig())
	ctx := context.Background()

	env, err := initCore(ctx)
	require.NoError(t, err)
	defer env.Close()
	require.NoError(t, initStages(ctx, env))

	assert.Nil(t, env.Pool)
	assert.Nil(t, env.Queue, "http continuation needs no queue")
	assert.NotNil(t, env.Discover)
	assert.NotNil(t, env.Driver)
	assert.NotNil(t, env.Score)
	assert.NotNil(t, env.Outreach)
	assert.Nil(t, env.Reports, "mail is not configured")

	const id = "TEST-2024-05-06-07-08-09.json"
	require.NoError(t, env.Store.Write(ctx, id, session.Document{
		"https://a.example": {Name: "A", Probability: session.NewProbability(72)},
		"https://b.example": {Name: "B"},
	}))

	srv := server.New(ctx, server.Stages{
		Discover: env.Discover,
		Enrich:   env.Driver,
		Score:    env.Score,
		Outreach: env.Outreach,
	}, cfg.Server.AllowedOrigins)

	req := httptest.NewRequest(http.MethodPost, server.PathAnalysis, strings.NewReader(`{"sessionId":"`+id+`"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"fulfillmentText":{"https://a.example":72}}`, rec.Body.String())
}

func TestInitEnv_UnknownContinuation(t *testing.T) {
	c := memoryConfig()
	c.Enrich.Continuation = "carrier-pigeon"
	withConfig(t, c)

	_, err := initCore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "carrier-pigeon")
}

func TestWriteAnalysis(t *testing.T) {
	doc := session.Document{
		"https://high.example":  {Probability: session.NewProbability(80), Email: session.StringList{"a@high.example"}},
		"https://low.example":   {Probability: session.NewProbability(20), Email: session.StringList{"a@low.example"}},
		"https://quiet.example": {Probability: session.NewProbability(90)},
		"https://new.example":   {},
	}

	var buf bytes.Buffer
	writeAnalysis(&buf, doc, 50)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "   90.0%  https://quiet.example", lines[0])
	assert.Equal(t, "*  80.0%  https://high.example", lines[1])
	assert.Equal(t, "   20.0%  https://low.example", lines[2])
	assert.Equal(t, "      -   https://new.example", lines[3])
	assert.Equal(t, "4 records, 1 qualify for letters (>= 50% with email)", lines[5])
}

func TestDrain_ReturnsWhenIdle(t *testing.T) {
	srv := server.New(context.Background(), server.Stages{}, nil)
	cancelled := false

	done := make(chan struct{})
	go func() {
		drain(srv, time.Second, func() { cancelled = true })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not return")
	}
	assert.False(t, cancelled)
}
