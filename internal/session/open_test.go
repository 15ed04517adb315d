package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-pipeline/internal/config"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.SessionConfig{Driver: "file", Dir: t.TempDir()}, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, config.SessionConfig{Driver: "memory"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, config.SessionConfig{Driver: "postgres"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a database pool")

	_, err = Open(ctx, config.SessionConfig{Driver: "redis"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown driver")
}
