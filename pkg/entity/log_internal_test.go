package entity

import (
	"bytes"
	"testing"

	"github.com/argus-labs/entitystore/pkg/testutils"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ref := env.spawn(t, "a")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	Components(&logger, env.store.ComponentManager(), zerolog.InfoLevel)
	assert.Contains(t, buf.String(), `"total_components":6`)
	assert.Contains(t, buf.String(), `{"component_id":5,"component_name":"group"}`)

	buf.Reset()
	tx := env.store.NewTransaction()
	tx.Begin()
	_, err := Add[testutils.Health](tx, ref)
	require.NoError(t, err)
	Entity(&logger, zerolog.InfoLevel, tx, ref)
	require.NoError(t, tx.Rollback())
	assert.Contains(t, buf.String(), `"entity":"EntityRef{id=1}"`)
	assert.Contains(t, buf.String(), `"component_name":"label"`)
	assert.Contains(t, buf.String(), `"component_name":"health"`)

	buf.Reset()
	Entity(&logger, zerolog.InfoLevel, tx, ref)
	assert.Contains(t, buf.String(), "failed to log entity")
}

func TestLogCommit(t *testing.T) {
	t.Parallel()

	ctx := newCommitContext()
	assert.True(t, ctx.Empty())
	mark(ctx.Created, 3, 0)
	mark(ctx.Added, 1, 0)
	mark(ctx.Added, 1, 2)
	mark(ctx.Removed, 1, 1)
	mark(ctx.Removed, 2, 1)
	assert.False(t, ctx.Empty())

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	logCommit(logger.Info(), ctx).Send()
	assert.Contains(t, buf.String(), `"created":1,"modified":2`)
}
