package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dmrv/internal/apperr"
)

func TestGuard_RejectsReentry(t *testing.T) {
	g := New("orchestrator")

	ctx, err := g.Enter(context.Background())
	require.NoError(t, err)
	assert.True(t, g.Active(ctx))

	_, err = g.Enter(ctx)
	assert.True(t, apperr.Is(err, apperr.ReentrantCall))
}

func TestGuard_IndependentComponents(t *testing.T) {
	orch := New("orchestrator")
	council := New("council")

	ctx, err := orch.Enter(context.Background())
	require.NoError(t, err)

	ctx, err = council.Enter(ctx)
	require.NoError(t, err)
	assert.True(t, orch.Active(ctx))
	assert.True(t, council.Active(ctx))
}

func TestGuard_SiblingCallsAllowed(t *testing.T) {
	g := New("orchestrator")
	root := context.Background()

	_, err := g.Enter(root)
	require.NoError(t, err)
	_, err = g.Enter(root)
	assert.NoError(t, err)
}
