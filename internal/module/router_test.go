package module

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/model"
)

type stubModule struct {
	addr string
}

func (s stubModule) Address() string { return s.addr }
func (s stubModule) Name() string    { return "stub" }
func (s stubModule) StartVerificationTask(context.Context, string, string, string, string) (string, error) {
	return "task", nil
}
func (s stubModule) Implicated(context.Context, string) ([]string, error) { return nil, nil }

type recordingReceiver struct {
	from   string
	result model.VerificationResult
}

func (r *recordingReceiver) ReceiveResult(_ context.Context, from, _, _ string, res model.VerificationResult) error {
	r.from = from
	r.result = res
	return nil
}

type stubProjects map[string]bool

func (s stubProjects) IsActive(_ context.Context, id string) (bool, error) { return s[id], nil }

func TestRouter_ModuleLookup(t *testing.T) {
	r := NewRouter()
	r.RegisterModule(stubModule{addr: "0xb"})
	r.RegisterModule(stubModule{addr: "0xa"})

	m, err := r.Module("0xa")
	require.NoError(t, err)
	assert.Equal(t, "0xa", m.Address())

	_, err = r.Module("0xz")
	assert.True(t, apperr.Is(err, apperr.UnknownModule))

	mods := r.Modules()
	require.Len(t, mods, 2)
	assert.Equal(t, "0xa", mods[0].Address())
}

func TestRouter_Deliver(t *testing.T) {
	r := NewRouter()
	rc := &recordingReceiver{}
	r.RegisterReceiver("0xorch", rc)

	require.NoError(t, r.RequireReceiver("0xorch"))
	assert.True(t, apperr.Is(r.RequireReceiver("0xnobody"), apperr.Unauthorized))

	err := r.Deliver(context.Background(), "0xorch", "0xmod", "P1", "C1", model.VerificationResult{QuantitativeOutcome: 7})
	require.NoError(t, err)
	assert.Equal(t, "0xmod", rc.from)
	assert.Equal(t, int64(7), rc.result.QuantitativeOutcome)

	err = r.Deliver(context.Background(), "0xnobody", "0xmod", "P1", "C1", model.VerificationResult{})
	assert.True(t, apperr.Is(err, apperr.UnknownModule))
}

func TestRequireActive(t *testing.T) {
	pc := stubProjects{"P1": true}

	assert.NoError(t, RequireActive(context.Background(), pc, "P1"))
	assert.True(t, apperr.Is(RequireActive(context.Background(), pc, "P2"), apperr.ProjectNotActive))
}
