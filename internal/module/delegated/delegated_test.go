package delegated

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/testutil"
)

const (
	moduleAddr = "0xdelegated"
	targetAddr = "0xtarget"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeTarget struct {
	callers []string
}

func (f *fakeTarget) Address() string { return targetAddr }
func (f *fakeTarget) Name() string    { return "fake" }

func (f *fakeTarget) StartVerificationTask(_ context.Context, caller, _, _, _ string) (string, error) {
	f.callers = append(f.callers, caller)
	return "target-task-1", nil
}

func (f *fakeTarget) Implicated(_ context.Context, taskID string) ([]string, error) {
	return []string{"implicated-by-" + taskID}, nil
}

type fixture struct {
	mod      *Module
	target   *fakeTarget
	router   *module.Router
	receiver *testutil.Receiver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.NewStore(t)
	router := module.NewRouter()
	receiver := &testutil.Receiver{}
	router.RegisterReceiver(testutil.Orchestrator, receiver)
	target := &fakeTarget{}
	router.RegisterModule(target)

	m := New(Config{Address: moduleAddr, Target: targetAddr}, s, testutil.Projects{"P1": true}, router, events.NewRecorder(s))
	m.Now = testutil.NewClock().Now
	router.RegisterModule(m)
	return &fixture{mod: m, target: target, router: router, receiver: receiver}
}

func TestStartVerificationTask_Forwards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	taskID, err := f.mod.StartVerificationTask(ctx, testutil.Orchestrator, "P1", "C1", "ipfs://e")
	require.NoError(t, err)
	assert.Equal(t, []string{moduleAddr}, f.target.callers)

	d, err := f.mod.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, "target-task-1", d.TargetTaskID)
	assert.Equal(t, testutil.Orchestrator, d.ReportTo)
	assert.Equal(t, testutil.Orchestrator, d.OriginalSubmitter)
	assert.Equal(t, StatusForwarded, d.Status)
	assert.Equal(t, DefaultName, f.mod.Name())

	_, err = f.mod.StartVerificationTask(ctx, testutil.Orchestrator, "P1", "C1", "ipfs://e")
	assert.True(t, apperr.Is(err, apperr.DuplicateID))

	implicated, err := f.mod.Implicated(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, []string{"implicated-by-target-task-1"}, implicated)
}

func TestDelegateVerification_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mod.DelegateVerification(ctx, testutil.Orchestrator, "C1", []byte("{"), testutil.Owner)
	assert.True(t, apperr.Is(err, apperr.MalformedReference))

	_, err = f.mod.StartVerificationTask(ctx, testutil.Orchestrator, "P2", "C1", "ipfs://e")
	assert.True(t, apperr.Is(err, apperr.ProjectNotActive))

	_, err = f.mod.StartVerificationTask(ctx, "0xnobody", "P1", "C1", "ipfs://e")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestReceiveResult_Relays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taskID, err := f.mod.StartVerificationTask(ctx, testutil.Orchestrator, "P1", "C1", "ipfs://e")
	require.NoError(t, err)

	res := model.VerificationResult{QuantitativeOutcome: 42, CredentialCID: "cid"}
	err = f.router.Deliver(ctx, moduleAddr, "0xspoofer", "P1", "C1", res)
	assert.True(t, apperr.Is(err, apperr.UnauthorizedModule))

	require.NoError(t, f.router.Deliver(ctx, moduleAddr, targetAddr, "P1", "C1", res))
	require.Equal(t, 1, f.receiver.Count())
	got := f.receiver.Deliveries[0]
	assert.Equal(t, moduleAddr, got.From)
	assert.Equal(t, res, got.Result)

	d, err := f.mod.Get(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, StatusRelayed, d.Status)

	err = f.router.Deliver(ctx, moduleAddr, targetAddr, "P1", "C1", res)
	assert.True(t, apperr.Is(err, apperr.TaskClosed))

	err = f.router.Deliver(ctx, moduleAddr, targetAddr, "P1", "C9", res)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}
