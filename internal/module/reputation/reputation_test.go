package reputation

import (
	"context"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/module"
	"github.com/sells-group/dmrv/internal/pool"
	"github.com/sells-group/dmrv/internal/testutil"
)

const moduleAddr = "0xrepmodule"

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeEscalator struct {
	requests []model.EscalationRequest
}

func (f *fakeEscalator) Escalate(_ context.Context, caller string, req model.EscalationRequest) (*model.Dispute, error) {
	f.requests = append(f.requests, req)
	return &model.Dispute{ID: "d-1", Kind: model.DisputeEscalation, TaskID: req.TaskID, ModuleAddress: caller}, nil
}

type fixture struct {
	mod       *Module
	pool      *pool.Manager
	receiver  *testutil.Receiver
	escalator *fakeEscalator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := testutil.NewStore(t)
	rec := events.NewRecorder(s)
	ctx := context.Background()

	pm := pool.NewManager(pool.Config{MinStake: 100, InitialReputation: 10, Council: testutil.Council}, s, rec)
	pm.AuthorizeWriter(moduleAddr)
	for _, v := range []string{"0xv1", "0xv2", "0xv3"} {
		_, err := pm.Stake(ctx, v, 100)
		require.NoError(t, err)
	}

	router := module.NewRouter()
	receiver := &testutil.Receiver{}
	router.RegisterReceiver(testutil.Orchestrator, receiver)

	m := New(Config{
		Address:           moduleAddr,
		Assignees:         3,
		Tolerance:         0.05,
		RewardReputation:  2,
		PenaltyReputation: 3,
		Council:           testutil.Council,
	}, s, testutil.Projects{"P1": true}, pm, router, rec)
	esc := &fakeEscalator{}
	m.SetEscalator(esc)
	router.RegisterModule(m)
	return &fixture{mod: m, pool: pm, receiver: receiver, escalator: esc}
}

func (f *fixture) start(t *testing.T) *Task {
	t.Helper()
	id, err := f.mod.StartVerificationTask(context.Background(), testutil.Orchestrator, "P1", "C1", "ipfs://evidence")
	require.NoError(t, err)
	task, err := f.mod.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, task.Assigned, 3)
	return task
}

func TestStartVerificationTask_Guards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mod.StartVerificationTask(ctx, testutil.Orchestrator, "P2", "C1", "ipfs://x")
	assert.True(t, apperr.Is(err, apperr.ProjectNotActive))

	_, err = f.mod.StartVerificationTask(ctx, "0xstranger", "P1", "C1", "ipfs://x")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestSubmitAttestation_QuorumFinalizes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.start(t)

	_, err := f.mod.SubmitAttestation(ctx, "0xv1", task.ID, 1000, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, 0, f.receiver.Count())

	got, err := f.mod.SubmitAttestation(ctx, "0xv2", task.ID, 1020, "cid-2")
	require.NoError(t, err)
	assert.Equal(t, TaskFinalized, got.Status)
	assert.Equal(t, int64(1000), got.Outcome)
	assert.ElementsMatch(t, []string{"0xv1", "0xv2"}, got.Agreeing)

	require.Equal(t, 1, f.receiver.Count())
	d := f.receiver.Deliveries[0]
	assert.Equal(t, moduleAddr, d.From)
	assert.Equal(t, "C1", d.ClaimID)
	assert.Equal(t, int64(1000), d.Result.QuantitativeOutcome)
	assert.Equal(t, "cid-1", d.Result.CredentialCID)
	assert.False(t, d.Result.WasArbitrated)

	rep, err := f.pool.GetReputation(ctx, "0xv1")
	require.NoError(t, err)
	assert.Equal(t, int64(12), rep)

	_, err = f.mod.SubmitAttestation(ctx, "0xv3", task.ID, 1000, "")
	assert.True(t, apperr.Is(err, apperr.TaskClosed))

	implicated, err := f.mod.Implicated(ctx, task.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0xv1", "0xv2"}, implicated)
}

func TestSubmitAttestation_LargeStakesNeedQuorum(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, v := range []string{"0xv1", "0xv2", "0xv3"} {
		_, err := f.pool.Stake(ctx, v, 1_000_000_000_000_000)
		require.NoError(t, err)
	}
	task := f.start(t)
	assert.Greater(t, task.Assigned[0].Weight, int64(1_000_000_000_000_000))

	got, err := f.mod.SubmitAttestation(ctx, "0xv1", task.ID, 100, "cid-1")
	require.NoError(t, err)
	assert.Equal(t, TaskOpen, got.Status)
	assert.Equal(t, 0, f.receiver.Count())

	got, err = f.mod.SubmitAttestation(ctx, "0xv2", task.ID, 100, "cid-2")
	require.NoError(t, err)
	assert.Equal(t, TaskFinalized, got.Status)
	assert.Equal(t, 1, f.receiver.Count())
}

func TestQuorumMet(t *testing.T) {
	maxW := big.NewInt(math.MaxInt64)
	total := new(big.Int).Mul(maxW, big.NewInt(3))
	assert.False(t, quorumMet(maxW, total, 6600))
	assert.True(t, quorumMet(new(big.Int).Mul(maxW, big.NewInt(2)), total, 6600))
	assert.False(t, quorumMet(big.NewInt(0), big.NewInt(0), 6600))
	assert.True(t, quorumMet(big.NewInt(2), big.NewInt(3), 6600))
	assert.False(t, quorumMet(big.NewInt(1), big.NewInt(2), 6600))
}

func TestSubmitAttestation_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.start(t)

	_, err := f.mod.SubmitAttestation(ctx, "0xoutsider", task.ID, 10, "")
	assert.True(t, apperr.Is(err, apperr.NotAssigned))

	_, err = f.mod.SubmitAttestation(ctx, "0xv1", task.ID, -1, "")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = f.mod.SubmitAttestation(ctx, "0xv1", task.ID, 10, "")
	require.NoError(t, err)
	_, err = f.mod.SubmitAttestation(ctx, "0xv1", task.ID, 10, "")
	assert.True(t, apperr.Is(err, apperr.AlreadyAttested))

	_, err = f.mod.SubmitAttestation(ctx, "0xv1", "missing", 10, "")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestSubmitAttestation_DisagreementEscalates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := f.start(t)

	_, err := f.mod.SubmitAttestation(ctx, "0xv1", task.ID, 100, "")
	require.NoError(t, err)
	_, err = f.mod.SubmitAttestation(ctx, "0xv2", task.ID, 200, "")
	require.NoError(t, err)
	got, err := f.mod.SubmitAttestation(ctx, "0xv3", task.ID, 300, "")
	require.NoError(t, err)

	assert.Equal(t, TaskEscalated, got.Status)
	assert.Equal(t, "d-1", got.DisputeID)
	require.Len(t, f.escalator.requests, 1)
	req := f.escalator.requests[0]
	assert.Equal(t, int64(200), req.ProposedOutcome)
	assert.ElementsMatch(t, []string{"0xv1", "0xv2", "0xv3"}, req.Implicated)
	assert.Equal(t, 0, f.receiver.Count())
}

func escalated(t *testing.T, f *fixture) *Task {
	t.Helper()
	ctx := context.Background()
	task := f.start(t)
	for i, v := range []string{"0xv1", "0xv2", "0xv3"} {
		_, err := f.mod.SubmitAttestation(ctx, v, task.ID, int64(100*(i+1)), "cid-"+v)
		require.NoError(t, err)
	}
	return task
}

func TestOnEscalationResolved_Upheld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := escalated(t, f)

	d := model.Dispute{ID: "d-1", TaskID: task.ID, Outcome: model.OutcomeUpheld, ProposedOutcome: 200}
	err := f.mod.OnEscalationResolved(ctx, "0xstranger", d)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	require.NoError(t, f.mod.OnEscalationResolved(ctx, testutil.Council, d))
	require.Equal(t, 1, f.receiver.Count())
	res := f.receiver.Deliveries[0].Result
	assert.True(t, res.WasArbitrated)
	assert.Equal(t, "d-1", res.ArbitrationDisputeID)
	assert.Equal(t, int64(200), res.QuantitativeOutcome)
	assert.Equal(t, "cid-0xv2", res.CredentialCID)

	err = f.mod.OnEscalationResolved(ctx, testutil.Council, d)
	assert.True(t, apperr.Is(err, apperr.TaskClosed))
}

func TestOnEscalationResolved_Overturned(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := escalated(t, f)

	d := model.Dispute{ID: "d-1", TaskID: task.ID, Outcome: model.OutcomeOverturned, ProposedOutcome: 200}
	require.NoError(t, f.mod.OnEscalationResolved(ctx, testutil.Council, d))

	got, err := f.mod.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskRejected, got.Status)
	assert.Equal(t, 0, f.receiver.Count())
}

func TestWithin(t *testing.T) {
	assert.True(t, within(105, 100, 0.05))
	assert.False(t, within(106, 100, 0.05))
	assert.True(t, within(0, 0, 0))
	assert.False(t, within(1, 0, 0.5))
	assert.False(t, within(math.MaxInt64, math.MinInt64, 0.5))
}
