package ledger

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/testutil"
)

const minter = testutil.Orchestrator

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	s := testutil.NewStore(t)
	l := New(minter, s, events.NewRecorder(s))
	l.Now = testutil.NewClock().Now
	return l
}

func TestMint(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Mint(ctx, "0xintruder", "0xalice", "P1", 10, "")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
	_, err = l.Mint(ctx, minter, "", "P1", 10, "")
	assert.True(t, apperr.Is(err, apperr.ZeroAddress))
	_, err = l.Mint(ctx, minter, "0xalice", "P1", 0, "")
	assert.True(t, apperr.Is(err, apperr.ZeroAmount))

	e, err := l.Mint(ctx, minter, "0xalice", "P1", 100, "P1/C1")
	require.NoError(t, err)
	assert.Equal(t, model.EntryMint, e.Kind)
	assert.NotEmpty(t, e.ID)

	_, err = l.Mint(ctx, minter, "0xalice", "P1", 50, "P1/C2")
	require.NoError(t, err)
	bal, err := l.BalanceOf(ctx, "0xalice", "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), bal)

	supply, err := l.Supply(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), supply)
}

func TestMint_Overflow(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Mint(ctx, minter, "0xalice", "P1", math.MaxInt64, "")
	require.NoError(t, err)
	_, err = l.Mint(ctx, minter, "0xalice", "P1", 1, "")
	assert.True(t, apperr.Is(err, apperr.OutOfBounds))

	bal, err := l.BalanceOf(ctx, "0xalice", "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), bal)

	_, err = l.Mint(ctx, minter, "0xbob", "P1", 1, "")
	assert.True(t, apperr.Is(err, apperr.OutOfBounds), "supply is bounded across holders")
}

func TestHolderIDsStayUnambiguous(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Mint(ctx, minter, "0xalice/P1", "x", 10, "")
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = l.Mint(ctx, minter, "0xalice", "P1", 10, "")
	require.NoError(t, err)
	_, err = l.Transfer(ctx, "0xalice", "0xbob/P1", "P1", 5)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	held, err := l.Holdings(ctx, "0xalice")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "0xalice", held[0].Holder)
}

func TestBurn_BoundedByBalance(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Mint(ctx, minter, "0xalice", "P1", 100, "")
	require.NoError(t, err)

	burned, err := l.Burn(ctx, minter, "0xalice", "P1", 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), burned)

	burned, err = l.Burn(ctx, minter, "0xalice", "P1", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(70), burned)

	burned, err = l.Burn(ctx, minter, "0xalice", "P1", 5)
	require.NoError(t, err)
	assert.Zero(t, burned)

	_, err = l.Burn(ctx, "0xalice", "0xalice", "P1", 5)
	assert.True(t, apperr.Is(err, apperr.Unauthorized))
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Mint(ctx, minter, "0xalice", "P1", 100, "")
	require.NoError(t, err)

	_, err = l.Transfer(ctx, "0xalice", "0xbob", "P1", 101)
	assert.True(t, apperr.Is(err, apperr.InsufficientBalance))
	_, err = l.Transfer(ctx, "0xalice", "0xalice", "P1", 1)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))

	_, err = l.Transfer(ctx, "0xalice", "0xbob", "P1", 40)
	require.NoError(t, err)

	a, _ := l.BalanceOf(ctx, "0xalice", "P1")
	b, _ := l.BalanceOf(ctx, "0xbob", "P1")
	assert.Equal(t, int64(60), a)
	assert.Equal(t, int64(40), b)

	supply, err := l.Supply(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), supply)
}

func TestClawback_SkipsExcludedProject(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	for _, p := range []string{"P1", "P2", "P3"} {
		_, err := l.Mint(ctx, minter, "0xalice", p, 20, "")
		require.NoError(t, err)
	}

	burned, err := l.Clawback(ctx, minter, "0xalice", 30, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), burned)

	p1, _ := l.BalanceOf(ctx, "0xalice", "P1")
	p2, _ := l.BalanceOf(ctx, "0xalice", "P2")
	p3, _ := l.BalanceOf(ctx, "0xalice", "P3")
	assert.Equal(t, []int64{20, 0, 10}, []int64{p1, p2, p3})

	burned, err = l.Clawback(ctx, minter, "0xalice", 100, "P1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), burned)

	holdings, err := l.Holdings(ctx, "0xalice")
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	assert.Equal(t, "P1", holdings[0].ProjectID)
}

func TestEntries_FilterByProject(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Mint(ctx, minter, "0xalice", "P1", 10, "")
	require.NoError(t, err)
	_, err = l.Mint(ctx, minter, "0xalice", "P2", 10, "")
	require.NoError(t, err)
	_, err = l.Burn(ctx, minter, "0xalice", "P1", 4)
	require.NoError(t, err)

	all, err := l.Entries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	p1, err := l.Entries(ctx, "P1")
	require.NoError(t, err)
	require.Len(t, p1, 2)
	assert.Equal(t, model.EntryMint, p1[0].Kind)
	assert.Equal(t, model.EntryBurn, p1[1].Kind)
	assert.Equal(t, int64(4), p1[1].Amount)
}

func TestExportXLSX(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Mint(ctx, minter, "0xalice", "P1", 10, "P1/C1")
	require.NoError(t, err)
	_, err = l.Transfer(ctx, "0xalice", "0xbob", "P1", 3)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "audit.xlsx")
	n, err := l.ExportXLSX(ctx, path, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	journal, ok := f.Sheet["Journal"]
	require.True(t, ok)
	require.Len(t, journal.Rows, 3)
	assert.Equal(t, "kind", journal.Rows[0].Cells[2].String())
	assert.Equal(t, "mint", journal.Rows[1].Cells[2].String())
	assert.Equal(t, "P1/C1", journal.Rows[1].Cells[7].String())

	balances, ok := f.Sheet["Balances"]
	require.True(t, ok)
	require.Len(t, balances.Rows, 3)
	assert.Equal(t, "0xalice", balances.Rows[1].Cells[0].String())
	assert.Equal(t, "7", balances.Rows[1].Cells[2].String())
}
