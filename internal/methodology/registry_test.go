package methodology

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/events"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/store"
	"github.com/sells-group/dmrv/internal/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeUsage reports in-flight use keyed by "registry/id".
type fakeUsage struct {
	inUse map[string]bool
}

func (f *fakeUsage) MethodologyInUse(_ context.Context, registry, id string) (bool, error) {
	return f.inUse[registry+"/"+id], nil
}

func newTestRegistry(t *testing.T, addr string) (*Registry, store.Store) {
	t.Helper()
	s := testutil.NewStore(t)
	r := NewRegistry(addr, s, testutil.NewRoles(t, s, nil), events.NewRecorder(s))
	return r, s
}

func m1() model.Methodology {
	return model.Methodology{
		ID:            "M1",
		ModuleAddress: "0xmodule",
		SchemaURI:     "ipfs://schema",
		SchemaHash:    "0xhash",
		Version:       1,
		IsApproved:    true,
	}
}

func TestRegistry_Register(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")
	ctx := context.Background()

	_, err := r.Register(ctx, testutil.Admin, m1())
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	got, err := r.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)
	assert.Equal(t, "0xmodule", got.ModuleAddress)

	_, err = r.Register(ctx, testutil.Governance, m1())
	assert.True(t, apperr.Is(err, apperr.DuplicateID))

	valid, err := r.IsValid(ctx, "M1")
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = r.IsValid(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRegistry_Register_Validation(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")

	m := m1()
	m.ModuleAddress = ""
	_, err := r.Register(context.Background(), testutil.Governance, m)
	assert.True(t, apperr.Is(err, apperr.ZeroAddress))

	m = m1()
	m.ID = ""
	_, err = r.Register(context.Background(), testutil.Governance, m)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestRegistry_Deprecate_OneWay(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")
	ctx := context.Background()
	_, err := r.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)

	_, err = r.Deprecate(ctx, testutil.Owner, "M1")
	assert.True(t, apperr.Is(err, apperr.Unauthorized))

	_, err = r.Deprecate(ctx, testutil.Governance, "M1")
	require.NoError(t, err)

	valid, err := r.IsValid(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, valid)

	_, err = r.Deprecate(ctx, testutil.Governance, "M1")
	assert.True(t, apperr.Is(err, apperr.AlreadyDeprecated))

	reapprove := m1()
	reapprove.IsApproved = true
	_, err = r.Update(ctx, testutil.Governance, reapprove)
	assert.True(t, apperr.Is(err, apperr.Deprecated))
}

func TestRegistry_Update(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")
	ctx := context.Background()

	_, err := r.Update(ctx, testutil.Governance, m1())
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = r.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)

	m := m1()
	m.IsApproved = false
	m.SchemaURI = "ipfs://schema-v1b"
	got, err := r.Update(ctx, testutil.Governance, m)
	require.NoError(t, err)
	assert.False(t, got.IsApproved)

	valid, err := r.IsValid(ctx, "M1")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestRegistry_Update_InUse(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")
	ctx := context.Background()
	r.SetUsageChecker(&fakeUsage{inUse: map[string]bool{"0xreg/M1": true}})

	_, err := r.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)

	_, err = r.Update(ctx, testutil.Governance, m1())
	assert.True(t, apperr.Is(err, apperr.MethodologyInUse))

	// Deprecation is still allowed; in-flight tasks are grandfathered.
	_, err = r.Deprecate(ctx, testutil.Governance, "M1")
	assert.NoError(t, err)
}

func TestRegistry_Update_InUseElsewhere(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg-b")
	ctx := context.Background()
	r.SetUsageChecker(&fakeUsage{inUse: map[string]bool{"0xreg-a/M1": true}})

	_, err := r.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)
	updated := m1()
	updated.Version = 2
	got, err := r.Update(ctx, testutil.Governance, updated)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
}

func TestRegistry_Register_RejectsSlashInID(t *testing.T) {
	r, _ := newTestRegistry(t, "0xreg")
	m := m1()
	m.ID = "M1/v2"
	_, err := r.Register(context.Background(), testutil.Governance, m)
	assert.True(t, apperr.Is(err, apperr.InvalidInput))
}

func TestRegistry_NamespacedByAddress(t *testing.T) {
	s := testutil.NewStore(t)
	roles := testutil.NewRoles(t, s, nil)
	rec := events.NewRecorder(s)
	a := NewRegistry("0xa", s, roles, rec)
	b := NewRegistry("0xb", s, roles, rec)
	ctx := context.Background()

	_, err := a.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)

	_, err = b.Get(ctx, "M1")
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = b.Register(ctx, testutil.Governance, m1())
	require.NoError(t, err)

	la, err := a.List(ctx)
	require.NoError(t, err)
	assert.Len(t, la, 1)
}

func TestLoadCatalogAndSeed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	yml := `
methodologies:
  - id: VM0042
    module_address: "0xreputation"
    schema_uri: ipfs://vm0042
    schema_hash: "0xabc"
    is_approved: true
  - id: SOIL-ORACLE
    module_address: "0xoracle"
    schema_uri: ipfs://soil
    version: 3
    is_approved: true
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	cat, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Methodologies, 2)
	assert.Equal(t, 1, cat.Methodologies[0].Version)
	assert.Equal(t, 3, cat.Methodologies[1].Version)

	r, _ := newTestRegistry(t, "0xreg")
	ctx := context.Background()
	n, err := r.Seed(ctx, cat.Methodologies)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = r.Seed(ctx, cat.Methodologies)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	valid, err := r.IsValid(ctx, "SOIL-ORACLE")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestLoadCatalog_Missing(t *testing.T) {
	_, err := LoadCatalog(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read catalog")
}

func TestDirectory(t *testing.T) {
	s := testutil.NewStore(t)
	roles := testutil.NewRoles(t, s, nil)
	rec := events.NewRecorder(s)
	d := NewDirectory()
	d.Add(NewRegistry("0xb", s, roles, rec))
	d.Add(NewRegistry("0xa", s, roles, rec))

	r, err := d.Lookup("0xa")
	require.NoError(t, err)
	assert.Equal(t, "0xa", r.Address())

	_, err = d.Lookup("0xz")
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.Equal(t, []string{"0xa", "0xb"}, d.Addresses())
}
