package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver([]Scope{
		{TenantID: "acme", ZoneIDs: []string{"z1"}},
		{TenantID: "globex", All: true},
	})
	ctx := context.Background()

	s, err := r.Resolve(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, s.AllowsZone("z1"))
	assert.False(t, s.AllowsZone("z2"))

	s, err = r.Resolve(ctx, "globex")
	require.NoError(t, err)
	assert.True(t, s.AllowsZone("anything"))

	_, err = r.Resolve(ctx, "initech")
	assert.ErrorIs(t, err, ErrUnknownTenant)

	assert.Equal(t, []string{"acme", "globex"}, r.Tenants())
}

func TestOpenResolver(t *testing.T) {
	s, err := OpenResolver{}.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, s.All)

	_, err = OpenResolver{}.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tenants:
  - id: acme
    sites: [s1]
    zones: [z1, z2]
`), 0o644))

	r, err := LoadFile(path)
	require.NoError(t, err)
	s, err := r.Resolve(context.Background(), "acme")
	require.NoError(t, err)
	assert.True(t, s.AllowsSite("s1"))
	assert.True(t, s.AllowsZone("z2"))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("tenants:\n  - sites: [s1]\n"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
