package durable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lewisedginton/memory_vault/internal/engine"
)

func newLocalAPI(t *testing.T) *LocalGitAPI {
	t.Helper()
	api, err := NewLocalGitAPI(LocalGitConfig{BaseDir: t.TempDir()})
	require.NoError(t, err)
	return api
}

func TestLocalGitDocumentRoundTrip(t *testing.T) {
	api := newLocalAPI(t)
	ctx := context.Background()
	cred := Credential{Token: "local"}

	_, err := api.CreateContainer(ctx, cred, "alice", ContainerSpec{Name: "memory-vault"})
	require.NoError(t, err)

	version, err := api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":1}`), "", "initial")
	require.NoError(t, err)
	require.NotEmpty(t, version)

	content, gotVersion, err := api.GetDocument(ctx, cred, "alice", "memory-vault", DocumentPath)
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, string(content))
	assert.Equal(t, version, gotVersion)

	version2, err := api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":2}`), version, "update")
	require.NoError(t, err)
	assert.NotEqual(t, version, version2)
}

func TestLocalGitStaleVersionRejected(t *testing.T) {
	api := newLocalAPI(t)
	ctx := context.Background()
	cred := Credential{Token: "local"}

	_, err := api.CreateContainer(ctx, cred, "alice", ContainerSpec{Name: "memory-vault"})
	require.NoError(t, err)
	v1, err := api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":1}`), "", "initial")
	require.NoError(t, err)
	_, err = api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":2}`), v1, "update")
	require.NoError(t, err)

	// v1 is stale now. So is an empty token asserting a fresh document.
	_, err = api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":3}`), v1, "stale")
	assert.ErrorIs(t, err, engine.ErrVersionConflict)
	_, err = api.PutDocument(ctx, cred, "alice", "memory-vault", DocumentPath, []byte(`{"version":3}`), "", "stale")
	assert.ErrorIs(t, err, engine.ErrVersionConflict)
}

func TestLocalGitAbsentContainer(t *testing.T) {
	api := newLocalAPI(t)
	ctx := context.Background()
	cred := Credential{Token: "local"}

	_, _, err := api.GetDocument(ctx, cred, "nobody", "memory-vault", DocumentPath)
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = api.PutDocument(ctx, cred, "nobody", "memory-vault", DocumentPath, []byte("{}"), "", "write")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = api.GetContainer(ctx, cred, "nobody", "memory-vault")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestLocalGitRequiresCredential(t *testing.T) {
	api := newLocalAPI(t)
	ctx := context.Background()

	_, _, err := api.GetDocument(ctx, Credential{}, "alice", "memory-vault", DocumentPath)
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
	_, err = api.PutDocument(ctx, Credential{}, "alice", "memory-vault", DocumentPath, []byte("{}"), "", "write")
	assert.ErrorIs(t, err, engine.ErrUnauthorized)
}

func TestLocalGitCreateContainerIdempotent(t *testing.T) {
	api := newLocalAPI(t)
	ctx := context.Background()
	cred := Credential{Token: "local"}

	first, err := api.CreateContainer(ctx, cred, "alice", ContainerSpec{Name: "memory-vault"})
	require.NoError(t, err)
	second, err := api.CreateContainer(ctx, cred, "alice", ContainerSpec{Name: "memory-vault"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
