package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentflow/pkg/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := memory.OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.Create(ctx, "acme", "Irrigation Controller", "initial draft text")
	require.NoError(t, err)
	require.NotEmpty(t, doc.ID)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", got.ClientID)
	assert.Equal(t, "Irrigation Controller", got.Title)

	ver, err := store.GetLatestVersion(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, ver.Version)
	assert.Equal(t, "initial draft text", ver.Content)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "doc-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.GetLatestVersion(context.Background(), "doc-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVersionsIncrement(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.Create(ctx, "acme", "Irrigation Controller", "v1 text")
	require.NoError(t, err)

	v2, err := store.CreateVersion(ctx, doc.ID, "v2 text with amended claims")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	v3, err := store.CreateVersion(ctx, doc.ID, "v3 text")
	require.NoError(t, err)
	assert.Equal(t, 3, v3.Version)

	latest, err := store.GetLatestVersion(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, "v3 text", latest.Content)
}

func TestListByClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, "acme", "Doc A", "text")
	require.NoError(t, err)
	_, err = store.Create(ctx, "acme", "Doc B", "text")
	require.NoError(t, err)
	_, err = store.Create(ctx, "globex", "Doc C", "text")
	require.NoError(t, err)

	docs, err := store.ListByClient(ctx, "acme")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	for _, doc := range docs {
		assert.Equal(t, "acme", doc.ClientID)
	}
}
