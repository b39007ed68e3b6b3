package memory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patentflow/pkg/embed"
)

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := OpenMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, embed.NewLocalEmbedder(64)), db
}

func TestAddAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id, err := store.Add(ctx, TierLegal, "35 USC 112 requires enablement", map[string]string{
		"citation": "35 USC 112",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, TierLegal, rec.Tier)
	assert.Equal(t, "35 USC 112 requires enablement", rec.Content)
	assert.Equal(t, "35 USC 112", rec.Metadata["citation"])
	assert.NotEmpty(t, rec.Embedding)
}

func TestAddInvalidTier(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Add(context.Background(), Tier("bogus"), "text", nil)
	require.Error(t, err)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "add", storageErr.Op)
}

func TestGetMissingRecord(t *testing.T) {
	store, _ := newTestStore(t)

	rec, err := store.Get(context.Background(), "finding-doc-1-structure")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestQueryEmptyTierReturnsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	results := store.Query(context.Background(), "anything at all", TierEpisodic, 5, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestQueryInvalidTierReturnsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	results := store.Query(context.Background(), "anything", Tier("bogus"), 5, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestQueryNeverFailsOnClosedDB(t *testing.T) {
	store, db := newTestStore(t)
	require.NoError(t, db.Close())

	results := store.Query(context.Background(), "anything", TierLegal, 5, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestQueryRanksBySimilarity(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, TierLegal, "claim construction under 35 USC 112 enablement", nil)
	require.NoError(t, err)
	_, err = store.Add(ctx, TierLegal, "trademark dilution in consumer goods", nil)
	require.NoError(t, err)

	results := store.Query(ctx, "35 USC 112 enablement requirements for claims", TierLegal, 2, nil)
	require.Len(t, results, 2)
	assert.Contains(t, results[0].Record.Content, "enablement")
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestQueryRespectsLimit(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Add(ctx, TierFirm, "drafting practice note", nil)
		require.NoError(t, err)
	}

	results := store.Query(ctx, "drafting practice", TierFirm, 3, nil)
	assert.Len(t, results, 3)
}

func TestQueryTierIsolation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, TierLegal, "statutory subject matter eligibility", nil)
	require.NoError(t, err)

	results := store.Query(ctx, "statutory subject matter", TierEpisodic, 5, nil)
	assert.Empty(t, results, "legal records must not leak into episodic queries")
}

func TestQueryMetadataFilters(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.Add(ctx, TierEpisodic, "analysis summary for acme", map[string]string{
		MetaClientID: "acme",
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, TierEpisodic, "analysis summary for globex", map[string]string{
		MetaClientID: "globex",
	})
	require.NoError(t, err)

	results := store.Query(ctx, "analysis summary", TierEpisodic, 5, map[string]string{MetaClientID: "acme"})
	require.Len(t, results, 1)
	assert.Equal(t, "acme", results[0].Record.Metadata[MetaClientID])
}

func TestAddWithIDOverwrites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	id := FindingID("doc-1", "structure")
	_, err := store.AddWithID(ctx, id, TierEpisodic, "first result", nil)
	require.NoError(t, err)
	_, err = store.AddWithID(ctx, id, TierEpisodic, "second result", nil)
	require.NoError(t, err)

	rec, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "second result", rec.Content)

	n, err := store.CountTier(ctx, TierEpisodic)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "same ID must replace, not duplicate")
}
