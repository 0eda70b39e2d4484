package catalog

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"relcore/internal/bufferpool"
	"relcore/internal/diskmgr"
	"relcore/internal/txn"
	"relcore/internal/types"
)

func openFixture(t *testing.T) (*Catalog, *bufferpool.Pool) {
	t.Helper()
	dm, err := diskmgr.Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	pool := bufferpool.New(dm, 32, nil)
	cat, err := Open(dm)
	require.NoError(t, err)
	return cat, pool
}

func studentsEntry() *Entry {
	return &Entry{
		Name: "students",
		Schema: types.Schema{Columns: []types.Column{
			{Name: "id", Type: types.TypeUInt, Unique: true},
			{Name: "name", Type: types.TypeText, Nullable: true},
		}},
		FirstPageID:   types.InvalidPageId,
		LastPageID:    types.InvalidPageId,
		IndexRootPage: types.InvalidPageId,
	}
}

func TestPutThenGetRoundTrips(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)

	got, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "students", got.Name)
	require.Len(t, got.Schema.Columns, 2)
	require.Equal(t, "id", got.Schema.Columns[0].Name)
	require.True(t, got.Schema.Columns[0].Unique)
}

func TestGetMissingTableNotFound(t *testing.T) {
	cat, pool := openFixture(t)

	_, ok, err := cat.Get(pool, "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsAllEntries(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)
	courses := &Entry{
		Name:          "courses",
		Schema:        types.Schema{Columns: []types.Column{{Name: "code", Type: types.TypeText}}},
		FirstPageID:   types.InvalidPageId,
		LastPageID:    types.InvalidPageId,
		IndexRootPage: types.InvalidPageId,
	}
	_, err = cat.Put(pool, courses)
	require.NoError(t, err)

	entries, err := cat.List(pool)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["students"])
	require.True(t, names["courses"])
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)

	updated := studentsEntry()
	updated.FirstPageID = 42
	_, err = cat.Put(pool, updated)
	require.NoError(t, err)

	got, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.PageId(42), got.FirstPageID)
}

func TestDeleteRemovesEntry(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)

	_, err = cat.Delete(pool, "students")
	require.NoError(t, err)

	_, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMissingTableErrors(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Delete(pool, "ghost")
	require.Error(t, err)
}

func TestRepeatedGetsReturnConsistentEntry(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)

	first, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)

	second, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, first, second)
}

// A caller mutating the *Entry it got back from Get or passed to Put
// must never affect what the next, unrelated Get returns — the cache
// must never hand out (or keep) the same pointer a caller can write
// through, the way table.Table writes its FirstPageID/LastPageID/
// IndexRootPage fields in place on every insert/update/delete.
func TestMutatingReturnedEntryDoesNotAffectCacheOrLaterGets(t *testing.T) {
	cat, pool := openFixture(t)

	_, err := cat.Put(pool, studentsEntry())
	require.NoError(t, err)

	got, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	got.FirstPageID = 999
	got.Schema.Columns[0].Name = "mutated"

	again, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.InvalidPageId, again.FirstPageID)
	require.Equal(t, "id", again.Schema.Columns[0].Name)
}

// A transaction's Put must never reach the decode cache: the cache
// has no hook into Commit or Rollback, so anything it ever cached on
// a write's behalf would keep being served after a rollback discarded
// the pages that write referred to. The transaction itself must still
// see its own uncommitted write, just not through the cache.
func TestPutInsideRolledBackTransactionLeavesCacheUntouched(t *testing.T) {
	dm, err := diskmgr.Open(filepath.Join(t.TempDir(), "t.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { dm.Close() })
	pool := bufferpool.New(dm, 32, nil)
	cat, err := Open(dm)
	require.NoError(t, err)

	_, err = cat.Put(pool, studentsEntry())
	require.NoError(t, err)
	committed, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.InvalidPageId, committed.FirstPageID)

	mgr := txn.New(pool, dm, nil)
	active, err := mgr.Begin()
	require.NoError(t, err)

	dirty := studentsEntry()
	dirty.FirstPageID = 999
	newRoot, err := cat.Put(active.Source(), dirty)
	require.NoError(t, err)
	active.SetCatalogRoot(newRoot)

	inTxn, ok, err := cat.Get(active.Source(), "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.PageId(999), inTxn.FirstPageID)

	require.NoError(t, mgr.Rollback(active))

	after, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.InvalidPageId, after.FirstPageID)
}

func TestPutDoesNotAliasCallersEntry(t *testing.T) {
	cat, pool := openFixture(t)

	e := studentsEntry()
	_, err := cat.Put(pool, e)
	require.NoError(t, err)

	e.FirstPageID = 777

	got, ok, err := cat.Get(pool, "students")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, types.InvalidPageId, got.FirstPageID)
}
